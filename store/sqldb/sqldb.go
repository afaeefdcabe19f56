/*
Package sqldb provides a SQL implementation of billing.TxStore for SQLite and
PostgreSQL.

DIALECTS:
  sqlite3:  github.com/mattn/go-sqlite3, opened with foreign keys, WAL and a
            busy timeout. One open connection, so writers serialize.
  postgres: github.com/lib/pq.

  Queries are written once with "?" placeholders and rebound to $1..$n for
  PostgreSQL.

SCHEMA:
  Versioned migrations under migrations/<driver>/, embedded and applied by
  golang-migrate on Open (see migrate.go).

  communities, units, categories
  common_expenses        UNIQUE(community_id, period)
  common_expense_items   ordered by position
  unit_expenses          optimistic "version" column
  payments               append-only, UNIQUE(idempotency_key)

TRANSACTIONS:
  Every query goes through a querier, which is either the *sql.DB or the
  *sql.Tx of an open WithTx call, so the same code serves both paths.

USAGE:
  st, err := sqldb.Open(ctx, sqldb.Config{Driver: "sqlite3", DSN: "./data/community.db"})
  if err != nil { ... }
  defer st.Close()
  svc := billing.NewService(st)
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/community-engine/billing"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string
	DSN    string
	// SkipMigrations leaves the schema untouched (the "migrate" command
	// manages it separately).
	SkipMigrations bool
}

// Store implements billing.TxStore.
type Store struct {
	*conn
	db *sql.DB
}

var _ billing.TxStore = (*Store)(nil)

// Open connects, applies pending migrations and returns the store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn, err := DataSource(cfg)
	if err != nil {
		return nil, err
	}

	if !cfg.SkipMigrations {
		if err := Migrate(cfg.Driver, dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{conn: &conn{q: db, driver: cfg.Driver}, db: db}, nil
}

// DataSource returns the driver DSN Open uses, with SQLite pragmas added
// when the path carries no query string.
func DataSource(cfg Config) (string, error) {
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.DSN == "" {
			return "", errors.New("sqlite3: empty database path")
		}
		if strings.Contains(cfg.DSN, "?") {
			return cfg.DSN, nil
		}
		return cfg.DSN + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return "", errors.New("postgres: empty connection string")
		}
		return cfg.DSN, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection (used by the health endpoint).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a database transaction. fn's error rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&conn{q: tx, driver: s.driver}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIER
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements billing.Store over a querier.
type conn struct {
	q      querier
	driver string
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.rebind(query), args...)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.rebind(query), args...)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

// rebind turns "?" placeholders into "$n" for PostgreSQL.
func (c *conn) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// COMMUNITIES & UNITS
// =============================================================================

func (c *conn) SaveCommunity(ctx context.Context, cm billing.Community) error {
	_, err := c.exec(ctx, `
		INSERT INTO communities (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		cm.ID, cm.Name, cm.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save community: %w", err)
	}
	return nil
}

func (c *conn) GetCommunity(ctx context.Context, id billing.CommunityID) (*billing.Community, error) {
	var cm billing.Community
	err := c.queryRow(ctx, `SELECT id, name, created_at FROM communities WHERE id = ?`, id).
		Scan(&cm.ID, &cm.Name, &cm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.NotFound("community", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("get community: %w", err)
	}
	return &cm, nil
}

func (c *conn) ListCommunities(ctx context.Context) ([]billing.Community, error) {
	rows, err := c.query(ctx, `SELECT id, name, created_at FROM communities ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	defer rows.Close()

	var out []billing.Community
	for rows.Next() {
		var cm billing.Community
		if err := rows.Scan(&cm.ID, &cm.Name, &cm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan community: %w", err)
		}
		out = append(out, cm)
	}
	return out, rows.Err()
}

func (c *conn) SaveUnit(ctx context.Context, u billing.Unit) error {
	_, err := c.exec(ctx, `
		INSERT INTO units (id, community_id, number, coefficient, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET number = excluded.number, coefficient = excluded.coefficient`,
		u.ID, u.CommunityID, u.Number, u.Coefficient.String(), u.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save unit: %w", err)
	}
	return nil
}

const unitColumns = `id, community_id, number, coefficient, created_at`

func scanUnit(s interface{ Scan(...any) error }) (billing.Unit, error) {
	var u billing.Unit
	var coef decimal.Decimal
	if err := s.Scan(&u.ID, &u.CommunityID, &u.Number, &coef, &u.CreatedAt); err != nil {
		return u, err
	}
	u.Coefficient = coef
	return u, nil
}

func (c *conn) GetUnit(ctx context.Context, id billing.UnitID) (*billing.Unit, error) {
	u, err := scanUnit(c.queryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.NotFound("unit", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("get unit: %w", err)
	}
	return &u, nil
}

func (c *conn) ListUnits(ctx context.Context, communityID billing.CommunityID) ([]billing.Unit, error) {
	rows, err := c.query(ctx, `SELECT `+unitColumns+` FROM units WHERE community_id = ? ORDER BY id`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var out []billing.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (c *conn) SaveCategory(ctx context.Context, cat billing.Category) error {
	_, err := c.exec(ctx, `
		INSERT INTO categories (id, community_id, name, description, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, description = excluded.description`,
		cat.ID, cat.CommunityID, cat.Name, cat.Description, cat.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save category: %w", err)
	}
	return nil
}

func (c *conn) GetCategory(ctx context.Context, id billing.CategoryID) (*billing.Category, error) {
	var cat billing.Category
	err := c.queryRow(ctx, `SELECT id, community_id, name, description, created_at FROM categories WHERE id = ?`, id).
		Scan(&cat.ID, &cat.CommunityID, &cat.Name, &cat.Description, &cat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.NotFound("category", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &cat, nil
}

func (c *conn) ListCategories(ctx context.Context, communityID billing.CommunityID) ([]billing.Category, error) {
	rows, err := c.query(ctx, `
		SELECT id, community_id, name, description, created_at
		FROM categories WHERE community_id = ? ORDER BY name, id`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []billing.Category
	for rows.Next() {
		var cat billing.Category
		if err := rows.Scan(&cat.ID, &cat.CommunityID, &cat.Name, &cat.Description, &cat.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, cat)
	}
	return out, rows.Err()
}

func (c *conn) DeleteCategory(ctx context.Context, id billing.CategoryID) error {
	res, err := c.exec(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.NotFound("category", string(id))
	}
	return nil
}

// =============================================================================
// COMMON EXPENSES
// =============================================================================

// CreateCommonExpense writes the expense, its items and its unit expenses.
// Callers wanting atomicity run it inside WithTx.
func (c *conn) CreateCommonExpense(ctx context.Context, e billing.CommonExpense) error {
	_, err := c.exec(ctx, `
		INSERT INTO common_expenses
		(id, community_id, period, total_amount, due_date, prorrate_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CommunityID, e.Period.String(), e.TotalAmount.Int64(), e.DueDate.UTC(),
		string(e.Method), e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrDuplicatePeriod
		}
		return fmt.Errorf("insert common expense: %w", err)
	}

	for i, it := range e.Items {
		_, err := c.exec(ctx, `
			INSERT INTO common_expense_items
			(id, common_expense_id, position, name, amount, description, category_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			it.ID, e.ID, i, it.Name, it.Amount.Int64(), it.Description, nullString(string(it.CategoryID)),
		)
		if err != nil {
			return fmt.Errorf("insert expense item: %w", err)
		}
	}

	for _, ue := range e.UnitExpenses {
		_, err := c.exec(ctx, `
			INSERT INTO unit_expenses
			(id, common_expense_id, unit_id, unit_number, amount, concept, description,
			 due_date, status, paid_at, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ue.ID, e.ID, ue.UnitID, ue.UnitNumber, ue.Amount.Int64(), ue.Concept, ue.Description,
			ue.DueDate.UTC(), string(ue.Status), nullTime(ue.PaidAt), ue.Version,
			ue.CreatedAt.UTC(), ue.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert unit expense: %w", err)
		}
	}
	return nil
}

const expenseColumns = `e.id, e.community_id, COALESCE(c.name, ''), e.period, e.total_amount,
	e.due_date, e.prorrate_method, e.created_at, e.updated_at`

func scanExpense(s interface{ Scan(...any) error }) (billing.CommonExpense, error) {
	var e billing.CommonExpense
	var period, method string
	var total int64
	if err := s.Scan(&e.ID, &e.CommunityID, &e.CommunityName, &period, &total,
		&e.DueDate, &method, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return e, err
	}
	p, err := billing.ParsePeriod(period)
	if err != nil {
		return e, fmt.Errorf("stored period %q: %w", period, err)
	}
	e.Period = p
	e.TotalAmount = billing.Money(total)
	e.Method = billing.ProrationMethod(method)
	e.DueDate = billing.Day(e.DueDate)
	return e, nil
}

func (c *conn) GetCommonExpense(ctx context.Context, id billing.CommonExpenseID) (*billing.CommonExpense, error) {
	e, err := scanExpense(c.queryRow(ctx, `
		SELECT `+expenseColumns+`
		FROM common_expenses e LEFT JOIN communities c ON c.id = e.community_id
		WHERE e.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.NotFound("common expense", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("get common expense: %w", err)
	}

	if e.Items, err = c.listItems(ctx, e.ID); err != nil {
		return nil, err
	}
	if e.UnitExpenses, err = c.ListUnitExpenses(ctx, e.ID); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *conn) ListCommonExpenses(ctx context.Context, communityID billing.CommunityID) ([]billing.CommonExpense, error) {
	rows, err := c.query(ctx, `
		SELECT `+expenseColumns+`
		FROM common_expenses e LEFT JOIN communities c ON c.id = e.community_id
		WHERE e.community_id = ?
		ORDER BY e.period DESC`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list common expenses: %w", err)
	}

	var out []billing.CommonExpense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan common expense: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before issuing item queries: SQLite has a single connection.
	rows.Close()

	for i := range out {
		if out[i].Items, err = c.listItems(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *conn) listItems(ctx context.Context, expenseID billing.CommonExpenseID) ([]billing.CommonExpenseItem, error) {
	rows, err := c.query(ctx, `
		SELECT id, name, amount, description, COALESCE(category_id, '')
		FROM common_expense_items WHERE common_expense_id = ? ORDER BY position`, expenseID)
	if err != nil {
		return nil, fmt.Errorf("list expense items: %w", err)
	}
	defer rows.Close()

	var out []billing.CommonExpenseItem
	for rows.Next() {
		var it billing.CommonExpenseItem
		var amount int64
		var category string
		if err := rows.Scan(&it.ID, &it.Name, &amount, &it.Description, &category); err != nil {
			return nil, fmt.Errorf("scan expense item: %w", err)
		}
		it.Amount = billing.Money(amount)
		it.CategoryID = billing.CategoryID(category)
		out = append(out, it)
	}
	return out, rows.Err()
}

// =============================================================================
// UNIT EXPENSES
// =============================================================================

const unitExpenseColumns = `id, common_expense_id, unit_id, unit_number, amount, concept, description,
	due_date, status, paid_at, version, created_at, updated_at`

func scanUnitExpense(s interface{ Scan(...any) error }) (billing.UnitExpense, error) {
	var ue billing.UnitExpense
	var amount int64
	var status string
	var paidAt sql.NullTime
	if err := s.Scan(&ue.ID, &ue.CommonExpenseID, &ue.UnitID, &ue.UnitNumber, &amount, &ue.Concept,
		&ue.Description, &ue.DueDate, &status, &paidAt, &ue.Version, &ue.CreatedAt, &ue.UpdatedAt); err != nil {
		return ue, err
	}
	ue.Amount = billing.Money(amount)
	ue.Status = billing.Status(status)
	ue.DueDate = billing.Day(ue.DueDate)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		ue.PaidAt = &t
	}
	return ue, nil
}

func (c *conn) queryUnitExpenses(ctx context.Context, query string, args ...any) ([]billing.UnitExpense, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unit expenses: %w", err)
	}
	defer rows.Close()

	var out []billing.UnitExpense
	for rows.Next() {
		ue, err := scanUnitExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit expense: %w", err)
		}
		out = append(out, ue)
	}
	return out, rows.Err()
}

func (c *conn) GetUnitExpense(ctx context.Context, id billing.UnitExpenseID) (*billing.UnitExpense, error) {
	ue, err := scanUnitExpense(c.queryRow(ctx, `SELECT `+unitExpenseColumns+` FROM unit_expenses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.NotFound("unit expense", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("get unit expense: %w", err)
	}
	return &ue, nil
}

func (c *conn) ListUnitExpenses(ctx context.Context, expenseID billing.CommonExpenseID) ([]billing.UnitExpense, error) {
	return c.queryUnitExpenses(ctx, `
		SELECT `+unitExpenseColumns+` FROM unit_expenses
		WHERE common_expense_id = ? ORDER BY unit_id`, expenseID)
}

func (c *conn) ListUnitExpensesByUnit(ctx context.Context, unitID billing.UnitID) ([]billing.UnitExpense, error) {
	return c.queryUnitExpenses(ctx, `
		SELECT `+unitExpenseColumns+` FROM unit_expenses
		WHERE unit_id = ? ORDER BY due_date, id`, unitID)
}

func (c *conn) ListDueUnitExpenses(ctx context.Context, status billing.Status, before time.Time) ([]billing.UnitExpense, error) {
	return c.queryUnitExpenses(ctx, `
		SELECT `+unitExpenseColumns+` FROM unit_expenses
		WHERE status = ? AND due_date < ? ORDER BY due_date, id`, string(status), billing.Day(before))
}

// UpdateUnitExpense writes status, paid_at and updated_at if the stored
// version still equals ue.Version, and bumps the version.
func (c *conn) UpdateUnitExpense(ctx context.Context, ue billing.UnitExpense) error {
	res, err := c.exec(ctx, `
		UPDATE unit_expenses
		SET status = ?, paid_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(ue.Status), nullTime(ue.PaidAt), ue.UpdatedAt.UTC(), ue.ID, ue.Version,
	)
	if err != nil {
		return fmt.Errorf("update unit expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update unit expense: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = c.queryRow(ctx, `SELECT 1 FROM unit_expenses WHERE id = ?`, ue.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.NotFound("unit expense", string(ue.ID))
	}
	if err != nil {
		return fmt.Errorf("update unit expense: %w", err)
	}
	return billing.ErrConcurrentModification
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (c *conn) AppendPayment(ctx context.Context, p billing.Payment) error {
	_, err := c.exec(ctx, `
		INSERT INTO payments (id, unit_expense_id, amount, paid_at, reference, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UnitExpenseID, p.Amount.Int64(), p.PaidAt.UTC(), p.Reference, p.IdempotencyKey, p.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("append payment: %w", err)
	}
	return nil
}

func (c *conn) PaymentByKey(ctx context.Context, key string) (*billing.Payment, error) {
	p, err := scanPayment(c.queryRow(ctx, `
		SELECT id, unit_expense_id, amount, paid_at, reference, idempotency_key, created_at
		FROM payments WHERE idempotency_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.NotFound("payment", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

func (c *conn) ListPayments(ctx context.Context, unitExpenseID billing.UnitExpenseID) ([]billing.Payment, error) {
	rows, err := c.query(ctx, `
		SELECT id, unit_expense_id, amount, paid_at, reference, idempotency_key, created_at
		FROM payments WHERE unit_expense_id = ? ORDER BY paid_at, id`, unitExpenseID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(s interface{ Scan(...any) error }) (billing.Payment, error) {
	var p billing.Payment
	var amount int64
	if err := s.Scan(&p.ID, &p.UnitExpenseID, &amount, &p.PaidAt, &p.Reference, &p.IdempotencyKey, &p.CreatedAt); err != nil {
		return p, err
	}
	p.Amount = billing.Money(amount)
	return p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
