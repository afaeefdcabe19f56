package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/warp/community-engine/api"
	"github.com/warp/community-engine/billing"
	"github.com/warp/community-engine/currency"
)

// =============================================================================
// SWEEP
// =============================================================================

var flagAsOf string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark every past-due PENDING unit expense OVERDUE",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, _ []string) error {
	asOf := time.Now()
	if flagAsOf != "" {
		t, err := billing.ParseDueDate(flagAsOf)
		if err != nil {
			return err
		}
		asOf = t
	}

	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.service.SweepOverdue(cmd.Context(), asOf)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "swept as of %s: %d checked, %d marked overdue, %d conflicts\n",
		res.AsOf.Format("2006-01-02"), res.Checked, res.MarkedOverdue, res.Conflicts)
	return nil
}

// =============================================================================
// PREVIEW
// =============================================================================

var (
	flagCommunity string
	flagTotal     string
	flagMethod    string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show how a total would be prorated over a community's units",
	Example: `  community-engine preview --community c-1 --total '$1.500.000'
  community-engine preview --community c-1 --total 1500000 --method EQUAL`,
	RunE: runPreview,
}

func runPreview(cmd *cobra.Command, _ []string) error {
	method, err := billing.ParseProrationMethod(flagMethod)
	if err != nil {
		return err
	}

	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	formatter := a.cfg.Currency.Formatter()
	total := formatter.Parse(flagTotal)

	c, err := a.service.GetCommunity(cmd.Context(), billing.CommunityID(flagCommunity))
	if err != nil {
		return err
	}
	lines, err := a.service.PreviewProration(cmd.Context(), c.ID, total, method)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderPreview(c.Name, method, total, lines, formatter))
	return nil
}

func renderPreview(community string, method billing.ProrationMethod, total billing.Money, lines []billing.ProrratePreview, f currency.Formatter) string {
	rows := make([][]string, 0, len(lines)+2)
	var sum billing.Money
	for _, l := range lines {
		rows = append(rows, []string{
			l.UnitNumber,
			l.Coefficient.StringFixed(4),
			f.Format(l.Amount),
		})
		sum += l.Amount
	}
	rows = append(rows, []string{"---"})
	rows = append(rows, []string{"TOTAL", "", f.Format(sum)})

	var b strings.Builder
	b.WriteString(renderTitle(fmt.Sprintf("%s  %s  %s", community, method, f.Format(total))))
	b.WriteString("\n")
	b.WriteString(renderTable(table{
		headers: []string{"Unit", "Coefficient", "Amount"},
		rows:    rows,
	}))
	b.WriteString(renderNote("%s units", humanize.Comma(int64(len(lines)))))
	return b.String()
}

// =============================================================================
// SEED
// =============================================================================

var flagScenario string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a demo scenario",
	Long:  "Load a demo scenario. Available: " + strings.Join(api.ScenarioIDs(), ", "),
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	c, err := api.SeedScenario(cmd.Context(), a.service, flagScenario, time.Now())
	if err != nil {
		return err
	}
	expenses, err := a.service.ListCommonExpenses(cmd.Context(), c.ID)
	if err != nil {
		return err
	}

	f := a.cfg.Currency.Formatter()
	rows := make([][]string, 0, len(expenses))
	for _, e := range expenses {
		s, err := a.service.Summarize(cmd.Context(), e.ID)
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			e.Period.String(),
			f.Format(s.TotalAmount),
			f.Format(s.PaidAmount),
			f.Format(s.OverdueAmount),
			fmt.Sprintf("%.2f%%", s.PaymentPercentage),
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTitle(fmt.Sprintf("%s  (%s)", c.Name, c.ID)))
	fmt.Fprint(out, renderTable(table{
		headers: []string{"Period", "Total", "Paid", "Overdue", "Paid %"},
		rows:    rows,
	}))
	return nil
}

func init() {
	sweepCmd.Flags().StringVar(&flagAsOf, "as-of", "", "Sweep as of this date (YYYY-MM-DD, default today)")

	previewCmd.Flags().StringVar(&flagCommunity, "community", "", "Community ID")
	previewCmd.Flags().StringVar(&flagTotal, "total", "", "Total amount, plain or formatted ($1.500.000)")
	previewCmd.Flags().StringVar(&flagMethod, "method", string(billing.ProrateCoefficient), "EQUAL or COEFFICIENT")
	_ = previewCmd.MarkFlagRequired("community")
	_ = previewCmd.MarkFlagRequired("total")

	seedCmd.Flags().StringVar(&flagScenario, "scenario", "vista-mar", "Scenario to load")

	rootCmd.AddCommand(sweepCmd, previewCmd, seedCmd)
}
