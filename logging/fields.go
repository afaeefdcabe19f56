package logging

// Common field names for structured logging.
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldBytes         = "bytes"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldCommunityID   = "community_id"
	FieldExpenseID     = "common_expense_id"
	FieldUnitExpenseID = "unit_expense_id"
	FieldPeriod        = "period"
	FieldAmount        = "amount"
	FieldResult        = "result"
)

// Components.
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentSweeper = "sweeper"
	ComponentCLI     = "cli"
)
