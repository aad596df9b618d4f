package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldUserID     = "user_id"
	FieldExpenseID  = "expense_id"
	FieldAccountID  = "account_id"
	FieldBalanceID  = "balance_id"
	FieldRuleID     = "rule_id"
	FieldAmount     = "amount_cents"
	FieldQueue      = "queue"
	FieldExchange   = "exchange"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentStorage  = "storage"
	ComponentAMQP     = "amqp"
	ComponentDelivery = "delivery"
	ComponentImport   = "import"
	ComponentRender   = "render"
)
