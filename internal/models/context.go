// Package models defines the per-run execution context threaded through
// node execution.
package models

// Well-known context field names read and written by flow nodes.
const (
	FieldUserMessage  = "userMessage"
	FieldResponse     = "response"
	FieldAdminMessage = "adminMessage"
	FieldUserResponse = "userResponse"
	FieldCedula       = "cedula"
	FieldPatientInfo  = "patientInfo"
	FieldPDFURL       = "pdfUrl"
	FieldError        = "error"
)

// ExecutionContext is the mutable record threaded through one flow run.
// Fields are append-only within a run: nodes may add or override entries but
// never remove them. It carries no behavior beyond field access.
type ExecutionContext struct {
	UserID  string            `json:"userId"`
	To      string            `json:"to"`
	Name    string            `json:"nombre,omitempty"`
	Phase   Phase             `json:"fase,omitempty"`
	History []Message         `json:"historial,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// NewExecutionContext creates a context for a single flow run.
func NewExecutionContext(userID, name string) *ExecutionContext {
	return &ExecutionContext{
		UserID: userID,
		To:     userID,
		Name:   name,
		Fields: make(map[string]string),
	}
}

// Get returns the named field, or the empty string if unset.
func (ec *ExecutionContext) Get(key string) string {
	if ec.Fields == nil {
		return ""
	}
	return ec.Fields[key]
}

// Has reports whether the named field has a non-empty value.
func (ec *ExecutionContext) Has(key string) bool {
	return ec.Get(key) != ""
}

// Set adds or overrides a field.
func (ec *ExecutionContext) Set(key, value string) {
	if ec.Fields == nil {
		ec.Fields = make(map[string]string)
	}
	ec.Fields[key] = value
}

// Merge adds or overrides every entry of fields.
func (ec *ExecutionContext) Merge(fields map[string]string) {
	for k, v := range fields {
		ec.Set(k, v)
	}
}

// AppendHistory records a message at the end of the run history.
func (ec *ExecutionContext) AppendHistory(m Message) {
	ec.History = append(ec.History, m)
}
