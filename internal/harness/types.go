package harness

// Trace event kinds.
const (
	EventCommit   = "commit"
	EventRestore  = "restore"
	EventRejected = "rejected"
)

// TraceEvent is one observed store change, or a write the store refused.
type TraceEvent struct {
	Kind      string   `json:"kind"`
	Seq       int64    `json:"seq"`
	Label     string   `json:"label,omitempty"`
	TxID      string   `json:"tx,omitempty"`
	Relations []string `json:"relations,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as declared and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace lists commits, restores and rejections in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final content of every relation as plain Go values.
	State map[string][]map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]map[string]any),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
