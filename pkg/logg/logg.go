// Package logg holds the structured log field keys shared by every layer.
package logg

const (
	Layer     = "layer"
	Operation = "op"
	Action    = "action"
	Selector  = "selector"
	URL       = "url"
	RunID     = "run_id"
	SessionID = "session_id"
	Phase     = "phase"
	Target    = "target"
	Locator   = "locator"
	Tried     = "tried"
	Code      = "code"
)
