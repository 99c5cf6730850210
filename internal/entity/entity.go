package entity

import (
	"time"

	"github.com/google/uuid"
)

type Phase string

const (
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseAuthenticating  Phase = "authenticating"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseOnContactList   Phase = "on_contact_list"
	PhaseOnConversation  Phase = "on_conversation"
	PhaseOnDiscoveryPage Phase = "on_discovery_page"
)

var Phases = []Phase{
	PhaseUnauthenticated,
	PhaseAuthenticating,
	PhaseAuthenticated,
	PhaseOnContactList,
	PhaseOnConversation,
	PhaseOnDiscoveryPage,
}

// SignedIn reports whether the phase is only observable behind a login.
func (p Phase) SignedIn() bool {
	switch p {
	case PhaseAuthenticated, PhaseOnContactList, PhaseOnConversation, PhaseOnDiscoveryPage:
		return true
	default:
		return false
	}
}

type PageState struct {
	URL        string    `json:"url"`
	Phase      Phase     `json:"phase"`
	ObservedAt time.Time `json:"observed_at"`
}

// Anomaly records phase evidence that contradicted the transition table.
type Anomaly struct {
	From       Phase     `json:"from"`
	Attempted  Phase     `json:"attempted"`
	URL        string    `json:"url"`
	Recheck    Phase     `json:"recheck,omitempty"`
	Resolved   bool      `json:"resolved"`
	ObservedAt time.Time `json:"observed_at"`
}

type ActionName string

const (
	ActionAuthenticate ActionName = "authenticate"
	ActionLocateDialog ActionName = "locate_dialog"
	ActionSendReply    ActionName = "send_reply"
	ActionLikeProfile  ActionName = "like_profile"
)

type OutcomeStatus string

const (
	OutcomeSucceeded   OutcomeStatus = "succeeded"
	OutcomeUnconfirmed OutcomeStatus = "unconfirmed"
	OutcomeFailed      OutcomeStatus = "failed"
)

type ActionOutcome struct {
	Action    ActionName    `json:"action"`
	Succeeded bool          `json:"succeeded"`
	Status    OutcomeStatus `json:"status"`
	Evidence  string        `json:"evidence,omitempty"`
	ErrorKind string        `json:"error,omitempty"`
	Tried     []string      `json:"tried,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

type RunSummary struct {
	RunID      uuid.UUID       `json:"run_id"`
	Identity   string          `json:"identity"`
	UserAgent  string          `json:"user_agent,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Outcomes   []ActionOutcome `json:"outcomes"`
	Skipped    []ActionName    `json:"skipped,omitempty"`
	Anomalies  []Anomaly       `json:"anomalies,omitempty"`
	FinalState PageState       `json:"final_state"`
	Succeeded  bool            `json:"succeeded"`
	Aborted    bool            `json:"aborted"`
	AbortKind  string          `json:"abort_kind,omitempty"`
}

// Outcome returns the recorded outcome for name, if the action ran.
func (s *RunSummary) Outcome(name ActionName) (ActionOutcome, bool) {
	for _, o := range s.Outcomes {
		if o.Action == name {
			return o, true
		}
	}

	return ActionOutcome{}, false
}

func (s *RunSummary) ExitCode() int {
	if s.Succeeded {
		return 0
	}

	return 1
}

type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires"`
	HTTPOnly bool      `json:"http_only"`
	Secure   bool      `json:"secure"`
	SameSite string    `json:"same_site,omitempty"`
}

type SessionOptions struct {
	Identity       string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	Timezone       string
	Cookies        []Cookie
}
