package apperr

import (
	"errors"
	"fmt"
)

const (
	MetaReason   = "reason"
	MetaStage    = "stage"
	MetaField    = "field"
	MetaSelector = "selector"
	MetaURL      = "url"
	MetaTried    = "tried"
	MetaPhase    = "phase"

	StageBrowser      = "browser"
	StageNavigation   = "navigation"
	StageInteraction  = "interaction"
	StageResolution   = "resolution"
	StageVerification = "verification"
	StagePageState    = "page_state"
	StageStore        = "store"

	CodeInternal        = "internal"
	CodeInvalidArgument = "invalid_argument"
	CodeCancelled       = "cancelled"

	CodeDriverFault        = "driver_fault"
	CodeNavigationTimeout  = "navigation_timeout"
	CodeElementNotFound    = "element_not_found"
	CodeLoginFailure       = "login_failure"
	CodeChallengeDetected  = "challenge_detected"
	CodeStateInconsistency = "state_inconsistency"
	CodeActionUnconfirmed  = "action_unconfirmed"
)

type Error struct {
	Op       string
	Code     string
	Err      error
	Metadata map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(op, code string, err error, metadata map[string]any) error {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &Error{
		Op:       op,
		Code:     code,
		Err:      err,
		Metadata: metadata,
	}
}

func InvalidReqError(op, field string, err error) error {
	return Wrap(op, CodeInvalidArgument, err, map[string]any{
		MetaField:  field,
		MetaReason: "invalid_request",
	})
}

// NotFoundError carries the ordered list of locator labels that were attempted.
func NotFoundError(op string, tried []string) error {
	return Wrap(op, CodeElementNotFound, fmt.Errorf("no locator matched (tried %d)", len(tried)), map[string]any{
		MetaReason: "element_not_found",
		MetaTried:  append([]string(nil), tried...),
	})
}

func DriverFault(op string, err error) error {
	return Wrap(op, CodeDriverFault, err, map[string]any{
		MetaReason: "driver_fault",
		MetaStage:  StageBrowser,
	})
}

// CodeOf returns the code of the outermost *Error in the chain, or "" when there is none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ""
}

// HasCode reports whether any *Error in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}

	return false
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return HasCode(err, CodeDriverFault) || HasCode(err, CodeLoginFailure)
}

// Tried returns the attempted locator labels recorded on err, if any.
func Tried(err error) []string {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	if tried, ok := e.Metadata[MetaTried].([]string); ok {
		return tried
	}

	return Tried(e.Err)
}
