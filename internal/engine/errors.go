package engine

import (
	"errors"
	"fmt"
)

// StateError reports an operation that is not valid for the quotation's
// current approval or revision state.
type StateError struct {
	QuotationID string
	Reason      string
}

func (e StateError) Error() string {
	return fmt.Sprintf("quotation %s: %s", e.QuotationID, e.Reason)
}

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// errSkip aborts a mutation without saving. The caller treats it as a no-op.
var errSkip = errors.New("skip")
