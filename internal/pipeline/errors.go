package pipeline

import (
	"errors"
	"fmt"

	"github.com/sells-group/outreach-cli/internal/model"
)

// StageError is an operator-facing precondition failure. Stage is where the
// run was left.
type StageError struct {
	Stage      model.Stage
	Title      string
	Detail     string
	NextAction string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

// AsStageError extracts a StageError from err's chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func nextAction(stage model.Stage) string {
	switch stage {
	case model.StageMatchesFound, model.StageNoMatches:
		return "Confirm enrichment to continue."
	case model.StageReady:
		return "Review intros, then confirm sending."
	case model.StageComplete:
		return "Start a new run."
	case model.StageUpload:
		return "Upload demand, supply and matches."
	default:
		return "Resume the run."
	}
}

func confirmAction(t Trigger) string {
	switch t {
	case TriggerConfirmEnrich:
		return "Re-run with --confirm-enrich to spend enrichment credits."
	case TriggerConfirmSend:
		return "Re-run with --confirm-send to push leads to the campaign."
	default:
		return ""
	}
}
