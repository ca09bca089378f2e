package application

import (
	"fmt"

	"github.com/davarch/ci-reconciler/internal/domain"
)

type Action string

const (
	ActionPlay   Action = "play"
	ActionCancel Action = "cancel"
)

// ActionError carries a copy of the job with its status forced to invalid.
type ActionError struct {
	Action Action
	Job    domain.JobInfo
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s job %s: %v", e.Action, e.Job, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
