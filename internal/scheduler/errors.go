package scheduler

import "codeberg.org/mutker/streamctl/internal/errors"

const (
	ErrMissingComponent = errors.ErrorCode("scheduler_missing_component")
	ErrControlBusy      = errors.ErrorCode("scheduler_control_busy")
	ErrInvalidState     = errors.ErrorCode("scheduler_invalid_state")
	ErrInvalidMode      = errors.ErrorCode("scheduler_invalid_mode")
	ErrNoNetwork        = errors.ErrorCode("scheduler_no_network")
	ErrNoServer         = errors.ErrorCode("scheduler_no_server")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrMissingComponent: "Required component missing",
		ErrControlBusy:      "Control queue is full",
		ErrInvalidState:     "Invalid state",
		ErrInvalidMode:      "Invalid degradation mode",
		ErrNoNetwork:        "No network can be joined automatically",
		ErrNoServer:         "No server connection",
	})
}
