package errval

import (
	"errors"
)

var (
	ErrInternal       = errors.New("internal server error")
	ErrNotFound       = errors.New("not found")
	ErrNotRunning     = errors.New("service is not running")
	ErrAlreadyRunning = errors.New("service is already running")
	ErrPoolClosed     = errors.New("worker pool is shut down")
	ErrAgentNotFound  = errors.New("agent not found")
	ErrMissingTrigger = errors.New("heartbeat has neither cron expression nor interval")
)
