package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/ReOpsIL/forge-sub000/internal/model"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 30 * time.Minute
)

// StopReason says why a poller ended.
type StopReason int

const (
	StopCompleted StopReason = iota
	StopFailed
	StopError
	StopTimeout
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case StopCompleted:
		return "completed"
	case StopFailed:
		return "failed"
	case StopError:
		return "error"
	case StopTimeout:
		return "timeout"
	case StopCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// Config controls poll cadence. Zero values take the defaults.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Check fetches the current status of whatever is being watched.
type Check func(ctx context.Context) (model.Status, error)

type Result struct {
	Reason StopReason
	Status model.Status
	Err    error
	Polls  int
	// Run is the Group run that produced the result; zero for a bare Run.
	Run RunID
}

// Run calls check every cfg.Interval until it reports a terminal status, returns
// an error, the timeout budget runs out, or ctx is cancelled. The first check
// happens one interval after Run is called.
func Run(ctx context.Context, cfg Config, check Check) Result {
	cfg = cfg.withDefaults()
	parent := ctx
	ctx, cancel := context.WithTimeout(parent, cfg.Timeout)
	defer cancel()

	timer := time.NewTimer(cfg.Interval)
	defer timer.Stop()

	res := Result{Status: model.StatusRunning}
	for {
		select {
		case <-ctx.Done():
			res.Reason = doneReason(parent)
			return res
		case <-timer.C:
		}

		res.Polls++
		st, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				res.Reason = doneReason(parent)
				return res
			}
			res.Reason = StopError
			res.Err = err
			return res
		}
		res.Status = st
		switch st {
		case model.StatusCompleted:
			res.Reason = StopCompleted
			return res
		case model.StatusFailed:
			res.Reason = StopFailed
			return res
		}
		timer.Reset(cfg.Interval)
	}
}

func doneReason(parent context.Context) StopReason {
	if parent.Err() != nil {
		return StopCancelled
	}
	return StopTimeout
}
