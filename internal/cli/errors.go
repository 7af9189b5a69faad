package cli

import (
	"errors"
	"fmt"

	"github.com/ReOpsIL/forge-sub000/internal/api"
	"github.com/ReOpsIL/forge-sub000/internal/dashboard"
)

type notFoundError struct {
	kind string
	id   string
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.kind, e.id)
}

func errNotFound(kind, id string) error {
	return notFoundError{kind: kind, id: id}
}

// lookupErr turns session lookup failures into the CLI's not-found errors and
// passes anything else through.
func lookupErr(err error, blockID, taskID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dashboard.ErrUnknownTask):
		return errNotFound("task", blockID+"/"+taskID)
	case errors.Is(err, dashboard.ErrUnknownBlock), api.IsNotFound(err):
		return errNotFound("block", blockID)
	}
	return err
}

// reportedError marks an error already printed to stderr by writeErr.
type reportedError struct {
	err error
}

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

// Reported reports whether err was already printed for the user.
func Reported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}
