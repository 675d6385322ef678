package bootflow

import (
	"errors"

	"github.com/rs/zerolog"
)

type undoEntry struct {
	step string
	fn   func() error
}

// undoStack holds rollback closures for completed steps. They run in
// reverse order when a later step fails.
type undoStack []undoEntry

func (u *undoStack) push(step string, fn func() error) {
	*u = append(*u, undoEntry{step: step, fn: fn})
}

// rollback runs every closure, logging and collecting failures. It
// returns nil when all of them succeed.
func (u undoStack) rollback(logger zerolog.Logger) error {
	var errs []error
	for i := len(u) - 1; i >= 0; i-- {
		if err := u[i].fn(); err != nil {
			logger.Error().Err(err).Str("step", u[i].step).Msg("rollback step failed")
			errs = append(errs, err)
			continue
		}
		logger.Debug().Str("step", u[i].step).Msg("rolled back")
	}
	return errors.Join(errs...)
}
