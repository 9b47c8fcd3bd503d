package safe

import (
	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

// Call runs f and converts a panic into an error, so one broken callback
// cannot take the process down.
func Call(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	f()
	return nil
}

// Go starts f in a new goroutine that recovers from panic and logs it.
func Go(log *zap.Logger, name string, f func()) {
	go func() {
		if err := Call(f); err != nil {
			log.Error("goroutine panic recovered", zap.String("goroutine", name), zap.Error(err))
		}
	}()
}
