package recovery

import (
	"runtime/debug"

	"github.com/atelier-dev/atelier/internal/logger"
)

// SafeGo runs fn in a goroutine with panic recovery so a single output
// reader or process watcher blowing up cannot take down the whole server.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("panic recovered in goroutine %q: %v", name, r)
				logger.Errorf("stack trace:\n%s", debug.Stack())
			}
		}()
		fn()
	}()
}
