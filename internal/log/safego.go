package log

import "runtime/debug"

// SafeGo runs fn on a new goroutine and logs, rather than propagates, a panic.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				Error(CatCore, "Goroutine panic recovered",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
