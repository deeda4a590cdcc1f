// Package debug provides debug-build-only assertions and logging, gated on
// the "debug" build tag, in the style referenced throughout the teacher
// repository as cmn/debug (debug.Enabled, debug.Assert, debug.Infof).
package debug

import (
	"fmt"

	"github.com/golang/glog"
)

// Enabled reports whether debug assertions and the shadow-heap (§4.5.4)
// are compiled in. Overridden to true by debug_on.go, its build-tagged
// counterpart.
var Enabled = false

// Assert panics if cond is false. Compiled to a no-op check unless Enabled,
// but the build-tag variant (debug_on.go) sets Enabled=true and callers
// should guard expensive cond computation with `if debug.Enabled`.
func Assert(cond bool) {
	if Enabled && !cond {
		panic("assertion failed")
	}
}

// AssertMsg panics with msg if cond is false.
func AssertMsg(cond bool, msg string) {
	if Enabled && !cond {
		panic(msg)
	}
}

func Infof(format string, args ...interface{}) {
	if Enabled {
		glog.Infof(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if Enabled {
		glog.Errorf(format, args...)
	}
}

// Sprintf is a convenience used by callers building an assertion message
// lazily (only evaluated when Enabled).
func Sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
