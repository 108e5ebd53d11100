// Package failpoint is a light chaos-injection hook, ported from the
// original Rust workspace's emsqrt-exec fail_point! macro
// (original_source/crates/emsqrt-exec/src/failpoints.rs). Disabled by
// default; setting EMSQRT_FAILPOINTS=1 turns every named point into a
// potential trigger.
package failpoint

import (
	"os"
	"strings"
	"sync"
)

var (
	once    sync.Once
	enabled bool
)

func isEnabled() bool {
	once.Do(func() {
		enabled = os.Getenv("EMSQRT_FAILPOINTS") == "1"
	})
	return enabled
}

// Hit panics if failpoints are enabled and name is a "panic_"-prefixed
// point, mirroring the original macro's deterministic "fail some points"
// behavior. A no-op otherwise.
func Hit(name string) {
	if !isEnabled() {
		return
	}
	if strings.HasPrefix(name, "panic_") {
		panic("failpoint triggered: " + name)
	}
}
