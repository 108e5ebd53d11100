package cmn

import (
	"log"
	"os"
	"sync/atomic"
)

// nlog is a minimal, allocation-cheap leveled logger in aistore's nlog style:
// a package-level verbosity knob checked before any formatting happens.
var verbosity int32

func SetVerbosity(v int) { atomic.StoreInt32(&verbosity, int32(v)) }

// FastV reports whether logging at level v is enabled, without formatting
// anything - callers gate expensive Sprintf calls behind this.
func FastV(v int) bool { return int32(v) <= atomic.LoadInt32(&verbosity) }

var std = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

func Infof(format string, args ...any) {
	if FastV(1) {
		std.Printf("I "+format, args...)
	}
}

func Warningf(format string, args ...any) {
	std.Printf("W "+format, args...)
}

func Errorf(format string, args ...any) {
	std.Printf("E "+format, args...)
}
