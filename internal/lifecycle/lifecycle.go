package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	// drainStarted holds Unix nanoseconds of the last false-to-true transition.
	drainStarted atomic.Int64
)

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true. It reports
// whether the flag changed.
func SetShuttingDown(v bool) bool {
	if !shuttingDown.CompareAndSwap(!v, v) {
		return false
	}
	if v {
		drainStarted.Store(time.Now().UnixNano())
	} else {
		drainStarted.Store(0)
	}
	return true
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// DrainingFor returns how long the process has been shutting down, or zero when it is not.
func DrainingFor() time.Duration {
	started := drainStarted.Load()
	if !IsShuttingDown() || started == 0 {
		return 0
	}
	return time.Since(time.Unix(0, started))
}
