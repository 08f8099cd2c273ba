package degraded

import (
	"time"

	"github.com/hinyari/amedas-ranking-service/internal/traffic"
)

// RecordSuccess records a ranking request that produced a result.
func RecordSuccess() {
	traffic.RecordSuccess()
}

// RecordError records a ranking request that failed (upstream error, no data, timeout).
func RecordError() {
	traffic.RecordError()
}

// Record records err as an error outcome, or a success when err is nil.
func Record(err error) {
	if err != nil {
		RecordError()
		return
	}
	RecordSuccess()
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount = successes + errors.
func ErrorRate(window time.Duration) (errors, total int) {
	return traffic.ErrorRate(window)
}

// IsDegraded reports whether the error percentage within window has reached
// thresholdPct. A non-positive window or threshold, or no traffic, is never degraded.
func IsDegraded(window time.Duration, thresholdPct int) bool {
	if window <= 0 || thresholdPct <= 0 {
		return false
	}
	errs, total := ErrorRate(window)
	if total == 0 {
		return false
	}
	return errs*100 >= thresholdPct*total
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}
