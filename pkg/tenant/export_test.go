package tenant

import "time"

// SetStartupBackoffForTest shrinks the retry backoff so resolver tests run
// quickly. It returns a function restoring the previous value.
func SetStartupBackoffForTest(d time.Duration) func() {
	old := initialBackoff
	initialBackoff = d
	return func() { initialBackoff = old }
}
