package conn

import "time"

// backoffTable holds the retry delays in milliseconds, indexed by attempt.
var backoffTable = [...]int{500, 1000, 2000, 3000, 5000, 5000, 10000, 10000, 15000, 30000}

// DefaultMaxAttempts is how many automatic retries run before giving up.
const DefaultMaxAttempts = 10

// Delay returns how long to wait before retry number attempt (zero based).
// Attempts past the table use the last entry.
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(backoffTable) {
		attempt = len(backoffTable) - 1
	}
	return time.Duration(backoffTable[attempt]) * time.Millisecond
}
