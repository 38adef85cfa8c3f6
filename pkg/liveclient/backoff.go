package liveclient

import "time"

const (
	baseReconnectDelay = time.Second
	maxReconnectDelay  = 30 * time.Second
)

// BackoffDelay returns the reconnect delay after attempt consecutive closes:
// min(1s * 2^attempt, 30s).
func BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^5s already exceeds the cap; avoid shifting into overflow.
	if attempt >= 5 {
		return maxReconnectDelay
	}
	d := baseReconnectDelay << uint(attempt)
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}
