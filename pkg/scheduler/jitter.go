package scheduler

import (
	"encoding/binary"
	"hash/fnv"
	"time"
)

// jitterFactor returns a deterministic value in [0.8, 1.2] for the pair
// (taskName, consecutiveFailures): the same pair
// always yields the same delay, so retries are reproducible across replays
// without needing a seeded global PRNG.
func jitterFactor(taskName string, consecutiveFailures int) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(taskName))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(consecutiveFailures))
	_, _ = h.Write(buf[:])
	sum := h.Sum64()

	// Map the top 32 bits onto [0, 1) then scale to [0.8, 1.2).
	frac := float64(uint32(sum>>32)) / float64(1<<32)
	return 0.8 + frac*0.4
}

// retryDelay computes the jittered retry delay for the k-th consecutive
// failure of taskName, given a base delay.
func retryDelay(taskName string, consecutiveFailures int, baseDelay time.Duration) time.Duration {
	factor := jitterFactor(taskName, consecutiveFailures)
	return time.Duration(float64(baseDelay) * factor)
}
