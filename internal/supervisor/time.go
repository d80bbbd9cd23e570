package supervisor

import (
	"strconv"
	"time"
)

// nowEpoch is the single call site for wall-clock time in the tick loop,
// kept separate so tests can substitute a fixed clock if ever needed.
func nowEpoch() int64 {
	return time.Now().Unix()
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
