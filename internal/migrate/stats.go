package migrate

import (
	"fmt"
	"time"
)

// Stats tracks loading throughput. Purely observational; it never affects
// control flow. Only committed transaction groups and their operations are
// counted, so the numbers reflect durable progress, not attempts.
type Stats struct {
	Start time.Time
	Tx    int64
	Ops   int64
}

// Duration returns the elapsed time since stats collection started.
func (s *Stats) Duration() time.Duration {
	if s.Start.IsZero() {
		return 0
	}
	return time.Since(s.Start)
}

// TxRate returns committed transaction groups per minute.
func (s *Stats) TxRate() float64 {
	return perMinute(s.Tx, s.Duration())
}

// OpsRate returns committed operations per minute.
func (s *Stats) OpsRate() float64 {
	return perMinute(s.Ops, s.Duration())
}

func perMinute(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Minutes()
}

func (s *Stats) String() string {
	return fmt.Sprintf("%.2f tx/min (%d), %.2f ops/min (%d), [%s]",
		s.TxRate(), s.Tx, s.OpsRate(), s.Ops, s.Duration().Round(time.Millisecond))
}
