package migrate

import (
	"strings"
	"testing"
	"time"
)

func TestStatsZeroValue(t *testing.T) {
	var s Stats

	if s.Duration() != 0 {
		t.Errorf("Expected zero duration before start, got %v", s.Duration())
	}
	if s.TxRate() != 0 {
		t.Errorf("Expected zero tx rate before start, got %f", s.TxRate())
	}
}

func TestStatsRates(t *testing.T) {
	s := Stats{Start: time.Now().Add(-time.Minute), Tx: 30, Ops: 120}

	if rate := s.TxRate(); rate < 25 || rate > 35 {
		t.Errorf("Expected roughly 30 tx/min, got %f", rate)
	}
	if rate := s.OpsRate(); rate < 100 || rate > 140 {
		t.Errorf("Expected roughly 120 ops/min, got %f", rate)
	}
}

func TestStatsString(t *testing.T) {
	s := Stats{Start: time.Now().Add(-time.Second), Tx: 2, Ops: 9}

	out := s.String()
	if !strings.Contains(out, "(2)") || !strings.Contains(out, "(9)") {
		t.Errorf("Expected counters in output, got %q", out)
	}
}
