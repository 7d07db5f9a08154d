package executor

import (
	"encoding/json"
	"math"
	"strings"
)

type progressLine struct {
	Percent *float64 `json:"percent"`
	Flush   bool     `json:"flush"`
}

// parseProgress recognises a whole stdout line carrying a JSON progress
// object. Anything else is ordinary worker output.
func parseProgress(line string) (percent int, flush bool, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return 0, false, false
	}
	var p progressLine
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil || p.Percent == nil {
		return 0, false, false
	}
	v := *p.Percent
	if math.IsNaN(v) {
		return 0, false, false
	}
	v = math.Max(0, math.Min(100, v))
	return int(v), p.Flush, true
}

// progressGate decides which in-flight percentages are written back.
type progressGate struct {
	step int
	last int
}

func newProgressGate(step int) *progressGate {
	if step <= 0 {
		step = 10
	}
	return &progressGate{step: step, last: 0}
}

// admit reports whether percent should be persisted: it crosses into a new
// multiple of the step, or the worker asked for a flush.
func (g *progressGate) admit(percent int, flush bool) bool {
	if flush && percent != g.last {
		g.last = percent
		return true
	}
	if percent/g.step > g.last/g.step {
		g.last = percent
		return true
	}
	return false
}
