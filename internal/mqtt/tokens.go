package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/toolchat/internal/events"
)

// DailyTokens tracks token usage that resets at local midnight. It is
// safe for concurrent use.
type DailyTokens struct {
	mu       sync.Mutex
	input    int64
	output   int64
	requests int64
	resetDay int // day-of-year of last reset
	loc      *time.Location
	now      func() time.Time
}

// NewDailyTokens creates a new accumulator using the given timezone for
// midnight detection. If loc is nil, [time.Local] is used.
func NewDailyTokens(loc *time.Location) *DailyTokens {
	if loc == nil {
		loc = time.Local
	}
	return &DailyTokens{
		resetDay: time.Now().In(loc).YearDay(),
		loc:      loc,
		now:      time.Now,
	}
}

// Add records token counts from one completed request.
func (d *DailyTokens) Add(inputTokens, outputTokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.input += int64(inputTokens)
	d.output += int64(outputTokens)
	d.requests++
}

// Observe adds the totals carried by a request_complete event and
// reports whether the event was counted.
func (d *DailyTokens) Observe(e events.Event) bool {
	if e.Kind != events.KindRequestComplete {
		return false
	}
	in, okIn := asInt(e.Data["total_tokens_in"])
	out, okOut := asInt(e.Data["total_tokens_out"])
	if !okIn && !okOut {
		return false
	}
	d.Add(in, out)
	return true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Snapshot returns input tokens, output tokens and request count for
// the current local day.
func (d *DailyTokens) Snapshot() (input, output, requests int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.input, d.output, d.requests
}

// maybeReset zeroes the accumulators if the local day-of-year has
// changed. Must be called with d.mu held.
func (d *DailyTokens) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.input = 0
		d.output = 0
		d.requests = 0
		d.resetDay = today
	}
}
