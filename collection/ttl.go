package collection

import (
	"time"

	"github.com/hupe1980/docgo/document"
)

// ttlSweeper periodically removes documents whose last update (falling back
// to creation) is older than the configured age. Removals ride the normal
// remove path so indices, views and the change log stay consistent; being
// pure removal, no unique constraint re-validation is involved.
type ttlSweeper struct {
	col      *Collection
	age      time.Duration
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	stopped  chan struct{}
}

func newTTLSweeper(col *Collection, age, interval time.Duration) *ttlSweeper {
	return &ttlSweeper{
		col:      col,
		age:      age,
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (t *ttlSweeper) start() {
	t.ticker = time.NewTicker(t.interval)
	go t.run()
}

func (t *ttlSweeper) run() {
	defer close(t.stopped)
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			t.sweep(time.Now())
		}
	}
}

func (t *ttlSweeper) stop() {
	t.ticker.Stop()
	close(t.done)
	<-t.stopped
}

// sweep removes every expired document. The sweeper is a timer-driven
// writer, so it takes the collection lock like any other caller.
func (t *ttlSweeper) sweep(now time.Time) {
	c := t.col
	cutoff := now.Add(-t.age).UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	var expired []uint64
	for pos, doc := range c.data {
		if ts := document.LastTouched(doc); ts != 0 && ts < cutoff {
			expired = append(expired, c.idIndex[pos])
		}
	}
	for _, id := range expired {
		if pos, ok := c.positionOf(id); ok {
			c.removeAt(pos)
		}
	}
}
