package docgo

import (
	"context"
	"time"
)

// autosaver periodically persists the database in the background. A cycle
// only writes when at least one collection is dirty, so an idle database
// costs one flag check per interval.
type autosaver struct {
	db       *Database
	interval time.Duration
	done     chan struct{}
	stopped  chan struct{}
}

func startAutosaver(db *Database, interval time.Duration) *autosaver {
	a := &autosaver{
		db:       db,
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *autosaver) run() {
	defer close(a.stopped)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.cycle()
		}
	}
}

func (a *autosaver) cycle() {
	ctx := context.Background()

	if !a.db.anyDirty() {
		a.db.logger.LogAutosave(ctx, a.db.name, true, nil)
		return
	}

	err := a.db.Save(ctx)
	a.db.logger.LogAutosave(ctx, a.db.name, false, err)
}

// stop halts the loop and waits for an in-flight cycle to finish.
func (a *autosaver) stop() {
	close(a.done)
	<-a.stopped
}
