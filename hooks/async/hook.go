// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/duraref"
//	"github.com/unkn0wn-root/duraref/hooks/async"
//	"github.com/unkn0wn-root/duraref/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    ConflictEvery: 10, // sample logs: ~every 10th lost race
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	ref, _ := duraref.Open[Counter](ctx, duraref.Options[Counter]{
//	    Store: db,
//	    Key:   "jobs:counter",
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/duraref"
)

type Hooks struct {
	inner duraref.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ duraref.Hooks = (*Hooks)(nil)

func New(inner duraref.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) ConflictRetried(k string, n int) { h.try(func() { h.inner.ConflictRetried(k, n) }) }
func (h *Hooks) BusyFailure(k string, err error) { h.try(func() { h.inner.BusyFailure(k, err) }) }
func (h *Hooks) ValidatorRejected(k, op string)  { h.try(func() { h.inner.ValidatorRejected(k, op) }) }
func (h *Hooks) NotFoundObserved(k, op string)   { h.try(func() { h.inner.NotFoundObserved(k, op) }) }
