package quadtree

import (
	"context"
	"errors"
	"sync"

	"github.com/umpc/go-sortedmap"
	"golang.org/x/sync/semaphore"

	"github.com/MickWest/Sitrec2/fetch"
)

// Outcome tags how a tile load ended.
type Outcome int

const (
	Loaded Outcome = iota
	Aborted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Loaded:
		return "loaded"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// work runs on a worker goroutine. It must not touch the map; whatever it returns is
// applied later on the owner goroutine.
type work func(ctx context.Context) (apply func(), err error)

type task struct {
	id   uint64
	tile *Tile
	run  work
	// fail is applied on the owner goroutine when run returned an error other than an abort.
	fail func(err error)
}

type completion struct {
	task    *task
	outcome Outcome
	apply   func()
	err     error
}

// loader runs tile loads on worker goroutines, lowest zoom first, with a bounded number in flight.
// Results queue up until the owner drains them.
type loader struct {
	ctx context.Context
	sem *semaphore.Weighted

	mu      sync.Mutex
	seq     uint64
	queue   *sortedmap.SortedMap // id -> *task
	done    []completion
	pending int // scheduled and not yet drained

	notify chan struct{}
	wg     sync.WaitGroup
}

func newLoader(ctx context.Context, concurrency int64) *loader {
	return &loader{
		ctx: ctx,
		sem: semaphore.NewWeighted(concurrency),
		queue: sortedmap.New(16, func(x, y interface{}) bool {
			a, b := x.(*task), y.(*task)
			if a.tile.Key.Z != b.tile.Key.Z {
				return a.tile.Key.Z < b.tile.Key.Z
			}
			return a.id < b.id
		}),
		notify: make(chan struct{}, 1),
	}
}

func (l *loader) schedule(t *task) {
	l.mu.Lock()
	l.seq++
	t.id = l.seq
	l.queue.Insert(t.id, t)
	l.pending++
	l.mu.Unlock()

	l.wg.Add(1)
	go l.runNext()
}

// pop takes the most urgent task. Every runNext pops exactly one, so each scheduled task runs once.
func (l *loader) pop() *task {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := l.queue.Keys()
	if len(keys) == 0 {
		return nil
	}
	v, _ := l.queue.Get(keys[0])
	l.queue.Delete(keys[0])
	return v.(*task)
}

func (l *loader) runNext() {
	defer l.wg.Done()
	if err := l.sem.Acquire(l.ctx, 1); err != nil {
		l.finish(completion{task: l.pop(), outcome: Aborted, err: fetch.ErrAborted})
		return
	}
	defer l.sem.Release(1)

	t := l.pop()
	if l.ctx.Err() != nil {
		l.finish(completion{task: t, outcome: Aborted, err: fetch.ErrAborted})
		return
	}
	apply, err := t.run(l.ctx)
	switch {
	case errors.Is(err, fetch.ErrAborted) || l.ctx.Err() != nil:
		l.finish(completion{task: t, outcome: Aborted, err: fetch.ErrAborted})
	case err != nil:
		l.finish(completion{task: t, outcome: Failed, err: err})
	default:
		l.finish(completion{task: t, outcome: Loaded, apply: apply})
	}
}

func (l *loader) finish(c completion) {
	l.mu.Lock()
	l.done = append(l.done, c)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// drain hands over the completions collected so far.
func (l *loader) drain() []completion {
	l.mu.Lock()
	defer l.mu.Unlock()
	done := l.done
	l.done = nil
	l.pending -= len(done)
	return done
}

func (l *loader) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending == 0
}

// wait blocks until every started worker returned.
func (l *loader) wait() {
	l.wg.Wait()
}
