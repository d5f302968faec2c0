package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

var errWorkerExited = errors.New("worker exited")

// EvacuateFunc receives the rooms that were assigned to a worker when it died.
type EvacuateFunc func(worker domain.WorkerID, rooms []domain.RoomCode, cause error)

type PoolOptions struct {
	Size           int
	Settings       core.WorkerSettings
	RespawnBackoff time.Duration
	MaxBackoff     time.Duration
}

type workerSlot struct {
	worker core.Worker
	alive  bool
	rooms  map[domain.RoomCode]struct{}
}

func newWorkerSlot(w core.Worker) *workerSlot {
	return &workerSlot{worker: w, alive: true, rooms: make(map[domain.RoomCode]struct{})}
}

// WorkerPool owns the media workers and the room -> worker assignment.
// A room keeps its worker for life; only the worker's death moves it.
type WorkerPool struct {
	engine core.MediaEngine
	opts   PoolOptions

	mu         sync.Mutex
	slots      []*workerSlot
	byID       map[domain.WorkerID]*workerSlot
	assigned   map[domain.RoomCode]*workerSlot
	next       int
	closed     bool
	onEvacuate EvacuateFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func NewWorkerPool(engine core.MediaEngine, opts PoolOptions) *WorkerPool {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.RespawnBackoff <= 0 {
		opts.RespawnBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff < opts.RespawnBackoff {
		opts.MaxBackoff = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		engine:   engine,
		opts:     opts,
		byID:     make(map[domain.WorkerID]*workerSlot),
		assigned: make(map[domain.RoomCode]*workerSlot),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnEvacuate sets the handler run after a worker death. It runs without the pool lock.
func (p *WorkerPool) OnEvacuate(fn EvacuateFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEvacuate = fn
}

// Start spawns all workers concurrently. If any spawn fails the ones already
// created are closed and the pool stays empty.
func (p *WorkerPool) Start(ctx context.Context) error {
	workers := make([]core.Worker, p.opts.Size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			w, err := p.engine.CreateWorker(gctx, p.opts.Settings)
			if err != nil {
				return fmt.Errorf("spawn worker %d: %w", i, err)
			}
			workers[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, w := range workers {
			if w != nil {
				w.Close()
			}
		}
		return fmt.Errorf("%w: %w", domain.ErrEngineUnavailable, err)
	}

	p.mu.Lock()
	for _, w := range workers {
		slot := newWorkerSlot(w)
		p.slots = append(p.slots, slot)
		p.byID[w.ID()] = slot
	}
	p.mu.Unlock()

	for _, w := range workers {
		p.watch(w)
		log.Info().Str("module", "app.pool").Str("worker", string(w.ID())).Msg("worker started")
	}
	return nil
}

func (p *WorkerPool) watch(w core.Worker) {
	p.wg.Go(func() {
		select {
		case err, ok := <-w.Died():
			if !ok {
				if p.isClosed() {
					return
				}
				err = errWorkerExited
			}
			p.ReportDeath(w.ID(), err)
		case <-p.ctx.Done():
		}
	})
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Acquire returns the worker for a room, assigning one on first use: round-robin,
// or the least-loaded live worker when round-robin hits a dead slot.
func (p *WorkerPool) Acquire(code domain.RoomCode) (core.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.slots) == 0 {
		return nil, domain.ErrEngineUnavailable
	}
	if slot, ok := p.assigned[code]; ok && slot.alive {
		return slot.worker, nil
	}

	slot := p.slots[p.next%len(p.slots)]
	p.next++
	if !slot.alive {
		slot = p.leastLoaded()
		if slot == nil {
			return nil, domain.ErrEngineUnavailable
		}
	}
	slot.rooms[code] = struct{}{}
	p.assigned[code] = slot
	return slot.worker, nil
}

func (p *WorkerPool) leastLoaded() *workerSlot {
	var best *workerSlot
	for _, s := range p.slots {
		if !s.alive {
			continue
		}
		if best == nil || len(s.rooms) < len(best.rooms) {
			best = s
		}
	}
	return best
}

// Release drops the room's assignment if it still points at worker.
func (p *WorkerPool) Release(code domain.RoomCode, worker domain.WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.assigned[code]
	if !ok || slot.worker.ID() != worker {
		return
	}
	delete(slot.rooms, code)
	delete(p.assigned, code)
}

// ReportDeath marks a worker dead, hands its rooms to the evacuation handler and
// starts a replacement. Reporting the same worker twice is a no-op.
func (p *WorkerPool) ReportDeath(id domain.WorkerID, cause error) {
	p.mu.Lock()
	slot, ok := p.byID[id]
	if !ok || !slot.alive {
		p.mu.Unlock()
		return
	}
	slot.alive = false
	rooms := make([]domain.RoomCode, 0, len(slot.rooms))
	for code := range slot.rooms {
		rooms = append(rooms, code)
		delete(p.assigned, code)
	}
	clear(slot.rooms)
	evacuate := p.onEvacuate
	closed := p.closed
	p.mu.Unlock()

	slices.Sort(rooms)
	log.Error().Err(cause).Str("module", "app.pool").Str("worker", string(id)).Int("rooms", len(rooms)).Msg("worker died")
	slot.worker.Close()

	if evacuate != nil && len(rooms) > 0 {
		evacuate(id, rooms, cause)
	}
	if !closed {
		p.wg.Go(func() { p.replace(slot) })
	}
}

func (p *WorkerPool) replace(dead *workerSlot) {
	backoff := p.opts.RespawnBackoff
	for {
		w, err := p.engine.CreateWorker(p.ctx, p.opts.Settings)
		if err == nil {
			if p.install(dead, w) {
				p.watch(w)
				log.Info().Str("module", "app.pool").Str("worker", string(w.ID())).
					Str("replaces", string(dead.worker.ID())).Msg("worker replaced")
			}
			return
		}
		log.Warn().Err(err).Str("module", "app.pool").Dur("backoff", backoff).Msg("worker respawn failed")
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, p.opts.MaxBackoff)
	}
}

func (p *WorkerPool) install(dead *workerSlot, w core.Worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		w.Close()
		return false
	}
	slot := newWorkerSlot(w)
	if i := slices.Index(p.slots, dead); i >= 0 {
		p.slots[i] = slot
	} else {
		p.slots = append(p.slots, slot)
	}
	delete(p.byID, dead.worker.ID())
	p.byID[w.ID()] = slot
	return true
}

// Health reports every slot, dead ones included until they are replaced.
func (p *WorkerPool) Health() []core.WorkerHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.WorkerHealth, 0, len(p.slots))
	for _, s := range p.slots {
		out = append(out, core.WorkerHealth{ID: s.worker.ID(), Alive: s.alive, Rooms: len(s.rooms)})
	}
	return out
}

func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	slots := slices.Clone(p.slots)
	p.mu.Unlock()

	p.cancel()
	for _, s := range slots {
		if s.alive {
			s.worker.Close()
		}
	}
	p.wg.Wait()
	log.Info().Str("module", "app.pool").Int("workers", len(slots)).Msg("pool closed")
}
