// Package coretest provides an in-memory media engine and signal connection for tests.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// Engine is a deterministic in-memory core.MediaEngine. Hooks run before a resource is
// created; a non-nil hook error fails the call.
type Engine struct {
	BeforeWorker    func(ctx context.Context) error
	BeforeRouter    func(ctx context.Context) error
	BeforeTransport func(ctx context.Context) error
	BeforeProduce   func(ctx context.Context) error
	BeforeConsume   func(ctx context.Context) error
	// ForceProducerID makes every Produce return this id.
	ForceProducerID domain.ProducerID

	mu        sync.Mutex
	seq       int
	created   []string
	workers   []*Worker
	producers map[domain.ProducerID]*Producer
	closed    map[string]bool
}

func NewEngine() *Engine {
	return &Engine{
		producers: make(map[domain.ProducerID]*Producer),
		closed:    make(map[string]bool),
	}
}

func (e *Engine) nextID(prefix string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	id := fmt.Sprintf("%s-%d", prefix, e.seq)
	e.created = append(e.created, id)
	return id
}

// Created lists the ids of every resource of a kind ("router", "transport",
// "producer", "consumer") in creation order.
func (e *Engine) Created(kind string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, id := range e.created {
		if strings.HasPrefix(id, kind+"-") {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) markClosed(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed[id] = true
}

// IsClosed reports whether the resource with this id was closed.
func (e *Engine) IsClosed(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed[id]
}

func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

func (e *Engine) WorkerByID(id domain.WorkerID) *Worker {
	for _, w := range e.Workers() {
		if w.id == id {
			return w
		}
	}
	return nil
}

func runHook(ctx context.Context, hook func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook == nil {
		return nil
	}
	return hook(ctx)
}

func (e *Engine) CreateWorker(ctx context.Context, _ core.WorkerSettings) (core.Worker, error) {
	if err := runHook(ctx, e.BeforeWorker); err != nil {
		return nil, err
	}
	w := &Worker{engine: e, id: domain.WorkerID(e.nextID("worker")), died: make(chan error, 1)}
	e.mu.Lock()
	e.workers = append(e.workers, w)
	e.mu.Unlock()
	return w, nil
}

type Worker struct {
	engine *Engine
	id     domain.WorkerID
	died   chan error
	once   sync.Once
}

func (w *Worker) ID() domain.WorkerID { return w.id }
func (w *Worker) Died() <-chan error { return w.died }
func (w *Worker) Close() { w.once.Do(func() { close(w.died) }) }

// Kill simulates a crash: the worker stops serving and Died fires with err.
func (w *Worker) Kill(err error) {
	w.engine.markClosed(string(w.id))
	w.once.Do(func() {
		w.died <- err
		close(w.died)
	})
}

func (w *Worker) dead() bool { return w.engine.IsClosed(string(w.id)) }

var ErrWorkerDead = errors.New("worker is dead")

func (w *Worker) CreateRouter(ctx context.Context, codecs []domain.RtpCodec) (core.Router, error) {
	if w.dead() {
		return nil, ErrWorkerDead
	}
	if err := runHook(ctx, w.engine.BeforeRouter); err != nil {
		return nil, err
	}
	return &Router{worker: w, id: w.engine.nextID("router"), caps: domain.RtpCapabilities{Codecs: codecs}}, nil
}

type Router struct {
	worker *Worker
	id     string
	caps   domain.RtpCapabilities
}

func (r *Router) ID() string { return r.id }
func (r *Router) RtpCapabilities() domain.RtpCapabilities { return r.caps }
func (r *Router) Close() { r.worker.engine.markClosed(r.id) }

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts core.TransportOptions) (core.Transport, error) {
	if err := runHook(ctx, r.worker.engine.BeforeTransport); err != nil {
		return nil, err
	}
	id := domain.TransportID(r.worker.engine.nextID("transport"))
	return &Transport{
		router:    r,
		id:        id,
		direction: opts.Direction,
		params: domain.TransportParams{
			IceParameters:  domain.IceParameters{UsernameFragment: string(id), Password: "secret", IceLite: true},
			DtlsParameters: domain.DtlsParameters{Role: "auto", Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "00:11"}}},
		},
	}, nil
}

type Transport struct {
	router    *Router
	id        domain.TransportID
	direction domain.Direction
	params    domain.TransportParams
}

func (t *Transport) ID() domain.TransportID { return t.id }
func (t *Transport) Params() domain.TransportParams { return t.params }
func (t *Transport) Close() { t.router.worker.engine.markClosed(string(t.id)) }
func (t *Transport) Connect(ctx context.Context, _ domain.ConnectParams) error { return ctx.Err() }

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, rtp domain.RtpParameters) (core.Producer, error) {
	e := t.router.worker.engine
	if err := runHook(ctx, e.BeforeProduce); err != nil {
		return nil, err
	}
	id := e.ForceProducerID
	if id == "" {
		id = domain.ProducerID(e.nextID("producer"))
	}
	p := &Producer{engine: e, id: id, kind: kind}
	e.mu.Lock()
	e.producers[id] = p
	e.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producer domain.ProducerID, _ domain.RtpCapabilities) (core.Consumer, error) {
	e := t.router.worker.engine
	if err := runHook(ctx, e.BeforeConsume); err != nil {
		return nil, err
	}
	e.mu.Lock()
	p, ok := e.producers[producer]
	e.mu.Unlock()
	if !ok || e.IsClosed(string(producer)) {
		return nil, domain.ErrProducerNotFound
	}
	return &Consumer{
		engine:   e,
		id:       domain.ConsumerID(e.nextID("consumer")),
		producer: producer,
		kind:     p.kind,
	}, nil
}

type Producer struct {
	engine *Engine
	id     domain.ProducerID
	kind   domain.MediaKind
	mu     sync.Mutex
	paused bool
}

func (p *Producer) ID() domain.ProducerID { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }
func (p *Producer) Pause() error { p.setPaused(true); return nil }
func (p *Producer) Resume() error { p.setPaused(false); return nil }
func (p *Producer) Close() { p.engine.markClosed(string(p.id)) }

func (p *Producer) setPaused(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = v
}

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

type Consumer struct {
	engine   *Engine
	id       domain.ConsumerID
	producer domain.ProducerID
	kind     domain.MediaKind
}

func (c *Consumer) ID() domain.ConsumerID { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID { return c.producer }
func (c *Consumer) Kind() domain.MediaKind { return c.kind }
func (c *Consumer) Pause() error { return nil }
func (c *Consumer) Resume() error { return nil }
func (c *Consumer) Close() { c.engine.markClosed(string(c.id)) }

func (c *Consumer) RtpParameters() domain.RtpParameters {
	return domain.RtpParameters{Encodings: []domain.RtpEncoding{{SSRC: 1234}}}
}
