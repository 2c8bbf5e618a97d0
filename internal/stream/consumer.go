package stream

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/dailogi/scene-client/internal/backend"
	"github.com/dailogi/scene-client/internal/dialogue"
	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/pkg/logger"
)

// ErrDialogueHalted is recorded when the backend reports a non-recoverable
// error in-band.
var ErrDialogueHalted = errors.New("dialogue halted by backend error")

// ErrNoRequest is recorded when Start is given no request.
var ErrNoRequest = errors.New("no stream request")

// Snapshot is a consistent view of a consumer's state.
type Snapshot struct {
	Generation uint64
	Phase      model.Phase
	Messages   []model.Message
	Status     dialogue.Status
	// Active is true while a stream is being read.
	Active bool
	// Done is true once dialogue-complete arrived.
	Done    bool
	Failure string
	// Cause is the error behind Failure.
	Cause error
}

// EventHook observes every event applied to the current dialogue. It runs on
// the read goroutine, outside the consumer lock, and must not call Start or
// Stop. Once Start or Stop returns, no hook runs for an event of the
// superseded stream.
type EventHook func(ctx context.Context, ev dialogue.Event)

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithRoster sets the roster used to label messages.
func WithRoster(r dialogue.Roster) ConsumerOption {
	return func(c *Consumer) { c.roster = r }
}

// WithNotifier sets where user-visible notifications go. The notifier is
// called with the consumer lock held and must not call back into it.
func WithNotifier(n dialogue.Notifier) ConsumerOption {
	return func(c *Consumer) { c.notifier = n }
}

// WithEventHook registers an observer for applied events.
func WithEventHook(h EventHook) ConsumerOption {
	return func(c *Consumer) { c.hooks = append(c.hooks, h) }
}

type run struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Consumer drives at most one dialogue stream at a time and keeps the
// reduced dialogue. Starting a new stream cancels the previous one; no event
// of a canceled stream is applied after cancellation has been requested.
type Consumer struct {
	client   *Client
	roster   dialogue.Roster
	notifier dialogue.Notifier
	hooks    []EventHook
	logger   *logger.Logger

	// hookMu is held while hooks run; Start and Stop pass through it so a
	// superseded stream's hooks have finished before they return.
	hookMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	current *run
	last    *run
	reducer *dialogue.Reducer
	phase   model.Phase
	failure error
	subs    map[uint64]chan Snapshot
	nextSub uint64
}

// NewConsumer creates an idle consumer in the config phase.
func NewConsumer(client *Client, log *logger.Logger, opts ...ConsumerOption) *Consumer {
	if log == nil {
		log = logger.Nop()
	}
	c := &Consumer{
		client: client,
		logger: log,
		phase:  model.PhaseConfig,
		subs:   make(map[uint64]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reducer = dialogue.NewReducer(c.roster, c.notifier, c.logger)
	return c
}

// Start cancels any active stream, resets the dialogue and begins streaming
// req in the background. ctx bounds the new stream's lifetime. A nil req
// fails immediately with ErrNoRequest.
func (c *Consumer) Start(ctx context.Context, req *model.StartStreamRequest) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.current != nil {
		c.current.cancel()
	}
	c.gen++
	r := &run{gen: c.gen, cancel: cancel, done: make(chan struct{})}
	c.current = r
	c.last = r
	c.reducer.Reset()
	c.failure = nil
	c.phase = model.PhaseLoading
	c.broadcastLocked()
	c.mu.Unlock()

	c.waitHooks()

	if req == nil {
		c.finish(r, ErrNoRequest)
		close(r.done)
		cancel()
		return
	}

	c.logger.Info("starting dialogue stream",
		zap.Uint64("generation", r.gen),
		zap.Int("participants", len(req.CharacterConfigs)),
	)

	go c.run(ctx, r, req)
}

// Stop cancels the active stream, if any. Cancellation is silent: no
// failure is recorded.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	c.current.cancel()
	c.gen++
	c.current = nil
	c.phase = model.PhaseConfig
	c.broadcastLocked()
	c.mu.Unlock()

	c.waitHooks()
}

func (c *Consumer) waitHooks() {
	c.hookMu.Lock()
	c.hookMu.Unlock()
}

// Wait blocks until the most recently started stream has ended and returns
// its failure. Canceled streams return nil.
func (c *Consumer) Wait() error {
	c.mu.Lock()
	r := c.last
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	<-r.done
	return r.err
}

// Done returns a channel closed when the current stream ends, or nil when
// no stream is active.
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.done
}

// Snapshot returns the current state.
func (c *Consumer) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every change and a
// function to unsubscribe. Delivery never blocks the stream: a slow reader
// only sees the latest snapshot.
func (c *Consumer) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Consumer) run(ctx context.Context, r *run, req *model.StartStreamRequest) {
	defer close(r.done)
	defer r.cancel()

	s, err := c.client.Open(ctx, req)
	if err != nil {
		c.finish(r, err)
		return
	}
	defer s.Close()

	for {
		ev, ok := s.Next()
		if !ok {
			break
		}
		if !c.apply(ctx, r, ev) {
			// Superseded or halted; abort the connection.
			r.cancel()
			c.finish(r, nil)
			return
		}
	}
	c.finish(r, s.Err())
}

// apply folds ev into the dialogue when r is still current. It reports
// whether reading should continue.
func (c *Consumer) apply(ctx context.Context, r *run, ev dialogue.Event) bool {
	c.mu.Lock()
	if r.gen != c.gen {
		c.mu.Unlock()
		return false
	}

	changed := c.reducer.Apply(ev)
	if changed && c.phase == model.PhaseLoading {
		c.phase = model.PhaseResult
	}
	halted := c.reducer.Status().Halted
	if halted {
		c.failure = ErrDialogueHalted
		c.phase = model.PhaseConfig
	}
	if changed {
		c.broadcastLocked()
	}
	c.mu.Unlock()

	if changed && len(c.hooks) > 0 {
		c.runHooks(ctx, r, ev)
	}
	return !halted
}

// runHooks calls the hooks for ev unless r was superseded after ev was
// applied.
func (c *Consumer) runHooks(ctx context.Context, r *run, ev dialogue.Event) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()

	c.mu.Lock()
	current := r.gen == c.gen
	c.mu.Unlock()
	if !current {
		return
	}
	for _, h := range c.hooks {
		h(ctx, ev)
	}
}

func (c *Consumer) finish(r *run, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil && !backend.IsCanceled(err) {
		r.err = err
	} else if c.failure != nil && r.gen == c.gen {
		r.err = c.failure
	}

	if r.gen != c.gen {
		return
	}
	c.current = nil

	switch {
	case r.err == nil && backend.IsCanceled(err):
		c.logger.Info("dialogue stream canceled", zap.Uint64("generation", r.gen))
		c.phase = model.PhaseConfig
	case r.err != nil && !errors.Is(r.err, ErrDialogueHalted):
		c.failure = r.err
		c.phase = model.PhaseConfig
		c.logger.Error("dialogue stream failed", zap.Uint64("generation", r.gen), zap.Error(r.err))
		if c.notifier != nil {
			c.notifier.Notify(failureMessage(r.err))
		}
	case r.err == nil:
		if c.phase == model.PhaseLoading {
			c.phase = model.PhaseResult
		}
		if !c.reducer.Done() {
			c.logger.Warn("dialogue stream ended before dialogue-complete", zap.Uint64("generation", r.gen))
		}
		c.logger.Info("dialogue stream finished",
			zap.Uint64("generation", r.gen),
			zap.Int("messages", len(c.reducer.Messages())),
		)
	}
	c.broadcastLocked()
}

func (c *Consumer) snapshotLocked() Snapshot {
	s := Snapshot{
		Generation: c.gen,
		Phase:      c.phase,
		Messages:   c.reducer.Messages(),
		Status:     c.reducer.Status(),
		Active:     c.current != nil,
		Done:       c.reducer.Status().Completed != nil,
	}
	if c.failure != nil {
		s.Failure = c.failure.Error()
		s.Cause = c.failure
	}
	return s
}

func (c *Consumer) broadcastLocked() {
	if len(c.subs) == 0 {
		return
	}
	s := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
			// Replace the stale snapshot; only this goroutine sends.
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

func failureMessage(err error) string {
	var se *backend.StatusError
	if errors.As(err, &se) {
		return se.Error()
	}
	var te *backend.TransportError
	if errors.As(err, &te) {
		return "could not connect to the dialogue service"
	}
	if errors.Is(err, ErrNoRequest) {
		return "no scene to stream"
	}
	return "dialogue stream interrupted: " + err.Error()
}
