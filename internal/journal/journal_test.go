package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailogi/scene-client/internal/dialogue"
	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/pkg/logger"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []*model.JournalEvent
	err    error
	ctxErr error
}

func (f *fakePublisher) Publish(ctx context.Context, ev *model.JournalEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "scene.abc.event.token", Subject("abc", string(dialogue.TypeToken)))
}

func TestNewEvent(t *testing.T) {
	ev := dialogue.Token{Config: model.ParticipantConfig{CharacterID: 1, LLMID: 7}, Text: "Hi", ID: "t1"}

	je, err := NewEvent("scene-1", "user-1", ev)
	require.NoError(t, err)

	assert.NotEmpty(t, je.ID)
	assert.Equal(t, "token", je.Type)
	assert.Equal(t, "scene-1", je.SceneID)
	assert.Equal(t, "user-1", je.UserID)

	var back dialogue.Token
	require.NoError(t, json.Unmarshal(je.Payload, &back))
	assert.Equal(t, ev, back)
}

func TestHookPublishesEveryEvent(t *testing.T) {
	pub := &fakePublisher{}
	hook := Hook(pub, "scene-1", "user-1", nil)

	hook(context.Background(), dialogue.DialogueStart{DialogueID: 42})
	hook(context.Background(), dialogue.DialogueComplete{Status: "completed", TurnCount: 1})

	require.Len(t, pub.events, 2)
	assert.Equal(t, "dialogue-start", pub.events[0].Type)
	assert.Equal(t, "dialogue-complete", pub.events[1].Type)
	assert.NotEqual(t, pub.events[0].ID, pub.events[1].ID)
}

func TestHookSurvivesCanceledContextAndErrors(t *testing.T) {
	pub := &fakePublisher{}
	hook := Hook(pub, "s", "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hook(ctx, dialogue.ErrorEvent{Message: "boom"})
	assert.NoError(t, pub.ctxErr)
	assert.Len(t, pub.events, 1)

	pub.err = errors.New("nats down")
	assert.NotPanics(t, func() { hook(context.Background(), dialogue.Token{Text: "x"}) })
	assert.Len(t, pub.events, 1)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), &model.JournalEvent{}))
}

type pendingAck struct {
	ok  chan *jetstream.PubAck
	err chan error
}

func newPendingAck() *pendingAck {
	return &pendingAck{ok: make(chan *jetstream.PubAck, 1), err: make(chan error, 1)}
}

func (a *pendingAck) Ok() <-chan *jetstream.PubAck { return a.ok }
func (a *pendingAck) Err() <-chan error           { return a.err }
func (a *pendingAck) Msg() *nats.Msg              { return nil }

func TestPublishRejectsDoneContext(t *testing.T) {
	p := &JetStreamPublisher{logger: logger.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Publish(ctx, &model.JournalEvent{ID: "e1", SceneID: "s", Type: "token"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitStopsWhenContextEnds(t *testing.T) {
	p := &JetStreamPublisher{logger: logger.Nop()}
	ev := &model.JournalEvent{ID: "e1", SceneID: "s", Type: "token"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.await(ctx, newPendingAck(), ev)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("await returned before an ack or cancellation")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("await ignored the canceled context")
	}
}

func TestAwaitHonorsDeadline(t *testing.T) {
	p := &JetStreamPublisher{logger: logger.Nop()}
	ev := &model.JournalEvent{ID: "e1", SceneID: "s", Type: "token"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	p.await(ctx, newPendingAck(), ev)
	assert.Less(t, time.Since(start), publishTimeout)
}

func TestAwaitReturnsOnAck(t *testing.T) {
	p := &JetStreamPublisher{logger: logger.Nop()}
	ack := newPendingAck()
	ack.ok <- &jetstream.PubAck{Stream: StreamName, Sequence: 1}

	done := make(chan struct{})
	go func() {
		p.await(context.Background(), ack, &model.JournalEvent{SceneID: "s"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("await did not return after the ack")
	}
}
