// Package service manages running scenes on behalf of API users.
package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dailogi/scene-client/internal/dialogue"
	"github.com/dailogi/scene-client/internal/journal"
	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/internal/roster"
	"github.com/dailogi/scene-client/internal/scene"
	"github.com/dailogi/scene-client/internal/stream"
	"github.com/dailogi/scene-client/pkg/logger"
	"github.com/dailogi/scene-client/pkg/metrics"
)

// ErrSceneNotFound is returned for unknown scenes and scenes owned by
// another user.
var ErrSceneNotFound = errors.New("scene not found")

// RosterLoader loads the roster visible to the session in ctx.
type RosterLoader interface {
	Load(ctx context.Context) (*roster.Roster, error)
}

// Options configures a SceneService.
type Options struct {
	DefaultLength int
	TTL           time.Duration
	Roster        RosterLoader
	Publisher     journal.Publisher
}

type session struct {
	id          string
	userID      string
	description string
	configs     []model.ParticipantConfig
	length      int
	createdAt   time.Time
	consumer    *stream.Consumer

	mu         sync.Mutex
	updatedAt  time.Time
	finishedAt time.Time
	notices    []string
}

func (s *session) notify(msg string) {
	s.mu.Lock()
	s.notices = append(s.notices, msg)
	s.mu.Unlock()
}

func (s *session) touch(t time.Time) {
	s.mu.Lock()
	s.updatedAt = t
	s.mu.Unlock()
}

// SceneService keeps running scenes in memory, each with its own consumer.
type SceneService struct {
	client        *stream.Client
	roster        RosterLoader
	publisher     journal.Publisher
	defaultLength int
	ttl           time.Duration
	logger        *logger.Logger
	now           func() time.Time

	mu     sync.RWMutex
	scenes map[string]*session
}

// NewSceneService creates a scene service.
func NewSceneService(client *stream.Client, opts Options, log *logger.Logger) *SceneService {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Publisher == nil {
		opts.Publisher = journal.Nop{}
	}
	if opts.DefaultLength == 0 {
		opts.DefaultLength = scene.DefaultLength
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	return &SceneService{
		client:        client,
		roster:        opts.Roster,
		publisher:     opts.Publisher,
		defaultLength: opts.DefaultLength,
		ttl:           opts.TTL,
		logger:        log.Named("scenes"),
		now:           time.Now,
		scenes:        make(map[string]*session),
	}
}

// Start validates req and begins streaming a new scene for userID. The
// stream keeps ctx's values, such as the session token, but not its
// cancellation: the scene outlives the request that started it.
func (s *SceneService) Start(ctx context.Context, userID string, req *model.CreateSceneRequest) (*model.Scene, error) {
	form, err := scene.FormFromRequest(req)
	if err != nil {
		metrics.ScenesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	streamReq, err := form.Request(s.defaultLength)
	if err != nil {
		metrics.ScenesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	now := s.now()
	sess := &session{
		id:          uuid.Must(uuid.NewV7()).String(),
		userID:      userID,
		description: streamReq.SceneDescription,
		configs:     streamReq.CharacterConfigs,
		length:      streamReq.Length,
		createdAt:   now,
		updatedAt:   now,
	}
	log := s.logger.WithScene(sess.id).With(zap.String("user_id", userID))

	opts := []stream.ConsumerOption{
		stream.WithNotifier(dialogue.NotifierFunc(func(msg string) {
			log.Info("scene notice", zap.String("notice", msg))
			sess.notify(msg)
		})),
		stream.WithEventHook(func(context.Context, dialogue.Event) {
			sess.touch(s.now())
		}),
		stream.WithEventHook(journal.Hook(s.publisher, sess.id, userID, log)),
	}
	if s.roster != nil {
		r, err := s.roster.Load(ctx)
		if err != nil {
			log.Warn("roster unavailable, using fallback names", zap.Error(err))
		} else {
			opts = append(opts, stream.WithRoster(r))
		}
	}
	sess.consumer = stream.NewConsumer(s.client, log, opts...)

	s.mu.Lock()
	s.scenes[sess.id] = sess
	s.mu.Unlock()

	sess.consumer.Start(context.WithoutCancel(ctx), streamReq)
	metrics.ScenesTotal.WithLabelValues("started").Inc()
	log.Info("scene started",
		zap.Int("participants", len(streamReq.CharacterConfigs)),
		zap.Int("length", streamReq.Length),
	)

	go s.watch(sess, log)

	return s.view(sess), nil
}

func (s *SceneService) watch(sess *session, log *logger.Logger) {
	err := sess.consumer.Wait()

	sess.mu.Lock()
	sess.finishedAt = s.now()
	sess.mu.Unlock()

	snap := sess.consumer.Snapshot()
	switch {
	case err != nil:
		metrics.ScenesTotal.WithLabelValues("failed").Inc()
		log.Warn("scene failed", zap.Error(err))
	case snap.Done:
		metrics.ScenesTotal.WithLabelValues("completed").Inc()
		log.Info("scene completed", zap.Int("messages", len(snap.Messages)))
	default:
		metrics.ScenesTotal.WithLabelValues("canceled").Inc()
		log.Info("scene ended without completing")
	}
}

// Get returns the current state of a scene owned by userID.
func (s *SceneService) Get(ctx context.Context, userID, sceneID string) (*model.Scene, error) {
	sess, err := s.lookup(userID, sceneID)
	if err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// List returns userID's scenes, newest first.
func (s *SceneService) List(ctx context.Context, userID string) *model.ListScenesResponse {
	s.mu.RLock()
	var owned []*session
	for _, sess := range s.scenes {
		if sess.userID == userID {
			owned = append(owned, sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		return owned[i].createdAt.After(owned[j].createdAt)
	})

	scenes := make([]model.Scene, 0, len(owned))
	for _, sess := range owned {
		scenes = append(scenes, *s.view(sess))
	}
	return &model.ListScenesResponse{Scenes: scenes, Total: len(scenes)}
}

// Stop cancels a scene's stream silently and forgets the scene.
func (s *SceneService) Stop(ctx context.Context, userID, sceneID string) error {
	sess, err := s.lookup(userID, sceneID)
	if err != nil {
		return err
	}
	sess.consumer.Stop()

	s.mu.Lock()
	delete(s.scenes, sceneID)
	s.mu.Unlock()

	s.logger.Info("scene stopped", zap.String("scene_id", sceneID))
	return nil
}

// Subscribe returns snapshot updates for a scene owned by userID.
func (s *SceneService) Subscribe(ctx context.Context, userID, sceneID string) (<-chan stream.Snapshot, func(), error) {
	sess, err := s.lookup(userID, sceneID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := sess.consumer.Subscribe()
	return ch, cancel, nil
}

// Janitor evicts finished scenes older than the TTL until ctx is done.
func (s *SceneService) Janitor(ctx context.Context) {
	interval := s.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.evict(s.now()); n > 0 {
				s.logger.Debug("evicted finished scenes", zap.Int("count", n))
			}
		}
	}
}

func (s *SceneService) evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.scenes {
		sess.mu.Lock()
		finished := sess.finishedAt
		sess.mu.Unlock()
		if !finished.IsZero() && now.Sub(finished) > s.ttl {
			delete(s.scenes, id)
			n++
		}
	}
	return n
}

// Shutdown stops every running scene.
func (s *SceneService) Shutdown() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.scenes))
	for _, sess := range s.scenes {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.consumer.Stop()
	}
}

func (s *SceneService) lookup(userID, sceneID string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.scenes[sceneID]
	s.mu.RUnlock()

	if !ok || sess.userID != userID {
		return nil, ErrSceneNotFound
	}
	return sess, nil
}

func (s *SceneService) view(sess *session) *model.Scene {
	snap := sess.consumer.Snapshot()

	sess.mu.Lock()
	updated := sess.updatedAt
	notices := append([]string(nil), sess.notices...)
	sess.mu.Unlock()

	messages := snap.Messages
	if messages == nil {
		messages = []model.Message{}
	}
	return &model.Scene{
		ID:          sess.id,
		UserID:      sess.userID,
		Description: sess.description,
		Configs:     sess.configs,
		Length:      sess.length,
		DialogueID:  snap.Status.DialogueID,
		Phase:       snap.Phase,
		Done:        snap.Done,
		Failure:     failureText(snap),
		Notices:     notices,
		Messages:    messages,
		CreatedAt:   sess.createdAt,
		UpdatedAt:   updated,
	}
}

func failureText(snap stream.Snapshot) string {
	if snap.Cause == nil {
		return ""
	}
	if errors.Is(snap.Cause, stream.ErrDialogueHalted) && snap.Status.LastError != nil {
		return "dialogue error: " + snap.Status.LastError.Message
	}
	return scene.ErrorMessage(snap.Cause)
}
