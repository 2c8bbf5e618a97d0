// Package stream consumes the backend's dialogue event stream.
package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dailogi/scene-client/internal/backend"
	"github.com/dailogi/scene-client/internal/dialogue"
	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/internal/sse"
	"github.com/dailogi/scene-client/pkg/logger"
	"github.com/dailogi/scene-client/pkg/metrics"
	"github.com/dailogi/scene-client/pkg/tracing"
)

// StreamPath is the backend endpoint producing dialogue events.
const StreamPath = "/api/dialogues/stream"

const readChunkSize = 4096

// Client opens dialogue streams against the backend.
type Client struct {
	backend *backend.Client
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewClient creates a stream client.
func NewClient(b *backend.Client, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		backend: b,
		logger:  log.Named("stream"),
		tracer:  tracing.Tracer("github.com/dailogi/scene-client/internal/stream"),
	}
}

// Open sends the scene request and returns the event stream once the backend
// has answered with a success status. Canceling ctx aborts the request and
// any read in progress.
func (c *Client) Open(ctx context.Context, req *model.StartStreamRequest) (*Stream, error) {
	if req == nil {
		return nil, ErrNoRequest
	}
	ctx, span := c.tracer.Start(ctx, "dialogue.stream",
		trace.WithAttributes(
			attribute.Int("dialogue.participants", len(req.CharacterConfigs)),
			attribute.Int("dialogue.length", req.Length),
		),
	)

	resp, err := c.backend.Do(ctx, http.MethodPost, StreamPath, req, http.Header{
		"Accept":        {"text/event-stream"},
		"Cache-Control": {"no-cache"},
	})
	if err != nil {
		if !backend.IsCanceled(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "open failed")
		}
		span.End()
		return nil, err
	}

	metrics.DialogueStreamsActive.Inc()
	c.logger.Debug("dialogue stream opened",
		zap.Int("participants", len(req.CharacterConfigs)),
		zap.Int("length", req.Length),
	)

	return &Stream{
		ctx:     ctx,
		body:    resp.Body,
		decoder: sse.NewDecoder(),
		buf:     make([]byte, readChunkSize),
		logger:  c.logger,
		span:    span,
		opened:  time.Now(),
	}, nil
}

// Stream is an open dialogue event stream. It is not safe for concurrent
// use, except for Close.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	decoder *sse.Decoder
	buf     []byte
	pending []dialogue.Event
	eof     bool
	err     error
	logger  *logger.Logger
	span    trace.Span
	opened  time.Time

	frames    int
	closeOnce sync.Once
}

// Next returns the next decoded event. It returns false at the end of the
// stream or on a read failure; Err distinguishes the two.
func (s *Stream) Next() (dialogue.Event, bool) {
	for len(s.pending) == 0 {
		if s.eof || s.err != nil {
			return nil, false
		}
		s.read()
	}

	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, true
}

// Err returns the read failure that ended the stream, if any. A canceled
// context is reported as context.Canceled.
func (s *Stream) Err() error {
	return s.err
}

// LastEventID returns the id of the most recent frame that carried one.
func (s *Stream) LastEventID() string {
	return s.decoder.LastEventID()
}

// Close releases the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		metrics.DialogueStreamsActive.Dec()

		outcome := "completed"
		switch {
		case backend.IsCanceled(s.err):
			outcome = "canceled"
		case s.err != nil:
			outcome = "failed"
			s.span.RecordError(s.err)
			s.span.SetStatus(codes.Error, "read failed")
		case !s.eof:
			outcome = "abandoned"
		}
		metrics.RecordStream(outcome, time.Since(s.opened).Seconds())
		s.span.SetAttributes(
			attribute.Int("dialogue.frames", s.frames),
			attribute.String("dialogue.outcome", outcome),
			attribute.String("dialogue.last_event_id", s.LastEventID()),
		)
		s.span.End()
		s.logger.Debug("dialogue stream closed",
			zap.String("outcome", outcome),
			zap.Int("frames", s.frames),
			zap.String("last_event_id", s.LastEventID()),
		)
	})
	return err
}

func (s *Stream) read() {
	n, err := s.body.Read(s.buf)
	if n > 0 {
		s.decode(s.decoder.Feed(s.buf[:n]))
	}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.decode(s.decoder.Flush())
		s.eof = true
	default:
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		s.err = err
	}
}

func (s *Stream) decode(frames []sse.Frame) {
	for _, f := range frames {
		s.frames++
		metrics.FramesTotal.Inc()

		ev, err := dialogue.Decode(f)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, dialogue.ErrUnknownEventType) {
				reason = "unknown_type"
			}
			metrics.RecordDrop(reason)
			s.logger.Warn("dropping frame",
				zap.String("reason", reason),
				zap.String("event", f.Event),
				zap.Error(err),
			)
			continue
		}

		metrics.EventsTotal.WithLabelValues(string(ev.Type())).Inc()
		s.pending = append(s.pending, ev)
	}
}
