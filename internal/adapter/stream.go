package adapter

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"insight-bridge/internal/models"
	"insight-bridge/internal/pixel"
)

// Polling cadence of the pseudo-stream. The vendor exposes no incremental
// event feed, only a cumulative partial accessor, so the stream polls it and
// diffs against the last emitted length.
const (
	pollInterval   = 250 * time.Millisecond
	initialSettle  = 300 * time.Millisecond
	completionRace = 100 * time.Millisecond
	retrySleep     = 100 * time.Millisecond
)

type queryOutcome struct {
	result pixel.RunResult
	err    error
}

// Stream is a lazy, single-pass sequence of chat completion chunks. Recv
// yields chunks until io.EOF; a failed underlying query poisons the stream
// and every later Recv returns the same error. Callers that abandon a stream
// before exhaustion must Close it to tear down the poller.
type Stream struct {
	service    InsightService
	insightID  string
	expression string

	id      string
	model   string
	created int64

	ctx       context.Context
	queryDone chan queryOutcome
	stopPoll  chan struct{}
	stopOnce  sync.Once

	started   bool
	completed bool
	closed    bool
	sentRole  bool
	failure   error

	mu      sync.Mutex
	buf     string
	emitted int
}

// StreamChatCompletion starts a pseudo-streaming chat completion. The vendor
// query is not issued until the first Recv.
func (a *Adapter) StreamChatCompletion(ctx context.Context, req models.ChatRequest) (*Stream, error) {
	if err := a.ensureReady(ctx); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	prompt, err := BuildPrompt(req.Messages)
	if err != nil {
		return nil, err
	}

	return &Stream{
		service:    a.service,
		insightID:  a.currentInsightID(),
		expression: buildExpression(a.engines.Resolve(model), prompt),
		id:         newCompletionID(),
		model:      model,
		created:    time.Now().Unix(),
		ctx:        ctx,
		queryDone:  make(chan queryOutcome, 1),
		stopPoll:   make(chan struct{}),
	}, nil
}

// Recv returns the next chunk. The terminal chunk carries an empty delta and
// finish reason "stop"; the advance after it returns io.EOF.
func (s *Stream) Recv() (models.StreamChunk, error) {
	if s.failure != nil {
		return models.StreamChunk{}, s.failure
	}
	if s.completed || s.closed {
		return models.StreamChunk{}, io.EOF
	}

	if !s.started {
		s.started = true
		s.launch()
		if err := s.sleep(initialSettle); err != nil {
			return models.StreamChunk{}, err
		}
	}

	for {
		if delta, ok := s.takeDelta(); ok {
			chunk := s.newChunk()
			chunk.Delta = delta
			if !s.sentRole {
				chunk.Role = "assistant"
				s.sentRole = true
			}
			return chunk, nil
		}

		// No growth: race the outstanding query against a short window.
		select {
		case outcome := <-s.queryDone:
			s.teardown()
			if outcome.err != nil {
				s.failure = fmt.Errorf("API Streaming Error: %w: %v", ErrStreaming, outcome.err)
				return models.StreamChunk{}, s.failure
			}
			s.completed = true
			chunk := s.newChunk()
			chunk.FinishReason = "stop"
			return chunk, nil
		case <-time.After(completionRace):
		}

		if err := s.sleep(retrySleep); err != nil {
			return models.StreamChunk{}, err
		}
	}
}

// Close tears down the background poller. Safe to call multiple times and
// after exhaustion; the outstanding vendor query is left to finish on its
// own.
func (s *Stream) Close() error {
	s.closed = true
	s.teardown()
	return nil
}

func (s *Stream) launch() {
	go func() {
		result, err := s.service.RunPixel(s.ctx, s.expression, s.insightID)
		s.queryDone <- queryOutcome{result: result, err: err}
	}()

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopPoll:
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				partial, err := s.service.Partial(s.ctx, s.insightID)
				if err != nil {
					continue
				}
				if total := partial.Message.Total; total != "" {
					s.mu.Lock()
					s.buf = total
					s.mu.Unlock()
				}
			}
		}
	}()
}

func (s *Stream) teardown() {
	s.stopOnce.Do(func() {
		close(s.stopPoll)
	})
}

// takeDelta returns the text appended to the buffer since the last emission.
func (s *Stream) takeDelta() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) <= s.emitted {
		return "", false
	}
	delta := s.buf[s.emitted:]
	s.emitted = len(s.buf)
	return delta, true
}

func (s *Stream) newChunk() models.StreamChunk {
	return models.StreamChunk{
		ID:      s.id,
		Model:   s.model,
		Created: s.created,
	}
}

func (s *Stream) sleep(d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-s.ctx.Done():
		s.teardown()
		s.failure = fmt.Errorf("API Streaming Error: %w: %v", ErrStreaming, s.ctx.Err())
		return s.failure
	}
}
