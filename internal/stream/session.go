// Package stream runs live transcription sessions: each transcribed chunk is
// checked for precursor phrases and for PII, and the findings are pushed to
// the client as events.
//
// A Session is a sequential state machine driven by one goroutine (Run).
// The only other entry point is Stop, which sets a flag that Run observes as
// soon as the current listen attempt returns.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pii-redactor/internal/detector"
	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
	"pii-redactor/internal/pii"
)

// State is the session lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateListening
	StateWaiting
	StateUnclear
	StateStopped
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateWaiting:
		return "waiting"
	case StateUnclear:
		return "unclear"
	case StateStopped:
		return "stopped"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateStopped || s == StateTimedOut }

// OutcomeKind tags the result of one listen attempt.
type OutcomeKind int

const (
	OutcomeText OutcomeKind = iota
	OutcomeTimeout
	OutcomeUnclear
	OutcomeServiceError
)

// Outcome is what a Transcriber returns for one listen attempt. Text is set
// for OutcomeText, Err for OutcomeServiceError.
type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  error
}

// Transcriber is the speech-to-text collaborator.
type Transcriber interface {
	// Calibrate runs once before the first Listen (ambient noise
	// adjustment for a microphone). An error is a service failure.
	Calibrate(ctx context.Context) error
	// Listen blocks for at most timeout and returns one outcome.
	Listen(ctx context.Context, timeout time.Duration) Outcome
}

// DefaultSilenceBudget is the number of consecutive timeouts that end a
// session.
const DefaultSilenceBudget = 6

// DefaultListenTimeout bounds one listen attempt.
const DefaultListenTimeout = 5 * time.Second

// Options tunes a Session.
type Options struct {
	SilenceBudget int
	ListenTimeout time.Duration
	Tier          pii.Tier
}

// Summary describes a finished session. It holds types and counts only.
type Summary struct {
	ID            string
	Started       time.Time
	Ended         time.Time
	Reason        Reason
	Tier          pii.Tier
	Chunks        int
	Timeouts      int
	Unclear       int
	ContextAlerts int
	ContentAlerts int
	Types         map[pii.Type]int
	Err           error
}

// Session is one live transcription. Create with NewSession; Run once.
type Session struct {
	id          string
	transcriber Transcriber
	pipeline    *detector.Pipeline
	watcher     *detector.ContextWatcher
	emit        Emitter
	opts        Options
	metrics     *metrics.Metrics
	log         *logger.Logger

	state   atomic.Int32
	stopReq atomic.Bool

	// Owned by Run.
	silence int
	summary Summary
}

// NewSession wires a session. m may be nil; emit may be nil to discard events.
func NewSession(t Transcriber, p *detector.Pipeline, emit Emitter, opts Options, m *metrics.Metrics, log *logger.Logger) *Session {
	if opts.SilenceBudget <= 0 {
		opts.SilenceBudget = DefaultSilenceBudget
	}
	if opts.ListenTimeout <= 0 {
		opts.ListenTimeout = DefaultListenTimeout
	}
	if emit == nil {
		emit = func(Event) {}
	}
	id := uuid.NewString()
	return &Session{
		id:          id,
		transcriber: t,
		pipeline:    p,
		watcher:     detector.NewContextWatcher(p.Registry()),
		emit:        emit,
		opts:        opts,
		metrics:     m,
		log:         log.With("session", id),
		summary:     Summary{ID: id, Tier: opts.Tier, Types: map[pii.Type]int{}},
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current state. Safe from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

// Stop asks the session to end. It takes effect when the current listen
// attempt returns, before its outcome is acted on, so a stop always wins
// over a pending timeout. Safe from any goroutine; idempotent.
func (s *Session) Stop() { s.stopReq.Store(true) }

// Summary returns the session record. Call after Run has returned.
func (s *Session) Summary() Summary { return s.summary }

var errAlreadyRun = errors.New("session already started")

// Run drives the session until it stops or times out. The returned error is
// non-nil only when the transcription service failed; it wraps
// pii.ErrTranscriptionService. Cancelling ctx counts as a stop request.
func (s *Session) Run(ctx context.Context) (Reason, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return "", errAlreadyRun
	}
	s.summary.Started = time.Now()
	s.emit(TranscriptionStatus{Status: StateStarting})
	s.log.Infof("session_start", "tier=%s budget=%d timeout=%s", s.opts.Tier, s.opts.SilenceBudget, s.opts.ListenTimeout)
	if s.metrics != nil {
		s.metrics.SessionsStarted.Add(1)
	}

	if err := s.transcriber.Calibrate(ctx); err != nil {
		if s.stopRequested(ctx) {
			return s.finish(StateStopped)
		}
		return s.fail(fmt.Errorf("%w: calibrate: %w", pii.ErrTranscriptionService, err))
	}

	for {
		if s.stopRequested(ctx) {
			return s.finish(StateStopped)
		}
		s.enter(StateListening)

		out := s.transcriber.Listen(ctx, s.opts.ListenTimeout)
		if s.stopRequested(ctx) {
			return s.finish(StateStopped)
		}

		switch out.Kind {
		case OutcomeText:
			s.silence = 0
			s.summary.Chunks++
			s.emit(TranscriptionUpdate{Text: out.Text, Timestamp: time.Now()})
			s.inspect(ctx, out.Text)

		case OutcomeTimeout:
			s.silence++
			s.summary.Timeouts++
			s.enter(StateWaiting)
			s.log.Debugf("silence", "%d/%d", s.silence, s.opts.SilenceBudget)
			if s.silence >= s.opts.SilenceBudget {
				return s.finish(StateTimedOut)
			}

		case OutcomeUnclear:
			s.summary.Unclear++
			s.enter(StateUnclear)

		case OutcomeServiceError:
			err := out.Err
			switch {
			case err == nil:
				err = pii.ErrTranscriptionService
			case !errors.Is(err, pii.ErrTranscriptionService):
				err = fmt.Errorf("%w: %w", pii.ErrTranscriptionService, err)
			}
			return s.fail(err)

		default:
			return s.fail(fmt.Errorf("%w: unknown outcome %d", pii.ErrTranscriptionService, out.Kind))
		}
	}
}

func (s *Session) stopRequested(ctx context.Context) bool {
	return s.stopReq.Load() || ctx.Err() != nil
}

// enter moves to st and announces it, unless the session is already there.
func (s *Session) enter(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.emit(TranscriptionStatus{Status: st})
}

// inspect runs both checks on one chunk. A semantic outage is reported and
// the pattern findings are still alerted.
func (s *Session) inspect(ctx context.Context, text string) {
	if typ, ok := s.watcher.Scan(text); ok {
		s.alert(typ, SourceContext)
	}

	list, err := s.pipeline.Run(ctx, text, s.opts.Tier)
	if err != nil {
		s.log.Warnf("semantic_unavailable", "chunk=%d continuing pattern-only: %v", s.summary.Chunks, err)
		s.emit(ErrorEvent{Message: "semantic detection unavailable; pattern checks only"})
	}
	seen := make(map[pii.Type]bool, len(list))
	for _, e := range list {
		if seen[e.Type] {
			continue
		}
		seen[e.Type] = true
		s.alert(e.Type, SourceContent)
	}
}

func (s *Session) alert(typ pii.Type, src AlertSource) {
	s.emit(PIIAlert{Type: typ, Source: src, Timestamp: time.Now()})
	s.log.Infof("pii_alert", "type=%s source=%s", typ, src)
	switch src {
	case SourceContext:
		s.summary.ContextAlerts++
		if s.metrics != nil {
			s.metrics.ContextAlerts.Add(1)
		}
	case SourceContent:
		s.summary.ContentAlerts++
		s.summary.Types[typ]++
		if s.metrics != nil {
			s.metrics.ContentAlerts.Add(1)
		}
	}
}

// finish ends the session normally.
func (s *Session) finish(st State) (Reason, error) {
	reason := ReasonStopped
	if st == StateTimedOut {
		reason = ReasonTimeout
	}
	s.state.Store(int32(st))
	if st == StateStopped {
		s.emit(TranscriptionStatus{Status: StateStopped})
	}
	s.emit(TranscriptionComplete{Reason: reason})

	s.summary.Ended = time.Now()
	s.summary.Reason = reason
	s.log.Infof("session_end", "reason=%s chunks=%d alerts=%d/%d", reason, s.summary.Chunks,
		s.summary.ContextAlerts, s.summary.ContentAlerts)
	if s.metrics != nil {
		if reason == ReasonTimeout {
			s.metrics.SessionsTimedOut.Add(1)
		} else {
			s.metrics.SessionsStopped.Add(1)
		}
	}
	return reason, nil
}

// fail ends the session on a transcription failure.
func (s *Session) fail(err error) (Reason, error) {
	s.log.Errorf("session_failed", "%v", err)
	s.emit(ErrorEvent{Message: "speech recognition service unavailable"})
	s.state.Store(int32(StateStopped))
	s.emit(TranscriptionStatus{Status: StateStopped})
	s.emit(TranscriptionComplete{Reason: ReasonStopped})

	s.summary.Ended = time.Now()
	s.summary.Reason = ReasonStopped
	s.summary.Err = err
	if s.metrics != nil {
		s.metrics.SessionsFailed.Add(1)
	}
	return ReasonStopped, err
}
