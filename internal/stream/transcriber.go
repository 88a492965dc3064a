package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrFeedClosed is returned by Listen once the feed has been closed.
	ErrFeedClosed = errors.New("transcription feed closed")
	// ErrFeedFull is returned by Offer when the buffer has no free slot.
	ErrFeedFull = errors.New("transcription feed full")
)

// Feed is a Transcriber whose utterances are pushed in by another goroutine,
// typically a connection reader that receives text already transcribed on
// the client. Push calls block until the session takes the outcome or the
// feed is closed; Offer never blocks.
type Feed struct {
	ch        chan Outcome
	done      chan struct{}
	closeOnce sync.Once
}

// NewFeed returns a feed that buffers up to buffer pending outcomes.
func NewFeed(buffer int) *Feed {
	if buffer < 0 {
		buffer = 0
	}
	return &Feed{ch: make(chan Outcome, buffer), done: make(chan struct{})}
}

// Calibrate is a no-op: pushed text needs no noise adjustment.
func (f *Feed) Calibrate(ctx context.Context) error { return ctx.Err() }

// Push delivers one transcribed utterance. It reports false if the feed is
// closed.
func (f *Feed) Push(text string) bool { return f.send(Outcome{Kind: OutcomeText, Text: text}) }

// PushUnclear reports audio that could not be decoded.
func (f *Feed) PushUnclear() bool { return f.send(Outcome{Kind: OutcomeUnclear}) }

// Fail reports a transcription service failure; the session will end.
func (f *Feed) Fail(err error) bool { return f.send(Outcome{Kind: OutcomeServiceError, Err: err}) }

// Offer queues o without waiting. It returns ErrFeedFull when the buffer is
// full and ErrFeedClosed after Close.
func (f *Feed) Offer(o Outcome) error {
	select {
	case <-f.done:
		return ErrFeedClosed
	default:
	}
	select {
	case f.ch <- o:
		return nil
	default:
		return ErrFeedFull
	}
}

func (f *Feed) send(o Outcome) bool {
	select {
	case <-f.done:
		return false
	default:
	}
	select {
	case f.ch <- o:
		return true
	case <-f.done:
		return false
	}
}

// Close ends the feed. Pending outcomes are still delivered; after that
// Listen reports a service error wrapping ErrFeedClosed. Safe to call twice.
func (f *Feed) Close() { f.closeOnce.Do(func() { close(f.done) }) }

// Listen waits up to timeout for the next outcome.
func (f *Feed) Listen(ctx context.Context, timeout time.Duration) Outcome {
	select {
	case o := <-f.ch:
		return o
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case o := <-f.ch:
		return o
	case <-f.done:
		select {
		case o := <-f.ch:
			return o
		default:
		}
		return Outcome{Kind: OutcomeServiceError, Err: ErrFeedClosed}
	case <-ctx.Done():
		return Outcome{Kind: OutcomeTimeout}
	case <-timer.C:
		return Outcome{Kind: OutcomeTimeout}
	}
}
