package stream

import (
	"time"

	"pii-redactor/internal/pii"
)

// Event type names, as sent to clients.
const (
	EventTranscriptionUpdate   = "transcription_update"
	EventPIIAlert              = "pii_alert"
	EventTranscriptionStatus   = "transcription_status"
	EventTranscriptionComplete = "transcription_complete"
	EventError                 = "error"
)

// Event is one notification produced by a Session.
type Event interface {
	EventType() string
}

// Emitter receives session events in order. It is called from the goroutine
// running Session.Run and must not block for long.
type Emitter func(Event)

// AlertSource says which check raised a PIIAlert.
type AlertSource string

const (
	// SourceContext: a precursor phrase was heard; the value may follow.
	SourceContext AlertSource = "context"
	// SourceContent: the value itself was detected in the chunk.
	SourceContent AlertSource = "content"
)

// Reason explains why a session ended.
type Reason string

const (
	ReasonTimeout Reason = "timeout"
	ReasonStopped Reason = "stopped"
)

// TranscriptionUpdate carries one transcribed chunk.
type TranscriptionUpdate struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (TranscriptionUpdate) EventType() string { return EventTranscriptionUpdate }

// PIIAlert reports a type, never the matched value.
type PIIAlert struct {
	Type      pii.Type    `json:"type"`
	Source    AlertSource `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
}

func (PIIAlert) EventType() string { return EventPIIAlert }

// TranscriptionStatus announces a state change.
type TranscriptionStatus struct {
	Status State `json:"status"`
}

func (TranscriptionStatus) EventType() string { return EventTranscriptionStatus }

// TranscriptionComplete is the last event of a session.
type TranscriptionComplete struct {
	Reason Reason `json:"reason"`
}

func (TranscriptionComplete) EventType() string { return EventTranscriptionComplete }

// ErrorEvent reports a failure. Whether the session goes on depends on the
// failure: semantic outages are survivable, transcription outages are not.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventType() string { return EventError }
