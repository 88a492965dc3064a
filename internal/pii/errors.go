package pii

import "errors"

// Error taxonomy for the detection and redaction engine. Callers match with
// errors.Is; producers wrap with fmt.Errorf("...: %w", Err...).
var (
	// ErrDetectionUnavailable means the semantic recognizer could not be
	// reached or answered garbage. Recoverable: pattern results still stand.
	ErrDetectionUnavailable = errors.New("semantic detection unavailable")

	// ErrInvalidEntity is an entity invariant violation (empty or
	// out-of-range span). Fatal to the call that produced it.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrInvalidToken is malformed OCR geometry. Fatal to one page only.
	ErrInvalidToken = errors.New("invalid OCR token")

	// ErrUnsupportedInput is an upload the engine cannot decode.
	ErrUnsupportedInput = errors.New("unsupported input")

	// ErrTranscriptionService is a failure of the speech-to-text service.
	// Fatal to the stream session that saw it.
	ErrTranscriptionService = errors.New("transcription service error")
)
