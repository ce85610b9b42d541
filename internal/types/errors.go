package types

import "errors"

// Stable error kinds surfaced by the engine. Callers classify with errors.Is.
var (
	// ErrAudioDecode marks an unreadable, unsupported, or truncated source.
	ErrAudioDecode = errors.New("audio decode failed")
	// ErrInsufficient marks inputs with too few beats or frames for a
	// meaningful score. Non-fatal: scoring returns a degraded result.
	ErrInsufficient = errors.New("insufficient data")
	// ErrAlignment marks inputs with zero paired frames.
	ErrAlignment = errors.New("alignment failure")
	// ErrCancelled marks a caller-requested stop.
	ErrCancelled = errors.New("processing cancelled")
	// ErrInternal marks an engine bug (NaN leak, impossible state).
	ErrInternal = errors.New("internal error")
)
