package protocol

import "time"

// Status is the session snapshot broadcast to tray/UI observers.
type Status struct {
	SessionID   string            `json:"session_id,omitempty"`
	State       string            `json:"state"`
	Engine      string            `json:"engine,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	LastPartial string            `json:"last_partial,omitempty"`
	Engines     []EngineAvailable `json:"engines,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// EngineAvailable reports probed availability for one recognition backend.
type EngineAvailable struct {
	ID        string `json:"id"`
	Streaming bool   `json:"streaming"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// Transcript is published for every partial and final recognition result.
type Transcript struct {
	SessionID   string    `json:"session_id"`
	UtteranceID string    `json:"utterance_id"`
	Seq         uint64    `json:"seq"`
	Text        string    `json:"text"`
	Partial     bool      `json:"partial"`
	Confidence  float64   `json:"confidence,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ToggleRequest asks the session controller to start or stop dictation.
// Source identifies who asked (hotkey, cli, tray) for logging only.
type ToggleRequest struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectStatus            = "dicta.status"
	SubjectStatusRequest     = "dicta.status.get"
	SubjectTranscriptPartial = "dicta.transcript.partial"
	SubjectTranscriptFinal   = "dicta.transcript.final"
	SubjectSessionToggle     = "dicta.session.toggle"
)
