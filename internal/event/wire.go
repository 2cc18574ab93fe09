package event

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// WireEnvelope is the JSON form of an envelope sent to external consumers
// (NATS, WebSocket, HTTP).
type WireEnvelope struct {
	Sequence       int64     `json:"sequence"`
	Command        string    `json:"command"`
	IdempotencyKey string    `json:"idempotency_key"`
	Caller         uuid.UUID `json:"caller"`
	Timestamp      int64     `json:"timestamp"`
	SourceSequence int64     `json:"source_sequence"`
	Events         []Record  `json:"events"`
	StateHash      string    `json:"state_hash"`
	PrevHash       string    `json:"prev_hash"`
}

// WireEvent is one event of an envelope, published on its own subject.
type WireEvent struct {
	Sequence  int64  `json:"sequence"`
	Index     int    `json:"index"`
	Command   string `json:"command"`
	Timestamp int64  `json:"timestamp"`
	Record
}

// ToWire converts env to its external form.
func ToWire(env *Envelope) (WireEnvelope, error) {
	records, err := Encode(env.Events)
	if err != nil {
		return WireEnvelope{}, err
	}
	return WireEnvelope{
		Sequence:       env.Sequence,
		Command:        env.Command,
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller,
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
		Events:         records,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
	}, nil
}

// Split returns one WireEvent per event record, in emission order.
func (w WireEnvelope) Split() []WireEvent {
	out := make([]WireEvent, len(w.Events))
	for i, r := range w.Events {
		out[i] = WireEvent{
			Sequence:  w.Sequence,
			Index:     i,
			Command:   w.Command,
			Timestamp: w.Timestamp,
			Record:    r,
		}
	}
	return out
}
