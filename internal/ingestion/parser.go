package ingestion

import (
	"PerpClearing/internal/command"
	"fmt"
	"strings"
	"time"
)

// CommandSubjectPrefix is the inbound subject root. A command named N is
// published on CommandSubjectPrefix + "." + N, optionally followed by
// further tokens (a partition or a source name) that are ignored.
const CommandSubjectPrefix = "perp.clearing.commands"

// EventSubjectPrefix is the outbound subject root; each event goes to
// EventSubjectPrefix + "." + its type.
const EventSubjectPrefix = "perp.clearing.events"

// RawCommand is an inbound message before it is decoded into a typed
// command.
type RawCommand struct {
	Subject   string
	Data      []byte
	MsgID     string // transport idempotency key, used when the body has none
	Timestamp time.Time
	AckFunc   func() // processed or permanently rejected
	NakFunc   func() // redeliver later
	TermFunc  func() // poison message, never redeliver
}

// CommandSubject returns the subject a command is published on.
func CommandSubject(t command.Type) string {
	return CommandSubjectPrefix + "." + t.String()
}

// EventSubject returns the subject an event type is published on.
func EventSubject(eventType string) string {
	return EventSubjectPrefix + "." + eventType
}

// CommandName extracts the command name from an inbound subject.
func CommandName(subject string) (string, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix+".")
	if !ok || rest == "" {
		return "", fmt.Errorf("subject %q is not under %s", subject, CommandSubjectPrefix)
	}
	name, _, _ := strings.Cut(rest, ".")
	return name, nil
}

// ParseRawCommand converts an inbound message into a typed command. The
// command type comes from the subject, the body is the command JSON.
func ParseRawCommand(raw RawCommand) (command.Command, error) {
	name, err := CommandName(raw.Subject)
	if err != nil {
		return nil, err
	}
	return command.DecodeWithKey(name, raw.Data, raw.MsgID)
}
