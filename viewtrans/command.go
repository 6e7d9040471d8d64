package viewtrans

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire actions of the lifecycle commands.
const (
	ActionStart = "start_translation"
	ActionStop  = "stop_translation"
)

// ServiceCommand is the connectivity service that accepts commands.
const ServiceCommand = "viewtrans_command"

var (
	// ErrUnknownAction is returned for an action that names no command.
	ErrUnknownAction = errors.New("viewtrans: unknown action")
	// ErrNoSession is returned for a tab without a session.
	ErrNoSession = errors.New("viewtrans: no session for tab")
	// ErrSessionExists is returned when a tab already has a session.
	ErrSessionExists = errors.New("viewtrans: tab already has a session")
)

// Command is a lifecycle command. The set is closed: StartTranslation and
// StopTranslation.
type Command interface {
	Action() string
	isCommand()
}

// StartTranslation activates the session of a tab.
type StartTranslation struct{}

// StopTranslation deactivates the session of a tab.
type StopTranslation struct{}

func (StartTranslation) Action() string { return ActionStart }
func (StopTranslation) Action() string  { return ActionStop }

func (StartTranslation) isCommand() {}
func (StopTranslation) isCommand()  {}

// ParseCommand maps a wire action to its Command.
func ParseCommand(action string) (Command, error) {
	switch action {
	case ActionStart:
		return StartTranslation{}, nil
	case ActionStop:
		return StopTranslation{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// Envelope is the wire form of a command addressed to a tab.
type Envelope struct {
	Action string `json:"action"`
	TabID  string `json:"tab_id"`
}

// EncodeCommand returns the JSON envelope of cmd for tabID.
func EncodeCommand(tabID string, cmd Command) ([]byte, error) {
	return json.Marshal(Envelope{Action: cmd.Action(), TabID: tabID})
}

// DecodeCommand parses a JSON envelope.
func DecodeCommand(data []byte) (string, Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("viewtrans: decode command: %w", err)
	}
	if env.TabID == "" {
		return "", nil, errors.New("viewtrans: command without tab_id")
	}
	cmd, err := ParseCommand(env.Action)
	if err != nil {
		return "", nil, err
	}
	return env.TabID, cmd, nil
}
