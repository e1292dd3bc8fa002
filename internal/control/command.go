package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/thermostat/internal/engine"
)

// CommandKind selects what a Command does.
type CommandKind int

const (
	// SetManual holds a desired temperature until the hold expires.
	SetManual CommandKind = iota + 1
	// ResumeAuto ends a manual hold.
	ResumeAuto
)

// Command is an operator request applied by the loop goroutine.
type Command struct {
	Kind    CommandKind
	Desired float64
	Hold    time.Duration
}

// MaxHold bounds the hold a manual command may request.
const MaxHold = 7 * 24 * time.Hour

// ErrInvalidCommand is returned for requests that cannot be parsed.
var ErrInvalidCommand = errors.New("invalid command")

type commandJSON struct {
	Mode        string   `json:"mode"`
	Desired     *float64 `json:"desired"`
	HoldMinutes int      `json:"hold_minutes"`
}

// ParseCommand decodes a JSON command such as
// {"mode":"MANUAL","desired":72,"hold_minutes":120} or {"mode":"AUTO"}.
// The desired temperature is in the engine's configured scale.
func ParseCommand(payload []byte) (Command, error) {
	var raw commandJSON
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	mode, err := engine.ParseMode(raw.Mode)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if mode == engine.Auto {
		return Command{Kind: ResumeAuto}, nil
	}
	if raw.Desired == nil {
		return Command{}, fmt.Errorf("%w: manual mode requires desired", ErrInvalidCommand)
	}
	if raw.HoldMinutes < 0 {
		return Command{}, fmt.Errorf("%w: negative hold", ErrInvalidCommand)
	}
	if raw.HoldMinutes > int(MaxHold/time.Minute) {
		return Command{}, fmt.Errorf("%w: hold of %d minutes exceeds %s", ErrInvalidCommand, raw.HoldMinutes, MaxHold)
	}
	return Command{
		Kind:    SetManual,
		Desired: *raw.Desired,
		Hold:    time.Duration(raw.HoldMinutes) * time.Minute,
	}, nil
}
