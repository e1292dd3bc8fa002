package control

import (
	"errors"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Command
	}{
		{"manual", `{"mode":"MANUAL","desired":72,"hold_minutes":90}`, Command{Kind: SetManual, Desired: 72, Hold: 90 * time.Minute}},
		{"manual lower case", `{"mode":"manual","desired":68.5}`, Command{Kind: SetManual, Desired: 68.5}},
		{"longest hold", `{"mode":"MANUAL","desired":70,"hold_minutes":10080}`, Command{Kind: SetManual, Desired: 70, Hold: MaxHold}},
		{"auto", `{"mode":"AUTO"}`, Command{Kind: ResumeAuto}},
		{"auto ignores desired", `{"mode":"auto","desired":80}`, Command{Kind: ResumeAuto}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseCommand: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseCommandRejects(t *testing.T) {
	bad := []string{
		`not json`,
		`{}`,
		`{"mode":"HOLIDAY"}`,
		`{"mode":"MANUAL"}`,
		`{"mode":"MANUAL","desired":70,"hold_minutes":-5}`,
		`{"mode":"MANUAL","desired":70,"hold_minutes":10081}`,
		`{"mode":"MANUAL","desired":70,"hold_minutes":9223372036854775807}`,
	}
	for _, p := range bad {
		if _, err := ParseCommand([]byte(p)); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("%s: expected ErrInvalidCommand, got %v", p, err)
		}
	}
}
