package occupancy

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"time"
)

// PingProber shells out to the system ping binary.
type PingProber struct {
	// Command is the ping binary; defaults to "ping".
	Command string
	// Timeout bounds each probe; defaults to 2s.
	Timeout time.Duration
}

// Reachable sends a single echo request. A non-zero exit means unreachable;
// failure to run the binary is an error.
func (p PingProber) Reachable(ctx context.Context, host string) (bool, error) {
	cmd := p.Command
	if cmd == "" {
		cmd = "ping"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := int(timeout / time.Second)
	if wait < 1 {
		wait = 1
	}
	err := exec.CommandContext(ctx, cmd, "-c", "1", "-W", strconv.Itoa(wait), host).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}
