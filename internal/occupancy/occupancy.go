// Package occupancy decides whether anyone is home by probing the network
// devices of each configured person.
package occupancy

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/timer"
)

// DefaultInterval is how often the Detector probes.
const DefaultInterval = 15 * time.Minute

// Prober checks whether a host answers on the network.
type Prober interface {
	Reachable(ctx context.Context, host string) (bool, error)
}

// Detector tracks occupancy on its own Timer.
type Detector struct {
	timer    *timer.Timer
	people   map[string][]string
	domain   string
	prober   Prober
	present  []string
	occupied bool
	log      *logger.Logger
}

// NewDetector creates a Detector that is due immediately. people maps a
// person to the hostnames of their devices; domain is appended to bare
// hostnames.
func NewDetector(people map[string][]string, domain string, prober Prober, interval time.Duration, log *logger.Logger) *Detector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Detector{
		timer:  timer.New(interval),
		people: people,
		domain: strings.TrimPrefix(domain, "."),
		prober: prober,
		log:    log,
	}
}

// Timer exposes the probe timer.
func (d *Detector) Timer() *timer.Timer { return d.timer }

// IsDue reports whether a probe is due.
func (d *Detector) IsDue(now time.Time) bool { return d.timer.IsDue(now) }

// Occupied reports whether anyone was home at the last probe.
func (d *Detector) Occupied() bool { return d.occupied }

// Present returns who was home at the last probe, sorted.
func (d *Detector) Present() []string {
	out := make([]string, len(d.present))
	copy(out, d.present)
	return out
}

func (d *Detector) host(name string) string {
	if d.domain == "" || strings.Contains(name, ".") {
		return name
	}
	return name + "." + d.domain
}

// Refresh probes every device if due and reports whether it probed. A
// person is home when any of their devices answers.
func (d *Detector) Refresh(ctx context.Context, now time.Time) bool {
	if !d.timer.IsDue(now) {
		return false
	}
	names := make([]string, 0, len(d.people))
	for name := range d.people {
		names = append(names, name)
	}
	sort.Strings(names)

	var present []string
	for _, person := range names {
		for _, device := range d.people[person] {
			h := d.host(device)
			ok, err := d.prober.Reachable(ctx, h)
			if err != nil {
				d.log.Errorw("probe failed", "person", person, "host", h, "error", err)
				continue
			}
			if ok {
				present = append(present, person)
				break
			}
			d.log.Debugw("device not reachable", "person", person, "host", h)
		}
	}
	d.timer.MarkTriggered(now)

	occupied := len(present) > 0
	if occupied != d.occupied {
		d.log.Infow("occupancy changed", "occupied", occupied, "present", present)
	}
	d.present, d.occupied = present, occupied
	return true
}
