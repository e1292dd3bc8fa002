package sensor

import (
	"errors"
	"fmt"
)

// HouseGroup is the group consulted by the control loop.
const HouseGroup = "HOUSE"

// Registry errors.
var (
	ErrDuplicateSensor = errors.New("sensor already registered")
	ErrUnknownSensor   = errors.New("unknown sensor")
	ErrDuplicateGroup  = errors.New("group already exists")
	ErrUnknownGroup    = errors.New("unknown group")
	ErrAlreadyMember   = errors.New("sensor already in group")
)

// Group is a named, ordered set of sensor references. Groups do not own
// their members.
type Group struct {
	name    string
	members []*TemperatureSensor
}

// Name returns the normalized group name.
func (g *Group) Name() string { return g.name }

// Members returns the sensors in insertion order.
func (g *Group) Members() []*TemperatureSensor {
	out := make([]*TemperatureSensor, len(g.members))
	copy(out, g.members)
	return out
}

// Average returns the mean of members that have a reading. Members without
// a reading are excluded rather than counted as zero.
func (g *Group) Average(scale Scale) (float64, bool) {
	var sum float64
	n := 0
	for _, s := range g.members {
		v, ok := s.Reading(scale)
		if !ok {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Registry owns every sensor and group.
type Registry struct {
	sensors []*TemperatureSensor
	byName  map[string]*TemperatureSensor
	groups  map[string]*Group
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*TemperatureSensor),
		groups: make(map[string]*Group),
	}
}

// AddSensor validates and registers a new sensor.
func (r *Registry) AddSensor(name, kind string, channel int) (*TemperatureSensor, error) {
	s, err := NewTemperatureSensor(name, kind, channel)
	if err != nil {
		return nil, err
	}
	if _, ok := r.byName[s.name]; ok {
		return nil, fmt.Errorf("%s: %w", s.name, ErrDuplicateSensor)
	}
	r.sensors = append(r.sensors, s)
	r.byName[s.name] = s
	return s, nil
}

// CreateGroup adds an empty group.
func (r *Registry) CreateGroup(name string) (*Group, error) {
	n := NormalizeName(name)
	if n == "" {
		return nil, errors.New("group name is empty")
	}
	if _, ok := r.groups[n]; ok {
		return nil, fmt.Errorf("%s: %w", n, ErrDuplicateGroup)
	}
	g := &Group{name: n}
	r.groups[n] = g
	r.order = append(r.order, n)
	return g, nil
}

// AddToGroup appends a registered sensor to an existing group.
func (r *Registry) AddToGroup(group, sensorName string) error {
	g, ok := r.groups[NormalizeName(group)]
	if !ok {
		return fmt.Errorf("%s: %w", group, ErrUnknownGroup)
	}
	s, ok := r.byName[NormalizeName(sensorName)]
	if !ok {
		return fmt.Errorf("%s: %w", sensorName, ErrUnknownSensor)
	}
	for _, m := range g.members {
		if m == s {
			return fmt.Errorf("%s in %s: %w", s.name, g.name, ErrAlreadyMember)
		}
	}
	g.members = append(g.members, s)
	return nil
}

// Sensor looks up a sensor by name, case-insensitively.
func (r *Registry) Sensor(name string) (*TemperatureSensor, bool) {
	s, ok := r.byName[NormalizeName(name)]
	return s, ok
}

// Group looks up a group by name, case-insensitively.
func (r *Registry) Group(name string) (*Group, bool) {
	g, ok := r.groups[NormalizeName(name)]
	return g, ok
}

// Sensors returns every sensor in registration order.
func (r *Registry) Sensors() []*TemperatureSensor {
	out := make([]*TemperatureSensor, len(r.sensors))
	copy(out, r.sensors)
	return out
}

// Groups returns every group in creation order.
func (r *Registry) Groups() []*Group {
	out := make([]*Group, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.groups[n])
	}
	return out
}

// Temperature resolves name against sensors first, then groups.
func (r *Registry) Temperature(name string, scale Scale) (float64, bool) {
	n := NormalizeName(name)
	if s, ok := r.byName[n]; ok {
		return s.Reading(scale)
	}
	if g, ok := r.groups[n]; ok {
		return g.Average(scale)
	}
	return 0, false
}
