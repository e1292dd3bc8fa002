package engine

import "github.com/sweeney/thermostat/internal/appliance"

// ApplianceView is the decision-time view of one appliance.
type ApplianceView struct {
	On  bool
	Due bool
}

// Inputs is everything Decide needs beyond the engine's own state.
type Inputs struct {
	Current float64
	Heater  ApplianceView
	Cooler  ApplianceView
	Vent    ApplianceView
}

// Condition is the temperature comparison that justified an action.
type Condition int

const (
	// Always means the action does not depend on the temperature.
	Always Condition = iota
	// Above means current > desired.
	Above
	// Below means current < desired.
	Below
)

// Holds reports whether the condition is still true.
func (c Condition) Holds(current, desired float64) bool {
	switch c {
	case Above:
		return current > desired
	case Below:
		return current < desired
	}
	return true
}

// Action is one appliance transition.
type Action struct {
	Appliance appliance.Kind
	Target    appliance.State
	When      Condition
	// Verify requests a fresh sensor read confirming When before commit.
	Verify bool
}

// Decision is the list of actions for one tick, in commit order.
type Decision struct {
	Actions []Action
}

// Empty reports whether no action is required.
func (d Decision) Empty() bool { return len(d.Actions) == 0 }

// Decide compares in.Current to the desired temperature and returns the
// appliance transitions for this tick. It does not mutate the engine.
func (e *Engine) Decide(in Inputs) Decision {
	var acts []Action
	coolerDue := !e.gateCool || in.Cooler.Due

	// Appliances left running from a previous demand state.
	if e.demand != Heat && in.Heater.On && in.Heater.Due {
		acts = append(acts, Action{Appliance: appliance.Heater, Target: appliance.Off})
	}
	if e.demand != Cool && in.Cooler.On && coolerDue {
		acts = append(acts, Action{Appliance: appliance.Cooler, Target: appliance.Off})
	}
	if in.Vent.Due {
		switch {
		case e.demand == Vent && !in.Vent.On:
			acts = append(acts, Action{Appliance: appliance.Vent, Target: appliance.On})
		case e.demand != Vent && in.Vent.On:
			acts = append(acts, Action{Appliance: appliance.Vent, Target: appliance.Off})
		}
	}

	switch {
	case in.Current > e.desired:
		switch {
		case e.demand == Heat && in.Heater.On && in.Heater.Due:
			acts = append(acts, Action{Appliance: appliance.Heater, Target: appliance.Off, When: Above, Verify: true})
		case e.demand == Cool && !in.Cooler.On && coolerDue:
			acts = append(acts, Action{Appliance: appliance.Cooler, Target: appliance.On, When: Above, Verify: e.verifyCool})
		}
	case in.Current < e.desired:
		switch {
		case e.demand == Heat && !in.Heater.On && in.Heater.Due:
			acts = append(acts, Action{Appliance: appliance.Heater, Target: appliance.On, When: Below, Verify: true})
		case e.demand == Cool && in.Cooler.On && coolerDue:
			acts = append(acts, Action{Appliance: appliance.Cooler, Target: appliance.Off, When: Below, Verify: e.verifyCool})
		}
	}
	return Decision{Actions: acts}
}
