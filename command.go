package dcmeasure

import (
	"fmt"
	"strings"
	"time"
)

type CommandKind int

const (
	KindFunctional CommandKind = iota
	KindDC
	KindWait
)

func (k CommandKind) String() string {
	switch k {
	case KindFunctional:
		return "functional"
	case KindDC:
		return "dc"
	case KindWait:
		return "wait"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type ForceMode int

const (
	ForceNone ForceMode = iota
	ForceVoltage
	ForceCurrent
)

type MeasureMode int

const (
	MeasureNone MeasureMode = iota
	MeasureVoltage
	MeasureCurrent
)

// Route selects the instrument path used for a DC command.
type Route int

const (
	RouteDefault Route = iota
	// RouteAltUnit measures through the alternate (BADC) measurement unit.
	RouteAltUnit
)

// Relay selects the relay state around a measurement.
type Relay int

const (
	RelayUnchanged Relay = iota
	// RelayPPMU closes the PPMU relay and opens AC/DC while measuring, then returns the
	// pin to the AC path.
	RelayPPMU
)

type Connection int

const (
	ConnectionUnchanged Connection = iota
	Connect
	Disconnect
)

// Command is one instrument operation. Commands are assembled with the chained
// helpers below and handed to Hardware.Execute.
type Command struct {
	Kind CommandKind
	// ID keys the results of the command. Empty for commands whose results are not read.
	ID    string
	Port  string
	Label string
	Pins  []string
	Route Route

	Force      ForceMode
	ForceValue float64
	Measure    MeasureMode

	Clamped   bool
	ClampLow  float64
	ClampHigh float64

	VoltageRange float64
	CurrentRange float64

	Relay      Relay
	Settle     time.Duration
	Connection Connection
	Wait       time.Duration
}

// Functional returns a pattern burst under label whose pass/fail is stored under id.
func Functional(id, label string) *Command {
	return &Command{Kind: KindFunctional, ID: id, Label: label}
}

// DC returns an empty force/measure command.
func DC(id string) *Command {
	return &Command{Kind: KindDC, ID: id}
}

// WaitFor returns a plain delay.
func WaitFor(d time.Duration) *Command {
	return &Command{Kind: KindWait, Wait: d}
}

func (c *Command) OnPort(port string) *Command {
	c.Port = port
	return c
}

func (c *Command) OnPins(pins ...string) *Command {
	c.Pins = append(c.Pins[:0:0], pins...)
	return c
}

func (c *Command) ViaAltUnit() *Command {
	c.Route = RouteAltUnit
	return c
}

func (c *Command) VForce(v float64) *Command {
	c.Force, c.ForceValue = ForceVoltage, v
	return c
}

func (c *Command) IForce(v float64) *Command {
	c.Force, c.ForceValue = ForceCurrent, v
	return c
}

func (c *Command) VMeas() *Command {
	c.Measure = MeasureVoltage
	return c
}

func (c *Command) IMeas() *Command {
	c.Measure = MeasureCurrent
	return c
}

func (c *Command) Clamp(lo, hi float64) *Command {
	c.Clamped, c.ClampLow, c.ClampHigh = true, lo, hi
	return c
}

func (c *Command) VRange(v float64) *Command {
	c.VoltageRange = v
	return c
}

func (c *Command) IRange(v float64) *Command {
	c.CurrentRange = v
	return c
}

func (c *Command) RelayPPMU() *Command {
	c.Relay = RelayPPMU
	return c
}

func (c *Command) MeasWait(d time.Duration) *Command {
	c.Settle = d
	return c
}

func (c *Command) Connect() *Command {
	c.Connection = Connect
	return c
}

func (c *Command) Disconnect() *Command {
	c.Connection = Disconnect
	return c
}

func (c *Command) String() string {
	var b strings.Builder
	b.WriteString(c.Kind.String())
	if c.ID != "" {
		fmt.Fprintf(&b, " id=%s", c.ID)
	}
	if c.Port != "" {
		fmt.Fprintf(&b, " port=%s", c.Port)
	}
	if c.Label != "" {
		fmt.Fprintf(&b, " label=%s", c.Label)
	}
	if len(c.Pins) > 0 {
		fmt.Fprintf(&b, " pins=%s", strings.Join(c.Pins, ","))
	}
	if c.Kind == KindWait {
		fmt.Fprintf(&b, " %v", c.Wait)
	}
	return b.String()
}
