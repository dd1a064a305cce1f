package dcmeasure

import (
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	ModeVoltage Mode = "VOLTAGE"
	ModeCurrent Mode = "CURRENT"
)

// ParseMode accepts the long names and the tester's short forms (VOLT, CURR).
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "VOLTAGE", "VOLT":
		return ModeVoltage, nil
	case "CURRENT", "CURR":
		return ModeCurrent, nil
	default:
		return "", fmt.Errorf("unknown measurement mode %q", s)
	}
}

// MeasurementConfig is the setup of one DC measurement test. It is not modified once
// execution has started.
type MeasurementConfig struct {
	ApplyShutdown   bool
	ShutdownPattern string
	CheckShutdown   bool
	Mode            Mode
	SettlingTime    time.Duration
	Pin             string
	Port            string
	ForceValue      float64
	// CurrentRange of 0 means unresolved; it is then derived from the limits.
	CurrentRange   float64
	ProcessResults bool
	AltMeasureUnit bool
	ClampLow       float64
	ClampHigh      float64

	// TestName is the datalog name. Empty means the suite name.
	TestName  string
	ForcePass bool
}

func (c MeasurementConfig) Validate() error {
	if c.Pin == "" {
		return fmt.Errorf("pin is required")
	}
	if c.Mode != ModeVoltage && c.Mode != ModeCurrent {
		return fmt.Errorf("unknown measurement mode %q", c.Mode)
	}
	if c.SettlingTime < 0 {
		return fmt.Errorf("settling time must not be negative, got %v", c.SettlingTime)
	}
	if c.CurrentRange < 0 {
		return fmt.Errorf("current range must not be negative, got %v", c.CurrentRange)
	}
	if c.ClampLow > c.ClampHigh {
		return fmt.Errorf("clamp low %v is above clamp high %v", c.ClampLow, c.ClampHigh)
	}
	return nil
}

// Configurable is implemented by test methods that expose their setup.
type Configurable interface {
	MeasurementConfig() MeasurementConfig
}

// Builder accumulates a MeasurementConfig. Setters only assign; Build validates.
type Builder struct {
	cfg MeasurementConfig
}

func NewBuilder() *Builder {
	return &Builder{cfg: MeasurementConfig{
		ApplyShutdown:  true,
		CheckShutdown:  true,
		Mode:           ModeVoltage,
		ProcessResults: true,
		ClampLow:       0,
		ClampHigh:      5,
	}}
}

func (b *Builder) ApplyShutdown(v bool) *Builder { b.cfg.ApplyShutdown = v; return b }
func (b *Builder) ShutdownPattern(v string) *Builder { b.cfg.ShutdownPattern = v; return b }
func (b *Builder) CheckShutdown(v bool) *Builder { b.cfg.CheckShutdown = v; return b }
func (b *Builder) Measure(v Mode) *Builder { b.cfg.Mode = v; return b }
func (b *Builder) SettlingTime(v time.Duration) *Builder { b.cfg.SettlingTime = v; return b }
func (b *Builder) Pin(v string) *Builder { b.cfg.Pin = v; return b }
func (b *Builder) Port(v string) *Builder { b.cfg.Port = v; return b }
func (b *Builder) ForceValue(v float64) *Builder { b.cfg.ForceValue = v; return b }
func (b *Builder) CurrentRange(v float64) *Builder { b.cfg.CurrentRange = v; return b }
func (b *Builder) ProcessResults(v bool) *Builder { b.cfg.ProcessResults = v; return b }
func (b *Builder) AltMeasureUnit(v bool) *Builder { b.cfg.AltMeasureUnit = v; return b }
func (b *Builder) TestName(v string) *Builder { b.cfg.TestName = v; return b }
func (b *Builder) ForcePass(v bool) *Builder { b.cfg.ForcePass = v; return b }

func (b *Builder) Clamp(lo, hi float64) *Builder {
	b.cfg.ClampLow, b.cfg.ClampHigh = lo, hi
	return b
}

// Build returns a copy of the accumulated configuration, validated.
func (b *Builder) Build() (MeasurementConfig, error) {
	cfg := b.cfg
	if err := cfg.Validate(); err != nil {
		return MeasurementConfig{}, err
	}
	return cfg, nil
}
