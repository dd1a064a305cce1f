package dcmeasure

import (
	"context"
	"fmt"
	"time"
)

const (
	dischargeWait = 5 * time.Millisecond
	channelVRange = 4.0
)

// measure runs the measurement branch selected by mode, measurement unit, port and pin
// class. The measured value is stored under the suite name.
func (e *Engine) measure(ctx context.Context, class PinClass, currentRange float64) error {
	cfg := e.cfg

	switch {
	case cfg.Mode == ModeCurrent:
		cmd := DC(e.suite).OnPort(cfg.Port).OnPins(e.pins...).
			VForce(cfg.ForceValue).
			RelayPPMU().
			MeasWait(cfg.SettlingTime).
			IRange(currentRange).
			IMeas()
		return e.execFiltered(ctx, cmd)

	case cfg.AltMeasureUnit:
		cmd := DC(e.suite).OnPort(cfg.Port).OnPins(e.pins...).ViaAltUnit().
			MeasWait(cfg.SettlingTime).
			VMeas()
		return e.exec(ctx, cmd)

	case cfg.Port != "":
		cmd := DC(e.suite).OnPort(cfg.Port).OnPins(e.pins...).
			Clamp(cfg.ClampLow, cfg.ClampHigh).
			IForce(cfg.ForceValue).
			MeasWait(cfg.SettlingTime).
			RelayPPMU().
			VMeas()
		return e.execFiltered(ctx, cmd)

	case class == SupplyBacked:
		return e.measureSupplyBacked(ctx)

	case class == SharedChannel:
		return e.measureSharedChannel(ctx)

	default:
		return fmt.Errorf("%s: pin %q: %w", e.TestName(), cfg.Pin, ErrUnclassifiedPin)
	}
}

// classified reports whether the measurement sequence depends on the pin class.
func classified(cfg MeasurementConfig) bool {
	return cfg.Mode == ModeVoltage && !cfg.AltMeasureUnit && cfg.Port == ""
}

// measureSupplyBacked discharges and disconnects the supply, then measures it through the
// DC instrument.
func (e *Engine) measureSupplyBacked(ctx context.Context) error {
	cfg := e.cfg
	if err := e.discharge(ctx, e.pins...); err != nil {
		return err
	}
	cmd := DC(e.suite).OnPins(e.pins...).
		IForce(cfg.ForceValue).
		MeasWait(cfg.SettlingTime).
		VMeas()
	if err := e.exec(ctx, cmd); err != nil {
		return err
	}
	e.logger.Infof("%s: measured %v through the DC supply", e.TestName(), e.pins)
	return nil
}

// measureSharedChannel measures through the channel's force/measure unit. A channel that
// shares a supply has the supply discharged first and reconnected afterwards.
func (e *Engine) measureSharedChannel(ctx context.Context) error {
	cfg := e.cfg
	supply, paired := e.classifier.pairedSupply(cfg.Pin)
	if paired {
		if err := e.discharge(ctx, supply); err != nil {
			return err
		}
		e.logger.Infof("%s: measuring %s through the channel unit on %s", e.TestName(), supply, cfg.Pin)
	}
	if err := e.exec(ctx, WaitFor(dischargeWait)); err != nil {
		return err
	}

	cmd := DC(e.suite).OnPins(e.pins...).
		Clamp(cfg.ClampLow, cfg.ClampHigh).
		IForce(cfg.ForceValue).
		VRange(channelVRange).
		MeasWait(cfg.SettlingTime).
		RelayPPMU().
		VMeas()
	if err := e.execFiltered(ctx, cmd); err != nil {
		return err
	}

	if paired {
		return e.exec(ctx, DC("").OnPins(supply).Connect())
	}
	return nil
}

func (e *Engine) discharge(ctx context.Context, pins ...string) error {
	if err := e.exec(ctx, DC("").OnPins(pins...).VForce(0)); err != nil {
		return err
	}
	return e.exec(ctx, DC("").OnPins(pins...).Disconnect())
}

func (e *Engine) execFiltered(ctx context.Context, cmd *Command) error {
	if e.hooks.FilterCommand != nil {
		e.hooks.FilterCommand(cmd)
	}
	return e.exec(ctx, cmd)
}
