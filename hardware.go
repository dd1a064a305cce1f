package dcmeasure

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	genericcomponent "go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/components/powersensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

// SiteConfig binds one test site to the instruments wired to it.
type SiteConfig struct {
	Index       int    `json:"index"`
	Board       string `json:"board"`
	PowerSensor string `json:"power_sensor"`
}

// resultTable holds command results keyed by command ID and site.
type resultTable struct {
	mu       sync.Mutex
	passFail map[string]map[int]bool
	values   map[string]map[int]float64
}

func newResultTable() *resultTable {
	return &resultTable{
		passFail: make(map[string]map[int]bool),
		values:   make(map[string]map[int]float64),
	}
}

func (t *resultTable) setPassFail(id string, site int, passed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.passFail[id] == nil {
		t.passFail[id] = make(map[int]bool)
	}
	t.passFail[id][site] = passed
}

func (t *resultTable) setValue(id string, site int, v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.values[id] == nil {
		t.values[id] = make(map[int]float64)
	}
	t.values[id][site] = v
}

func (t *resultTable) getPassFail(id string, site int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.passFail[id][site]
}

func (t *resultTable) getValue(id string, site int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values[id][site]
}

// simulatedHardware stands in for the instrument when running offline: every burst
// passes and no scalar is captured.
type simulatedHardware struct {
	mu       sync.Mutex
	executed int
}

func newSimulatedHardware() *simulatedHardware {
	return &simulatedHardware{}
}

func (h *simulatedHardware) Execute(ctx context.Context, cmd *Command) error {
	h.mu.Lock()
	h.executed++
	h.mu.Unlock()
	if cmd.Kind == KindWait {
		return sleepContext(ctx, cmd.Wait)
	}
	return nil
}

func (h *simulatedHardware) PassFail(string, int) bool { return true }

func (h *simulatedHardware) Value(string, int) float64 { return 0 }

func (h *simulatedHardware) Executed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.executed
}

type siteInstruments struct {
	board board.Board
	meter powersensor.PowerSensor
}

// boardHardware drives each site through a board (relay GPIOs and force DACs) and a
// power sensor (voltage and current readback). Pattern bursts go to a generic component
// that answers the "burst" command with per-site pass/fail.
type boardHardware struct {
	logger   logging.Logger
	patterns resource.Resource
	sites    map[int]siteInstruments
	order    []int
	results  *resultTable
}

func newBoardHardware(deps resource.Dependencies, patternRunner string, sites []SiteConfig, logger logging.Logger) (*boardHardware, error) {
	patterns, ok := deps[resource.NewName(genericcomponent.API, patternRunner)]
	if !ok {
		return nil, fmt.Errorf("pattern runner %q not found in dependencies", patternRunner)
	}

	h := &boardHardware{
		logger:   logger,
		patterns: patterns,
		sites:    make(map[int]siteInstruments, len(sites)),
		results:  newResultTable(),
	}
	for _, s := range sites {
		b, err := board.FromDependencies(deps, s.Board)
		if err != nil {
			return nil, fmt.Errorf("getting board for site %d: %w", s.Index, err)
		}
		meter, err := powersensor.FromDependencies(deps, s.PowerSensor)
		if err != nil {
			return nil, fmt.Errorf("getting power sensor for site %d: %w", s.Index, err)
		}
		h.sites[s.Index] = siteInstruments{board: b, meter: meter}
		h.order = append(h.order, s.Index)
	}
	slices.Sort(h.order)
	return h, nil
}

func (h *boardHardware) PassFail(id string, site int) bool {
	return h.results.getPassFail(id, site)
}

func (h *boardHardware) Value(id string, site int) float64 {
	return h.results.getValue(id, site)
}

func (h *boardHardware) Execute(ctx context.Context, cmd *Command) error {
	switch cmd.Kind {
	case KindWait:
		return sleepContext(ctx, cmd.Wait)
	case KindFunctional:
		return h.burst(ctx, cmd)
	case KindDC:
		return h.dc(ctx, cmd)
	default:
		return fmt.Errorf("unsupported command %v", cmd.Kind)
	}
}

func (h *boardHardware) burst(ctx context.Context, cmd *Command) error {
	resp, err := h.patterns.DoCommand(ctx, map[string]interface{}{
		"command": "burst",
		"id":      cmd.ID,
		"label":   cmd.Label,
		"port":    cmd.Port,
	})
	if err != nil {
		for _, site := range h.order {
			h.results.setPassFail(cmd.ID, site, false)
		}
		return fmt.Errorf("running burst %q: %w", cmd.Label, err)
	}
	for site, passed := range parseBurst(resp, h.order) {
		h.results.setPassFail(cmd.ID, site, passed)
	}
	return nil
}

// parseBurst reads either {"sites": {"1": true, ...}} or {"passed": bool} for all sites.
// A site the reply leaves out fails.
func parseBurst(resp map[string]interface{}, order []int) map[int]bool {
	out := make(map[int]bool, len(order))
	perSite, hasSites := resp["sites"].(map[string]interface{})
	all, _ := resp["passed"].(bool)
	for _, site := range order {
		if !hasSites {
			out[site] = all
			continue
		}
		passed, _ := perSite[strconv.Itoa(site)].(bool)
		out[site] = passed
	}
	return out
}

// dc applies the command on every site, settles once, then reads back.
func (h *boardHardware) dc(ctx context.Context, cmd *Command) error {
	failed := make(map[int]bool, len(h.order))
	var errs error

	for _, site := range h.order {
		if err := h.prepare(ctx, h.sites[site], cmd); err != nil {
			failed[site] = true
			errs = multierr.Append(errs, fmt.Errorf("site %d: %w", site, err))
		}
	}

	if cmd.Settle > 0 {
		if err := sleepContext(ctx, cmd.Settle); err != nil {
			return err
		}
	}

	if cmd.Measure != MeasureNone {
		for _, site := range h.order {
			v, err := h.read(ctx, h.sites[site], cmd)
			if err != nil {
				failed[site] = true
				errs = multierr.Append(errs, fmt.Errorf("site %d: %w", site, err))
			}
			if failed[site] {
				// a failed site never keeps the reading of an earlier pass
				v = math.NaN()
			}
			h.results.setValue(cmd.ID, site, v)
		}
	}

	if cmd.Relay == RelayPPMU {
		for _, site := range h.order {
			if err := h.setRelays(ctx, h.sites[site], cmd.Pins, false); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("site %d: %w", site, err))
			}
		}
	}

	if cmd.ID != "" {
		for _, site := range h.order {
			h.results.setPassFail(cmd.ID, site, !failed[site])
		}
	}
	return errs
}

func (h *boardHardware) prepare(ctx context.Context, inst siteInstruments, cmd *Command) error {
	for _, pin := range cmd.Pins {
		if cmd.Connection != ConnectionUnchanged {
			gpio, err := inst.board.GPIOPinByName(pin)
			if err != nil {
				return fmt.Errorf("getting connect relay for %s: %w", pin, err)
			}
			if err := gpio.Set(ctx, cmd.Connection == Connect, nil); err != nil {
				return fmt.Errorf("switching %s: %w", pin, err)
			}
		}
		if cmd.Force != ForceNone {
			dac, err := inst.board.AnalogByName(pin)
			if err != nil {
				return fmt.Errorf("getting force output for %s: %w", pin, err)
			}
			if err := dac.Write(ctx, milliUnits(cmd.ForceValue), commandExtra(cmd)); err != nil {
				return fmt.Errorf("forcing %s: %w", pin, err)
			}
		}
	}
	if cmd.Relay == RelayPPMU {
		return h.setRelays(ctx, inst, cmd.Pins, true)
	}
	return nil
}

// setRelays closes (onPPMU) or opens the PPMU relay of each pin. An open PPMU relay
// returns the pin to the AC path.
func (h *boardHardware) setRelays(ctx context.Context, inst siteInstruments, pins []string, onPPMU bool) error {
	for _, pin := range pins {
		gpio, err := inst.board.GPIOPinByName(pin + "_ppmu")
		if err != nil {
			return fmt.Errorf("getting PPMU relay for %s: %w", pin, err)
		}
		if err := gpio.Set(ctx, onPPMU, nil); err != nil {
			return fmt.Errorf("switching PPMU relay for %s: %w", pin, err)
		}
	}
	return nil
}

func (h *boardHardware) read(ctx context.Context, inst siteInstruments, cmd *Command) (float64, error) {
	extra := commandExtra(cmd)
	switch cmd.Measure {
	case MeasureCurrent:
		v, _, err := inst.meter.Current(ctx, extra)
		return v, err
	default:
		v, _, err := inst.meter.Voltage(ctx, extra)
		return v, err
	}
}

// commandExtra passes the instrument settings of cmd through the extra parameters.
func commandExtra(cmd *Command) map[string]interface{} {
	extra := map[string]interface{}{
		"pins": cmd.Pins,
	}
	if cmd.Port != "" {
		extra["port"] = cmd.Port
	}
	if cmd.Route == RouteAltUnit {
		extra["route"] = "badc"
	}
	switch cmd.Force {
	case ForceVoltage:
		extra["force_mode"] = "voltage"
	case ForceCurrent:
		extra["force_mode"] = "current"
	}
	if cmd.Clamped {
		extra["clamp_low"] = cmd.ClampLow
		extra["clamp_high"] = cmd.ClampHigh
	}
	if cmd.VoltageRange > 0 {
		extra["v_range"] = cmd.VoltageRange
	}
	if cmd.CurrentRange > 0 {
		extra["i_range"] = cmd.CurrentRange
	}
	return extra
}

// milliUnits converts a force value to the DAC's milli-volt / milli-amp counts.
func milliUnits(v float64) int {
	return int(math.Round(v * 1000))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
