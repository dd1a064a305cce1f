package dcmeasure

import (
	"context"
	"errors"
	"sync"
)

// fakeHardware records every command and answers from preset tables.
type fakeHardware struct {
	mu       sync.Mutex
	commands []Command
	passFail map[string]map[int]bool
	values   map[string]map[int]float64
	failIDs  map[string]bool
	onExec   func(cmd *Command)
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{
		passFail: map[string]map[int]bool{},
		values:   map[string]map[int]float64{},
		failIDs:  map[string]bool{},
	}
}

func (h *fakeHardware) setPass(id string, site int, passed bool) {
	if h.passFail[id] == nil {
		h.passFail[id] = map[int]bool{}
	}
	h.passFail[id][site] = passed
}

func (h *fakeHardware) setValue(id string, site int, v float64) {
	if h.values[id] == nil {
		h.values[id] = map[int]float64{}
	}
	h.values[id][site] = v
}

func (h *fakeHardware) Execute(ctx context.Context, cmd *Command) error {
	if h.onExec != nil {
		h.onExec(cmd)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, *cmd)
	if h.failIDs[cmd.ID] {
		return errors.New("instrument error")
	}
	return nil
}

func (h *fakeHardware) PassFail(id string, site int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.passFail[id][site]
}

func (h *fakeHardware) Value(id string, site int) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.values[id][site]
}

func (h *fakeHardware) executed() []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Command, len(h.commands))
	copy(out, h.commands)
	return out
}

// countingLimits counts how often the limits were fetched.
type countingLimits struct {
	mu     sync.Mutex
	limits Limits
	calls  int
}

func (l *countingLimits) Limits() Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.limits
}

type fakePins map[string]string

func (p fakePins) PinType(id string) string { return p[id] }

func (p fakePins) ExpandGroup(id string) []string { return []string{id} }

type recordingDatalog struct {
	mu        sync.Mutex
	judgments []Judgment
	err       error
}

func (d *recordingDatalog) Judge(_ context.Context, j Judgment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.judgments = append(d.judgments, j)
	return d.err
}

func (d *recordingDatalog) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.judgments))
	for _, j := range d.judgments {
		out = append(out, j.TestName)
	}
	return out
}
