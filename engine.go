package dcmeasure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/samber/lo"
	"go.viam.com/rdk/logging"
)

type State int

const (
	StateIdle State = iota
	StateShutdownPatternResolved
	StatePreBurstExecuted
	StateMeasurementBranchSelected
	StateMeasurementExecuted
	StatePostShutdownExecuted
	StateSitesExtracted
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateShutdownPatternResolved:
		return "shutdown_pattern_resolved"
	case StatePreBurstExecuted:
		return "pre_burst_executed"
	case StateMeasurementBranchSelected:
		return "measurement_branch_selected"
	case StateMeasurementExecuted:
		return "measurement_executed"
	case StatePostShutdownExecuted:
		return "post_shutdown_executed"
	case StateSitesExtracted:
		return "sites_extracted"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Invocation is the outcome of one execution pass: the limits it ran under and what
// every active site captured.
type Invocation struct {
	Pass            string
	Limits          Limits
	CurrentRange    float64
	ShutdownPattern string
	Sites           []int
	Results         map[int]SiteResult
}

// Engine runs the shared instrument sequence of a DC measurement once per pass and
// extracts per-site results from it.
type Engine struct {
	logger     logging.Logger
	cfg        MeasurementConfig
	tester     Tester
	hooks      Hooks
	classifier *Classifier

	suite string
	label string
	pins  []string
	store *resultStore

	// mu is held for a whole pass so callers sharing a pass token wait for the first.
	mu      sync.Mutex
	state   State
	pass    string
	last    *Invocation
	lastErr error
}

func NewEngine(cfg MeasurementConfig, tester Tester, hooks Hooks, classifier *Classifier, logger logging.Logger) *Engine {
	if classifier == nil {
		classifier = NewClassifier(nil, nil)
	}
	return &Engine{
		logger:     logger,
		cfg:        cfg,
		tester:     tester,
		hooks:      hooks,
		classifier: classifier,
		state:      StateIdle,
	}
}

func (e *Engine) MeasurementConfig() MeasurementConfig {
	return e.cfg
}

// Setup validates the configuration, expands the pin group and sizes the result store.
// suite names the instrument results, label is the functional pattern.
func (e *Engine) Setup(suite, label string) error {
	if err := e.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid measurement config: %w", err)
	}
	if e.tester.Hardware == nil || e.tester.Limits == nil || e.tester.Sites == nil {
		return errors.New("tester needs hardware, limits and sites")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.suite = suite
	e.label = label
	e.pins = []string{e.cfg.Pin}
	if e.tester.Pins != nil {
		if pins := e.tester.Pins.ExpandGroup(e.cfg.Pin); len(pins) > 0 {
			e.pins = lo.Uniq(pins)
		}
	}
	e.store = newResultStore(e.tester.Sites.PhysicalSiteCount())
	e.pass, e.last, e.lastErr = "", nil, nil
	e.state = StateIdle
	return nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) TestName() string {
	if e.cfg.TestName != "" {
		return e.cfg.TestName
	}
	return e.suite
}

// Execute runs the pass identified by pass. A pass that already ran is not executed
// again; its outcome is returned as is.
func (e *Engine) Execute(ctx context.Context, pass string) (*Invocation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return nil, ErrNotSetUp
	}
	if e.pass != "" && pass == e.pass {
		return e.last, e.lastErr
	}

	e.pass = pass
	e.last, e.lastErr = e.run(ctx, pass)
	if e.lastErr != nil {
		e.transition(StateFailed)
		if errors.Is(e.lastErr, context.Canceled) || errors.Is(e.lastErr, context.DeadlineExceeded) {
			// a cancelled pass may be retried
			e.pass = ""
		}
	}
	return e.last, e.lastErr
}

func (e *Engine) transition(s State) {
	e.logger.Debugf("%s: %v -> %v", e.TestName(), e.state, s)
	e.state = s
}

func (e *Engine) run(ctx context.Context, pass string) (*Invocation, error) {
	cfg := e.cfg
	e.transition(StateIdle)
	e.store.reset(pass)

	limits := e.tester.Limits.Limits()

	shutdown := cfg.ShutdownPattern
	if cfg.ApplyShutdown && shutdown == "" {
		shutdown = e.label + "_part1"
	}
	e.transition(StateShutdownPatternResolved)

	currentRange := cfg.CurrentRange
	if cfg.Mode == ModeCurrent && currentRange == 0 {
		r, err := resolveCurrentRange(limits)
		if err != nil {
			e.logger.Errorf("%s: if the current measurement has no limit, the current range must be supplied", e.TestName())
			return nil, &AbortError{Test: e.TestName(), Err: err}
		}
		currentRange = r
		e.logger.Debugf("%s: current range resolved to %v", e.TestName(), currentRange)
	}

	class := Unclassified
	if classified(cfg) {
		var tag string
		class, tag = e.classifier.Classify(e.tester.Pins, cfg.Pin)
		if class == Unclassified {
			return nil, fmt.Errorf("%s: pin %q of type %q: %w", e.TestName(), cfg.Pin, tag, ErrUnclassifiedPin)
		}
	}

	if err := e.exec(ctx, Functional(e.suite+"f1", e.label).OnPort(cfg.Port)); err != nil {
		return nil, err
	}
	e.transition(StatePreBurstExecuted)

	if e.hooks.HoldState != nil {
		e.hooks.HoldState(ctx)
	}
	e.transition(StateMeasurementBranchSelected)

	if err := e.measure(ctx, class, currentRange); err != nil {
		return nil, err
	}
	e.transition(StateMeasurementExecuted)

	if cfg.ApplyShutdown {
		if err := e.exec(ctx, Functional(e.suite+"f2", shutdown).OnPort(cfg.Port)); err != nil {
			return nil, err
		}
		e.transition(StatePostShutdownExecuted)
	}

	inv, err := e.extract(pass, limits)
	if err != nil {
		return nil, err
	}
	inv.CurrentRange = currentRange
	inv.ShutdownPattern = shutdown
	e.transition(StateSitesExtracted)

	e.transition(StateDone)
	return inv, nil
}

// extract reads every active site's results out of the executed sequence.
func (e *Engine) extract(pass string, limits Limits) (*Invocation, error) {
	hw := e.tester.Hardware
	sites := e.tester.Sites.ActiveSites()

	for _, site := range sites {
		r := SiteResult{FunctionalPre: hw.PassFail(e.suite+"f1", site)}
		if e.cfg.ApplyShutdown {
			r.FunctionalPost = hw.PassFail(e.suite+"f2", site)
			r.PostApplied = true
		}
		switch {
		case e.tester.Offline:
			r.Value = limits.simulatedValue()
		case !hw.PassFail(e.suite, site):
			// the measurement failed on this site; NaN fails every limit
			r.Value = math.NaN()
		default:
			r.Value = hw.Value(e.suite, site)
		}
		if err := e.store.record(site, r); err != nil {
			return nil, err
		}
	}

	return &Invocation{
		Pass:    pass,
		Limits:  limits,
		Sites:   append([]int(nil), sites...),
		Results: e.store.snapshot(),
	}, nil
}

// exec runs one command. Instrument failures surface through the command's pass/fail
// results, so only cancellation stops the sequence.
func (e *Engine) exec(ctx context.Context, cmd *Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.tester.Hardware.Execute(ctx, cmd); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.logger.Warnf("%s: %v failed: %v", e.TestName(), cmd, err)
	}
	return nil
}
