package dcmeasure

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// FunctionalTest runs a single pattern burst per pass and judges its pass/fail per site.
type FunctionalTest struct {
	logger  logging.Logger
	cfg     MeasurementConfig
	tester  Tester
	hooks   Hooks
	datalog Datalog

	mu       sync.Mutex
	suite    string
	label    string
	setUp    bool
	pass     string
	report   *Report
	err      error
	pipeline *Pipeline
}

func NewFunctionalTest(cfg MeasurementConfig, tester Tester, hooks Hooks, datalog Datalog, logger logging.Logger) *FunctionalTest {
	return &FunctionalTest{
		logger:  logger,
		cfg:     cfg,
		tester:  tester,
		hooks:   hooks,
		datalog: datalog,
	}
}

func (f *FunctionalTest) MeasurementConfig() MeasurementConfig {
	return f.cfg
}

func (f *FunctionalTest) TestName() string {
	if f.cfg.TestName != "" {
		return f.cfg.TestName
	}
	return f.suite
}

func (f *FunctionalTest) Setup(suite, label string) error {
	if f.tester.Hardware == nil || f.tester.Sites == nil {
		return errors.New("tester needs hardware and sites")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suite, f.label = suite, label
	f.pipeline = NewPipeline(f.cfg, f.TestName(), f.hooks, f.datalog, f.logger)
	f.pass, f.report, f.err = "", nil, nil
	f.setUp = true
	return nil
}

func (f *FunctionalTest) Run(ctx context.Context, pass string) (*Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.setUp {
		return nil, ErrNotSetUp
	}
	if f.pass != "" && f.pass == pass {
		return f.report, f.err
	}

	id := f.suite + "f1"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.tester.Hardware.Execute(ctx, Functional(id, f.label).OnPort(f.cfg.Port)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		f.logger.Warnf("%s: functional burst failed: %v", f.TestName(), err)
	}

	sites := f.tester.Sites.ActiveSites()
	results := make(map[int]SiteResult, len(sites))
	for _, site := range sites {
		results[site] = SiteResult{FunctionalPre: f.tester.Hardware.PassFail(id, site)}
	}

	report := newReport(pass, f.TestName(), results)
	var errs error
	if f.cfg.ProcessResults {
		for _, site := range sites {
			errs = multierr.Append(errs, f.pipeline.judge(ctx, report, f.pipeline.functional(site, f.TestName(), results[site].FunctionalPre)))
		}
	}

	f.pass, f.report, f.err = pass, report, errs
	return report, errs
}
