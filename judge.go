package dcmeasure

import (
	"context"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// Judgment is one verdict forwarded to the datalog.
type Judgment struct {
	Site       int
	TestName   string
	Pin        string
	Functional bool
	Value      float64
	Limits     Limits
	Passed     bool
	// Forced is set when the verdict was reported as a pass regardless of the outcome.
	Forced bool
}

// Report is everything one pass of the judging pipeline produced.
type Report struct {
	Pass      string
	Test      string
	Judgments []Judgment
	Results   map[int]SiteResult
	// SetOnPass and SetOnFail carry the true per-site outcome when results are forced to
	// pass.
	SetOnPass map[int]bool
	SetOnFail map[int]bool
}

// Passed reports whether every judgment passed.
func (r *Report) Passed() bool {
	for _, j := range r.Judgments {
		if !j.Passed {
			return false
		}
	}
	return true
}

// SitePassed reports whether every judgment of site passed.
func (r *Report) SitePassed(site int) bool {
	for _, j := range r.Judgments {
		if j.Site == site && !j.Passed {
			return false
		}
	}
	return true
}

// Pipeline judges captured results against limits and datalogs them.
type Pipeline struct {
	logger   logging.Logger
	cfg      MeasurementConfig
	testName string
	pin      string
	hooks    Hooks
	datalog  Datalog
}

func NewPipeline(cfg MeasurementConfig, testName string, hooks Hooks, datalog Datalog, logger logging.Logger) *Pipeline {
	return &Pipeline{
		logger:   logger,
		cfg:      cfg,
		testName: testName,
		pin:      cfg.Pin,
		hooks:    hooks,
		datalog:  datalog,
	}
}

// Process judges every site of inv in site order. Datalog errors do not stop the
// remaining judgments; they are returned together.
func (p *Pipeline) Process(ctx context.Context, inv *Invocation) (*Report, error) {
	report := newReport(inv.Pass, p.testName, inv.Results)
	if !p.cfg.ProcessResults {
		return report, nil
	}

	var errs error
	for _, site := range inv.Sites {
		res, ok := inv.Results[site]
		if !ok {
			p.logger.Warnf("%s: no result recorded for site %d", p.testName, site)
			continue
		}

		errs = multierr.Append(errs, p.judge(ctx, report, p.functional(site, p.testName+"_FUNCPRE", res.FunctionalPre)))

		value := res.Value
		if p.hooks.FilterResult != nil {
			value = p.hooks.FilterResult(value)
		}
		errs = multierr.Append(errs, p.judge(ctx, report, Judgment{
			Site:     site,
			TestName: p.testName,
			Pin:      p.pin,
			Value:    value,
			Limits:   inv.Limits,
			Passed:   inv.Limits.Contains(value),
		}))

		if p.cfg.ApplyShutdown && p.cfg.CheckShutdown && res.PostApplied {
			errs = multierr.Append(errs, p.judge(ctx, report, p.functional(site, p.testName+"_FUNCPOST", res.FunctionalPost)))
		}
	}
	return report, errs
}

func (p *Pipeline) functional(site int, name string, passed bool) Judgment {
	if p.hooks.InvertFunctional != nil {
		passed = p.hooks.InvertFunctional(passed)
	}
	value := 0.0
	if passed {
		value = 1
	}
	return Judgment{
		Site:       site,
		TestName:   name,
		Functional: true,
		Value:      value,
		Limits:     functionalLimits,
		Passed:     functionalLimits.Contains(value),
	}
}

func (p *Pipeline) judge(ctx context.Context, report *Report, j Judgment) error {
	if p.cfg.ForcePass {
		report.SetOnPass[j.Site] = report.SetOnPass[j.Site] && j.Passed
		report.SetOnFail[j.Site] = report.SetOnFail[j.Site] || !j.Passed
		j.Forced = !j.Passed
		j.Passed = true
	}

	verdict := "PASSED"
	if !j.Passed {
		verdict = "FAILED"
	}
	p.logger.Infof("[%d](%s) %v : %s", j.Site, j.TestName, j.Value, verdict)

	report.Judgments = append(report.Judgments, j)
	if p.datalog == nil {
		return nil
	}
	return p.datalog.Judge(ctx, j)
}

func newReport(pass, test string, results map[int]SiteResult) *Report {
	r := &Report{
		Pass:      pass,
		Test:      test,
		Results:   results,
		SetOnPass: make(map[int]bool, len(results)),
		SetOnFail: make(map[int]bool, len(results)),
	}
	for site := range results {
		r.SetOnPass[site] = true
		r.SetOnFail[site] = false
	}
	return r
}
