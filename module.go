package dcmeasure

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
)

var Measurement = resource.NewModel("viamdemo", "dc-measurement", "measurement")

func init() {
	resource.RegisterService(generic.API, Measurement,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newMeasurementService,
		},
	)
}

const (
	methodDC         = "dc_measurement"
	methodFunctional = "functional"
)

type Config struct {
	Method          string   `json:"method,omitempty"` // dc_measurement (default) or functional
	Pin             string   `json:"pin"`
	Port            string   `json:"port,omitempty"`
	Mode            string   `json:"mode,omitempty"` // VOLTAGE (default) or CURRENT
	ForceValue      float64  `json:"force_value,omitempty"`
	CurrentRange    float64  `json:"current_range,omitempty"`
	SettlingTimeMs  float64  `json:"settling_time_ms,omitempty"`
	ApplyShutdown   *bool    `json:"apply_shutdown,omitempty"`
	CheckShutdown   *bool    `json:"check_shutdown,omitempty"`
	ShutdownPattern string   `json:"shutdown_pattern,omitempty"`
	ProcessResults  *bool    `json:"process_results,omitempty"`
	AltMeasureUnit  bool     `json:"alt_measure_unit,omitempty"`
	ClampLow        *float64 `json:"clamp_low,omitempty"`
	ClampHigh       *float64 `json:"clamp_high,omitempty"`
	ForcePass       bool     `json:"force_pass,omitempty"`
	TestName        string   `json:"test_name,omitempty"`
	SuiteName       string   `json:"suite_name"`
	Label           string   `json:"label"`

	LowLimit  *float64 `json:"low_limit,omitempty"` // unset means not applicable
	HighLimit *float64 `json:"high_limit,omitempty"`

	PinMapFile    string       `json:"pin_map_file,omitempty"`
	PinMap        *PinMap      `json:"pin_map,omitempty"`
	PatternRunner string       `json:"pattern_runner,omitempty"`
	Sites         []SiteConfig `json:"sites"`
	ActiveSites   []int        `json:"active_sites,omitempty"`
	Offline       bool         `json:"offline,omitempty"`
	MetricsAddr   string       `json:"metrics_addr,omitempty"`
}

func (cfg *Config) Validate(path string) ([]string, []string, error) {
	switch cfg.Method {
	case "", methodDC:
		if cfg.Pin == "" {
			return nil, nil, fmt.Errorf("%s: pin is required", path)
		}
		if _, err := ParseMode(cfg.Mode); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
	case methodFunctional:
	default:
		return nil, nil, fmt.Errorf("%s: unknown method %q", path, cfg.Method)
	}
	if cfg.SuiteName == "" {
		return nil, nil, fmt.Errorf("%s: suite_name is required", path)
	}
	if cfg.Label == "" {
		return nil, nil, fmt.Errorf("%s: label is required", path)
	}
	if len(cfg.Sites) == 0 {
		return nil, nil, fmt.Errorf("%s: at least one site is required", path)
	}
	indices := lo.Map(cfg.Sites, func(s SiteConfig, _ int) int { return s.Index })
	if len(lo.Uniq(indices)) != len(indices) {
		return nil, nil, fmt.Errorf("%s: site indices must be unique", path)
	}
	for _, idx := range indices {
		if idx < 1 {
			return nil, nil, fmt.Errorf("%s: site index must be at least 1, got %d", path, idx)
		}
	}
	for _, idx := range cfg.ActiveSites {
		if !lo.Contains(indices, idx) {
			return nil, nil, fmt.Errorf("%s: active site %d is not configured", path, idx)
		}
	}

	if cfg.Offline {
		return nil, nil, nil
	}
	if cfg.PatternRunner == "" {
		return nil, nil, fmt.Errorf("%s: pattern_runner is required", path)
	}
	deps := []string{cfg.PatternRunner}
	for _, s := range cfg.Sites {
		if s.Board == "" || s.PowerSensor == "" {
			return nil, nil, fmt.Errorf("%s: site %d needs board and power_sensor", path, s.Index)
		}
		deps = append(deps, s.Board, s.PowerSensor)
	}
	return lo.Uniq(deps), nil, nil
}

func (cfg *Config) measurementConfig() (MeasurementConfig, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return MeasurementConfig{}, err
	}
	b := NewBuilder().
		Pin(cfg.Pin).
		Port(cfg.Port).
		Measure(mode).
		ForceValue(cfg.ForceValue).
		CurrentRange(cfg.CurrentRange).
		SettlingTime(time.Duration(cfg.SettlingTimeMs * float64(time.Millisecond))).
		ShutdownPattern(cfg.ShutdownPattern).
		AltMeasureUnit(cfg.AltMeasureUnit).
		ForcePass(cfg.ForcePass).
		TestName(cfg.TestName)
	if cfg.ApplyShutdown != nil {
		b.ApplyShutdown(*cfg.ApplyShutdown)
	}
	if cfg.CheckShutdown != nil {
		b.CheckShutdown(*cfg.CheckShutdown)
	}
	if cfg.ProcessResults != nil {
		b.ProcessResults(*cfg.ProcessResults)
	}
	clampLow, clampHigh := 0.0, 5.0
	if cfg.ClampLow != nil {
		clampLow = *cfg.ClampLow
	}
	if cfg.ClampHigh != nil {
		clampHigh = *cfg.ClampHigh
	}
	b.Clamp(clampLow, clampHigh)
	if cfg.Method == methodFunctional && cfg.Pin == "" {
		// functional tests have no pin of their own
		b.Pin(cfg.SuiteName)
	}
	return b.Build()
}

func (cfg *Config) limits() Limits {
	l := Limits{Low: NA, High: NA}
	if cfg.LowLimit != nil {
		l.Low = At(*cfg.LowLimit)
	}
	if cfg.HighLimit != nil {
		l.High = At(*cfg.HighLimit)
	}
	return l
}

func (cfg *Config) siteRuntime() StaticSites {
	indices := lo.Map(cfg.Sites, func(s SiteConfig, _ int) int { return s.Index })
	active := cfg.ActiveSites
	if len(active) == 0 {
		active = indices
	}
	return StaticSites{Active: active, Physical: lo.Max(indices)}
}

type measurementService struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config

	method  TestMethod
	datalog *MemoryDatalog
	metrics *http.Server

	mu         sync.Mutex
	runs       int
	aborted    bool
	lastPass   string
	lastReport *Report
	lastErr    error
	lastRunAt  time.Time

	cancelCtx  context.Context
	cancelFunc func()
}

func newMeasurementService(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewMeasurementService(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewMeasurementService(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	mcfg, err := conf.measurementConfig()
	if err != nil {
		return nil, fmt.Errorf("building measurement config: %w", err)
	}

	pinMap := conf.PinMap
	if conf.PinMapFile != "" {
		if pinMap, err = ReadPinMap(conf.PinMapFile); err != nil {
			return nil, err
		}
	}
	classifier, err := pinMap.Classifier()
	if err != nil {
		return nil, fmt.Errorf("building pin classifier: %w", err)
	}

	var hw Hardware
	if conf.Offline {
		hw = newSimulatedHardware()
		logger.Infof("dc-measurement running offline (offline=true)")
	} else {
		if hw, err = newBoardHardware(deps, conf.PatternRunner, conf.Sites, logger); err != nil {
			return nil, err
		}
	}

	tester := Tester{
		Hardware: hw,
		Limits:   StaticLimits(conf.limits()),
		Sites:    conf.siteRuntime(),
		Pins:     pinMap,
		Offline:  conf.Offline,
	}
	memory := NewMemoryDatalog(0)
	datalog := MultiDatalog{memory, MetricsDatalog{}}

	var method TestMethod
	if conf.Method == methodFunctional {
		method = NewFunctionalTest(mcfg, tester, Hooks{}, datalog, logger)
	} else {
		method = NewDCMeasurement(mcfg, tester, Hooks{}, classifier, datalog, logger)
	}
	if err := method.Setup(conf.SuiteName, conf.Label); err != nil {
		return nil, fmt.Errorf("setting up %s: %w", conf.SuiteName, err)
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	s := &measurementService{
		name:       name,
		logger:     logger,
		cfg:        conf,
		method:     method,
		datalog:    memory,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	if conf.MetricsAddr != "" {
		s.metrics = serveMetrics(conf.MetricsAddr, logger)
	}
	return s, nil
}

func (s *measurementService) Name() resource.Name {
	return s.name
}

func (s *measurementService) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'command' field")
	}

	switch command {
	case "execute":
		return s.handleExecute(ctx, cmd)
	case "status":
		return s.GetState(), nil
	case "results":
		return s.handleResults()
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

func (s *measurementService) handleExecute(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	pass, _ := cmd["pass_id"].(string)
	if pass == "" {
		pass = uuid.New().String()
	}

	s.mu.Lock()
	aborted := s.aborted
	s.mu.Unlock()
	if aborted {
		return nil, fmt.Errorf("test flow was aborted by %s; reconfigure to run again", s.method.TestName())
	}

	report, err := s.method.Run(ctx, pass)

	s.mu.Lock()
	defer s.mu.Unlock()
	if pass != s.lastPass {
		s.runs++
	}
	s.lastPass, s.lastErr, s.lastRunAt = pass, err, time.Now()
	if report != nil {
		s.lastReport = report
	}
	if IsAbort(err) {
		s.aborted = true
		RecordAbort(s.method.TestName())
		return nil, err
	}
	if report == nil {
		return nil, err
	}
	if err != nil {
		s.logger.Warnf("datalog errors for pass %s: %v", pass, err)
	}
	return reportMap(report), nil
}

func (s *measurementService) handleResults() (map[string]interface{}, error) {
	judgments := s.datalog.Judgments()
	return map[string]interface{}{
		"count":     len(judgments),
		"judgments": lo.Map(judgments, func(j Judgment, _ int) interface{} { return judgmentMap(j) }),
	}, nil
}

// GetState reports the latest pass for the results sensor.
func (s *measurementService) GetState() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := map[string]interface{}{
		"test":    s.method.TestName(),
		"runs":    s.runs,
		"aborted": s.aborted,
		"pass_id": s.lastPass,
	}
	if !s.lastRunAt.IsZero() {
		state["last_run_at"] = s.lastRunAt.UTC().Format(time.RFC3339)
	}
	if s.lastErr != nil {
		state["error"] = s.lastErr.Error()
	}
	if s.lastReport != nil {
		for k, v := range reportMap(s.lastReport) {
			state[k] = v
		}
	}
	return state
}

func (s *measurementService) Close(ctx context.Context) error {
	s.cancelFunc()
	if s.metrics != nil {
		return s.metrics.Shutdown(ctx)
	}
	return nil
}

func reportMap(r *Report) map[string]interface{} {
	sites := make(map[string]interface{}, len(r.Results))
	for site, res := range r.Results {
		entry := map[string]interface{}{
			"functional_pre": res.FunctionalPre,
			"value":          res.Value,
			"passed":         r.SitePassed(site),
		}
		if res.PostApplied {
			entry["functional_post"] = res.FunctionalPost
		}
		if _, ok := r.SetOnFail[site]; ok {
			entry["set_on_pass"] = r.SetOnPass[site]
			entry["set_on_fail"] = r.SetOnFail[site]
		}
		sites[strconv.Itoa(site)] = entry
	}
	return map[string]interface{}{
		"status":    "completed",
		"pass_id":   r.Pass,
		"passed":    r.Passed(),
		"sites":     sites,
		"judgments": lo.Map(r.Judgments, func(j Judgment, _ int) interface{} { return judgmentMap(j) }),
	}
}

func judgmentMap(j Judgment) map[string]interface{} {
	m := map[string]interface{}{
		"site":       j.Site,
		"test_name":  j.TestName,
		"value":      j.Value,
		"passed":     j.Passed,
		"functional": j.Functional,
	}
	if j.Pin != "" {
		m["pin"] = j.Pin
	}
	if j.Forced {
		m["forced"] = true
	}
	if j.Limits.Low.Applicable {
		m["low_limit"] = j.Limits.Low.Value
	}
	if j.Limits.High.Applicable {
		m["high_limit"] = j.Limits.High.Value
	}
	return m
}
