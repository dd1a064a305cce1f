package dcmeasure

import (
	"context"
	"sync"

	"go.viam.com/rdk/logging"
)

// TestMethod is a test that can be set up once and then run once per test-program pass.
type TestMethod interface {
	Configurable
	Setup(suite, label string) error
	Run(ctx context.Context, pass string) (*Report, error)
	TestName() string
}

// DCMeasurement pairs the execution engine with the judging pipeline. Judging of a pass
// starts only after the engine has finished that pass, and runs once.
type DCMeasurement struct {
	logger  logging.Logger
	engine  *Engine
	hooks   Hooks
	datalog Datalog

	mu       sync.Mutex
	pipeline *Pipeline
	pass     string
	report   *Report
	err      error
}

func NewDCMeasurement(cfg MeasurementConfig, tester Tester, hooks Hooks, classifier *Classifier, datalog Datalog, logger logging.Logger) *DCMeasurement {
	return &DCMeasurement{
		logger:  logger,
		engine:  NewEngine(cfg, tester, hooks, classifier, logger),
		hooks:   hooks,
		datalog: datalog,
	}
}

func (m *DCMeasurement) MeasurementConfig() MeasurementConfig {
	return m.engine.MeasurementConfig()
}

func (m *DCMeasurement) Engine() *Engine {
	return m.engine
}

func (m *DCMeasurement) TestName() string {
	return m.engine.TestName()
}

func (m *DCMeasurement) Setup(suite, label string) error {
	if err := m.engine.Setup(suite, label); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline = NewPipeline(m.engine.MeasurementConfig(), m.engine.TestName(), m.hooks, m.datalog, m.logger)
	m.pass, m.report, m.err = "", nil, nil
	return nil
}

func (m *DCMeasurement) Run(ctx context.Context, pass string) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pipeline == nil {
		return nil, ErrNotSetUp
	}
	if m.pass != "" && m.pass == pass {
		return m.report, m.err
	}

	inv, err := m.engine.Execute(ctx, pass)
	if err != nil {
		// no partial results are judged
		return nil, err
	}
	m.pass = pass
	m.report, m.err = m.pipeline.Process(ctx, inv)
	return m.report, m.err
}
