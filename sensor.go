package dcmeasure

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var ResultsSensor = resource.NewModel("viamdemo", "dc-measurement", "results-sensor")

func init() {
	resource.RegisterComponent(sensor.API, ResultsSensor,
		resource.Registration[sensor.Sensor, *SensorConfig]{
			Constructor: newResultsSensor,
		},
	)
}

type SensorConfig struct {
	Measurement string `json:"measurement"`
}

func (cfg *SensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Measurement == "" {
		return nil, nil, fmt.Errorf("%s: measurement is required", path)
	}
	// Return full resource name so Viam knows this is a generic service dependency
	dep := resource.NewName(resource.APINamespaceRDK.WithServiceType("generic"), cfg.Measurement)
	return []string{dep.String()}, nil, nil
}

type stateProvider interface {
	GetState() map[string]interface{}
}

// resultsSensor exposes the last judged pass of a measurement service as readings, so
// data capture can sync it.
type resultsSensor struct {
	resource.AlwaysRebuild

	name        resource.Name
	logger      logging.Logger
	measurement stateProvider
}

func newResultsSensor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*SensorConfig](rawConf)
	if err != nil {
		return nil, err
	}

	measurementName := resource.NewName(resource.APINamespaceRDK.WithServiceType("generic"), conf.Measurement)
	svc, ok := deps[measurementName]
	if !ok {
		return nil, fmt.Errorf("measurement %q not found in dependencies", conf.Measurement)
	}

	provider, ok := svc.(stateProvider)
	if !ok {
		return nil, fmt.Errorf("measurement %q does not implement GetState", conf.Measurement)
	}

	return &resultsSensor{
		name:        rawConf.ResourceName(),
		logger:      logger,
		measurement: provider,
	}, nil
}

func (s *resultsSensor) Name() resource.Name {
	return s.name
}

// Readings returns the measurement state with every per-site result also flattened to
// site_<n>_<field> keys, plus the site count and how many sites failed.
func (s *resultsSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	readings := s.measurement.GetState()

	sites, _ := readings["sites"].(map[string]interface{})
	failed := 0
	for site, raw := range sites {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		for field, v := range entry {
			readings["site_"+site+"_"+field] = v
		}
		if !sitePassed(entry) {
			failed++
		}
	}
	if sites != nil {
		readings["site_count"] = len(sites)
		readings["failed_sites"] = failed
	}

	// should_sync is only true once a pass has been judged
	_, judged := readings["judgments"]
	readings["should_sync"] = judged
	return readings, nil
}

// sitePassed reads the per-site verdict of a flattened report entry. Sites without a
// verdict count as passed.
func sitePassed(entry map[string]interface{}) bool {
	passed, ok := entry["passed"].(bool)
	return !ok || passed
}

func (s *resultsSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("DoCommand not supported on results-sensor")
}

func (s *resultsSensor) Close(context.Context) error {
	return nil
}
