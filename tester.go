package dcmeasure

import (
	"context"
	"math"

	"github.com/samber/lo"
)

// Bound is one side of a comparison limit. A bound that is not applicable does not
// constrain the measurement.
type Bound struct {
	Value      float64
	Applicable bool
}

// NA is the not-applicable bound.
var NA = Bound{}

// At returns an applicable bound at v.
func At(v float64) Bound {
	return Bound{Value: v, Applicable: true}
}

// effective treats an inapplicable bound as 0
func (b Bound) effective() float64 {
	if !b.Applicable {
		return 0
	}
	return b.Value
}

// Limits is the comparison range for the active test.
type Limits struct {
	Low  Bound
	High Bound
}

// functionalLimits is the pass range functional results are judged against.
var functionalLimits = Limits{Low: At(1), High: At(1)}

// Contains reports whether v satisfies every applicable bound. Both bounds are inclusive.
// NaN, the value of a failed measurement, is never contained.
func (l Limits) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if l.Low.Applicable && v < l.Low.Value {
		return false
	}
	if l.High.Applicable && v > l.High.Value {
		return false
	}
	return true
}

// simulatedValue is what an offline tester reports for a measurement under these limits.
func (l Limits) simulatedValue() float64 {
	switch {
	case l.Low.Applicable && l.High.Applicable:
		return (l.High.Value-l.Low.Value)/2 + l.Low.Value
	case l.Low.Applicable:
		return l.Low.Value
	case l.High.Applicable:
		return l.High.Value
	default:
		return 0
	}
}

// LimitProvider returns the limits of the active test. Implementations must return the
// same value for the whole of one invocation.
type LimitProvider interface {
	Limits() Limits
}

// StaticLimits is a LimitProvider for a fixed limit pair.
type StaticLimits Limits

func (s StaticLimits) Limits() Limits {
	return Limits(s)
}

// SiteRuntime exposes the sites of the test head. The current site is passed
// explicitly to result accessors instead of being ambient.
type SiteRuntime interface {
	ActiveSites() []int
	PhysicalSiteCount() int
}

// StaticSites is a SiteRuntime over a fixed site list.
type StaticSites struct {
	Active   []int
	Physical int
}

func (s StaticSites) ActiveSites() []int {
	return s.Active
}

func (s StaticSites) PhysicalSiteCount() int {
	if s.Physical > 0 {
		return s.Physical
	}
	if len(s.Active) == 0 {
		return 0
	}
	return lo.Max(s.Active)
}

// PinMetadata answers electrical questions about pins and pin groups.
type PinMetadata interface {
	PinType(id string) string
	ExpandGroup(id string) []string
}

// Hardware executes instrument commands. Results are keyed by command ID and site once
// Execute has returned.
type Hardware interface {
	Execute(ctx context.Context, cmd *Command) error
	PassFail(id string, site int) bool
	Value(id string, site int) float64
}

// Datalog receives judged results.
type Datalog interface {
	Judge(ctx context.Context, j Judgment) error
}

// Tester groups the collaborators a test method runs against.
type Tester struct {
	Hardware Hardware
	Limits   LimitProvider
	Sites    SiteRuntime
	Pins     PinMetadata
	Offline  bool
}

// Hooks are optional extension points of a test method. Nil hooks are skipped.
type Hooks struct {
	// HoldState runs between the pre-measurement burst and the measurement.
	HoldState func(ctx context.Context)
	// FilterCommand may adjust a measurement command before it executes.
	FilterCommand func(cmd *Command)
	// FilterResult is applied to measured values before judging.
	FilterResult func(v float64) float64
	// InvertFunctional is applied to functional results before judging.
	InvertFunctional func(passed bool) bool
}
