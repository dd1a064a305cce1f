package dcmeasure

import "math"

// resolveCurrentRange picks the current range for a measurement that has none: the
// larger magnitude of the two limits, counting an inapplicable bound as 0.
func resolveCurrentRange(limits Limits) (float64, error) {
	low, high := limits.Low.effective(), limits.High.effective()
	if low == 0 && high == 0 {
		return 0, ErrUnresolvableRange
	}
	return math.Max(math.Abs(low), math.Abs(high)), nil
}
