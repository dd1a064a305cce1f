package dcmeasure

import (
	"fmt"
	"strings"
)

// PinClass is the electrical resource category behind a pin. It selects the voltage
// measurement sequence.
type PinClass int

const (
	Unclassified PinClass = iota
	// SupplyBacked pins sit on a DC supply whose coupling capacitance must be discharged
	// before measuring.
	SupplyBacked
	// SharedChannel pins are measured through the per-channel force/measure unit.
	SharedChannel
)

func (c PinClass) String() string {
	switch c {
	case SupplyBacked:
		return "supply_backed"
	case SharedChannel:
		return "shared_channel"
	default:
		return "unclassified"
	}
}

func ParsePinClass(s string) (PinClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "supply_backed":
		return SupplyBacked, nil
	case "shared_channel":
		return SharedChannel, nil
	case "unclassified":
		return Unclassified, nil
	default:
		return Unclassified, fmt.Errorf("unknown pin class %q", s)
	}
}

var defaultClassTags = map[string]PinClass{
	"DCS-DPS128HC": SupplyBacked,
	"DCS-DPS128HV": SupplyBacked,
	"PS1600":       SharedChannel,
}

// Classifier maps pin type tags to classes and knows which channel-qualified pins share
// a supply that has to be discharged around the measurement.
type Classifier struct {
	tags  map[string]PinClass
	pairs map[string]string
}

// NewClassifier builds a classifier. Nil tags selects the built-in tag table. pairs maps
// a channel-qualified pin to its supply pin.
func NewClassifier(tags map[string]PinClass, pairs map[string]string) *Classifier {
	if tags == nil {
		tags = defaultClassTags
	}
	return &Classifier{tags: tags, pairs: pairs}
}

func (c *Classifier) Classify(meta PinMetadata, id string) (PinClass, string) {
	if meta == nil {
		return Unclassified, ""
	}
	tag := meta.PinType(id)
	return c.tags[tag], tag
}

func (c *Classifier) pairedSupply(id string) (string, bool) {
	supply, ok := c.pairs[id]
	return supply, ok && supply != ""
}
