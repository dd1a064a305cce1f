package dcmeasure

import (
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// PinMap is the pin metadata of a load board, usually read from a YAML file:
//
//	groups:
//	  VDD_ALL: [VDD_CORE, VDD_IO]
//	pin_types:
//	  VDD_CORE: DCS-DPS128HC
//	  VDD_MRAM0_WL_CH: PS1600
//	discharge_pairs:
//	  VDD_MRAM0_WL_CH: VDD_MRAM0_WL
type PinMap struct {
	Groups         map[string][]string `yaml:"groups" json:"groups"`
	PinTypes       map[string]string   `yaml:"pin_types" json:"pin_types"`
	ClassTags      map[string]string   `yaml:"class_tags" json:"class_tags"`
	DischargePairs map[string]string   `yaml:"discharge_pairs" json:"discharge_pairs"`
}

func ReadPinMap(path string) (*PinMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pin map: %w", err)
	}
	var m PinMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing pin map %s: %w", path, err)
	}
	return &m, nil
}

// ExpandGroup returns the pins of a group. Anything that is not a group is read as a
// comma separated pin list.
func (m *PinMap) ExpandGroup(id string) []string {
	if m != nil {
		if pins, ok := m.Groups[id]; ok {
			return lo.Uniq(pins)
		}
	}
	pins := lo.Map(strings.Split(id, ","), func(p string, _ int) string { return strings.TrimSpace(p) })
	return lo.Uniq(lo.Compact(pins))
}

// PinType returns the type tag of a pin. A group takes the type of its first pin.
func (m *PinMap) PinType(id string) string {
	if m == nil {
		return ""
	}
	if t, ok := m.PinTypes[id]; ok {
		return t
	}
	if pins := m.ExpandGroup(id); len(pins) > 0 && pins[0] != id {
		return m.PinTypes[pins[0]]
	}
	return ""
}

// Classifier builds a classifier from the map. Tags listed under class_tags extend the
// built-in tag table.
func (m *PinMap) Classifier() (*Classifier, error) {
	tags := make(map[string]PinClass, len(defaultClassTags))
	for tag, class := range defaultClassTags {
		tags[tag] = class
	}
	if m == nil {
		return NewClassifier(tags, nil), nil
	}
	for tag, name := range m.ClassTags {
		class, err := ParsePinClass(name)
		if err != nil {
			return nil, fmt.Errorf("class_tags[%s]: %w", tag, err)
		}
		tags[tag] = class
	}
	return NewClassifier(tags, m.DischargePairs), nil
}
