package dcmeasure

import (
	"fmt"
	"maps"
)

// SiteResult is what one invocation captured for one site.
type SiteResult struct {
	FunctionalPre  bool
	FunctionalPost bool
	// PostApplied is set when the post-measurement burst ran.
	PostApplied bool
	Value       float64
}

// resultStore holds per-site results of the current pass. Sites are addressed by their
// tester index, 1 through the physical site count.
type resultStore struct {
	pass     string
	physical int
	sites    map[int]SiteResult
}

func newResultStore(physical int) *resultStore {
	return &resultStore{physical: physical, sites: make(map[int]SiteResult, physical)}
}

func (s *resultStore) reset(pass string) {
	s.pass = pass
	clear(s.sites)
}

// record writes a site once per pass.
func (s *resultStore) record(site int, r SiteResult) error {
	if site < 1 || site > s.physical {
		return fmt.Errorf("site %d outside 1..%d", site, s.physical)
	}
	if _, ok := s.sites[site]; ok {
		return fmt.Errorf("site %d already recorded for pass %s", site, s.pass)
	}
	s.sites[site] = r
	return nil
}

func (s *resultStore) snapshot() map[int]SiteResult {
	return maps.Clone(s.sites)
}
