package dcmeasure

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

func testInvocation(sites ...int) *Invocation {
	inv := &Invocation{
		Pass:    "pass-1",
		Limits:  Limits{Low: At(1), High: At(2)},
		Sites:   sites,
		Results: map[int]SiteResult{},
	}
	for _, s := range sites {
		inv.Results[s] = SiteResult{FunctionalPre: true, FunctionalPost: true, PostApplied: true, Value: 1.5}
	}
	return inv
}

func newTestPipeline(t *testing.T, b *Builder, hooks Hooks, dl Datalog) *Pipeline {
	t.Helper()
	cfg, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return NewPipeline(cfg, "T", hooks, dl, logging.NewTestLogger(t))
}

func TestPipeline_JudgingOrder(t *testing.T) {
	dl := &recordingDatalog{}
	p := newTestPipeline(t, NewBuilder().Pin("VDD"), Hooks{}, dl)

	report, err := p.Process(context.Background(), testInvocation(2, 1))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := []string{"T_FUNCPRE", "T", "T_FUNCPOST", "T_FUNCPRE", "T", "T_FUNCPOST"}
	if got := dl.names(); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if dl.judgments[0].Site != 2 || dl.judgments[3].Site != 1 {
		t.Error("expected sites judged in invocation order")
	}
	if !report.Passed() {
		t.Error("expected all judgments to pass")
	}
	if j := dl.judgments[1]; j.Pin != "VDD" || j.Functional || j.Value != 1.5 {
		t.Errorf("unexpected parametric judgment %+v", j)
	}
	if j := dl.judgments[0]; !j.Functional || j.Value != 1 || j.Limits != functionalLimits {
		t.Errorf("unexpected functional judgment %+v", j)
	}
}

func TestPipeline_PostShutdownGating(t *testing.T) {
	tests := []struct {
		name        string
		b           *Builder
		postApplied bool
		wantPost    bool
	}{
		{"applied and checked", NewBuilder().Pin("A"), true, true},
		{"not checked", NewBuilder().Pin("A").CheckShutdown(false), true, false},
		{"not applied", NewBuilder().Pin("A").ApplyShutdown(false), true, false},
		{"burst did not run", NewBuilder().Pin("A"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dl := &recordingDatalog{}
			p := newTestPipeline(t, tt.b, Hooks{}, dl)
			inv := testInvocation(1)
			r := inv.Results[1]
			r.PostApplied = tt.postApplied
			inv.Results[1] = r

			if _, err := p.Process(context.Background(), inv); err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if got := slices.Contains(dl.names(), "T_FUNCPOST"); got != tt.wantPost {
				t.Errorf("expected FUNCPOST judged %v, got %v", tt.wantPost, got)
			}
		})
	}
}

func TestPipeline_ProcessResultsOff(t *testing.T) {
	dl := &recordingDatalog{}
	p := newTestPipeline(t, NewBuilder().Pin("A").ProcessResults(false), Hooks{}, dl)

	report, err := p.Process(context.Background(), testInvocation(1, 2))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(dl.judgments) != 0 || len(report.Judgments) != 0 {
		t.Error("expected no judgments when results are not processed")
	}
	if len(report.Results) != 2 {
		t.Error("expected captured results in the report")
	}
}

func TestPipeline_Hooks(t *testing.T) {
	dl := &recordingDatalog{}
	hooks := Hooks{
		FilterResult:     func(v float64) float64 { return v * 10 },
		InvertFunctional: func(passed bool) bool { return !passed },
	}
	p := newTestPipeline(t, NewBuilder().Pin("A"), hooks, dl)

	report, err := p.Process(context.Background(), testInvocation(1))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	pre, meas, post := dl.judgments[0], dl.judgments[1], dl.judgments[2]
	if pre.Passed || pre.Value != 0 || post.Passed {
		t.Errorf("expected inverted functional results to fail, got %+v / %+v", pre, post)
	}
	if meas.Value != 15 || meas.Passed {
		t.Errorf("expected filtered value 15 to fail, got %+v", meas)
	}
	if report.Passed() {
		t.Error("expected report to fail")
	}
}

func TestPipeline_ForcePass(t *testing.T) {
	dl := &recordingDatalog{}
	p := newTestPipeline(t, NewBuilder().Pin("A").ForcePass(true), Hooks{}, dl)
	inv := testInvocation(1, 2)
	inv.Results[2] = SiteResult{FunctionalPre: true, PostApplied: true, FunctionalPost: true, Value: 9}

	report, err := p.Process(context.Background(), inv)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !report.Passed() {
		t.Error("forced judgments must all pass")
	}
	if !report.SetOnPass[1] || report.SetOnFail[1] {
		t.Errorf("site 1: expected pass flags, got pass=%v fail=%v", report.SetOnPass[1], report.SetOnFail[1])
	}
	if report.SetOnPass[2] || !report.SetOnFail[2] {
		t.Errorf("site 2: expected fail flags, got pass=%v fail=%v", report.SetOnPass[2], report.SetOnFail[2])
	}
	for _, j := range dl.judgments {
		if j.Forced != (j.Site == 2 && j.TestName == "T") {
			t.Errorf("unexpected forced flag on %+v", j)
		}
	}
}

func TestPipeline_DatalogErrors(t *testing.T) {
	dl := &recordingDatalog{err: errors.New("disk full")}
	p := newTestPipeline(t, NewBuilder().Pin("A"), Hooks{}, dl)

	report, err := p.Process(context.Background(), testInvocation(1, 2))
	if err == nil {
		t.Fatal("expected datalog error")
	}
	if n := len(multierr.Errors(err)); n != 6 {
		t.Errorf("expected 6 aggregated errors, got %d", n)
	}
	if len(report.Judgments) != 6 {
		t.Errorf("expected every judgment to be attempted, got %d", len(report.Judgments))
	}
}

func TestPipeline_MissingSiteSkipped(t *testing.T) {
	dl := &recordingDatalog{}
	p := newTestPipeline(t, NewBuilder().Pin("A"), Hooks{}, dl)
	inv := testInvocation(1)
	inv.Sites = []int{1, 3}

	if _, err := p.Process(context.Background(), inv); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	for _, j := range dl.judgments {
		if j.Site == 3 {
			t.Error("site without a result must not be judged")
		}
	}
}

func TestDCMeasurement_FourSiteCurrentScenario(t *testing.T) {
	cfg, err := NewBuilder().Pin("VDD").Measure(ModeCurrent).ForceValue(1.2).ApplyShutdown(false).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	hw := newSimulatedHardware()
	dl := &recordingDatalog{}
	tester := Tester{
		Hardware: hw,
		Limits:   StaticLimits{Low: NA, High: At(2.5)},
		Sites:    StaticSites{Active: []int{1, 2, 3, 4}},
		Pins:     testPins,
		Offline:  true,
	}
	m := NewDCMeasurement(cfg, tester, Hooks{}, nil, dl, logging.NewTestLogger(t))
	if err := m.Setup("IDD", "IDD_PAT"); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			if _, err := m.Run(context.Background(), "pass-1"); err != nil {
				t.Errorf("Run failed: %v", err)
			}
		})
	}
	wg.Wait()

	report, err := m.Run(context.Background(), "pass-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(dl.judgments) != 8 {
		t.Fatalf("expected 8 judgments, got %d: %v", len(dl.judgments), dl.names())
	}
	for _, j := range dl.judgments {
		if j.TestName == "IDD_FUNCPOST" {
			t.Error("FUNCPOST must not be judged without shutdown")
		}
		if j.TestName == "IDD" && j.Value != 2.5 {
			t.Errorf("site %d: expected offline value 2.5, got %v", j.Site, j.Value)
		}
	}
	if !report.Passed() {
		t.Error("expected all sites to pass")
	}

	inv, _ := m.Engine().Execute(context.Background(), "pass-1")
	if inv.CurrentRange != 2.5 {
		t.Errorf("expected resolved range 2.5, got %v", inv.CurrentRange)
	}
	// pre burst and measurement only
	if hw.Executed() != 2 {
		t.Errorf("expected 2 commands, got %d", hw.Executed())
	}
}

func TestDCMeasurement_AbortJudgesNothing(t *testing.T) {
	cfg, _ := NewBuilder().Pin("VDD").Measure(ModeCurrent).Build()
	dl := &recordingDatalog{}
	tester := Tester{
		Hardware: newSimulatedHardware(),
		Limits:   StaticLimits{Low: NA, High: NA},
		Sites:    StaticSites{Active: []int{1, 2}},
		Pins:     testPins,
		Offline:  true,
	}
	m := NewDCMeasurement(cfg, tester, Hooks{}, nil, dl, logging.NewTestLogger(t))
	if err := m.Setup("IDD", "P"); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	report, err := m.Run(context.Background(), "pass-1")
	if !IsAbort(err) {
		t.Fatalf("expected abort, got %v", err)
	}
	if report != nil || len(dl.judgments) != 0 {
		t.Error("expected nothing judged on abort")
	}
}

func TestDCMeasurement_NotSetUp(t *testing.T) {
	cfg, _ := NewBuilder().Pin("VDD").Build()
	m := NewDCMeasurement(cfg, Tester{}, Hooks{}, nil, nil, logging.NewTestLogger(t))
	if _, err := m.Run(context.Background(), "p"); !errors.Is(err, ErrNotSetUp) {
		t.Errorf("expected ErrNotSetUp, got %v", err)
	}
}

func TestFunctionalTest(t *testing.T) {
	cfg, _ := NewBuilder().Pin("FUNC").TestName("FT").Build()
	hw := newFakeHardware()
	hw.setPass("SUITEf1", 1, true)
	dl := &recordingDatalog{}
	tester := Tester{Hardware: hw, Sites: StaticSites{Active: []int{1, 2}}}
	f := NewFunctionalTest(cfg, tester, Hooks{}, dl, logging.NewTestLogger(t))

	if _, err := f.Run(context.Background(), "p"); !errors.Is(err, ErrNotSetUp) {
		t.Fatalf("expected ErrNotSetUp, got %v", err)
	}
	broken := NewFunctionalTest(cfg, Tester{}, Hooks{}, dl, logging.NewTestLogger(t))
	if err := broken.Setup("SUITE", "PAT"); err == nil || errors.Is(err, ErrNotSetUp) {
		t.Errorf("expected missing collaborator error, got %v", err)
	}
	if err := f.Setup("SUITE", "PAT"); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	report, err := f.Run(context.Background(), "pass-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	f.Run(context.Background(), "pass-1")

	cmds := hw.executed()
	if len(cmds) != 1 || cmds[0].ID != "SUITEf1" || cmds[0].Label != "PAT" {
		t.Errorf("expected one burst SUITEf1 of PAT, got %v", cmds)
	}
	if len(dl.judgments) != 2 {
		t.Fatalf("expected 2 judgments, got %d", len(dl.judgments))
	}
	if dl.judgments[0].TestName != "FT" || !dl.judgments[0].Passed || dl.judgments[1].Passed {
		t.Errorf("unexpected judgments %+v", dl.judgments)
	}
	if report.Passed() {
		t.Error("expected report to fail on site 2")
	}
}
