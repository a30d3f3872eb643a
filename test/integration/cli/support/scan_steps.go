package support

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/fieldscan/internal/capture"
	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/pipeline"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
	"github.com/MeKo-Tech/fieldscan/internal/testutil"
)

// RegisterScanSteps registers the steps driving the scan session directly.
func (testCtx *TestContext) RegisterScanSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the phone shows the (serial|imei) screen$`, testCtx.thePhoneShowsScreen)
	sc.Step(`^the required fields are "([^"]*)"$`, testCtx.theRequiredFieldsAre)
	sc.Step(`^a scan session is active on a (sharp|blurry) frame$`, testCtx.aScanSessionIsActiveOnFrame)
	sc.Step(`^(\d+) cycles? (?:run|runs)$`, testCtx.cyclesRun)
	sc.Step(`^the phase should be "([^"]*)"$`, testCtx.thePhaseShouldBe)
	sc.Step(`^the screen should be "([^"]*)"$`, testCtx.theScreenShouldBe)
	sc.Step(`^the session should be complete$`, testCtx.theSessionShouldBeComplete)
	sc.Step(`^field "([^"]*)" should be confirmed as "([^"]*)"$`, testCtx.fieldShouldBeConfirmedAs)
	sc.Step(`^field "([^"]*)" should lead with "([^"]*)"$`, testCtx.fieldShouldLeadWith)
	sc.Step(`^field "([^"]*)" should not be confirmed$`, testCtx.fieldShouldNotBeConfirmed)
	sc.Step(`^exactly (\d+) evidence frames? should be stored$`, testCtx.evidenceFramesShouldBeStored)
	sc.Step(`^the OCR engine should have been called (\d+) times?$`, testCtx.theOCREngineShouldHaveBeenCalled)
	sc.Step(`^the next cycle should be scheduled after the (blur|scanning|active) delay$`, testCtx.theNextCycleShouldBeScheduledAfter)
	sc.Step(`^every cycle should report status "([^"]*)"$`, testCtx.everyCycleShouldReportStatus)
}

func (testCtx *TestContext) thePhoneShowsScreen(name string) error {
	switch name {
	case "serial":
		testutil.SerialScreen().Script(testCtx.Engine)
	case "imei":
		testutil.IMEIScreen().Script(testCtx.Engine)
	}
	return nil
}

func (testCtx *TestContext) theRequiredFieldsAre(list string) error {
	testCtx.Required = nil
	for _, k := range strings.Split(list, ",") {
		if k = strings.TrimSpace(k); k != "" {
			testCtx.Required = append(testCtx.Required, k)
		}
	}
	return nil
}

func (testCtx *TestContext) aScanSessionIsActiveOnFrame(kind string) error {
	p, err := pipeline.NewBuilder(testCtx.Config()).WithFactory(testCtx.Engine.Factory()).Build()
	if err != nil {
		return err
	}
	testCtx.Pipeline = p

	var frame image.Image = testutil.Checkerboard(640, 480, 6)
	if kind == "blurry" {
		frame = testutil.CreateTestImage(640, 480, color.Gray{Y: 128})
	}
	return p.Runner.SetActiveSource(context.Background(), capture.NewStillImage(frame))
}

func (testCtx *TestContext) cyclesRun(n int) error {
	if testCtx.Pipeline == nil {
		return fmt.Errorf("no scan session")
	}
	for range n {
		out, err := testCtx.Pipeline.Runner.Step(context.Background())
		if err != nil {
			return err
		}
		testCtx.Outcomes = append(testCtx.Outcomes, out)
	}
	return nil
}

func (testCtx *TestContext) snapshot() (scan.Snapshot, error) {
	if testCtx.Pipeline == nil {
		return scan.Snapshot{}, fmt.Errorf("no scan session")
	}
	return testCtx.Pipeline.Runner.Snapshot(), nil
}

func (testCtx *TestContext) field(name string) (scan.FieldState, error) {
	kind, err := fields.ParseKind(name)
	if err != nil {
		return scan.FieldState{}, err
	}
	snap, err := testCtx.snapshot()
	if err != nil {
		return scan.FieldState{}, err
	}
	f, ok := snap.Field(kind)
	if !ok {
		return scan.FieldState{}, fmt.Errorf("field %s not tracked", kind)
	}
	return f, nil
}

func (testCtx *TestContext) thePhaseShouldBe(phase string) error {
	snap, err := testCtx.snapshot()
	if err != nil {
		return err
	}
	if string(snap.Phase) != phase {
		return fmt.Errorf("expected phase %s, got %s", phase, snap.Phase)
	}
	return nil
}

func (testCtx *TestContext) theScreenShouldBe(screen string) error {
	snap, err := testCtx.snapshot()
	if err != nil {
		return err
	}
	if string(snap.Screen) != screen {
		return fmt.Errorf("expected screen %s, got %s", screen, snap.Screen)
	}
	return nil
}

func (testCtx *TestContext) theSessionShouldBeComplete() error {
	if len(testCtx.Outcomes) == 0 || !testCtx.Outcomes[len(testCtx.Outcomes)-1].Done {
		return fmt.Errorf("session not complete after %d cycles", len(testCtx.Outcomes))
	}
	return nil
}

func (testCtx *TestContext) fieldShouldBeConfirmedAs(name, value string) error {
	f, err := testCtx.field(name)
	if err != nil {
		return err
	}
	if !f.Confirmed || f.Value != value {
		return fmt.Errorf("expected %s confirmed as %q, got confirmed=%v value=%q", name, value, f.Confirmed, f.Value)
	}
	return nil
}

func (testCtx *TestContext) fieldShouldLeadWith(name, value string) error {
	f, err := testCtx.field(name)
	if err != nil {
		return err
	}
	if len(f.Tally) == 0 || f.Tally[0].Value != value {
		return fmt.Errorf("expected %s to lead with %q, got tally %v", name, value, f.Tally)
	}
	return nil
}

func (testCtx *TestContext) fieldShouldNotBeConfirmed(name string) error {
	f, err := testCtx.field(name)
	if err != nil {
		return err
	}
	if f.Confirmed {
		return fmt.Errorf("expected %s unconfirmed, got %q", name, f.Value)
	}
	return nil
}

func (testCtx *TestContext) evidenceFramesShouldBeStored(n int) error {
	matches, err := filepath.Glob(filepath.Join(testCtx.EvidenceDir, "*.png"))
	if err != nil {
		return err
	}
	if len(matches) != n {
		return fmt.Errorf("expected %d evidence frames, found %d", n, len(matches))
	}
	for _, m := range matches {
		if info, err := os.Stat(m); err != nil || info.Size() == 0 {
			return fmt.Errorf("evidence frame %s is empty", m)
		}
	}
	return nil
}

func (testCtx *TestContext) theOCREngineShouldHaveBeenCalled(n int) error {
	if got := testCtx.Engine.CallCount(); got != n {
		return fmt.Errorf("expected %d OCR calls, got %d", n, got)
	}
	return nil
}

func (testCtx *TestContext) theNextCycleShouldBeScheduledAfter(which string) error {
	if len(testCtx.Outcomes) == 0 {
		return fmt.Errorf("no cycles ran")
	}
	want := map[string]time.Duration{
		"blur":     ScenarioDelays.Blur,
		"scanning": ScenarioDelays.Scanning,
		"active":   ScenarioDelays.Active,
	}[which]
	if got := testCtx.Outcomes[len(testCtx.Outcomes)-1].Delay; got != want {
		return fmt.Errorf("expected %s delay %v, got %v", which, want, got)
	}
	return nil
}

func (testCtx *TestContext) everyCycleShouldReportStatus(status string) error {
	for i, out := range testCtx.Outcomes {
		if string(out.Status) != status {
			return fmt.Errorf("cycle %d reported %s, expected %s", i+1, out.Status, status)
		}
	}
	return nil
}
