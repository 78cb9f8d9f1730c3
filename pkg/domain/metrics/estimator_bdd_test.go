package metrics

import (
	"context"
	"fmt"
	"testing"

	"github.com/cucumber/godog"
)

type estimatorScenario struct {
	hrMax, hrRest       float64
	hrAvg, hrPeak, secs float64
	gotIF, gotTSS       float64
}

func (s *estimatorScenario) anAthlete(hrMax, hrRest int) error {
	s.hrMax, s.hrRest = float64(hrMax), float64(hrRest)
	return nil
}

func (s *estimatorScenario) aSession(avg, peak, seconds int) error {
	s.hrAvg, s.hrPeak, s.secs = float64(avg), float64(peak), float64(seconds)
	return nil
}

func (s *estimatorScenario) estimate() error {
	s.gotIF, s.gotTSS = Estimate(s.hrAvg, s.hrPeak, s.secs, s.hrMax, s.hrRest)
	return nil
}

func (s *estimatorScenario) intensityFactorIs(want float64) error {
	if s.gotIF != want {
		return fmt.Errorf("intensity factor %v, want %v", s.gotIF, want)
	}
	return nil
}

func (s *estimatorScenario) trainingStressScoreIs(want float64) error {
	if s.gotTSS != want {
		return fmt.Errorf("training stress score %v, want %v", s.gotTSS, want)
	}
	return nil
}

func initializeEstimatorScenario(sc *godog.ScenarioContext) {
	s := &estimatorScenario{}
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		*s = estimatorScenario{}
		return ctx, nil
	})

	sc.Step(`^an athlete with max heart rate (\d+) and resting heart rate (\d+)$`, s.anAthlete)
	sc.Step(`^a session averaging (\d+) bpm peaking at (\d+) bpm for (\d+) seconds$`, s.aSession)
	sc.Step(`^the load is estimated from heart rate$`, s.estimate)
	sc.Step(`^the intensity factor is (\d+\.\d+)$`, s.intensityFactorIs)
	sc.Step(`^the training stress score is (\d+\.\d+)$`, s.trainingStressScoreIs)
}

func TestEstimatorFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "estimator",
		ScenarioInitializer: initializeEstimatorScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
