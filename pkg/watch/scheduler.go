package watch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"site-auditor/pkg/orchestrate"
)

// Auditor runs one audit pass over the given sites. Satisfied by
// *orchestrate.Orchestrator.
type Auditor interface {
	Audit(ctx context.Context, siteKeys []string) []orchestrate.SiteResult
}

// Scheduler re-audits sites on a fixed interval, persisting last-run times
// so restarts do not reset the schedule.
type Scheduler struct {
	auditor  Auditor
	siteKeys []string
	interval time.Duration
	state    *StateManager
	log      *logrus.Entry

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler persisting its state under stateDir.
func NewScheduler(auditor Auditor, siteKeys []string, interval time.Duration, stateDir string, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		auditor:  auditor,
		siteKeys: siteKeys,
		interval: interval,
		state:    NewStateManager(stateDir),
		log:      log,
	}
}

// Run blocks until the context is cancelled, auditing due sites as their
// interval elapses.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.state.Load(); err != nil {
		s.log.Warnf("Failed to load schedule state: %v (starting fresh)", err)
	}

	s.log.Infof("Watch mode: auditing %d sites every %v", len(s.siteKeys), s.interval)
	s.logSchedule()

	s.runDueSites(ctx)

	ticker := time.NewTicker(s.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down, waiting for running audits")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.runDueSites(ctx)
		}
	}
}

func (s *Scheduler) runDueSites(ctx context.Context) {
	var due []string
	for _, siteKey := range s.siteKeys {
		if s.state.Due(siteKey, s.interval) {
			due = append(due, siteKey)
		}
	}
	if len(due) == 0 {
		s.logNextRun()
		return
	}

	s.log.Infof("Auditing %d due sites: %v", len(due), due)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		results := s.auditor.Audit(ctx, due)
		for _, result := range results {
			state := SiteState{
				LastRunSuccess: result.Success,
				RunID:          result.RunID,
				PagesAudited:   result.Discovered,
				Verdicts:       result.Verdicts,
			}
			if result.Error != nil {
				state.ErrorMessage = result.Error.Error()
			}
			s.state.RecordRun(result.SiteKey, state)
		}

		if err := s.state.Save(); err != nil {
			s.log.Errorf("Failed to save schedule state: %v", err)
		}
		s.logNextRun()
	}()
}

// tickInterval is how often the scheduler checks for due sites: a tenth of
// the audit interval, clamped to [1m, 10m].
func (s *Scheduler) tickInterval() time.Duration {
	check := s.interval / 10
	if check < time.Minute {
		check = time.Minute
	}
	if check > 10*time.Minute {
		check = 10 * time.Minute
	}
	return check
}

func (s *Scheduler) logSchedule() {
	for _, siteKey := range s.siteKeys {
		state, exists := s.state.SiteState(siteKey)
		if !exists {
			s.log.Infof("  %s: never audited, will run immediately", siteKey)
			continue
		}
		status := "success"
		if !state.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s: last run %s (%s, %d pages, %d verdicts), next run %s",
			siteKey,
			state.LastRunTime.Format(time.RFC3339),
			status,
			state.PagesAudited,
			state.Verdicts,
			s.state.NextRunTime(siteKey, s.interval).Format(time.RFC3339))
	}
}

func (s *Scheduler) logNextRun() {
	type nextRun struct {
		site string
		at   time.Time
	}
	runs := make([]nextRun, 0, len(s.siteKeys))
	for _, siteKey := range s.siteKeys {
		runs = append(runs, nextRun{siteKey, s.state.NextRunTime(siteKey, s.interval)})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].at.Before(runs[j].at) })

	if len(runs) > 0 {
		until := time.Until(runs[0].at)
		if until < 0 {
			until = 0
		}
		s.log.Infof("Next audit: %s in %v (at %s)", runs[0].site, until.Round(time.Second), runs[0].at.Format("15:04:05"))
	}
}
