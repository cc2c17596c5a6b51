// Package scheduler runs periodic cron-driven buildset creation.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/buildyard/internal/buildsets"
	"github.com/zulandar/buildyard/internal/config"
	"github.com/zulandar/buildyard/internal/models"
)

// Service owns one timer loop per configured scheduler. Each cron fire
// records a fresh sourcestamp for the scheduler's branch and creates a
// buildset targeting its builders.
type Service struct {
	db        *gorm.DB
	buildsets *buildsets.Service
	configs   []config.SchedulerConfig

	// Now is the clock used for sourcestamp timestamps, injectable for tests.
	Now func() time.Time
}

// New creates a scheduler service. Builder names are resolved against the
// database at fire time, so builders seeded after startup are picked up.
func New(gdb *gorm.DB, bs *buildsets.Service, configs []config.SchedulerConfig) *Service {
	return &Service{db: gdb, buildsets: bs, configs: configs, Now: time.Now}
}

// Run blocks until ctx is cancelled, firing each configured scheduler on
// its cron expression. Schedulers with unparseable expressions are logged
// and skipped.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range s.configs {
		cfg := s.configs[i]
		if nextCronDuration(cfg.Cron) == 0 {
			log.Printf("scheduler: %s: bad cron expression %q, not scheduling", cfg.Name, cfg.Cron)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runOne(ctx, cfg)
		}()
	}
	wg.Wait()
}

// runOne is the timer loop for a single scheduler.
func (s *Service) runOne(ctx context.Context, cfg config.SchedulerConfig) {
	timer := time.NewTimer(nextCronDuration(cfg.Cron))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if bsid, err := s.Fire(cfg); err != nil {
				log.Printf("scheduler: %s: %v", cfg.Name, err)
			} else {
				log.Printf("scheduler: %s: created buildset %d", cfg.Name, bsid)
			}
			if d := nextCronDuration(cfg.Cron); d > 0 {
				timer.Reset(d)
			} else {
				return
			}
		}
	}
}

// Fire performs one scheduled run: it records a sourcestamp from the
// scheduler's branch settings and creates a buildset over its builders.
func (s *Service) Fire(cfg config.SchedulerConfig) (int64, error) {
	builderIDs, err := s.resolveBuilders(cfg.Builders)
	if err != nil {
		return 0, err
	}

	stamp := models.SourceStamp{
		Branch:     cfg.Branch,
		Codebase:   cfg.Codebase,
		Project:    cfg.Project,
		Repository: cfg.Repository,
		CreatedAt:  s.Now().UTC(),
	}
	if err := s.db.Create(&stamp).Error; err != nil {
		return 0, fmt.Errorf("scheduler: create sourcestamp: %w", err)
	}

	bsid, _, err := s.buildsets.Add(buildsets.AddOpts{
		Scheduler:    cfg.Name,
		Reason:       cfg.Reason,
		SourceStamps: []int64{stamp.ID},
		BuilderIDs:   builderIDs,
	})
	if err != nil {
		return 0, err
	}
	return bsid, nil
}

// resolveBuilders maps builder names to ids, failing if any name is unknown.
func (s *Service) resolveBuilders(names []string) ([]int64, error) {
	var rows []models.Builder
	if err := s.db.Where("name IN ?", names).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("scheduler: resolve builders: %w", err)
	}
	byName := make(map[string]int64, len(rows))
	for _, b := range rows {
		byName[b.Name] = b.ID
	}
	ids := make([]int64, 0, len(names))
	for _, n := range names {
		id, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("scheduler: unknown builder %q", n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
