// Package buildsets is the buildset lifecycle manager: creation with
// atomic fan-out into build requests, and completion detection with result
// aggregation and exactly-once notification.
//
// All writes to buildset completion state funnel through this package. The
// completion transition is guarded by a conditional update keyed on the
// buildset id, so concurrent callers racing to complete the same buildset
// produce exactly one write and one message.
package buildsets

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/buildyard/internal/buildrequests"
	"github.com/zulandar/buildyard/internal/models"
	"github.com/zulandar/buildyard/internal/mq"
	"github.com/zulandar/buildyard/internal/results"
	"github.com/zulandar/buildyard/internal/resultspec"
	"gorm.io/gorm"
)

// Service is the lifecycle manager. Safe for concurrent use: operations on
// distinct buildsets proceed fully in parallel, and per-buildset completion
// is serialized through the store.
type Service struct {
	db  *gorm.DB
	bus *mq.Bus

	// Now is the clock used for submitted_at and complete_at, injectable
	// for tests.
	Now func() time.Time
}

// New creates a lifecycle manager.
func New(gdb *gorm.DB, bus *mq.Bus) *Service {
	return &Service{db: gdb, bus: bus, Now: time.Now}
}

// AddOpts holds the parameters for Add. SourceStamp and builder ids must
// reference existing rows.
type AddOpts struct {
	WaitedFor          bool
	Scheduler          string
	SourceStamps       []int64
	Reason             string
	Properties         map[string]any
	BuilderIDs         []int64
	ExternalIDString   string
	RebuiltBuildID     *int64
	ParentBuildID      *int64
	ParentRelationship string
	Priority           int
}

// Add atomically creates one buildset and one build request per entry in
// BuilderIDs, publishes the creation messages, and returns the buildset id
// plus a mapping from builder id to the created build request id. A builder
// listed more than once gets a row and messages per entry, but duplicates
// share one map slot (the last request created wins). With no builders
// there is nothing to wait for, so the buildset also completes immediately
// with a vacuous SUCCESS.
func (s *Service) Add(opts AddOpts) (int64, map[int64]int64, error) {
	now := s.Now()

	stamps, err := s.resolveSourceStamps(opts.SourceStamps)
	if err != nil {
		return 0, nil, err
	}
	if err := s.checkBuilders(opts.BuilderIDs); err != nil {
		return 0, nil, err
	}

	bs := models.Buildset{
		ExternalIDString:   opts.ExternalIDString,
		Reason:             opts.Reason,
		Scheduler:          opts.Scheduler,
		SubmittedAt:        now,
		Complete:           false,
		Priority:           opts.Priority,
		RebuiltBuildID:     opts.RebuiltBuildID,
		ParentBuildID:      opts.ParentBuildID,
		ParentRelationship: opts.ParentRelationship,
	}
	if opts.Properties != nil {
		raw, err := json.Marshal(opts.Properties)
		if err != nil {
			return 0, nil, fmt.Errorf("buildsets: marshal properties: %w", err)
		}
		props := string(raw)
		bs.Properties = &props
	}

	brs := make([]models.BuildRequest, len(opts.BuilderIDs))
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&bs).Error; err != nil {
			return fmt.Errorf("buildsets: create buildset: %w", err)
		}
		for _, ssid := range opts.SourceStamps {
			link := models.BuildsetSourceStamp{BuildsetID: bs.ID, SourceStampID: ssid}
			if err := tx.Create(&link).Error; err != nil {
				return fmt.Errorf("buildsets: link sourcestamp %d: %w", ssid, err)
			}
		}
		for i, builderID := range opts.BuilderIDs {
			brs[i] = models.BuildRequest{
				BuildsetID:  bs.ID,
				BuilderID:   builderID,
				Priority:    opts.Priority,
				WaitedFor:   opts.WaitedFor,
				SubmittedAt: now,
				Complete:    false,
				Results:     results.Unset,
			}
			if err := tx.Create(&brs[i]).Error; err != nil {
				return fmt.Errorf("buildsets: create build request for builder %d: %w", builderID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	brids := make(map[int64]int64, len(opts.BuilderIDs))
	for i, builderID := range opts.BuilderIDs {
		brids[builderID] = brs[i].ID
	}

	for i := range brs {
		rep := buildrequests.FromModel(&brs[i])
		for _, topic := range buildrequests.NewTopics(rep) {
			s.bus.Publish(topic, rep)
		}
	}
	s.bus.Publish(fmt.Sprintf("buildsets/%d/new", bs.ID), fromModel(&bs, stamps))

	if len(opts.BuilderIDs) == 0 {
		if err := s.complete(&bs, results.Success); err != nil {
			return 0, nil, err
		}
	}

	return bs.ID, brids, nil
}

// MaybeComplete checks whether every build request of bsid has finished
// and, if so, performs the completion transition exactly once: aggregate
// the worst result, flip complete/complete_at/results, and publish one
// completion message. Re-entrant and idempotent; a missing buildset, an
// already-complete buildset, or a lost race are all quiet no-ops.
func (s *Service) MaybeComplete(bsid int64) error {
	var bs models.Buildset
	if err := s.db.First(&bs, bsid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("buildsets: get %d: %w", bsid, err)
	}
	if bs.Complete {
		return nil
	}

	var brs []models.BuildRequest
	if err := s.db.Where("buildset_id = ?", bsid).Find(&brs).Error; err != nil {
		return fmt.Errorf("buildsets: load build requests of %d: %w", bsid, err)
	}
	codes := make([]int, len(brs))
	for i := range brs {
		if !brs[i].Complete {
			return nil
		}
		codes[i] = brs[i].Results
	}

	return s.complete(&bs, results.Worst(codes))
}

// complete performs the one-way completion transition. The conditional
// update is the single-writer serialization point: exactly one concurrent
// caller flips the row, and only that caller publishes.
func (s *Service) complete(bs *models.Buildset, aggregate int) error {
	now := s.Now()
	res := s.db.Model(&models.Buildset{}).
		Where("id = ? AND complete = ?", bs.ID, false).
		Updates(map[string]any{
			"complete":    true,
			"complete_at": now,
			"results":     aggregate,
		})
	if res.Error != nil {
		return fmt.Errorf("buildsets: complete %d: %w", bs.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Another caller won the race. Not an error.
		return nil
	}

	bs.Complete = true
	bs.CompleteAt = &now
	bs.Results = &aggregate

	stamps, err := s.stampsFor(bs.ID)
	if err != nil {
		return err
	}
	s.bus.Publish(fmt.Sprintf("buildsets/%d/complete", bs.ID), fromModel(bs, stamps))
	return nil
}

// Get returns one buildset with resolved sourcestamps, or nil if it does
// not exist.
func (s *Service) Get(bsid int64) (*Buildset, error) {
	var bs models.Buildset
	if err := s.db.First(&bs, bsid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("buildsets: get %d: %w", bsid, err)
	}
	stamps, err := s.stampsFor(bs.ID)
	if err != nil {
		return nil, err
	}
	return fromModel(&bs, stamps), nil
}

// List returns buildsets matching spec, in store order unless the spec
// sorts, each with resolved sourcestamps.
func (s *Service) List(spec *resultspec.Spec) ([]*Buildset, error) {
	q, err := spec.ApplyToDB(s.db.Model(&models.Buildset{}).Order("id ASC"), Columns)
	if err != nil {
		return nil, err
	}
	var sets []models.Buildset
	if err := q.Find(&sets).Error; err != nil {
		return nil, fmt.Errorf("buildsets: list: %w", err)
	}
	reps := make([]*Buildset, len(sets))
	for i := range sets {
		stamps, err := s.stampsFor(sets[i].ID)
		if err != nil {
			return nil, err
		}
		reps[i] = fromModel(&sets[i], stamps)
	}
	return reps, nil
}

// GetSourceStamp returns one sourcestamp representation, or nil if absent.
func (s *Service) GetSourceStamp(ssid int64) (*SourceStamp, error) {
	var ss models.SourceStamp
	if err := s.db.First(&ss, ssid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("buildsets: get sourcestamp %d: %w", ssid, err)
	}
	rep := stampFromModel(&ss)
	return &rep, nil
}

// ListSourceStamps returns sourcestamps matching spec, in store order
// unless the spec sorts.
func (s *Service) ListSourceStamps(spec *resultspec.Spec) ([]*SourceStamp, error) {
	q, err := spec.ApplyToDB(s.db.Model(&models.SourceStamp{}).Order("id ASC"), StampColumns)
	if err != nil {
		return nil, err
	}
	var rows []models.SourceStamp
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("buildsets: list sourcestamps: %w", err)
	}
	reps := make([]*SourceStamp, len(rows))
	for i := range rows {
		rep := stampFromModel(&rows[i])
		reps[i] = &rep
	}
	return reps, nil
}

// resolveSourceStamps loads and converts the given sourcestamp ids,
// preserving input order. Any unknown id is a fatal input error.
func (s *Service) resolveSourceStamps(ssids []int64) ([]SourceStamp, error) {
	if len(ssids) == 0 {
		return nil, nil
	}
	var rows []models.SourceStamp
	if err := s.db.Where("id IN ?", ssids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("buildsets: load sourcestamps: %w", err)
	}
	byID := make(map[int64]*models.SourceStamp, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}
	stamps := make([]SourceStamp, 0, len(ssids))
	for _, ssid := range ssids {
		ss, ok := byID[ssid]
		if !ok {
			return nil, fmt.Errorf("buildsets: unknown sourcestamp %d", ssid)
		}
		stamps = append(stamps, stampFromModel(ss))
	}
	return stamps, nil
}

// checkBuilders verifies that every builder id exists.
func (s *Service) checkBuilders(builderIDs []int64) error {
	if len(builderIDs) == 0 {
		return nil
	}
	var rows []models.Builder
	if err := s.db.Where("id IN ?", builderIDs).Find(&rows).Error; err != nil {
		return fmt.Errorf("buildsets: load builders: %w", err)
	}
	known := make(map[int64]bool, len(rows))
	for _, b := range rows {
		known[b.ID] = true
	}
	for _, id := range builderIDs {
		if !known[id] {
			return fmt.Errorf("buildsets: unknown builder %d", id)
		}
	}
	return nil
}

// stampsFor loads the resolved sourcestamps linked to a buildset.
func (s *Service) stampsFor(bsid int64) ([]SourceStamp, error) {
	var rows []models.SourceStamp
	err := s.db.
		Joins("JOIN buildset_source_stamps ON buildset_source_stamps.source_stamp_id = source_stamps.id").
		Where("buildset_source_stamps.buildset_id = ?", bsid).
		Order("source_stamps.id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("buildsets: load sourcestamps of %d: %w", bsid, err)
	}
	stamps := make([]SourceStamp, len(rows))
	for i := range rows {
		stamps[i] = stampFromModel(&rows[i])
	}
	return stamps, nil
}
