// Package buildrequests provides build request reads and the write path
// used by the build-execution side: completing, claiming, and unclaiming
// requests. Creation happens in package buildsets, in the same transaction
// as the parent buildset; buildset completion state is never written here.
package buildrequests

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/buildyard/internal/models"
	"github.com/zulandar/buildyard/internal/mq"
	"github.com/zulandar/buildyard/internal/results"
	"github.com/zulandar/buildyard/internal/resultspec"
	"gorm.io/gorm"
)

// BuildRequest is the external representation of a build request, as
// returned by the read API and carried in bus messages.
type BuildRequest struct {
	BuildRequestID    int64          `json:"buildrequestid"`
	BuildsetID        int64          `json:"buildsetid"`
	BuilderID         int64          `json:"builderid"`
	Claimed           bool           `json:"claimed"`
	ClaimedAt         *time.Time     `json:"claimed_at"`
	ClaimedByMasterID *int64         `json:"claimed_by_masterid"`
	Complete          bool           `json:"complete"`
	CompleteAt        *time.Time     `json:"complete_at"`
	Priority          int            `json:"priority"`
	Results           int            `json:"results"`
	SubmittedAt       time.Time      `json:"submitted_at"`
	WaitedFor         bool           `json:"waited_for"`
	Properties        map[string]any `json:"properties"`
}

// Field implements resultspec.Entity.
func (b *BuildRequest) Field(name string) (any, bool) {
	switch name {
	case "buildrequestid":
		return b.BuildRequestID, true
	case "buildsetid":
		return b.BuildsetID, true
	case "builderid":
		return b.BuilderID, true
	case "claimed":
		return b.Claimed, true
	case "claimed_at":
		return b.ClaimedAt, true
	case "claimed_by_masterid":
		return b.ClaimedByMasterID, true
	case "complete":
		return b.Complete, true
	case "complete_at":
		return b.CompleteAt, true
	case "priority":
		return b.Priority, true
	case "results":
		return b.Results, true
	case "submitted_at":
		return b.SubmittedAt, true
	case "waited_for":
		return b.WaitedFor, true
	}
	return nil, false
}

// Columns maps queryable representation fields to their SQL columns, for
// resultspec pushdown.
var Columns = map[string]string{
	"buildrequestid":      "id",
	"buildsetid":          "buildset_id",
	"builderid":           "builder_id",
	"claimed":             "claimed",
	"claimed_by_masterid": "claimed_by_master_id",
	"complete":            "complete",
	"priority":            "priority",
	"results":             "results",
	"waited_for":          "waited_for",
}

// FromModel converts a stored build request into its representation.
func FromModel(br *models.BuildRequest) *BuildRequest {
	rep := &BuildRequest{
		BuildRequestID:    br.ID,
		BuildsetID:        br.BuildsetID,
		BuilderID:         br.BuilderID,
		Claimed:           br.Claimed,
		ClaimedAt:         br.ClaimedAt,
		ClaimedByMasterID: br.ClaimedByMasterID,
		Complete:          br.Complete,
		CompleteAt:        br.CompleteAt,
		Priority:          br.Priority,
		Results:           br.Results,
		SubmittedAt:       br.SubmittedAt,
		WaitedFor:         br.WaitedFor,
	}
	if br.Properties != nil {
		// Stored properties are JSON we wrote ourselves; on decode failure
		// the representation just carries null.
		var props map[string]any
		if err := json.Unmarshal([]byte(*br.Properties), &props); err == nil {
			rep.Properties = props
		}
	}
	return rep
}

// NewTopics returns the three creation topics for a build request: indexed
// by buildset, globally, and by builder.
func NewTopics(b *BuildRequest) []string {
	return []string{
		fmt.Sprintf("buildsets/%d/builders/%d/buildrequests/%d/new", b.BuildsetID, b.BuilderID, b.BuildRequestID),
		fmt.Sprintf("buildrequests/%d/new", b.BuildRequestID),
		fmt.Sprintf("builders/%d/buildrequests/%d/new", b.BuilderID, b.BuildRequestID),
	}
}

// Service reads and mutates build requests against the store and publishes
// the corresponding bus messages.
type Service struct {
	db  *gorm.DB
	bus *mq.Bus

	// Now is the clock used for completion and claim timestamps,
	// injectable for tests.
	Now func() time.Time
}

// New creates a build request service.
func New(gdb *gorm.DB, bus *mq.Bus) *Service {
	return &Service{db: gdb, bus: bus, Now: time.Now}
}

// Get returns one build request, or nil if it does not exist.
func (s *Service) Get(brid int64) (*BuildRequest, error) {
	var br models.BuildRequest
	if err := s.db.First(&br, brid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("buildrequests: get %d: %w", brid, err)
	}
	return FromModel(&br), nil
}

// List returns build requests matching spec, in store order unless the
// spec sorts.
func (s *Service) List(spec *resultspec.Spec) ([]*BuildRequest, error) {
	q, err := spec.ApplyToDB(s.db.Model(&models.BuildRequest{}).Order("id ASC"), Columns)
	if err != nil {
		return nil, err
	}
	var brs []models.BuildRequest
	if err := q.Find(&brs).Error; err != nil {
		return nil, fmt.Errorf("buildrequests: list: %w", err)
	}
	reps := make([]*BuildRequest, len(brs))
	for i := range brs {
		reps[i] = FromModel(&brs[i])
	}
	return reps, nil
}

// Complete marks the given build requests complete with one result code.
// All requests flip in one transaction: if any of them is missing or
// already complete, nothing is written. Completion messages are published
// for each request; the caller is expected to follow up with
// buildsets.MaybeComplete for the affected buildsets.
func (s *Service) Complete(brids []int64, result int) error {
	if !results.Valid(result) {
		return fmt.Errorf("buildrequests: complete: invalid result code %d", result)
	}
	now := s.Now()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, brid := range brids {
			res := tx.Model(&models.BuildRequest{}).
				Where("id = ? AND complete = ?", brid, false).
				Updates(map[string]any{
					"complete":    true,
					"complete_at": now,
					"results":     result,
				})
			if res.Error != nil {
				return fmt.Errorf("buildrequests: complete %d: %w", brid, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("buildrequests: complete %d: missing or already complete", brid)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var brs []models.BuildRequest
	if err := s.db.Where("id IN ?", brids).Order("id ASC").Find(&brs).Error; err != nil {
		return fmt.Errorf("buildrequests: reload completed: %w", err)
	}
	for i := range brs {
		rep := FromModel(&brs[i])
		s.bus.Publish(fmt.Sprintf("buildrequests/%d/complete", rep.BuildRequestID), rep)
		s.bus.Publish(fmt.Sprintf("builders/%d/buildrequests/%d/complete", rep.BuilderID, rep.BuildRequestID), rep)
	}
	return nil
}

// Claim takes the given unclaimed build requests for one master. If any
// request is missing or already claimed, nothing is written.
func (s *Service) Claim(brids []int64, masterID int64) error {
	now := s.Now()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, brid := range brids {
			res := tx.Model(&models.BuildRequest{}).
				Where("id = ? AND claimed = ?", brid, false).
				Updates(map[string]any{
					"claimed":              true,
					"claimed_at":           now,
					"claimed_by_master_id": masterID,
				})
			if res.Error != nil {
				return fmt.Errorf("buildrequests: claim %d: %w", brid, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("buildrequests: claim %d: missing or already claimed", brid)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishClaimEvent(brids, "claimed")
	return nil
}

// Unclaim releases claims on the given build requests. Unclaiming an
// unclaimed request is a no-op.
func (s *Service) Unclaim(brids []int64) error {
	res := s.db.Model(&models.BuildRequest{}).
		Where("id IN ? AND claimed = ?", brids, true).
		Updates(map[string]any{
			"claimed":              false,
			"claimed_at":           nil,
			"claimed_by_master_id": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("buildrequests: unclaim: %w", res.Error)
	}

	s.publishClaimEvent(brids, "unclaimed")
	return nil
}

func (s *Service) publishClaimEvent(brids []int64, kind string) {
	var brs []models.BuildRequest
	if err := s.db.Where("id IN ?", brids).Order("id ASC").Find(&brs).Error; err != nil {
		return
	}
	for i := range brs {
		rep := FromModel(&brs[i])
		s.bus.Publish(fmt.Sprintf("buildrequests/%d/%s", rep.BuildRequestID, kind), rep)
	}
}
