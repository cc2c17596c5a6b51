package buildsets

import (
	"sort"
	"time"

	"github.com/zulandar/buildyard/internal/models"
)

// SourceStamp is the external representation of a sourcestamp.
type SourceStamp struct {
	SSID       int64     `json:"ssid"`
	Branch     string    `json:"branch"`
	Codebase   string    `json:"codebase"`
	Project    string    `json:"project"`
	Repository string    `json:"repository"`
	Revision   string    `json:"revision"`
	Patch      *string   `json:"patch"`
	CreatedAt  time.Time `json:"created_at"`
}

// Buildset is the external representation of a buildset, as returned by
// the read API and carried in the creation and completion messages.
// Sourcestamps are resolved to their full representations, not just ids.
type Buildset struct {
	BSID               int64         `json:"bsid"`
	Complete           bool          `json:"complete"`
	CompleteAt         *time.Time    `json:"complete_at"`
	ExternalIDString   string        `json:"external_idstring"`
	ParentBuildID      *int64        `json:"parent_buildid"`
	ParentRelationship *string       `json:"parent_relationship,omitempty"`
	Reason             string        `json:"reason"`
	Results            *int          `json:"results"`
	Scheduler          string        `json:"scheduler"`
	SourceStamps       []SourceStamp `json:"sourcestamps"`
	RebuiltBuildID     *int64        `json:"rebuilt_buildid"`
	SubmittedAt        time.Time     `json:"submitted_at"`
}

// Field implements resultspec.Entity.
func (ss *SourceStamp) Field(name string) (any, bool) {
	switch name {
	case "ssid":
		return ss.SSID, true
	case "branch":
		return ss.Branch, true
	case "codebase":
		return ss.Codebase, true
	case "project":
		return ss.Project, true
	case "repository":
		return ss.Repository, true
	case "revision":
		return ss.Revision, true
	case "patch":
		return ss.Patch, true
	case "created_at":
		return ss.CreatedAt, true
	}
	return nil, false
}

// StampColumns maps queryable sourcestamp fields to their SQL columns.
var StampColumns = map[string]string{
	"ssid":       "id",
	"branch":     "branch",
	"codebase":   "codebase",
	"project":    "project",
	"repository": "repository",
	"revision":   "revision",
}

// Field implements resultspec.Entity. Nested sourcestamps are not
// queryable.
func (b *Buildset) Field(name string) (any, bool) {
	switch name {
	case "bsid":
		return b.BSID, true
	case "complete":
		return b.Complete, true
	case "complete_at":
		return b.CompleteAt, true
	case "external_idstring":
		return b.ExternalIDString, true
	case "parent_buildid":
		return b.ParentBuildID, true
	case "parent_relationship":
		return b.ParentRelationship, true
	case "reason":
		return b.Reason, true
	case "results":
		return b.Results, true
	case "scheduler":
		return b.Scheduler, true
	case "rebuilt_buildid":
		return b.RebuiltBuildID, true
	case "submitted_at":
		return b.SubmittedAt, true
	}
	return nil, false
}

// Columns maps queryable representation fields to their SQL columns, for
// resultspec pushdown.
var Columns = map[string]string{
	"bsid":              "id",
	"complete":          "complete",
	"external_idstring": "external_idstring",
	"parent_buildid":    "parent_build_id",
	"reason":            "reason",
	"results":           "results",
	"scheduler":         "scheduler",
	"rebuilt_buildid":   "rebuilt_build_id",
	"priority":          "priority",
}

// stampFromModel converts a stored sourcestamp into its representation.
func stampFromModel(ss *models.SourceStamp) SourceStamp {
	return SourceStamp{
		SSID:       ss.ID,
		Branch:     ss.Branch,
		Codebase:   ss.Codebase,
		Project:    ss.Project,
		Repository: ss.Repository,
		Revision:   ss.Revision,
		Patch:      ss.Patch,
		CreatedAt:  ss.CreatedAt,
	}
}

// fromModel converts a stored buildset plus its resolved sourcestamps into
// a representation. stamps are sorted by ssid for a stable message shape.
func fromModel(bs *models.Buildset, stamps []SourceStamp) *Buildset {
	sorted := make([]SourceStamp, len(stamps))
	copy(sorted, stamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SSID < sorted[j].SSID })

	rep := &Buildset{
		BSID:             bs.ID,
		Complete:         bs.Complete,
		CompleteAt:       bs.CompleteAt,
		ExternalIDString: bs.ExternalIDString,
		ParentBuildID:    bs.ParentBuildID,
		Reason:           bs.Reason,
		Results:          bs.Results,
		Scheduler:        bs.Scheduler,
		SourceStamps:     sorted,
		RebuiltBuildID:   bs.RebuiltBuildID,
		SubmittedAt:      bs.SubmittedAt,
	}
	if bs.ParentRelationship != "" {
		rel := bs.ParentRelationship
		rep.ParentRelationship = &rel
	}
	return rep
}
