package job

import (
	"time"

	"feedport/internal/mapping"
	"feedport/internal/schedule"
)

const (
	FormatDelimited    = "delimited"
	FormatHierarchical = "hierarchical"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	FilterLogicAnd = "and"
	FilterLogicOr  = "or"
)

// Filter is a single predicate applied to a record before import.
type Filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"` // eq, ne, contains, gt, lt
	Value    string `json:"value"`
}

// Grouping controls how rows are folded into parent records with
// variants. Zero value means no grouping.
type Grouping struct {
	Enabled    bool   `json:"enabled"`
	ParentKey  string `json:"parent_key,omitempty"`
	TypeColumn string `json:"type_column,omitempty"`
	IDColumn   string `json:"id_column,omitempty"`
	Heuristic  bool   `json:"heuristic,omitempty"`
	// ContainerPath names the repeated child element that holds
	// variants in hierarchical feeds.
	ContainerPath string `json:"container_path,omitempty"`
}

type Job struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	SourcePath string         `json:"source_path"`
	Format     string         `json:"format"`
	Wrapper    string         `json:"wrapper,omitempty"`
	Mapping    mapping.Config `json:"mapping"`
	Filters    []Filter       `json:"filters"`
	// FilterLogic joins the filters; "and" when empty.
	FilterLogic string   `json:"filter_logic,omitempty"`
	Grouping    Grouping `json:"grouping"`

	UpdateExisting   bool `json:"update_existing"`
	SkipUnchanged    bool `json:"skip_unchanged"`
	DraftNonMatching bool `json:"draft_non_matching"`

	BatchSize int               `json:"batch_size"`
	Schedule  schedule.Interval `json:"schedule"`

	Status           string `json:"status"`
	TotalRecords     int    `json:"total_records"`
	ProcessedRecords int    `json:"processed_records"`
	// RunEpoch fences chunk triggers: a trigger carrying an older
	// epoch than the job's current one is dropped by the consumer.
	RunEpoch int       `json:"run_epoch"`
	LastRun  time.Time `json:"last_run,omitempty"`
	Error    string    `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether the record values pass the job's filters.
// A job with no filters matches everything.
func (j *Job) Matches(values map[string]string) bool {
	if len(j.Filters) == 0 {
		return true
	}

	anyHit := false
	for _, f := range j.Filters {
		hit := f.Matches(values[f.Field])
		if j.FilterLogic == FilterLogicOr {
			if hit {
				anyHit = true
			}
			continue
		}
		if !hit {
			return false
		}
	}

	if j.FilterLogic == FilterLogicOr {
		return anyHit
	}
	return true
}

func (f *Filter) Matches(value string) bool {
	switch f.Operator {
	case "eq", "":
		return value == f.Value
	case "ne":
		return value != f.Value
	case "contains":
		return f.Value != "" && containsFold(value, f.Value)
	case "gt":
		return compareNumeric(value, f.Value) > 0
	case "lt":
		return compareNumeric(value, f.Value) < 0
	default:
		return false
	}
}
