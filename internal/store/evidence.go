package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Evidence is the structured payload of a Pattern. Exactly one variant
// is set, matching the pattern's Type. Consumers dispatch on the
// populated variant instead of probing untyped maps.
type Evidence struct {
	WorkloadBalance *WorkloadBalanceEvidence `json:"workload_balance,omitempty"`
	TaskComplexity  *TaskComplexityEvidence  `json:"task_complexity,omitempty"`
	Subsystem       *SubsystemEvidence       `json:"subsystem,omitempty"`
}

// UnitUtilization pairs a workforce unit with its utilization rate.
type UnitUtilization struct {
	UnitID      uuid.UUID `json:"unit_id"`
	Utilization float64   `json:"utilization"`
}

// TransferSuggestion proposes moving work from an overloaded unit to an
// underutilized one.
type TransferSuggestion struct {
	FromUnit uuid.UUID `json:"from_unit"`
	ToUnit   uuid.UUID `json:"to_unit"`
	Minutes  int       `json:"minutes"`
	Reason   string    `json:"reason"`
}

// WorkloadBalanceEvidence backs a workload_balance pattern.
type WorkloadBalanceEvidence struct {
	Overloaded    []UnitUtilization    `json:"overloaded"`
	Underutilized []UnitUtilization    `json:"underutilized"`
	Transfers     []TransferSuggestion `json:"transfers"`
}

// TaskComplexityEvidence backs a task_complexity pattern.
type TaskComplexityEvidence struct {
	TaskType       string  `json:"task_type"`
	AvgEfficiency  float64 `json:"avg_efficiency"`
	AvgComplexity  float64 `json:"avg_complexity"`
	SampleCount    int     `json:"sample_count"`
	TimeMultiplier float64 `json:"time_multiplier"`
	// SplitAboveComplexity suggests splitting tasks above this
	// complexity score. Nil when no split is suggested.
	SplitAboveComplexity *int `json:"split_above_complexity,omitempty"`
}

// SubsystemEvidence backs subsystem_efficiency and
// subsystem_inefficiency patterns.
type SubsystemEvidence struct {
	Subsystem     string  `json:"subsystem"`
	AvgEfficiency float64 `json:"avg_efficiency"`
	SampleCount   int     `json:"sample_count"`
}

// Validate checks that exactly one variant is populated and that it
// matches the given pattern type.
func (e Evidence) Validate(pt PatternType) error {
	set := 0
	if e.WorkloadBalance != nil {
		set++
	}
	if e.TaskComplexity != nil {
		set++
	}
	if e.Subsystem != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("evidence must have exactly one variant, got %d", set)
	}

	switch pt {
	case PatternWorkloadBalance:
		if e.WorkloadBalance == nil {
			return fmt.Errorf("pattern type %s requires workload_balance evidence", pt)
		}
	case PatternTaskComplexity:
		if e.TaskComplexity == nil {
			return fmt.Errorf("pattern type %s requires task_complexity evidence", pt)
		}
	case PatternSubsystemEfficiency, PatternSubsystemInefficiency:
		if e.Subsystem == nil {
			return fmt.Errorf("pattern type %s requires subsystem evidence", pt)
		}
	default:
		return fmt.Errorf("unknown pattern type %q", pt)
	}
	return nil
}

// MarshalEvidence serializes evidence for persistence.
func MarshalEvidence(e Evidence) (json.RawMessage, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence: %w", err)
	}
	return b, nil
}

// UnmarshalEvidence parses a persisted evidence payload.
func UnmarshalEvidence(raw json.RawMessage) (Evidence, error) {
	var e Evidence
	if len(raw) == 0 {
		return e, nil
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, fmt.Errorf("failed to unmarshal evidence: %w", err)
	}
	return e, nil
}
