package models

import (
	"fmt"
	"slices"
	"strings"
)

type RecommendedAction string

const (
	ActionSelfFix       RecommendedAction = "self_fix"
	ActionRemoteConsult RecommendedAction = "remote_consult"
	ActionOnSite        RecommendedAction = "on_site"
)

// ParseRecommendedAction accepts the canonical values plus the spaced and
// hyphenated spellings models tend to produce ("self fix", "On-Site").
func ParseRecommendedAction(s string) (RecommendedAction, bool) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	switch RecommendedAction(normalized) {
	case ActionSelfFix, ActionRemoteConsult, ActionOnSite:
		return RecommendedAction(normalized), true
	}
	return "", false
}

// Label is the human-readable form used in system messages.
func (a RecommendedAction) Label() string {
	return strings.ReplaceAll(string(a), "_", " ")
}

// Diagnosis is the structured result attached to an issue. It is a value
// object: two diagnoses are the same when all fields match.
type Diagnosis struct {
	DeviceType           string            `json:"deviceType"`
	LikelyCauses         []string          `json:"likelyCauses"`
	SafetyWarning        string            `json:"safetyWarning"`
	TroubleshootingSteps []string          `json:"troubleshootingSteps"`
	RecommendedAction    RecommendedAction `json:"recommendedAction"`
	EstimatedCost        string            `json:"estimatedCost"`
}

func (d Diagnosis) Validate() error {
	if _, ok := ParseRecommendedAction(string(d.RecommendedAction)); !ok {
		return fmt.Errorf("invalid recommended action %q", d.RecommendedAction)
	}
	return nil
}

func (d Diagnosis) Equal(other Diagnosis) bool {
	return d.DeviceType == other.DeviceType &&
		d.SafetyWarning == other.SafetyWarning &&
		d.RecommendedAction == other.RecommendedAction &&
		d.EstimatedCost == other.EstimatedCost &&
		slices.Equal(d.LikelyCauses, other.LikelyCauses) &&
		slices.Equal(d.TroubleshootingSteps, other.TroubleshootingSteps)
}

func (d Diagnosis) Clone() Diagnosis {
	d.LikelyCauses = slices.Clone(d.LikelyCauses)
	d.TroubleshootingSteps = slices.Clone(d.TroubleshootingSteps)
	return d
}

// FallbackDiagnosis is attached when the model answer cannot be used.
func FallbackDiagnosis() Diagnosis {
	return Diagnosis{
		DeviceType:           "Unknown",
		LikelyCauses:         []string{"Could not analyze image", "Please try again"},
		SafetyWarning:        "Please proceed with caution.",
		TroubleshootingSteps: []string{"Contact support if issue persists"},
		RecommendedAction:    ActionRemoteConsult,
		EstimatedCost:        "Unknown",
	}
}
