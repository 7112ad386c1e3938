package models

import (
	"fmt"
	"strings"
)

// UrgencyTier is totally ordered: low < moderate < high < critical.
type UrgencyTier int

const (
	UrgencyNone UrgencyTier = iota
	UrgencyLow
	UrgencyModerate
	UrgencyHigh
	UrgencyCritical
)

var urgencyNames = map[UrgencyTier]string{
	UrgencyNone:     "none",
	UrgencyLow:      "low",
	UrgencyModerate: "moderate",
	UrgencyHigh:     "high",
	UrgencyCritical: "critical",
}

func (u UrgencyTier) String() string {
	if s, ok := urgencyNames[u]; ok {
		return s
	}
	return fmt.Sprintf("urgency(%d)", int(u))
}

func ParseUrgency(s string) (UrgencyTier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for u, name := range urgencyNames {
		if name == s && u != UrgencyNone {
			return u, nil
		}
	}
	return UrgencyNone, fmt.Errorf("unknown urgency tier %q", s)
}

func (u UrgencyTier) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UrgencyTier) UnmarshalText(b []byte) error {
	if string(b) == "none" || len(b) == 0 {
		*u = UrgencyNone
		return nil
	}
	v, err := ParseUrgency(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// TriageOutcome is immutable once produced and travels with dispatch jobs
// for audit.
type TriageOutcome struct {
	Urgency           UrgencyTier `json:"urgency" bson:"urgency"`
	RecommendationKey string      `json:"recommendation_key" bson:"recommendation_key"`
	SymptomTokens     []string    `json:"symptom_tokens" bson:"symptom_tokens"`
	RuleIDs           []string    `json:"rule_ids" bson:"rule_ids"`
}
