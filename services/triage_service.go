package services

import (
	"fmt"
	"sort"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

type triageRule struct {
	id             string
	tokens         []string
	urgency        models.UrgencyTier
	recommendation string
}

func (r triageRule) matches(set map[string]bool) bool {
	for _, t := range r.tokens {
		if !set[t] {
			return false
		}
	}
	return true
}

// TriageEngine evaluates symptom token sets against the rule table. It is
// immutable after construction and safe for concurrent use.
type TriageEngine struct {
	rules    []triageRule
	fallback triageRule
}

// NewTriageEngine orders the rules once: most tokens first, then higher
// urgency, then rule id, so evaluation is a first-match scan.
func NewTriageEngine(table *config.RuleTable) (*TriageEngine, error) {
	compile := func(spec config.RuleSpec) (triageRule, error) {
		urgency, err := models.ParseUrgency(spec.Urgency)
		if err != nil {
			return triageRule{}, fmt.Errorf("rule %s: %w", spec.ID, err)
		}
		tokens := append([]string(nil), spec.All...)
		sort.Strings(tokens)
		return triageRule{id: spec.ID, tokens: tokens, urgency: urgency, recommendation: spec.Recommendation}, nil
	}

	fallback, err := compile(table.DefaultRule)
	if err != nil {
		return nil, err
	}
	rules := make([]triageRule, 0, len(table.Rules))
	for _, spec := range table.Rules {
		r, err := compile(spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if len(a.tokens) != len(b.tokens) {
			return len(a.tokens) > len(b.tokens)
		}
		if a.urgency != b.urgency {
			return a.urgency > b.urgency
		}
		return a.id < b.id
	})
	return &TriageEngine{rules: rules, fallback: fallback}, nil
}

// Triage returns the outcome of the first matching rule. RuleIDs lists the
// winner followed by the other rules that matched at the same specificity;
// SymptomTokens is the union of their tokens. When nothing matches, the
// default rule fires with every input token as contributing. The language
// does not affect the outcome; recommendations are keys rendered later.
func (e *TriageEngine) Triage(tokens []string, _ models.Language) models.TriageOutcome {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}

	var (
		winner  *triageRule
		ruleIDs []string
		contrib = make(map[string]bool)
	)
	for i := range e.rules {
		r := &e.rules[i]
		if winner != nil && len(r.tokens) < len(winner.tokens) {
			break
		}
		if !r.matches(set) {
			continue
		}
		if winner == nil {
			winner = r
		}
		ruleIDs = append(ruleIDs, r.id)
		for _, t := range r.tokens {
			contrib[t] = true
		}
	}

	if winner == nil {
		winner = &e.fallback
		ruleIDs = []string{e.fallback.id}
		contrib = set
	}

	symptoms := make([]string, 0, len(contrib))
	for t := range contrib {
		symptoms = append(symptoms, t)
	}
	sort.Strings(symptoms)

	return models.TriageOutcome{
		Urgency:           winner.urgency,
		RecommendationKey: winner.recommendation,
		SymptomTokens:     symptoms,
		RuleIDs:           ruleIDs,
	}
}

// Peek returns the urgency the current token set would get, used to decide
// whether to stop collecting symptoms early.
func (e *TriageEngine) Peek(tokens []string) models.UrgencyTier {
	return e.Triage(tokens, "").Urgency
}
