package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

//go:embed tables/*.yaml
var embeddedTables embed.FS

var ErrInvalidTables = errors.New("invalid knowledge tables")

// LanguagePhrases holds the intent phrases and function-word markers of one
// language.
type LanguagePhrases struct {
	Markers []string                          `yaml:"markers"`
	Intents map[models.MessageIntent][]string `yaml:"intents"`
}

// MenuEntry is one option of the clarification menu.
type MenuEntry struct {
	ID      string               `yaml:"id"`
	Intent  models.MessageIntent `yaml:"intent"`
	Aliases []string             `yaml:"aliases"`
}

// PhraseTable is the per-language vocabulary shared by the language
// identifier, the intent classifier and the emergency detector.
type PhraseTable struct {
	Languages             map[models.Language]LanguagePhrases     `yaml:"languages"`
	Symptoms              map[string]map[models.Language][]string `yaml:"symptoms"`
	Modifiers             map[string]map[models.Language][]string `yaml:"modifiers"`
	EmergencyCombinations [][]string                              `yaml:"emergency_combinations"`
	CriticalSymptoms      []string                                `yaml:"critical_symptoms"`
	Menu                  []MenuEntry                             `yaml:"menu"`
}

// RuleSpec is a triage rule as written in the rule table.
type RuleSpec struct {
	ID             string   `yaml:"id"`
	All            []string `yaml:"all"`
	Urgency        string   `yaml:"urgency"`
	Recommendation string   `yaml:"recommendation"`
}

type RuleTable struct {
	DefaultRule RuleSpec   `yaml:"default_rule"`
	Rules       []RuleSpec `yaml:"rules"`
}

// Messages is the reply catalog keyed by message key then language.
type Messages map[string]map[models.Language]string

// Tables bundles the three knowledge tables. A Tables value is never
// mutated after LoadTables returns; reloads build a new one.
type Tables struct {
	Phrases  *PhraseTable
	Rules    *RuleTable
	Messages Messages
}

// LoadTables reads the embedded defaults, replacing each table whose
// override path is set, and validates the result.
func LoadTables(cfg TablesConfig) (*Tables, error) {
	t := &Tables{Phrases: &PhraseTable{}, Rules: &RuleTable{}}
	if err := loadTable("phrases.yaml", cfg.PhrasesPath, t.Phrases); err != nil {
		return nil, err
	}
	if err := loadTable("rules.yaml", cfg.RulesPath, t.Rules); err != nil {
		return nil, err
	}
	if err := loadTable("messages.yaml", cfg.MessagesPath, &t.Messages); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func loadTable(name, override string, out interface{}) error {
	var (
		data []byte
		err  error
	)
	if override != "" {
		data, err = os.ReadFile(override)
	} else {
		data, err = embeddedTables.ReadFile("tables/" + name)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// Validate enforces the cross-table invariants: every language is supported,
// every symptom token has a single-token rule, every rule token is known and
// every recommendation has an English message.
func (t *Tables) Validate() error {
	var problems []string
	p, r := t.Phrases, t.Rules

	for lang, lp := range p.Languages {
		if !lang.Supported() {
			problems = append(problems, fmt.Sprintf("unsupported language %q", lang))
		}
		for intent := range lp.Intents {
			if !intent.Valid() || intent == models.IntentUnknown {
				problems = append(problems, fmt.Sprintf("%s: unknown intent %q", lang, intent))
			}
		}
	}
	if len(p.Symptoms) == 0 {
		problems = append(problems, "symptom vocabulary is empty")
	}

	known := make(map[string]bool)
	for token := range p.Symptoms {
		known[token] = true
	}
	for mod := range p.Modifiers {
		known[models.ModifierPrefix+mod] = true
	}

	single := make(map[string]bool)
	ids := make(map[string]bool)
	rules := append([]RuleSpec{r.DefaultRule}, r.Rules...)
	for i, rule := range rules {
		if rule.ID == "" {
			problems = append(problems, fmt.Sprintf("rule #%d has no id", i))
		} else if ids[rule.ID] {
			problems = append(problems, fmt.Sprintf("duplicate rule id %q", rule.ID))
		}
		ids[rule.ID] = true
		if _, err := models.ParseUrgency(rule.Urgency); err != nil {
			problems = append(problems, fmt.Sprintf("rule %s: %v", rule.ID, err))
		}
		if _, ok := t.Messages[rule.Recommendation][models.LangEnglish]; !ok {
			problems = append(problems, fmt.Sprintf("rule %s: no message for recommendation %q", rule.ID, rule.Recommendation))
		}
		if i > 0 && len(rule.All) == 0 {
			problems = append(problems, fmt.Sprintf("rule %s has no tokens", rule.ID))
		}
		for _, token := range rule.All {
			if !known[token] {
				problems = append(problems, fmt.Sprintf("rule %s: unknown token %q", rule.ID, token))
			}
		}
		if len(rule.All) == 1 {
			single[rule.All[0]] = true
		}
	}
	for token := range p.Symptoms {
		if !single[token] {
			problems = append(problems, fmt.Sprintf("symptom %q has no single-token rule", token))
		}
	}

	for _, combo := range p.EmergencyCombinations {
		for _, token := range combo {
			if !known[token] {
				problems = append(problems, fmt.Sprintf("emergency combination uses unknown token %q", token))
			}
		}
	}
	for _, token := range p.CriticalSymptoms {
		if !known[token] {
			problems = append(problems, fmt.Sprintf("critical symptom %q is not in the vocabulary", token))
		}
	}
	for _, m := range p.Menu {
		if m.ID == "" || !m.Intent.Valid() {
			problems = append(problems, fmt.Sprintf("menu entry %q is invalid", m.ID))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidTables, strings.Join(problems, "; "))
	}
	return nil
}

// Text returns the message for key in lang, falling back to English, with
// {placeholders} substituted from vars.
func (m Messages) Text(key string, lang models.Language, vars map[string]string) string {
	byLang := m[key]
	text, ok := byLang[lang]
	if !ok || text == "" {
		text = byLang[models.LangEnglish]
	}
	if text == "" {
		return ""
	}
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Has reports whether key has at least an English message.
func (m Messages) Has(key string) bool {
	_, ok := m[key][models.LangEnglish]
	return ok
}
