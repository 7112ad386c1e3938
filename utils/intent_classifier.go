package utils

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

const (
	exactScore   = 1.0
	partialScore = 0.8
	fuzzyFloor   = 0.5
	fuzzyCeiling = 0.8
	// Shorter phrases produce too many accidental near-matches.
	minFuzzyRunes = 4
)

// phraseEntry is one normalized phrase. Vocabulary entries carry the
// canonical token they extract; modifiers carry no intent.
type phraseEntry struct {
	text   string
	words  []string
	ascii  bool
	intent models.MessageIntent
	token  string
}

func newPhraseEntry(phrase string, intent models.MessageIntent, token string) (phraseEntry, bool) {
	text := Normalize(phrase, 0)
	words := Tokenize(text)
	if len(words) == 0 {
		return phraseEntry{}, false
	}
	return phraseEntry{
		text:   strings.Join(words, " "),
		words:  words,
		ascii:  isASCII(text),
		intent: intent,
		token:  token,
	}, true
}

// containsPhrase is the exact layer: the phrase occurs as whole words.
func containsPhrase(words []string, e phraseEntry) bool {
	return containsSequence(words, e.words)
}

// containsFragment is the partial layer. It only applies to non-Latin
// scripts, where inflections attach directly to the stem.
func containsFragment(normalized string, e phraseEntry) bool {
	return !e.ascii && strings.Contains(normalized, e.text)
}

type IntentClassifier struct {
	patterns  map[models.Language][]phraseEntry
	menu      map[string]models.MessageIntent
	threshold float64
	fuzzyMin  float64
	maxRunes  int
}

func NewIntentClassifier(phrases *config.PhraseTable, cfg config.TriageConfig) *IntentClassifier {
	ic := &IntentClassifier{
		patterns:  make(map[models.Language][]phraseEntry),
		menu:      make(map[string]models.MessageIntent),
		threshold: cfg.IntentThreshold,
		fuzzyMin:  cfg.FuzzyMinSimilarity,
		maxRunes:  cfg.MaxInputRunes,
	}
	add := func(lang models.Language, phrase string, intent models.MessageIntent, token string) {
		if e, ok := newPhraseEntry(phrase, intent, token); ok {
			ic.patterns[lang] = append(ic.patterns[lang], e)
		}
	}
	for lang, lp := range phrases.Languages {
		for intent, list := range lp.Intents {
			for _, p := range list {
				add(lang, p, intent, "")
			}
		}
	}
	for token, forms := range phrases.Symptoms {
		for lang, list := range forms {
			for _, p := range list {
				add(lang, p, models.IntentSymptomQuery, token)
			}
		}
	}
	for mod, forms := range phrases.Modifiers {
		for lang, list := range forms {
			for _, p := range list {
				add(lang, p, "", models.ModifierPrefix+mod)
			}
		}
	}
	for _, m := range phrases.Menu {
		ic.menu[strings.ToLower(m.ID)] = m.Intent
		for _, a := range m.Aliases {
			ic.menu[Normalize(a, 0)] = m.Intent
		}
	}
	return ic
}

// entriesFor returns the phrases of lang followed by English ones, since
// code-mixed messages routinely borrow English medical words.
func (ic *IntentClassifier) entriesFor(lang models.Language) [][]phraseEntry {
	if lang == models.LangEnglish {
		return [][]phraseEntry{ic.patterns[lang]}
	}
	return [][]phraseEntry{ic.patterns[lang], ic.patterns[models.LangEnglish]}
}

// score returns the best layer score of a phrase against the text, or 0.
func (ic *IntentClassifier) score(e phraseEntry, normalized string, words []string) float64 {
	if containsPhrase(words, e) {
		return exactScore
	}
	if containsFragment(normalized, e) {
		return partialScore
	}
	if !fuzzyEligible(e) || ic.fuzzyMin >= 1 {
		return 0
	}
	n := len(e.words)
	best := 0.0
	for i := 0; i+n <= len(words); i++ {
		candidate := strings.Join(words[i:i+n], " ")
		if sim := similarity(candidate, e.text); sim > best {
			best = sim
		}
	}
	if best < ic.fuzzyMin {
		return 0
	}
	return fuzzyFloor + (best-ic.fuzzyMin)/(1-ic.fuzzyMin)*(fuzzyCeiling-fuzzyFloor)
}

// fuzzyEligible excludes emergency phrases: a near-miss such as "cooking"
// for "choking" must never escalate. Emergencies need an exact or fragment
// match, or a detector signal.
func fuzzyEligible(e phraseEntry) bool {
	return e.ascii && e.intent != models.IntentEmergency && utf8.RuneCountInString(e.text) >= minFuzzyRunes
}

func similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// ClassifyIntent maps text in lang onto an intent. Exact phrase matches
// score 1, fragment matches 0.8 and fuzzy matches between 0.5 and 0.8.
// Emergency phrases never match fuzzily.
// Equal scores are settled by intent priority, so emergency wins ties.
// Symptom and severity tokens found along the way are returned sorted.
func (ic *IntentClassifier) ClassifyIntent(text string, lang models.Language) models.ClassificationResult {
	result := models.ClassificationResult{Intent: models.IntentUnknown, Language: lang, LowConfidence: true}
	normalized := Normalize(text, ic.maxRunes)
	words := Tokenize(normalized)
	if len(words) == 0 {
		return result
	}

	scores := make(map[models.MessageIntent]float64)
	tokens := make(map[string]bool)
	for _, entries := range ic.entriesFor(lang) {
		for _, e := range entries {
			s := ic.score(e, normalized, words)
			if s == 0 {
				continue
			}
			if e.token != "" {
				tokens[e.token] = true
			}
			if e.intent != "" && s > scores[e.intent] {
				scores[e.intent] = s
			}
		}
	}

	for _, intent := range []models.MessageIntent{
		models.IntentEmergency,
		models.IntentSymptomQuery,
		models.IntentMedicineQuery,
		models.IntentFacilityQuery,
		models.IntentGreeting,
	} {
		if s := scores[intent]; s > result.Confidence {
			result.Intent = intent
			result.Confidence = s
		}
	}

	if len(tokens) > 0 {
		result.SymptomTokens = make([]string, 0, len(tokens))
		for t := range tokens {
			result.SymptomTokens = append(result.SymptomTokens, t)
		}
		sort.Strings(result.SymptomTokens)
	}
	result.LowConfidence = result.Intent == models.IntentUnknown || result.Confidence < ic.threshold
	return result
}

// MenuIntent resolves a tapped menu option id or a typed menu number.
func (ic *IntentClassifier) MenuIntent(reply string) (models.MessageIntent, bool) {
	key := strings.ToLower(strings.TrimSpace(reply))
	if intent, ok := ic.menu[key]; ok {
		return intent, true
	}
	intent, ok := ic.menu[Normalize(reply, 0)]
	return intent, ok
}
