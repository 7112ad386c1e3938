package models

import (
	"strings"

	"golang.org/x/text/language"
)

type MessageIntent string

const (
	IntentEmergency     MessageIntent = "emergency"
	IntentSymptomQuery  MessageIntent = "symptom_query"
	IntentMedicineQuery MessageIntent = "medicine_query"
	IntentFacilityQuery MessageIntent = "facility_query"
	IntentGreeting      MessageIntent = "greeting"
	IntentUnknown       MessageIntent = "unknown"
)

// intentPriority orders intents for tie-breaks; lower wins.
var intentPriority = map[MessageIntent]int{
	IntentEmergency:     0,
	IntentSymptomQuery:  1,
	IntentMedicineQuery: 2,
	IntentFacilityQuery: 3,
	IntentGreeting:      4,
	IntentUnknown:       5,
}

// Priority returns the tie-break rank of the intent. Unknown intents rank last.
func (i MessageIntent) Priority() int {
	if p, ok := intentPriority[i]; ok {
		return p
	}
	return len(intentPriority)
}

func (i MessageIntent) Valid() bool {
	_, ok := intentPriority[i]
	return ok
}

// Language is a BCP 47 base language tag from the supported set.
type Language string

const (
	LangEnglish   Language = "en"
	LangHindi     Language = "hi"
	LangBengali   Language = "bn"
	LangTamil     Language = "ta"
	LangTelugu    Language = "te"
	LangMarathi   Language = "mr"
	LangGujarati  Language = "gu"
	LangKannada   Language = "kn"
	LangMalayalam Language = "ml"
	LangPunjabi   Language = "pa"
	LangUrdu      Language = "ur"
	LangOdia      Language = "or"
)

// SupportedLanguages is ordered; the first entry is the matcher fallback.
var SupportedLanguages = []Language{
	LangEnglish, LangHindi, LangBengali, LangTamil, LangTelugu, LangMarathi,
	LangGujarati, LangKannada, LangMalayalam, LangPunjabi, LangUrdu, LangOdia,
}

var languageMatcher = func() language.Matcher {
	tags := make([]language.Tag, len(SupportedLanguages))
	for i, l := range SupportedLanguages {
		tags[i] = language.MustParse(string(l))
	}
	return language.NewMatcher(tags)
}()

// ParseLanguage maps any BCP 47 tag ("hi-IN", "en_GB", "mr") onto the
// supported set. ok is false when the match is below high confidence.
func ParseLanguage(s string) (Language, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", "-"))
	if s == "" {
		return LangEnglish, false
	}
	tag, err := language.Parse(s)
	if err != nil {
		return LangEnglish, false
	}
	_, idx, conf := languageMatcher.Match(tag)
	return SupportedLanguages[idx], conf >= language.High
}

func (l Language) Supported() bool {
	for _, s := range SupportedLanguages {
		if s == l {
			return true
		}
	}
	return false
}

// ClassificationResult is produced fresh for every turn.
type ClassificationResult struct {
	Intent        MessageIntent `json:"intent" bson:"intent"`
	Confidence    float64       `json:"confidence" bson:"confidence"`
	Language      Language      `json:"language" bson:"language"`
	SymptomTokens []string      `json:"symptom_tokens,omitempty" bson:"symptom_tokens,omitempty"`
	LowConfidence bool          `json:"low_confidence" bson:"low_confidence"`
}

// HasSymptoms reports whether at least one symptom (not only a severity
// modifier) was extracted.
func (c ClassificationResult) HasSymptoms() bool {
	for _, t := range c.SymptomTokens {
		if !IsModifierToken(t) {
			return true
		}
	}
	return false
}

// ModifierPrefix marks severity modifiers inside a symptom token set.
const ModifierPrefix = "severity:"

func IsModifierToken(token string) bool {
	return strings.HasPrefix(token, ModifierPrefix)
}
