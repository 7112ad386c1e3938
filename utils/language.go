package utils

import (
	"unicode"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

type script struct {
	table     *unicode.RangeTable
	languages []models.Language
}

// scripts maps each writing system onto the languages written in it. When a
// script serves more than one language, the first entry wins ties.
var scripts = []script{
	{unicode.Latin, []models.Language{models.LangEnglish}},
	{unicode.Devanagari, []models.Language{models.LangHindi, models.LangMarathi}},
	{unicode.Bengali, []models.Language{models.LangBengali}},
	{unicode.Tamil, []models.Language{models.LangTamil}},
	{unicode.Telugu, []models.Language{models.LangTelugu}},
	{unicode.Gujarati, []models.Language{models.LangGujarati}},
	{unicode.Kannada, []models.Language{models.LangKannada}},
	{unicode.Malayalam, []models.Language{models.LangMalayalam}},
	{unicode.Gurmukhi, []models.Language{models.LangPunjabi}},
	{unicode.Arabic, []models.Language{models.LangUrdu}},
	{unicode.Oriya, []models.Language{models.LangOdia}},
}

// LanguageGuess is the raw identification result before fallback.
type LanguageGuess struct {
	Language   models.Language
	Confidence float64
}

// LanguageIdentifier guesses the language of short, possibly code-mixed
// text from its dominant script, separating languages that share a script
// by their vocabulary.
type LanguageIdentifier struct {
	vocab     map[models.Language]map[string]bool
	fallback  models.Language
	threshold float64
	maxRunes  int
}

func NewLanguageIdentifier(phrases *config.PhraseTable, cfg config.TriageConfig) *LanguageIdentifier {
	li := &LanguageIdentifier{
		vocab:     make(map[models.Language]map[string]bool),
		fallback:  cfg.DefaultLanguage,
		threshold: cfg.LanguageThreshold,
		maxRunes:  cfg.MaxInputRunes,
	}
	if !li.fallback.Supported() {
		li.fallback = models.LangEnglish
	}
	add := func(lang models.Language, phrase string) {
		if li.vocab[lang] == nil {
			li.vocab[lang] = make(map[string]bool)
		}
		for _, w := range Tokenize(Normalize(phrase, 0)) {
			li.vocab[lang][w] = true
		}
	}
	for lang, lp := range phrases.Languages {
		for _, m := range lp.Markers {
			add(lang, m)
		}
		for _, list := range lp.Intents {
			for _, p := range list {
				add(lang, p)
			}
		}
	}
	for _, forms := range phrases.Symptoms {
		for lang, list := range forms {
			for _, p := range list {
				add(lang, p)
			}
		}
	}
	return li
}

// Identify returns the most likely language and a confidence in [0,1].
// Text without letters yields the fallback language with confidence 0.
func (li *LanguageIdentifier) Identify(text string) LanguageGuess {
	normalized := Normalize(text, li.maxRunes)

	counts := make([]int, len(scripts))
	total := 0
	for _, r := range normalized {
		if !unicode.IsLetter(r) && !unicode.IsMark(r) {
			continue
		}
		total++
		for i, s := range scripts {
			if unicode.Is(s.table, r) {
				counts[i]++
				break
			}
		}
	}
	if total == 0 {
		return LanguageGuess{Language: li.fallback}
	}

	best := 0
	for i := range counts {
		if counts[i] > counts[best] {
			best = i
		}
	}
	if counts[best] == 0 {
		return LanguageGuess{Language: li.fallback}
	}
	share := float64(counts[best]) / float64(total)
	candidates := scripts[best].languages
	if len(candidates) == 1 {
		return LanguageGuess{Language: candidates[0], Confidence: share}
	}
	lang, margin := li.disambiguate(Tokenize(normalized), candidates)
	return LanguageGuess{Language: lang, Confidence: share * (0.6 + 0.4*margin)}
}

// disambiguate scores candidates by words only their own vocabulary knows.
// margin is 0 on a tie and 1 when only the winner has hits.
func (li *LanguageIdentifier) disambiguate(words []string, candidates []models.Language) (models.Language, float64) {
	hits := make([]int, len(candidates))
	for _, w := range words {
		owners := 0
		owner := -1
		for i, c := range candidates {
			if li.vocab[c][w] {
				owners++
				owner = i
			}
		}
		if owners == 1 {
			hits[owner]++
		}
	}
	best, second := 0, -1
	for i := 1; i < len(hits); i++ {
		if hits[i] > hits[best] {
			second = best
			best = i
		} else if second == -1 || hits[i] > hits[second] {
			second = i
		}
	}
	if hits[best] == 0 || hits[best] == hits[second] {
		return candidates[0], 0
	}
	return candidates[best], float64(hits[best]-hits[second]) / float64(hits[best])
}

// Resolve applies the confidence threshold: below it the session's preferred
// language is used, then the configured default.
func (li *LanguageIdentifier) Resolve(text string, preferred models.Language) (models.Language, float64) {
	g := li.Identify(text)
	if g.Confidence >= li.threshold && g.Confidence > 0 {
		return g.Language, g.Confidence
	}
	if preferred.Supported() {
		return preferred, g.Confidence
	}
	return li.fallback, g.Confidence
}
