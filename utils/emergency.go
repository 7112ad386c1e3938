package utils

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

// Signal kinds reported by EmergencyDetector.Signals.
const (
	SignalPhrase      = "phrase"
	SignalCombination = "combination"
	SignalCritical    = "critical_symptom"
	SignalVital       = "vital_sign"
)

// EmergencySignal explains why the detector fired. Detail never contains
// message text, only table keys or rounded readings.
type EmergencySignal struct {
	Kind   string
	Detail string
}

var (
	temperaturePattern = regexp.MustCompile(`(?:\b(?:temp|temperature|fever|bukhar)|बुखार|ज्वर)\D{0,15}?(\d{2,3}(?:\.\d+)?)`)
	oxygenPattern      = regexp.MustCompile(`\b(?:spo2|sp02|oxygen|o2|saturation)\D{0,15}?(\d{2,3})`)
	pressurePattern    = regexp.MustCompile(`\b(?:bp|blood pressure)\D{0,15}?(\d{2,3})\s*/\s*(\d{2,3})`)
	pulsePattern       = regexp.MustCompile(`\b(?:pulse|heart rate|heartbeat)\D{0,15}?(\d{2,3})`)
)

// EmergencyDetector runs after intent classification and can override it.
// It checks curated distress phrases in every supported language, symptom
// combinations, stand-alone critical symptoms and stated vital signs.
type EmergencyDetector struct {
	phrases      map[models.Language][]phraseEntry
	combinations [][]string
	critical     []string
	maxRunes     int
}

func NewEmergencyDetector(phrases *config.PhraseTable, cfg config.TriageConfig) *EmergencyDetector {
	d := &EmergencyDetector{
		phrases:      make(map[models.Language][]phraseEntry),
		combinations: phrases.EmergencyCombinations,
		critical:     phrases.CriticalSymptoms,
		maxRunes:     cfg.MaxInputRunes,
	}
	for lang, lp := range phrases.Languages {
		for _, p := range lp.Intents[models.IntentEmergency] {
			if e, ok := newPhraseEntry(p, models.IntentEmergency, ""); ok {
				d.phrases[lang] = append(d.phrases[lang], e)
			}
		}
	}
	return d
}

// Detect reports whether the message must be handled as an emergency,
// whatever intent the classifier settled on.
func (d *EmergencyDetector) Detect(text string, lang models.Language, cls models.ClassificationResult) bool {
	return len(d.Signals(text, lang, cls)) > 0
}

// Signals returns every matched signal. The stated language is checked
// first, then all others, since misidentified short messages are common.
func (d *EmergencyDetector) Signals(text string, lang models.Language, cls models.ClassificationResult) []EmergencySignal {
	var signals []EmergencySignal
	normalized := Normalize(text, d.maxRunes)
	words := Tokenize(normalized)

	order := make([]models.Language, 0, len(models.SupportedLanguages))
	order = append(order, lang)
	for _, l := range models.SupportedLanguages {
		if l != lang {
			order = append(order, l)
		}
	}
	for _, l := range order {
		for _, e := range d.phrases[l] {
			if containsPhrase(words, e) || containsFragment(normalized, e) {
				signals = append(signals, EmergencySignal{Kind: SignalPhrase, Detail: string(l)})
				break
			}
		}
		if len(signals) > 0 {
			break
		}
	}

	present := make(map[string]bool, len(cls.SymptomTokens))
	for _, t := range cls.SymptomTokens {
		present[t] = true
	}
	for _, combo := range d.combinations {
		if len(combo) == 0 {
			continue
		}
		all := true
		for _, t := range combo {
			if !present[t] {
				all = false
				break
			}
		}
		if all {
			signals = append(signals, EmergencySignal{Kind: SignalCombination, Detail: strings.Join(combo, "+")})
		}
	}
	for _, t := range d.critical {
		if present[t] {
			signals = append(signals, EmergencySignal{Kind: SignalCritical, Detail: t})
		}
	}

	return append(signals, vitalSignals(normalized)...)
}

func vitalSignals(normalized string) []EmergencySignal {
	var signals []EmergencySignal
	for _, m := range temperaturePattern.FindAllStringSubmatch(normalized, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		// Celsius and Fahrenheit ranges do not overlap in plausible readings.
		if (v >= 40 && v <= 45) || (v >= 104 && v <= 115) {
			signals = append(signals, EmergencySignal{Kind: SignalVital, Detail: "temperature"})
		}
	}
	for _, m := range oxygenPattern.FindAllStringSubmatch(normalized, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil && v >= 50 && v < 90 {
			signals = append(signals, EmergencySignal{Kind: SignalVital, Detail: "oxygen_saturation"})
		}
	}
	for _, m := range pressurePattern.FindAllStringSubmatch(normalized, -1) {
		sys, err1 := strconv.Atoi(m[1])
		dia, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		if sys >= 180 || dia >= 120 || sys < 80 {
			signals = append(signals, EmergencySignal{Kind: SignalVital, Detail: "blood_pressure"})
		}
	}
	for _, m := range pulsePattern.FindAllStringSubmatch(normalized, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil && (v >= 150 || v < 40) {
			signals = append(signals, EmergencySignal{Kind: SignalVital, Detail: "pulse"})
		}
	}
	return signals
}
