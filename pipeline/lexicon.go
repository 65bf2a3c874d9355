package pipeline

import (
	"regexp"
	"strings"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// Lexicon carries the frustration lexicon as data (spec §4.4, "must not
// be hard-coded" per DESIGN NOTES). LexicalScore weights high-intensity
// phrases under the "profanity" category, escalation phrases under
// "explicit_escalation_request", and repeated punctuation under
// "repetition"; capitalization is scored by BehavioralScore, and there
// is no threat_to_leave phrase list.
type Lexicon struct {
	highIntensity   map[string]bool
	escalation      map[string]bool
	capsThreshold   float64
	punctuationWeight float64
	categoryWeights map[string]float64
}

// NewLexicon builds a Lexicon from configuration.
func NewLexicon(cfg core.LexiconConfig) *Lexicon {
	return &Lexicon{
		highIntensity:     toSet(cfg.HighIntensityPhrases),
		escalation:        toSet(cfg.EscalationPhrases),
		capsThreshold:     cfg.CapsRatioThreshold,
		punctuationWeight: cfg.PunctuationWeight,
		categoryWeights:   cfg.CategoryWeights,
	}
}

func toSet(phrases []string) map[string]bool {
	set := make(map[string]bool, len(phrases))
	for _, p := range phrases {
		set[strings.ToLower(p)] = true
	}
	return set
}

var repeatedPunctuation = regexp.MustCompile(`[!?]{2,}`)
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

// LexicalScore returns the weighted hit-count of the curated lexicon
// against text, in [0,10].
func (l *Lexicon) LexicalScore(text string) (score float64, indicators []string) {
	folded := strings.ToLower(text)
	weight := func(category string, fallback float64) float64 {
		if w, ok := l.categoryWeights[category]; ok {
			return w
		}
		return fallback
	}

	for phrase := range l.highIntensity {
		if strings.Contains(folded, phrase) {
			score += weight("profanity", 2.0)
			indicators = append(indicators, "high_intensity:"+phrase)
		}
	}
	for phrase := range l.escalation {
		if strings.Contains(folded, phrase) {
			score += weight("explicit_escalation_request", 2.5)
			indicators = append(indicators, "escalation:"+phrase)
		}
	}
	if repeatedPunctuation.MatchString(text) {
		score += weight("repetition", 1.0)
		indicators = append(indicators, "repeated_punctuation")
	}

	if score > 10 {
		score = 10
	}
	return score, indicators
}

// BehavioralScore derives a [0,10] score from text shape: ALL-CAPS
// ratio, exclamation density, question repetition.
func (l *Lexicon) BehavioralScore(text string) (score float64, indicators []string) {
	words := wordPattern.FindAllString(text, -1)
	if len(words) == 0 {
		return 0, nil
	}

	capsWords := 0
	for _, w := range words {
		if len(w) > 1 && w == strings.ToUpper(w) && strings.ToUpper(w) != strings.ToLower(w) {
			capsWords++
		}
	}
	capsRatio := float64(capsWords) / float64(len(words))
	if capsRatio >= l.capsThreshold {
		score += 4.0 * (capsRatio / 1.0)
		indicators = append(indicators, "all_caps_ratio")
	}

	exclamations := strings.Count(text, "!")
	density := float64(exclamations) / float64(len(words))
	score += density * 10 * l.punctuationWeight * 10
	if exclamations >= 2 {
		indicators = append(indicators, "exclamation_density")
	}

	questionMarks := strings.Count(text, "?")
	if questionMarks >= 2 {
		score += 1.5
		indicators = append(indicators, "question_repetition")
	}

	if score > 10 {
		score = 10
	}
	return score, indicators
}
