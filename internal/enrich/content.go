package enrich

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// ContentProcessor analyses the sighting's text for toxicity, spam,
// category and sentiment. The keyword path needs no remote model and is
// always available; the method name in the payload records which path
// ran.
type ContentProcessor struct {
	timeout time.Duration
}

// NewContentProcessor builds the keyword-based analyser.
func NewContentProcessor(timeoutSeconds int) *ContentProcessor {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &ContentProcessor{timeout: time.Duration(timeoutSeconds) * time.Second}
}

func (p *ContentProcessor) Name() string           { return "content_analysis" }
func (p *ContentProcessor) Priority() int          { return 4 }
func (p *ContentProcessor) Timeout() time.Duration { return p.timeout }
func (p *ContentProcessor) IsAvailable() bool      { return true }

var toxicWords = []string{
	"idiot", "stupid", "hate", "kill", "moron", "dumbass", "shut up",
}

var spamMarkers = []string{
	"buy now", "click here", "free money", "subscribe", "limited offer",
	"visit my", "check out my", "promo code", "http://", "https://",
}

var categoryKeywords = map[string][]string{
	"light":     {"light", "lights", "glow", "glowing", "bright", "orb", "orbs", "flash"},
	"craft":     {"craft", "ship", "saucer", "disc", "disk", "triangle", "triangular", "cigar"},
	"formation": {"formation", "fleet", "line", "string", "cluster", "group"},
	"other":     {},
}

var positiveWords = []string{
	"amazing", "beautiful", "incredible", "awesome", "wonderful", "stunning", "cool",
}

var negativeWords = []string{
	"scary", "terrifying", "afraid", "frightening", "worried", "creepy", "disturbing",
}

func (p *ContentProcessor) Process(ctx context.Context, ec Context) Result {
	text := strings.ToLower(strings.TrimSpace(ec.Title + " " + ec.Description))

	toxicity := scoreMatches(text, toxicWords, 0.4)
	spam := scoreMatches(text, spamMarkers, 0.35)

	confidences, predicted := classify(text)
	polarity, subjectivity := sentiment(text)

	data := map[string]any{
		"is_safe":        toxicity < 0.5 && spam < 0.5,
		"toxicity_score": toxicity,
		"spam_score":     spam,
		"classification": map[string]any{
			"category_confidence": confidences,
			"predicted_category":  predicted,
		},
		"sentiment": map[string]any{
			"polarity":     polarity,
			"subjectivity": subjectivity,
		},
		"language_detected": detectLanguage(text),
		"analysis_method":   "keyword_fallback",
	}
	return okResult(data, 0.6)
}

// scoreMatches accumulates per-hit weight, saturating at 1.
func scoreMatches(text string, markers []string, weight float64) float64 {
	score := 0.0
	for _, m := range markers {
		if strings.Contains(text, m) {
			score += weight
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// classify votes category keywords and normalises into confidences.
func classify(text string) (map[string]float64, string) {
	votes := make(map[string]int)
	total := 0
	for category, words := range categoryKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				votes[category]++
				total++
			}
		}
	}

	confidences := make(map[string]float64, len(categoryKeywords))
	predicted := "other"
	best := 0
	for category := range categoryKeywords {
		if total == 0 {
			confidences[category] = 0
			continue
		}
		confidences[category] = float64(votes[category]) / float64(total)
		if votes[category] > best {
			best = votes[category]
			predicted = category
		}
	}
	if total == 0 {
		confidences["other"] = 1
	}
	return confidences, predicted
}

// sentiment produces a crude polarity/subjectivity pair from the word
// lists. Polarity in [-1, 1], subjectivity in [0, 1].
func sentiment(text string) (polarity, subjectivity float64) {
	pos := 0
	neg := 0
	for _, w := range positiveWords {
		if strings.Contains(text, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(text, w) {
			neg++
		}
	}

	hits := pos + neg
	if hits == 0 {
		return 0, 0
	}
	polarity = float64(pos-neg) / float64(hits)
	subjectivity = float64(hits) / float64(hits+2)
	return polarity, subjectivity
}

// detectLanguage is a naive ASCII heuristic: real language detection
// belongs to a remote model path.
func detectLanguage(text string) string {
	if text == "" {
		return "unknown"
	}
	ascii := 0
	total := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if r < 128 {
			ascii++
		}
	}
	if total == 0 {
		return "unknown"
	}
	if float64(ascii)/float64(total) > 0.9 {
		return "en"
	}
	return "unknown"
}
