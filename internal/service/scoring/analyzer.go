// Package scoring produces coaching feedback for transcript text.
//
// Scores are deterministic heuristics over the words of the text. Each
// category lands in [MinScore, MaxScore]; the overall score is the rounded
// mean of the category scores.
package scoring

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode"

	"speech-coach-service/internal/models"
)

// Score bounds for every category.
const (
	MinScore = 60
	MaxScore = 100
)

// Categories in reporting order.
var Categories = []string{
	"Clarity",
	"Pace",
	"Tone",
	"Confidence",
	"Vocabulary",
	"Engagement",
	"Structure",
}

// ErrEmptyText is returned when there is nothing to score.
var ErrEmptyText = errors.New("no text to analyze")

var (
	fillers     = set("um", "uh", "er", "ah", "erm", "hmm", "like", "basically", "actually", "literally", "so", "well")
	hedges      = set("maybe", "perhaps", "probably", "guess", "think", "possibly", "somewhat", "might", "sort", "kind")
	positives   = set("great", "excellent", "thank", "thanks", "appreciate", "happy", "glad", "excited", "love", "good", "wonderful")
	transitions = set("first", "firstly", "second", "next", "then", "finally", "however", "therefore", "because", "also", "additionally", "overall")
	audience    = set("you", "your", "we", "our", "us")
)

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Analyzer scores transcript text. The zero value is ready to use.
type Analyzer struct{}

// New returns an Analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze scores text across all categories.
func (a *Analyzer) Analyze(ctx context.Context, text string) (models.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return models.Analysis{}, err
	}
	s := measure(text)
	if s.words == 0 {
		return models.Analysis{}, ErrEmptyText
	}

	scores := map[string]int{
		"Clarity":    clamp(100 - 250*s.ratio(s.fillers)),
		"Pace":       clamp(100 - 2.5*math.Abs(s.wordsPerSentence()-15)),
		"Tone":       clamp(75 + 8*float64(s.positives) - 10*float64(s.exclaims)/float64(s.sentences)),
		"Confidence": clamp(100 - 300*s.ratio(s.hedges)),
		"Vocabulary": clamp(55 + 45*s.ratio(s.unique)),
		"Engagement": clamp(70 + 6*float64(s.questions) + 60*s.ratio(s.audience)),
		"Structure":  clamp(65 + 7*float64(s.transitions) + 3*float64(min(s.sentences, 5))),
	}

	metrics := make([]models.FeedbackMetric, 0, len(Categories))
	for _, c := range Categories {
		score := scores[c]
		metrics = append(metrics, models.FeedbackMetric{
			Category: c,
			Score:    score,
			Feedback: feedbackFor(c, score),
		})
	}

	return models.Analysis{
		OverallScore: OverallScore(metrics),
		Metrics:      metrics,
	}, nil
}

// OverallScore is the rounded mean of the metric scores, 0 for none.
func OverallScore(metrics []models.FeedbackMetric) int {
	if len(metrics) == 0 {
		return 0
	}
	total := 0
	for _, m := range metrics {
		total += m.Score
	}
	return int(math.Round(float64(total) / float64(len(metrics))))
}

type stats struct {
	words       int
	sentences   int
	unique      int
	fillers     int
	hedges      int
	positives   int
	transitions int
	audience    int
	questions   int
	exclaims    int
}

func (s stats) ratio(n int) float64 {
	return float64(n) / float64(s.words)
}

func (s stats) wordsPerSentence() float64 {
	return float64(s.words) / float64(s.sentences)
}

func measure(text string) stats {
	var s stats
	seen := make(map[string]bool)

	for _, raw := range strings.Fields(text) {
		w := strings.ToLower(strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		}))
		if w == "" {
			continue
		}
		s.words++
		if !seen[w] {
			seen[w] = true
			s.unique++
		}
		switch {
		case fillers[w]:
			s.fillers++
		case hedges[w]:
			s.hedges++
		case positives[w]:
			s.positives++
		case transitions[w]:
			s.transitions++
		case audience[w]:
			s.audience++
		}
	}

	for _, r := range text {
		switch r {
		case '.':
			s.sentences++
		case '?':
			s.sentences++
			s.questions++
		case '!':
			s.sentences++
			s.exclaims++
		}
	}
	if s.sentences == 0 {
		s.sentences = 1
	}
	return s
}

func clamp(v float64) int {
	n := int(math.Round(v))
	if n < MinScore {
		return MinScore
	}
	if n > MaxScore {
		return MaxScore
	}
	return n
}

var feedbackText = map[string][3]string{
	"Clarity": {
		"Your speech is very clear and easy to understand.",
		"Mostly clear. Cutting a few filler words will sharpen it.",
		"Consider enunciating more clearly and dropping filler words.",
	},
	"Pace": {
		"Your pacing is perfect for this context.",
		"Good pace. Vary sentence length to keep it lively.",
		"Try to slow down and break long sentences up for better comprehension.",
	},
	"Tone": {
		"Warm, positive tone throughout.",
		"Tone is steady. A little more warmth would help.",
		"Aim for a more positive and even tone.",
	},
	"Confidence": {
		"You sound confident and decisive.",
		"Mostly confident. Watch for hedging phrases.",
		"Reduce hedges like maybe and I think to sound more certain.",
	},
	"Vocabulary": {
		"Rich, varied vocabulary.",
		"Solid vocabulary with some repetition.",
		"Try to vary your word choice.",
	},
	"Engagement": {
		"You engage your listener well.",
		"Ask a question or address the listener directly to draw them in.",
		"Speak to your audience more directly to keep them engaged.",
	},
	"Structure": {
		"Clear structure with good transitions.",
		"Reasonable structure. Signpost your points more.",
		"Organize your points with transitions like first, next and finally.",
	},
}

const defaultFeedback = "Good effort. Continue practicing to improve."

func feedbackFor(category string, score int) string {
	texts, ok := feedbackText[category]
	if !ok {
		return defaultFeedback
	}
	switch {
	case score >= 85:
		return texts[0]
	case score >= 70:
		return texts[1]
	default:
		return texts[2]
	}
}
