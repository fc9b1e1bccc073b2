// Package normalizer suppresses noisy and duplicate transcription fragments
// and cleans the ones it lets through.
//
// A Normalizer holds the per-session windows for one capture session. Final
// fragments are deduplicated against the last accepted final; interim
// fragments are rate limited against the last emitted fragment of either kind
// and dropped when they mostly repeat the buffered interim.
package normalizer

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// MinFinalConfidence is the lowest confidence accepted for a final fragment.
	MinFinalConfidence = 0.5
	// MinFinalLength is the shortest trimmed final fragment accepted.
	MinFinalLength = 2
	// MinInterimConfidence is the lowest confidence accepted for an interim fragment.
	MinInterimConfidence = 0.3
	// MinInterimLength is the shortest trimmed interim fragment accepted.
	MinInterimLength = 3

	// FinalDuplicateSimilarity is the similarity above which a final repeats the last one.
	FinalDuplicateSimilarity = 0.8
	// FinalDuplicateWindow bounds how long after a final a repeat counts as a duplicate.
	FinalDuplicateWindow = 2000 * time.Millisecond
	// InterimMinGap is the minimum spacing between emitted fragments for an interim to pass.
	InterimMinGap = 300 * time.Millisecond
	// InterimDuplicateSimilarity is the similarity to the buffered interim at
	// which a new interim counts as a repeat.
	InterimDuplicateSimilarity = 0.7
)

var (
	whitespaceRun    = regexp.MustCompile(`\s+`)
	trailingComma    = regexp.MustCompile(`,\s*$`)
	trailingEllipsis = regexp.MustCompile(`\w+\.\.\.$`)
	terminalPunct    = regexp.MustCompile(`[.!?]$`)
)

// Fragment is one transcription result.
type Fragment struct {
	Text       string
	IsFinal    bool
	Confidence float64
	// At is the arrival time. Zero means "now" by the normalizer's clock.
	At time.Time
}

// IsValid reports whether a raw fragment passes the confidence and length gate.
func IsValid(text string, confidence float64, isFinal bool) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	n := utf8.RuneCountInString(trimmed)
	if isFinal {
		return confidence >= MinFinalConfidence && n >= MinFinalLength
	}
	return confidence >= MinInterimConfidence && n >= MinInterimLength
}

// Clean collapses whitespace, drops a trailing comma or a trailing word cut
// off with an ellipsis, capitalizes the first letter and terminates the
// sentence with a period when it has no terminal punctuation.
func Clean(text string) string {
	cleaned := strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	cleaned = trailingComma.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(trailingEllipsis.ReplaceAllString(cleaned, ""))
	if cleaned == "" {
		return ""
	}

	r, size := utf8.DecodeRuneInString(cleaned)
	cleaned = string(unicode.ToUpper(r)) + cleaned[size:]

	if !terminalPunct.MatchString(cleaned) {
		cleaned += "."
	}
	return cleaned
}

// Similarity is the number of shared lowercase tokens divided by the larger
// token count. Tokens are matched as a multiset, so the measure is symmetric.
func Similarity(a, b string) float64 {
	ta := strings.Fields(strings.ToLower(a))
	tb := strings.Fields(strings.ToLower(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	counts := make(map[string]int, len(ta))
	for _, t := range ta {
		counts[t]++
	}
	shared := 0
	for _, t := range tb {
		if counts[t] > 0 {
			counts[t]--
			shared++
		}
	}

	larger := len(ta)
	if len(tb) > larger {
		larger = len(tb)
	}
	return float64(shared) / float64(larger)
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the time source used for fragments without an arrival time.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// Normalizer applies the validity gate, cleaning and dedup windows for one
// session. It is safe for concurrent use.
type Normalizer struct {
	mu  sync.Mutex
	now func() time.Time

	lastFinal   string
	lastFinalAt time.Time
	interim     string
	lastEmitAt  time.Time
	emitted     bool
}

// New returns a Normalizer with empty windows.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Accept runs a raw fragment through the pipeline. It returns the cleaned
// fragment and true when the fragment should be surfaced.
func (n *Normalizer) Accept(f Fragment) (Fragment, bool) {
	if !IsValid(f.Text, f.Confidence, f.IsFinal) {
		return Fragment{}, false
	}

	cleaned := Clean(f.Text)
	if cleaned == "" {
		return Fragment{}, false
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	at := f.At
	if at.IsZero() {
		at = n.now()
	}

	if f.IsFinal {
		if n.lastFinal != "" &&
			Similarity(cleaned, n.lastFinal) > FinalDuplicateSimilarity &&
			at.Sub(n.lastFinalAt) < FinalDuplicateWindow {
			return Fragment{}, false
		}
		n.lastFinal = cleaned
		n.lastFinalAt = at
		n.interim = ""
		n.markEmitted(at)
		return Fragment{Text: cleaned, IsFinal: true, Confidence: f.Confidence, At: at}, true
	}

	if n.emitted && at.Sub(n.lastEmitAt) < InterimMinGap {
		return Fragment{}, false
	}
	if Similarity(cleaned, n.interim) >= InterimDuplicateSimilarity {
		return Fragment{}, false
	}
	n.interim = cleaned
	n.markEmitted(at)
	return Fragment{Text: cleaned, IsFinal: false, Confidence: f.Confidence, At: at}, true
}

func (n *Normalizer) markEmitted(at time.Time) {
	n.lastEmitAt = at
	n.emitted = true
}

// Interim returns the currently buffered interim text.
func (n *Normalizer) Interim() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.interim
}

// Reset clears every window.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastFinal = ""
	n.lastFinalAt = time.Time{}
	n.interim = ""
	n.lastEmitAt = time.Time{}
	n.emitted = false
}
