package clips

import (
	"slices"
	"strings"
	"time"
)

// Placeholder is the description of a clip with no keywords.
const Placeholder = "Nothing notable in view"

// Clip is one finalized, bounded-duration unit of indexed video.
type Clip struct {
	ID          string    `json:"id"`
	MediaRef    string    `json:"media_ref"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Keywords    []string  `json:"keywords"`
	Description string    `json:"description"`
	Embedding   []float32 `json:"-"`
	Enriched    bool      `json:"enriched"`
}

// HasEmbedding reports whether the clip can be scored by vector similarity.
func (c Clip) HasEmbedding() bool { return len(c.Embedding) > 0 }

// Duration returns End - Start.
func (c Clip) Duration() time.Duration { return c.End.Sub(c.Start) }

// clone copies the slices so the result shares no memory with c.
func (c Clip) clone() Clip {
	c.Keywords = slices.Clone(c.Keywords)
	c.Embedding = slices.Clone(c.Embedding)
	return c
}

// NormalizeKeywords lower-cases and trims every keyword, drops blanks and
// duplicates, and returns the result sorted.
func NormalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// MergeKeywords returns the normalized union of a and b.
func MergeKeywords(a, b []string) []string {
	all := make([]string, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return NormalizeKeywords(all)
}

// Describe builds "I see a, b and c" from the sorted keyword set, or
// Placeholder when there are none.
func Describe(keywords []string) string {
	return sentence(NormalizeKeywords(keywords))
}

// DescribePrioritized lists fresh keywords first, in the order given, then the
// remaining existing keywords sorted.
func DescribePrioritized(fresh, existing []string) string {
	seen := make(map[string]bool, len(fresh)+len(existing))
	ordered := make([]string, 0, len(fresh)+len(existing))
	for _, k := range fresh {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		ordered = append(ordered, k)
	}
	for _, k := range NormalizeKeywords(existing) {
		if !seen[k] {
			seen[k] = true
			ordered = append(ordered, k)
		}
	}
	return sentence(ordered)
}

func sentence(words []string) string {
	switch len(words) {
	case 0:
		return Placeholder
	case 1:
		return "I see " + words[0]
	}
	return "I see " + strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
}
