package topicfeed

import (
	"fmt"
	"slices"
	"time"

	"github.com/sosodev/duration"
)

// Config holds all environment variables
var Config struct {
	OpenAIAPIKey   string
	DatabasePath   string
	VectorIndexURL string
	MockAI         bool
}

// Tunables groups every knob the pipeline engines accept. Engines receive a
// Tunables value at construction instead of reading package state, so each
// engine can be exercised with arbitrary parameter sets.
type Tunables struct {
	// Clustering
	SimilarityThreshold float64 // cosine similarity, inclusive
	MinClusterSize      int
	MaxClusterSize      int
	EmbeddingDim        int

	// Ranking
	DiscussionWeight float64 // w1
	RecencyWeight    float64 // w2
	FeedbackWeight   float64 // w3
	RecencyHalfLife  time.Duration

	// Feedback
	AffinityClamp float64 // |categoryAffinity| never exceeds this
	TopicVoteStep float64
	AffinityStep  float64

	// Workers and external calls
	EmbedWorkers      int
	CategorizeWorkers int
	GeneratorTimeout  time.Duration

	DefaultTimeframe string
	Categories       []string
	DefaultCategory  string
}

// DefaultTunables returns the standard parameter set.
func DefaultTunables() Tunables {
	return Tunables{
		SimilarityThreshold: 0.65,
		MinClusterSize:      1,
		MaxClusterSize:      20,
		EmbeddingDim:        384,

		DiscussionWeight: 1.0,
		RecencyWeight:    2.0,
		FeedbackWeight:   1.0,
		RecencyHalfLife:  24 * time.Hour,

		AffinityClamp: 0.5,
		TopicVoteStep: 1.0,
		AffinityStep:  0.05,

		EmbedWorkers:      4,
		CategorizeWorkers: 3,
		GeneratorTimeout:  30 * time.Second,

		DefaultTimeframe: "PT24H",
		Categories: []string{
			"politics", "business", "technology", "science",
			"health", "sports", "entertainment", "world", "general",
		},
		DefaultCategory: "general",
	}
}

// ValidCategory reports whether c belongs to the configured category set.
func (t Tunables) ValidCategory(c string) bool {
	return slices.Contains(t.Categories, c)
}

// ParseTimeframe parses a recency window. Both Go duration strings ("24h",
// "168h") and ISO-8601 durations ("PT24H", "P7D", "P30D") are accepted.
func ParseTimeframe(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("timeframe must be positive: %s", s)
		}
		return d, nil
	}

	iso, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q: %w", s, err)
	}
	d := iso.ToTimeDuration()
	if d <= 0 {
		return 0, fmt.Errorf("timeframe must be positive: %s", s)
	}
	return d, nil
}
