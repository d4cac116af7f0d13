package topicfeed

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

// RankEngine orders topics for a viewer by discussion volume, recency, and
// the viewer's preference state. It is pure: it never mutates topics or
// viewer state, so concurrent viewers can rank the same topic set without
// locking.
type RankEngine struct {
	cfg Tunables
}

func NewRankEngine(cfg Tunables) *RankEngine {
	return &RankEngine{cfg: cfg}
}

// Score computes a topic's final score for a viewer:
//
//	discussion = log(1 + members) + upvotes - downvotes
//	recency    = exp(-ageHours / halfLifeHours)
//	final      = (discussion*w1 + recency*w2) * (1 + affinity) + viewerVotes*w3
func (e *RankEngine) Score(topic Topic, viewer UserPrefs, now time.Time) float64 {
	discussion := math.Log(1+float64(len(topic.MemberIDs))) +
		float64(topic.UpCount) - float64(topic.DownCount)

	ageHours := now.Sub(topic.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := math.Exp(-ageHours / e.cfg.RecencyHalfLife.Hours())

	affinity := clamp(viewer.CategoryAffinity[topic.Category], e.cfg.AffinityClamp)
	adjustment := viewer.TopicScores[topic.ID]

	return (discussion*e.cfg.DiscussionWeight+recency*e.cfg.RecencyWeight)*(1+affinity) +
		adjustment*e.cfg.FeedbackWeight
}

// Rank filters topics to the given category (empty means all), sorts by
// final score descending with ties broken by more recent creation, and
// truncates to limit (non-positive means unbounded).
func (e *RankEngine) Rank(topics []Topic, viewer UserPrefs, category string, limit int, now time.Time) []Topic {
	ranked := make([]Topic, 0, len(topics))
	for _, topic := range topics {
		if category != "" && topic.Category != category {
			continue
		}
		ranked = append(ranked, topic)
	}

	scores := make(map[string]float64, len(ranked))
	for _, topic := range ranked {
		scores[topic.ID] = e.Score(topic, viewer, now)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i].ID] != scores[ranked[j].ID] {
			return scores[ranked[i].ID] > scores[ranked[j].ID]
		}
		if !ranked[i].CreatedAt.Equal(ranked[j].CreatedAt) {
			return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
		}
		return ranked[i].ID < ranked[j].ID
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func clamp(value, bound float64) float64 {
	if value > bound {
		return bound
	}
	if value < -bound {
		return -bound
	}
	return value
}

var rankLimit int

var RankTopicsCmd = &cobra.Command{
	Use:   "rank [user] [category]",
	Short: "Show a viewer's ranked topics",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := DefaultTunables()
		category := ""
		if len(args) > 1 {
			category = args[1]
			if !cfg.ValidCategory(category) {
				log.Printf("Unknown category %q", category)
				return
			}
		}

		store, err := OpenStore(Config.DatabasePath)
		if err != nil {
			log.Printf("Failed to open store: %v", err)
			return
		}
		defer store.Close()

		user, err := store.UserByName(args[0])
		if err != nil {
			log.Printf("Failed to load user: %v", err)
			return
		}
		topics, err := store.ActiveTopics()
		if err != nil {
			log.Printf("Failed to load topics: %v", err)
			return
		}

		engine := NewRankEngine(cfg)
		now := time.Now()
		ranked := engine.Rank(topics, user, category, rankLimit, now)

		if len(ranked) == 0 {
			fmt.Println("No topics to show.")
			return
		}
		for i, topic := range ranked {
			fmt.Printf("%2d. [%-13s] %-60s  score=%.3f items=%d +%d/-%d\n",
				i+1, topic.Category, truncate(topic.Title, 60),
				engine.Score(topic, user, now), len(topic.MemberIDs),
				topic.UpCount, topic.DownCount)
		}
	},
}

func init() {
	RankTopicsCmd.Flags().IntVar(&rankLimit, "limit", 20, "maximum number of topics to show")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
