package topicfeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rankTopic(id, category string, members int, createdAt time.Time) Topic {
	ids := make([]string, members)
	for i := range ids {
		ids[i] = id + "-item"
	}
	return Topic{
		ID:        id,
		Title:     "topic " + id,
		Category:  category,
		CreatedAt: createdAt,
		MemberIDs: ids,
	}
}

func rankViewer() UserPrefs {
	return UserPrefs{
		ID:               "viewer",
		Name:             "viewer",
		CategoryAffinity: map[string]float64{},
		TopicScores:      map[string]float64{},
	}
}

func TestRankBiggerFresherTopicWins(t *testing.T) {
	now := time.Now()
	big := rankTopic("big", "technology", 10, now.Add(-time.Hour))
	small := rankTopic("small", "technology", 2, now.Add(-48*time.Hour))

	engine := NewRankEngine(DefaultTunables())
	ranked := engine.Rank([]Topic{small, big}, rankViewer(), "", 0, now)

	require.Len(t, ranked, 2)
	assert.Equal(t, "big", ranked[0].ID)
}

func TestRankAffinityBoostsPreferredCategory(t *testing.T) {
	now := time.Now()
	sports := rankTopic("sports", "sports", 5, now.Add(-time.Hour))
	politics := rankTopic("politics", "politics", 5, now.Add(-time.Hour))

	engine := NewRankEngine(DefaultTunables())
	viewer := rankViewer()

	// Identical topics except category: affinity must break the symmetry.
	viewer.CategoryAffinity["sports"] = 0.3
	ranked := engine.Rank([]Topic{politics, sports}, viewer, "", 0, now)
	require.Len(t, ranked, 2)
	assert.Equal(t, "sports", ranked[0].ID)

	viewer.CategoryAffinity["sports"] = -0.3
	ranked = engine.Rank([]Topic{politics, sports}, viewer, "", 0, now)
	assert.Equal(t, "politics", ranked[0].ID)
}

func TestRankAffinityClamped(t *testing.T) {
	now := time.Now()
	topic := rankTopic("t", "sports", 5, now.Add(-time.Hour))

	cfg := DefaultTunables()
	engine := NewRankEngine(cfg)

	atClamp := rankViewer()
	atClamp.CategoryAffinity["sports"] = cfg.AffinityClamp
	beyondClamp := rankViewer()
	beyondClamp.CategoryAffinity["sports"] = cfg.AffinityClamp * 100

	assert.Equal(t, engine.Score(topic, atClamp, now), engine.Score(topic, beyondClamp, now))
}

func TestRankViewerVotesShiftScore(t *testing.T) {
	now := time.Now()
	topic := rankTopic("t", "world", 5, now.Add(-time.Hour))

	cfg := DefaultTunables()
	engine := NewRankEngine(cfg)

	neutral := rankViewer()
	upvoted := rankViewer()
	upvoted.TopicScores["t"] = cfg.TopicVoteStep
	downvoted := rankViewer()
	downvoted.TopicScores["t"] = -cfg.TopicVoteStep

	base := engine.Score(topic, neutral, now)
	assert.InDelta(t, base+cfg.TopicVoteStep*cfg.FeedbackWeight, engine.Score(topic, upvoted, now), 1e-9)
	assert.InDelta(t, base-cfg.TopicVoteStep*cfg.FeedbackWeight, engine.Score(topic, downvoted, now), 1e-9)
}

func TestRankIsPure(t *testing.T) {
	now := time.Now()
	topics := []Topic{
		rankTopic("a", "world", 3, now.Add(-time.Hour)),
		rankTopic("b", "sports", 7, now.Add(-2*time.Hour)),
		rankTopic("c", "science", 1, now.Add(-3*time.Hour)),
	}
	viewer := rankViewer()
	viewer.CategoryAffinity["sports"] = 0.2

	engine := NewRankEngine(DefaultTunables())
	first := engine.Rank(topics, viewer, "", 0, now)
	second := engine.Rank(topics, viewer, "", 0, now)

	assert.Equal(t, first, second)
	// Input order must not leak into the result.
	assert.Equal(t, "a", topics[0].ID)
	assert.Equal(t, map[string]float64{"sports": 0.2}, viewer.CategoryAffinity)
}

func TestRankTieBrokenByRecencyThenID(t *testing.T) {
	now := time.Now()
	older := rankTopic("older", "world", 4, now.Add(-2*time.Hour))
	newer := rankTopic("newer", "world", 4, now.Add(-2*time.Hour).Add(time.Minute))

	// Same member count and category; newer creation wins the near-tie.
	engine := NewRankEngine(DefaultTunables())
	ranked := engine.Rank([]Topic{older, newer}, rankViewer(), "", 0, now)
	require.Len(t, ranked, 2)
	assert.Equal(t, "newer", ranked[0].ID)

	// Exact tie on score and timestamp falls back to ascending ID.
	twinA := rankTopic("aa", "world", 4, now.Add(-time.Hour))
	twinB := rankTopic("bb", "world", 4, now.Add(-time.Hour))
	ranked = engine.Rank([]Topic{twinB, twinA}, rankViewer(), "", 0, now)
	assert.Equal(t, "aa", ranked[0].ID)
}

func TestRankCategoryFilterAndLimit(t *testing.T) {
	now := time.Now()
	topics := []Topic{
		rankTopic("w1", "world", 9, now),
		rankTopic("s1", "sports", 5, now),
		rankTopic("s2", "sports", 3, now),
		rankTopic("s3", "sports", 1, now),
	}

	engine := NewRankEngine(DefaultTunables())
	ranked := engine.Rank(topics, rankViewer(), "sports", 2, now)

	require.Len(t, ranked, 2)
	assert.Equal(t, "s1", ranked[0].ID)
	assert.Equal(t, "s2", ranked[1].ID)
}
