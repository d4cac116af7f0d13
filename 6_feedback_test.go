package topicfeed

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedbackFixture(t *testing.T, topicIDs ...string) (*Store, *FeedbackUpdater, UserPrefs) {
	t.Helper()
	store := testStore(t)
	cfg := DefaultTunables()

	now := time.Now().UTC()
	for i, topicID := range topicIDs {
		itemID := fmt.Sprintf("item-%d", i)
		require.NoError(t, store.InsertItem(storeItem(itemID, "bbc-world", now)))
		topic := Topic{
			ID: topicID, Title: "topic " + topicID, Summary: "s", Category: "sports",
			CreatedAt: now, UpdatedAt: now, MemberIDs: []string{itemID},
		}
		require.NoError(t, store.SaveTopics([]Topic{topic}))
	}

	user, err := store.CreateUser("alice", cfg)
	require.NoError(t, err)
	return store, NewFeedbackUpdater(store, cfg), user
}

func TestFeedbackUpThenDownNetsToSingleDown(t *testing.T) {
	store, updater, user := feedbackFixture(t, "topic-1")
	cfg := DefaultTunables()

	require.NoError(t, updater.Apply(user.ID, "topic-1", FeedbackUp))

	topic, err := store.TopicByID("topic-1")
	require.NoError(t, err)
	assert.Equal(t, 1, topic.UpCount)
	assert.Equal(t, 0, topic.DownCount)

	loaded, err := store.UserByName("alice")
	require.NoError(t, err)
	assert.InDelta(t, cfg.TopicVoteStep, loaded.TopicScores["topic-1"], 1e-9)
	assert.InDelta(t, cfg.AffinityStep, loaded.CategoryAffinity["sports"], 1e-9)

	// The opposite vote undoes the upvote before counting the downvote.
	require.NoError(t, updater.Apply(user.ID, "topic-1", FeedbackDown))

	topic, err = store.TopicByID("topic-1")
	require.NoError(t, err)
	assert.Equal(t, 0, topic.UpCount)
	assert.Equal(t, 1, topic.DownCount)

	loaded, err = store.UserByName("alice")
	require.NoError(t, err)
	assert.InDelta(t, -cfg.TopicVoteStep, loaded.TopicScores["topic-1"], 1e-9)
	assert.InDelta(t, -cfg.AffinityStep, loaded.CategoryAffinity["sports"], 1e-9)
}

func TestFeedbackRepeatedVoteIsNoOp(t *testing.T) {
	store, updater, user := feedbackFixture(t, "topic-1")
	cfg := DefaultTunables()

	require.NoError(t, updater.Apply(user.ID, "topic-1", FeedbackUp))
	require.NoError(t, updater.Apply(user.ID, "topic-1", FeedbackUp))
	require.NoError(t, updater.Apply(user.ID, "topic-1", FeedbackUp))

	topic, err := store.TopicByID("topic-1")
	require.NoError(t, err)
	assert.Equal(t, 1, topic.UpCount)
	assert.Equal(t, 0, topic.DownCount)

	loaded, err := store.UserByName("alice")
	require.NoError(t, err)
	assert.InDelta(t, cfg.TopicVoteStep, loaded.TopicScores["topic-1"], 1e-9)
	assert.InDelta(t, cfg.AffinityStep, loaded.CategoryAffinity["sports"], 1e-9)
}

func TestFeedbackAffinityClamped(t *testing.T) {
	// Enough distinct upvoted topics in one category to exceed the clamp.
	cfg := DefaultTunables()
	votes := int(cfg.AffinityClamp/cfg.AffinityStep) + 5

	topicIDs := make([]string, votes)
	for i := range topicIDs {
		topicIDs[i] = fmt.Sprintf("topic-%d", i)
	}
	store, updater, user := feedbackFixture(t, topicIDs...)

	for _, topicID := range topicIDs {
		require.NoError(t, updater.Apply(user.ID, topicID, FeedbackUp))
	}

	loaded, err := store.UserByName("alice")
	require.NoError(t, err)
	assert.InDelta(t, cfg.AffinityClamp, loaded.CategoryAffinity["sports"], 1e-9)
}

func TestFeedbackVotesAreIndependentAcrossUsers(t *testing.T) {
	store, updater, alice := feedbackFixture(t, "topic-1")
	bob, err := store.CreateUser("bob", DefaultTunables())
	require.NoError(t, err)

	require.NoError(t, updater.Apply(alice.ID, "topic-1", FeedbackUp))
	require.NoError(t, updater.Apply(bob.ID, "topic-1", FeedbackUp))

	// Counters aggregate both viewers; per-viewer scores stay separate.
	topic, err := store.TopicByID("topic-1")
	require.NoError(t, err)
	assert.Equal(t, 2, topic.UpCount)

	require.NoError(t, updater.Apply(bob.ID, "topic-1", FeedbackDown))
	topic, err = store.TopicByID("topic-1")
	require.NoError(t, err)
	assert.Equal(t, 1, topic.UpCount)
	assert.Equal(t, 1, topic.DownCount)

	loadedAlice, err := store.UserByName("alice")
	require.NoError(t, err)
	assert.Greater(t, loadedAlice.TopicScores["topic-1"], 0.0)
}

func TestFeedbackUnknownTopic(t *testing.T) {
	_, updater, user := feedbackFixture(t, "topic-1")
	err := updater.Apply(user.ID, "no-such-topic", FeedbackUp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestParseFeedbackDirection(t *testing.T) {
	up, err := ParseFeedbackDirection("up")
	require.NoError(t, err)
	assert.Equal(t, FeedbackUp, up)

	down, err := ParseFeedbackDirection("down")
	require.NoError(t, err)
	assert.Equal(t, FeedbackDown, down)

	_, err = ParseFeedbackDirection("sideways")
	assert.Error(t, err)
}
