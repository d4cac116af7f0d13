package topicfeed

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func storeItem(id, source string, publishedAt time.Time) NewsItem {
	return NewsItem{
		ID:          id,
		URL:         "https://example.org/" + id,
		Title:       "item " + id,
		Body:        "body of " + id,
		Source:      source,
		PublishedAt: publishedAt,
	}
}

func TestStoreInsertAndDedup(t *testing.T) {
	store := testStore(t)
	item := storeItem("a", "bbc-world", time.Now())

	exists, err := store.ItemExists(item.URL)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.InsertItem(item))

	exists, err = store.ItemExists(item.URL)
	require.NoError(t, err)
	assert.True(t, exists)

	// Same URL under a different ID violates the unique constraint.
	dup := item
	dup.ID = "a2"
	assert.Error(t, store.InsertItem(dup))
}

func TestStoreEmbeddingRoundTrip(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.InsertItem(storeItem("a", "bbc-world", time.Now())))
	require.NoError(t, store.InsertItem(storeItem("b", "bbc-world", time.Now())))

	missing, err := store.ItemsMissingEmbedding()
	require.NoError(t, err)
	require.Len(t, missing, 2)

	embedding := []float64{0.1, -0.2, 0.3}
	require.NoError(t, store.SaveEmbedding("a", embedding))

	missing, err = store.ItemsMissingEmbedding()
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "b", missing[0].ID)

	items, err := store.ItemsByIDs([]string{"a"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, embedding, items[0].Embedding)
}

func TestStoreItemsInWindow(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.InsertItem(storeItem("fresh", "bbc-world", now.Add(-time.Hour))))
	require.NoError(t, store.InsertItem(storeItem("other", "hacker-news", now.Add(-2*time.Hour))))
	require.NoError(t, store.InsertItem(storeItem("stale", "bbc-world", now.Add(-48*time.Hour))))

	items, err := store.ItemsInWindow(now.Add(-24*time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// Most recent first.
	assert.Equal(t, "fresh", items[0].ID)
	assert.Equal(t, "other", items[1].ID)

	items, err = store.ItemsInWindow(now.Add(-24*time.Hour), []string{"bbc-world"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "fresh", items[0].ID)
}

func TestStoreSaveTopicsRetiresOrphans(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.InsertItem(storeItem("a", "bbc-world", now)))

	first := Topic{
		ID: "topic-1", Title: "first run", Summary: "s", Category: "world",
		CreatedAt: now, UpdatedAt: now, MemberIDs: []string{"a"},
	}
	require.NoError(t, store.SaveTopics([]Topic{first}))

	active, err := store.ActiveTopics()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"a"}, active[0].MemberIDs)

	// Reprocessing claims the member for a fresh topic; the old one retires.
	second := Topic{
		ID: "topic-2", Title: "second run", Summary: "s", Category: "world",
		CreatedAt: now.Add(time.Minute), UpdatedAt: now.Add(time.Minute), MemberIDs: []string{"a"},
	}
	require.NoError(t, store.SaveTopics([]Topic{second}))

	active, err = store.ActiveTopics()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "topic-2", active[0].ID)

	// Retired topics stay loadable for vote history.
	retired, err := store.TopicByID("topic-1")
	require.NoError(t, err)
	assert.Equal(t, "first run", retired.Title)
	assert.Empty(t, retired.MemberIDs)
}

func TestStoreTopicMembersOrderedByRecency(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.InsertItem(storeItem("old", "bbc-world", now.Add(-2*time.Hour))))
	require.NoError(t, store.InsertItem(storeItem("new", "bbc-world", now)))

	topic := Topic{
		ID: "topic-1", Title: "t", Summary: "s", Category: "world",
		CreatedAt: now, UpdatedAt: now, MemberIDs: []string{"old", "new"},
	}
	require.NoError(t, store.SaveTopics([]Topic{topic}))

	loaded, err := store.TopicByID("topic-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, loaded.MemberIDs)
}

func TestStoreCreateAndLoadUser(t *testing.T) {
	store := testStore(t)
	cfg := DefaultTunables()

	created, err := store.CreateUser("alice", cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	loaded, err := store.UserByName("alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, cfg.Categories, loaded.Categories)
	assert.Equal(t, cfg.DefaultTimeframe, loaded.Timeframe)
	assert.Empty(t, loaded.CategoryAffinity)
	assert.Empty(t, loaded.TopicScores)

	_, err = store.UserByName("nobody")
	assert.Error(t, err)

	// Duplicate names are rejected.
	_, err = store.CreateUser("alice", cfg)
	assert.Error(t, err)
}
