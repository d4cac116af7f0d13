package topicfeed

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// NewsItem represents a single fetched article. URL is the dedup key; the
// embedding stays nil until the embed stage fills it and TopicID stays empty
// until clustering assigns the item.
type NewsItem struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Embedding   []float64 `json:"embedding,omitempty"`
	TopicID     string    `json:"topic_id,omitempty"`
}

// Topic represents a group of related news items with AI-generated
// descriptive fields and aggregate feedback counters.
type Topic struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	UpCount   int       `json:"up_count"`
	DownCount int       `json:"down_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	MemberIDs []string  `json:"member_ids"`
}

// Store wraps the SQLite database holding items, topics, and viewer state.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS news_items (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		source TEXT NOT NULL,
		published_at DATETIME NOT NULL,
		embedding_json TEXT,
		topic_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_items_published ON news_items(published_at);
	CREATE INDEX IF NOT EXISTS idx_items_topic ON news_items(topic_id);

	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		summary TEXT NOT NULL,
		category TEXT NOT NULL,
		tags_json TEXT NOT NULL,
		up_count INTEGER NOT NULL DEFAULT 0,
		down_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		retired_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_topics_category ON topics(category);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		categories_json TEXT NOT NULL,
		sources_json TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		affinity_json TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS topic_votes (
		user_id TEXT NOT NULL,
		topic_id TEXT NOT NULL,
		direction INTEGER NOT NULL,
		score REAL NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, topic_id)
	);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ItemExists checks whether an item with the given URL is already stored.
func (s *Store) ItemExists(url string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM news_items WHERE url = ?", url).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// InsertItem stores a new item. Callers are expected to have checked
// ItemExists first; a duplicate URL is returned as an error either way.
func (s *Store) InsertItem(item NewsItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
	INSERT INTO news_items (id, url, title, body, source, published_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.URL, item.Title, item.Body, item.Source, item.PublishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert item %s: %w", item.URL, err)
	}
	return nil
}

// SaveEmbedding stores the embedding vector for an item as a JSON column.
func (s *Store) SaveEmbedding(itemID string, embedding []float64) error {
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	_, err = s.db.Exec("UPDATE news_items SET embedding_json = ? WHERE id = ?",
		string(embeddingJSON), itemID)
	if err != nil {
		return fmt.Errorf("failed to save embedding for %s: %w", itemID, err)
	}
	return nil
}

// ItemsMissingEmbedding returns items without an embedding, oldest first.
func (s *Store) ItemsMissingEmbedding() ([]NewsItem, error) {
	return s.queryItems(`
	SELECT id, url, title, body, source, published_at, embedding_json, topic_id
	FROM news_items WHERE embedding_json IS NULL
	ORDER BY published_at ASC`)
}

// ItemsInWindow returns all items published at or after since. If sources is
// non-empty the result is limited to those source names.
func (s *Store) ItemsInWindow(since time.Time, sources []string) ([]NewsItem, error) {
	query := `
	SELECT id, url, title, body, source, published_at, embedding_json, topic_id
	FROM news_items WHERE published_at >= ?`
	args := []any{since.UTC()}
	if len(sources) > 0 {
		query += " AND source IN (?" + repeatParam(len(sources)-1) + ")"
		for _, src := range sources {
			args = append(args, src)
		}
	}
	query += " ORDER BY published_at DESC, id ASC"
	return s.queryItems(query, args...)
}

func repeatParam(n int) string {
	out := ""
	for range n {
		out += ", ?"
	}
	return out
}

func (s *Store) queryItems(query string, args ...any) ([]NewsItem, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []NewsItem
	for rows.Next() {
		var item NewsItem
		var embeddingJSON, topicID sql.NullString
		err := rows.Scan(&item.ID, &item.URL, &item.Title, &item.Body,
			&item.Source, &item.PublishedAt, &embeddingJSON, &topicID)
		if err != nil {
			return nil, err
		}
		if embeddingJSON.Valid {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &item.Embedding); err != nil {
				return nil, fmt.Errorf("failed to parse embedding for %s: %w", item.ID, err)
			}
		}
		item.TopicID = topicID.String
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveTopics persists the topics of a processing run in one transaction:
// new topic rows are inserted, their members are reassigned, and any topic
// left without members is retired. Reprocessing therefore always creates
// fresh topics instead of merging into old ones.
func (s *Store) SaveTopics(topics []Topic) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, topic := range topics {
		tagsJSON, err := json.Marshal(topic.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		_, err = tx.Exec(`
		INSERT INTO topics (id, title, summary, category, tags_json, up_count, down_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			topic.ID, topic.Title, topic.Summary, topic.Category, string(tagsJSON),
			topic.UpCount, topic.DownCount, topic.CreatedAt.UTC(), topic.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert topic %s: %w", topic.ID, err)
		}
		for _, memberID := range topic.MemberIDs {
			if _, err := tx.Exec("UPDATE news_items SET topic_id = ? WHERE id = ?", topic.ID, memberID); err != nil {
				return fmt.Errorf("failed to assign item %s: %w", memberID, err)
			}
		}
	}

	// Topics that lost every member to this run are no longer current.
	_, err = tx.Exec(`
	UPDATE topics SET retired_at = ?
	WHERE retired_at IS NULL
	  AND id NOT IN (SELECT DISTINCT topic_id FROM news_items WHERE topic_id IS NOT NULL)`, now)
	if err != nil {
		return fmt.Errorf("failed to retire orphaned topics: %w", err)
	}

	return tx.Commit()
}

// ActiveTopics returns all non-retired topics with their member IDs ordered
// by member recency.
func (s *Store) ActiveTopics() ([]Topic, error) {
	rows, err := s.db.Query(`
	SELECT id, title, summary, category, tags_json, up_count, down_count, created_at, updated_at
	FROM topics WHERE retired_at IS NULL
	ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range topics {
		members, err := s.topicMembers(topics[i].ID)
		if err != nil {
			return nil, err
		}
		topics[i].MemberIDs = members
	}
	return topics, nil
}

// TopicByID loads a single topic regardless of retirement state.
func (s *Store) TopicByID(id string) (Topic, error) {
	row := s.db.QueryRow(`
	SELECT id, title, summary, category, tags_json, up_count, down_count, created_at, updated_at
	FROM topics WHERE id = ?`, id)
	topic, err := scanTopic(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Topic{}, fmt.Errorf("topic %s not found", id)
		}
		return Topic{}, err
	}
	topic.MemberIDs, err = s.topicMembers(id)
	if err != nil {
		return Topic{}, err
	}
	return topic, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (Topic, error) {
	var topic Topic
	var tagsJSON string
	err := row.Scan(&topic.ID, &topic.Title, &topic.Summary, &topic.Category,
		&tagsJSON, &topic.UpCount, &topic.DownCount, &topic.CreatedAt, &topic.UpdatedAt)
	if err != nil {
		return Topic{}, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &topic.Tags); err != nil {
		return Topic{}, fmt.Errorf("failed to parse tags for %s: %w", topic.ID, err)
	}
	return topic, nil
}

// ItemsByIDs loads the given items ordered by recency.
func (s *Store) ItemsByIDs(ids []string) ([]NewsItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
	SELECT id, url, title, body, source, published_at, embedding_json, topic_id
	FROM news_items WHERE id IN (?` + repeatParam(len(ids)-1) + `)
	ORDER BY published_at DESC, id ASC`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryItems(query, args...)
}

func (s *Store) topicMembers(topicID string) ([]string, error) {
	rows, err := s.db.Query(`
	SELECT id FROM news_items WHERE topic_id = ?
	ORDER BY published_at DESC, id ASC`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
