package topicfeed

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// UserPrefs is a viewer's preference state: selected categories and sources,
// default timeframe, learned per-category affinity, and accumulated per-topic
// vote scores. The ranking engine treats it as read-only; only the feedback
// updater and explicit preference edits mutate it.
type UserPrefs struct {
	ID         string
	Name       string
	Categories []string
	Sources    []string
	Timeframe  string

	// CategoryAffinity values are clamped to [-AffinityClamp, +AffinityClamp].
	CategoryAffinity map[string]float64

	// TopicScores holds this viewer's accumulated per-topic feedback signal.
	TopicScores map[string]float64
}

// SelectsCategory reports whether the viewer's category selection includes c.
// An empty selection means no restriction.
func (u UserPrefs) SelectsCategory(c string) bool {
	return len(u.Categories) == 0 || slices.Contains(u.Categories, c)
}

// CreateUser provisions a viewer with default preferences.
func (s *Store) CreateUser(name string, cfg Tunables) (UserPrefs, error) {
	user := UserPrefs{
		ID:               uuid.NewString(),
		Name:             name,
		Categories:       cfg.Categories,
		Sources:          nil, // all sources
		Timeframe:        cfg.DefaultTimeframe,
		CategoryAffinity: map[string]float64{},
		TopicScores:      map[string]float64{},
	}

	categoriesJSON, _ := json.Marshal(user.Categories)
	sourcesJSON, _ := json.Marshal(user.Sources)
	affinityJSON, _ := json.Marshal(user.CategoryAffinity)

	_, err := s.db.Exec(`
	INSERT INTO users (id, name, categories_json, sources_json, timeframe, affinity_json)
	VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, string(categoriesJSON), string(sourcesJSON), user.Timeframe, string(affinityJSON))
	if err != nil {
		return UserPrefs{}, fmt.Errorf("failed to create user %s: %w", name, err)
	}
	return user, nil
}

// UserByName loads a viewer and their accumulated vote scores.
func (s *Store) UserByName(name string) (UserPrefs, error) {
	var user UserPrefs
	var categoriesJSON, sourcesJSON, affinityJSON string
	err := s.db.QueryRow(`
	SELECT id, name, categories_json, sources_json, timeframe, affinity_json
	FROM users WHERE name = ?`, name).Scan(
		&user.ID, &user.Name, &categoriesJSON, &sourcesJSON, &user.Timeframe, &affinityJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return UserPrefs{}, fmt.Errorf("user %s not found", name)
		}
		return UserPrefs{}, err
	}

	if err := json.Unmarshal([]byte(categoriesJSON), &user.Categories); err != nil {
		return UserPrefs{}, fmt.Errorf("failed to parse categories for %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &user.Sources); err != nil {
		return UserPrefs{}, fmt.Errorf("failed to parse sources for %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(affinityJSON), &user.CategoryAffinity); err != nil {
		return UserPrefs{}, fmt.Errorf("failed to parse affinity for %s: %w", name, err)
	}
	if user.CategoryAffinity == nil {
		user.CategoryAffinity = map[string]float64{}
	}

	user.TopicScores = map[string]float64{}
	rows, err := s.db.Query("SELECT topic_id, score FROM topic_votes WHERE user_id = ?", user.ID)
	if err != nil {
		return UserPrefs{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var topicID string
		var score float64
		if err := rows.Scan(&topicID, &score); err != nil {
			return UserPrefs{}, err
		}
		user.TopicScores[topicID] = score
	}
	return user, rows.Err()
}

var AddUserCmd = &cobra.Command{
	Use:   "adduser [name]",
	Short: "Create a viewer with default preferences",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := OpenStore(Config.DatabasePath)
		if err != nil {
			log.Printf("Failed to open store: %v", err)
			return
		}
		defer store.Close()

		user, err := store.CreateUser(args[0], DefaultTunables())
		if err != nil {
			log.Printf("Failed to create user: %v", err)
			return
		}
		log.Printf("Created user %s (%s)", user.Name, user.ID)
	},
}
