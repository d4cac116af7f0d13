package topicfeed

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/spf13/cobra"
)

// FeedbackDirection is a viewer's vote on a topic.
type FeedbackDirection int

const (
	FeedbackUp   FeedbackDirection = 1
	FeedbackDown FeedbackDirection = -1
)

// ParseFeedbackDirection maps the CLI/API vote strings.
func ParseFeedbackDirection(s string) (FeedbackDirection, error) {
	switch s {
	case "up":
		return FeedbackUp, nil
	case "down":
		return FeedbackDown, nil
	}
	return 0, fmt.Errorf("invalid feedback direction %q (want up or down)", s)
}

// FeedbackUpdater applies like/dislike signals to topic counters and viewer
// preference state. Every vote is applied as a delta relative to the
// viewer's last stored direction for the topic, so casting the opposite
// vote undoes the previous one instead of double-counting, and repeating
// the same vote is a no-op.
type FeedbackUpdater struct {
	store *Store
	cfg   Tunables

	// userLocks serializes votes per viewer; topic counters are updated with
	// relative SQL so concurrent viewers never lose increments.
	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

func NewFeedbackUpdater(store *Store, cfg Tunables) *FeedbackUpdater {
	return &FeedbackUpdater{
		store:     store,
		cfg:       cfg,
		userLocks: make(map[string]*sync.Mutex),
	}
}

func (u *FeedbackUpdater) userLock(userID string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	lock, ok := u.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		u.userLocks[userID] = lock
	}
	return lock
}

// Apply records one vote from a viewer on a topic.
func (u *FeedbackUpdater) Apply(userID, topicID string, direction FeedbackDirection) error {
	lock := u.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := u.store.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var category string
	err = tx.QueryRow("SELECT category FROM topics WHERE id = ?", topicID).Scan(&category)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("topic %s not found", topicID)
		}
		return err
	}

	previous := 0
	err = tx.QueryRow("SELECT direction FROM topic_votes WHERE user_id = ? AND topic_id = ?",
		userID, topicID).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	delta := int(direction) - previous
	now := time.Now().UTC()

	if delta != 0 {
		upDelta := boolToInt(direction == FeedbackUp) - boolToInt(previous == int(FeedbackUp))
		downDelta := boolToInt(direction == FeedbackDown) - boolToInt(previous == int(FeedbackDown))
		_, err = tx.Exec(`
		UPDATE topics SET up_count = up_count + ?, down_count = down_count + ?, updated_at = ?
		WHERE id = ?`, upDelta, downDelta, now, topicID)
		if err != nil {
			return fmt.Errorf("failed to update topic counters: %w", err)
		}

		if err := u.nudgeAffinity(tx, userID, category, delta); err != nil {
			return err
		}
	}

	scoreDelta := u.cfg.TopicVoteStep * float64(delta)
	_, err = tx.Exec(`
	INSERT INTO topic_votes (user_id, topic_id, direction, score, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, topic_id) DO UPDATE SET
		direction = excluded.direction,
		score = score + ?,
		updated_at = excluded.updated_at`,
		userID, topicID, int(direction), scoreDelta, now, scoreDelta)
	if err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}

	return tx.Commit()
}

// nudgeAffinity moves the viewer's learned affinity for a category by a
// small step in the vote direction, clamped to the configured bound.
func (u *FeedbackUpdater) nudgeAffinity(tx *sql.Tx, userID, category string, delta int) error {
	var affinityJSON string
	err := tx.QueryRow("SELECT affinity_json FROM users WHERE id = ?", userID).Scan(&affinityJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("user %s not found", userID)
		}
		return err
	}

	affinity := map[string]float64{}
	if err := json.Unmarshal([]byte(affinityJSON), &affinity); err != nil {
		return fmt.Errorf("failed to parse affinity: %w", err)
	}

	affinity[category] = clamp(affinity[category]+u.cfg.AffinityStep*float64(delta), u.cfg.AffinityClamp)

	updated, err := json.Marshal(affinity)
	if err != nil {
		return fmt.Errorf("failed to marshal affinity: %w", err)
	}
	if _, err := tx.Exec("UPDATE users SET affinity_json = ? WHERE id = ?", string(updated), userID); err != nil {
		return fmt.Errorf("failed to save affinity: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var FeedbackCmd = &cobra.Command{
	Use:   "feedback [user] [topic-id] [up|down]",
	Short: "Apply a like/dislike vote to a topic",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		direction, err := ParseFeedbackDirection(args[2])
		if err != nil {
			log.Printf("%v", err)
			return
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

		updater := NewFeedbackUpdater(store, DefaultTunables())
		if err := updater.Apply(user.ID, args[1], direction); err != nil {
			log.Printf("Failed to apply feedback: %v", err)
			return
		}
		log.Printf("Recorded %s vote from %s on topic %s", args[2], user.Name, args[1])
	},
}
