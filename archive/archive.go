// Package archive stores reconstructed conversations in SQLite so they can be
// reloaded and expanded later without refetching what is already known.
package archive

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go-treeverse"
	"github.com/anatolykoptev/go-treeverse/tree"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when no conversation is stored for a root id.
var ErrNotFound = errors.New("archive: conversation not found")

// Tweet is one archived node. Rows are keyed by conversation root and tweet id,
// so a tweet may belong to several saved conversations.
type Tweet struct {
	RootID      string `gorm:"primaryKey"`
	ID          string `gorm:"primaryKey"`
	ParentID    string
	Position    int `gorm:"index"`
	Handle      string
	DisplayName string
	AvatarURL   string
	BodyHTML    string
	BodyText    string
	TweetedAt   time.Time
	Replies     int
	Images      []string `gorm:"serializer:json"`
	RTL         bool
	Cursor      string
	Exhausted   bool
	SavedAt     time.Time
}

// Store persists conversation trees.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.AutoMigrate(&Tweet{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveTree upserts every node of t along with its pagination state.
func (s *Store) SaveTree(t *tree.Tree) error {
	now := time.Now()
	nodes := t.Traverse()
	rows := make([]Tweet, 0, len(nodes))
	for i, n := range nodes {
		tw := n.Tweet
		rows = append(rows, Tweet{
			RootID:      t.Root.ID(),
			ID:          tw.ID,
			ParentID:    n.ParentID,
			Position:    i,
			Handle:      tw.Handle,
			DisplayName: tw.DisplayName,
			AvatarURL:   tw.AvatarURL,
			BodyHTML:    tw.BodyHTML,
			BodyText:    tw.BodyText,
			TweetedAt:   tw.CreatedAt,
			Replies:     tw.Replies,
			Images:      tw.Images,
			RTL:         tw.RTL,
			Cursor:      n.Cursor(),
			Exhausted:   n.Exhausted(),
			SavedAt:     now,
		})
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "root_id"}, {Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(&rows, 200).Error
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", t.Root.ID(), err)
	}
	slog.Debug("conversation archived", slog.String("root", t.Root.ID()), slog.Int("nodes", len(rows)))
	return nil
}

// LoadTree rebuilds the conversation rooted at rootID.
func (s *Store) LoadTree(rootID string) (*tree.Tree, error) {
	var rows []Tweet
	if err := s.db.Where("root_id = ?", rootID).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", rootID, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	// Rows come back in traversal order, so every parent precedes its replies.
	batch := &treeverse.Batch{RootID: rootID, Tweets: make([]*treeverse.Tweet, 0, len(rows))}
	for _, r := range rows {
		batch.Tweets = append(batch.Tweets, &treeverse.Tweet{
			ID:          r.ID,
			ParentID:    r.ParentID,
			Handle:      r.Handle,
			DisplayName: r.DisplayName,
			AvatarURL:   r.AvatarURL,
			BodyHTML:    r.BodyHTML,
			BodyText:    r.BodyText,
			CreatedAt:   r.TweetedAt,
			Replies:     r.Replies,
			Images:      r.Images,
			RTL:         r.RTL,
		})
	}
	t, err := tree.Build(batch)
	if err != nil {
		return nil, fmt.Errorf("rebuild conversation %s: %w", rootID, err)
	}
	for _, r := range rows {
		if err := t.Restore(r.ID, r.Cursor, r.Exhausted); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Roots lists the root ids of all archived conversations.
func (s *Store) Roots() ([]string, error) {
	var roots []string
	err := s.db.Model(&Tweet{}).Distinct().Order("root_id").Pluck("root_id", &roots).Error
	return roots, err
}
