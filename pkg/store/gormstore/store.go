// Package gormstore persists chat messages through GORM. Subscriptions are
// served from the process that performs the writes.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
	"github.com/roboricindustries/raycon-chatsync/pkg/store"
)

// Open connects with the named dialect: "postgres" or "sqlite".
func Open(dialect, dsn string) (*gorm.DB, error) {
	var d gorm.Dialector
	switch dialect {
	case "postgres", "postgresql":
		d = postgres.Open(dsn)
	case "sqlite", "sqlite3":
		d = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("gormstore: unsupported dialect %q", dialect)
	}
	db, err := gorm.Open(d, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open %s: %w", dialect, err)
	}
	return db, nil
}

type Store struct {
	db      *gorm.DB
	log     *slog.Logger
	inserts *store.Feed
	updates *store.Feed
	now     func() time.Time
}

func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		log:     logger.With("service", "GormStore"),
		inserts: store.NewFeed(),
		updates: store.NewFeed(),
		now:     time.Now,
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Row{}); err != nil {
		return fmt.Errorf("gormstore: migrate: %w", err)
	}
	return nil
}

// Insert persists m once per (chat, temp id); a repeated insert returns the
// existing record and does not notify again.
// TODO: feed SubscribeInsert/SubscribeUpdate from postgres LISTEN/NOTIFY so
// writes made by other processes reach subscribers.
func (s *Store) Insert(ctx context.Context, m message.Message) (message.Message, error) {
	const op = "gormstore.Insert"
	if m.TempID == "" {
		return message.Message{}, store.ErrNoTempID
	}
	rec := store.Record(m, uuid.NewString(), s.now().UTC())
	row := toRow(rec)

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "temp_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return message.Message{}, fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		var existing Row
		if err := s.db.WithContext(ctx).
			Where("chat_id = ? AND temp_id = ?", m.ChatID, m.TempID).
			First(&existing).Error; err != nil {
			return message.Message{}, fmt.Errorf("%s: load existing: %w", op, err)
		}
		s.log.Debug("insert deduplicated", slog.String("op", op), slog.String("temp_id", m.TempID))
		return existing.message(), nil
	}

	out := row.message()
	s.inserts.Publish(out)
	return out, nil
}

// Update merges p into the stored record inside a transaction.
func (s *Store) Update(ctx context.Context, canonicalID string, p message.Patch) error {
	const op = "gormstore.Update"
	p.TempID, p.CanonicalID = "", ""

	var (
		next    message.Message
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Row
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&row, "id = ?", canonicalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		cur := row.message()
		next = cur.Apply(p)
		if next.Equal(cur) {
			return nil
		}
		changed = true
		upd := toRow(next)
		return tx.Model(&Row{}).Where("id = ?", canonicalID).Updates(map[string]any{
			"content_translated": upd.ContentTranslated,
			"source_lang":        upd.SourceLang,
			"target_lang":        upd.TargetLang,
			"translation_error":  upd.TranslationError,
			"status":             upd.Status,
			"delivered_at":       upd.DeliveredAt,
			"read_at":            upd.ReadAt,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, canonicalID, err)
	}
	if changed {
		s.updates.Publish(next)
	}
	return nil
}

func (s *Store) SubscribeInsert(chatID string, fn func(message.Message)) (func(), error) {
	return s.inserts.Subscribe(chatID, fn), nil
}

func (s *Store) SubscribeUpdate(chatID string, fn func(message.Message)) (func(), error) {
	return s.updates.Subscribe(chatID, fn), nil
}

// List returns a chat's records ordered by creation time.
func (s *Store) List(ctx context.Context, chatID string) ([]message.Message, error) {
	var rows []Row
	if err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gormstore.List: %w", err)
	}
	out := make([]message.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.message())
	}
	return out, nil
}
