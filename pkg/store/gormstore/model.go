package gormstore

import (
	"time"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
)

// Row is the persisted shape of a chat message.
type Row struct {
	ID     string `gorm:"primaryKey;size:36"`
	ChatID string `gorm:"size:128;not null;uniqueIndex:idx_chat_messages_chat_temp,priority:1"`
	TempID string `gorm:"size:128;not null;uniqueIndex:idx_chat_messages_chat_temp,priority:2"`

	SenderID    string `gorm:"size:128;not null;index"`
	RecipientID string `gorm:"size:128;not null"`

	ContentOriginal   string `gorm:"type:text;not null"`
	ContentTranslated string `gorm:"type:text"`
	SourceLang        string `gorm:"size:35"`
	TargetLang        string `gorm:"size:35"`
	TranslationError  string `gorm:"type:text"`

	Kind   string `gorm:"size:16;not null"`
	Status string `gorm:"size:16;not null"`

	CreatedAt   time.Time `gorm:"not null;index"`
	DeliveredAt *time.Time
	ReadAt      *time.Time
	UpdatedAt   time.Time
}

func (Row) TableName() string { return "chat_messages" }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toRow(m message.Message) Row {
	return Row{
		ID:                m.CanonicalID,
		ChatID:            m.ChatID,
		TempID:            m.TempID,
		SenderID:          m.SenderID,
		RecipientID:       m.RecipientID,
		ContentOriginal:   m.ContentOriginal,
		ContentTranslated: m.ContentTranslated,
		SourceLang:        m.SourceLang,
		TargetLang:        m.TargetLang,
		TranslationError:  m.TranslationError,
		Kind:              string(m.Kind),
		Status:            string(m.Status),
		CreatedAt:         m.CreatedAt.UTC(),
		DeliveredAt:       utcPtr(m.DeliveredAt),
		ReadAt:            utcPtr(m.ReadAt),
	}
}

func (r Row) message() message.Message {
	return message.Message{
		CanonicalID:       r.ID,
		TempID:            r.TempID,
		ChatID:            r.ChatID,
		SenderID:          r.SenderID,
		RecipientID:       r.RecipientID,
		ContentOriginal:   r.ContentOriginal,
		ContentTranslated: r.ContentTranslated,
		SourceLang:        r.SourceLang,
		TargetLang:        r.TargetLang,
		TranslationError:  r.TranslationError,
		Kind:              message.Kind(r.Kind),
		Status:            message.Status(r.Status),
		CreatedAt:         r.CreatedAt.UTC(),
		DeliveredAt:       utcPtr(r.DeliveredAt),
		ReadAt:            utcPtr(r.ReadAt),
	}
}
