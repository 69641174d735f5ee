package chat

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// AutoMigrate creates the chat tables.
func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns the user's sessions, most recently active first.
func (r *Repo) ListSessions(ctx context.Context, userID uint64, limit int) ([]Session, error) {
	var out []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSession removes the session and every message in it. It returns
// gorm.ErrRecordNotFound when the user owns no such session.
func (r *Repo) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", sessionID, userID).Delete(&Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("session_id = ?", sessionID).Delete(&Message{}).Error
	})
}

// TouchSession bumps updated_at, and sets the title when title is non-empty.
func (r *Repo) TouchSession(ctx context.Context, userID uint64, sessionID string, title string, at time.Time) error {
	updates := map[string]any{"updated_at": at}
	if title != "" {
		updates["title"] = title
	}
	// RowsAffected is not checked: MySQL reports 0 for an unchanged row.
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Updates(updates).Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessages returns up to limit messages older than beforeID (0 = newest),
// in DESC order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages in DESC order (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, userID uint64, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.ListMessages(ctx, userID, sessionID, limit, 0)
}
