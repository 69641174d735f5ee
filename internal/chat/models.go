package chat

import "time"

const DefaultTitle = "New Chat"

type Session struct {
	ID        string    `gorm:"type:varchar(26);primaryKey" json:"id"`
	UserID    uint64    `gorm:"index:idx_chat_session_user_updated,priority:1;not null" json:"-"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Provider  string    `gorm:"type:varchar(32);not null" json:"provider"`
	Model     string    `gorm:"type:varchar(128);not null" json:"model"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `gorm:"index:idx_chat_session_user_updated,priority:2" json:"updatedAt"`
}

func (Session) TableName() string { return "chat_sessions" }

// Message is one turn of a session. Turns are immutable and ordered by
// (created_at, id).
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_session_created,priority:1" json:"sessionId"`
	UserID    uint64    `gorm:"not null;index" json:"-"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_chat_msg_session_created,priority:2" json:"createdAt"`
}

func (Message) TableName() string { return "chat_messages" }
