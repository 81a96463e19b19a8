package timeline

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostType distinguishes farmer-authored updates from generated activity.
type PostType string

const (
	PostUpdate   PostType = "update"
	PostActivity PostType = "activity"
)

// Post is one entry on an account's timeline.
type Post struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Account string    `gorm:"size:64;index;not null" json:"account"`
	Type    PostType  `gorm:"size:16;index;not null" json:"type"`
	Content string    `gorm:"type:text;not null" json:"content"`
	Images  []string  `gorm:"serializer:json" json:"images,omitempty"`
	Video   string    `gorm:"size:512" json:"video,omitempty"`
	// EventType and Currency are set on activity generated from a ledger event.
	EventType string    `gorm:"size:64" json:"eventType,omitempty"`
	Currency  string    `gorm:"size:8" json:"currency,omitempty"`
	Likes     int64     `gorm:"not null;default:0" json:"likes"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// Like records that an account liked a post. An account likes a post once.
type Like struct {
	PostID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Account   string    `gorm:"size:64;primaryKey"`
	CreatedAt time.Time
}

// AutoMigrate creates or updates the timeline tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Post{}, &Like{})
}
