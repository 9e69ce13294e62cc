package models

import (
	"time"
)

// Post status values. Posts may cycle between all three states; there is no
// terminal status.
const (
	StatusDraft     = "DRAFT"
	StatusPublished = "PUBLISHED"
	StatusScheduled = "SCHEDULED"
)

// ValidStatus reports whether s is a known post status.
func ValidStatus(s string) bool {
	switch s {
	case StatusDraft, StatusPublished, StatusScheduled:
		return true
	}
	return false
}

type Post struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Title        string     `gorm:"not null;size:255" json:"title"`
	Content      string     `gorm:"type:text;not null" json:"content"`
	Slug         string     `gorm:"uniqueIndex;not null;size:255" json:"slug"`
	Status       string     `gorm:"size:20;not null;default:'DRAFT';index" json:"status"`
	AuthorID     uint       `gorm:"not null;index" json:"author_id"`
	ScheduledFor *time.Time `gorm:"index" json:"scheduled_for"`
	PublishedAt  *time.Time `json:"published_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Author    User           `gorm:"foreignKey:AuthorID" json:"author"`
	Revisions []PostRevision `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
}

// PostRevision is an immutable snapshot of a post's title and content taken
// immediately before a mutating change. Rows are only ever inserted, and only
// removed when the owning post is deleted.
type PostRevision struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	Title     string    `gorm:"not null;size:255" json:"title"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	AuthorID  uint      `gorm:"not null" json:"author_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
