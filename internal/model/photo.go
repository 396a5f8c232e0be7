package model

import (
	"time"

	"gorm.io/gorm"
)

// Upload is the user's reference photo. Immutable once created; the
// pipeline only reads it.
type Upload struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	UserID      string    `json:"userId" gorm:"size:36;index"`
	StorageKey  string    `json:"storageKey" gorm:"size:255"`
	ContentType string    `json:"contentType" gorm:"size:64"`
	SizeBytes   int64     `json:"sizeBytes"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Photo is one output image. Created in bulk; never mutated by the
// pipeline except soft-delete, which is an external concern.
type Photo struct {
	ID           string         `json:"id" gorm:"primaryKey;size:36"`
	TaskID       string         `json:"taskId" gorm:"size:36;index"`
	Section      Section        `json:"section" gorm:"size:16"`
	StorageKey   string         `json:"storageKey" gorm:"size:255;uniqueIndex"`
	OriginalName string         `json:"originalName" gorm:"size:128"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	MimeType     string         `json:"mimeType" gorm:"size:64"`
	SizeBytes    int64          `json:"sizeBytes"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}
