// Package docs persists registered users and their uploaded documents.
package docs

import (
	"time"
)

// Status is the processing state of a document.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// User is a registered user.
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Name         string    `gorm:"size:200;not null" json:"name"`
	Email        string    `gorm:"size:320;not null;uniqueIndex" json:"email"`
	RegisteredAt time.Time `gorm:"not null" json:"registeredAt"`
	Document     *Document `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"document,omitempty"`
}

// Document is a file uploaded at registration.
type Document struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	UserID           string     `gorm:"size:36;not null;index" json:"userId"`
	OriginalFileName string     `gorm:"size:255" json:"originalFileName"`
	StoredFileName   string     `gorm:"size:255;not null" json:"storedFileName"`
	FilePath         string     `gorm:"size:1024;not null" json:"filePath"`
	FileSize         int64      `json:"fileSize"`
	ContentType      string     `gorm:"size:255" json:"contentType"`
	Status           Status     `gorm:"size:20;index;not null" json:"status"`
	PdfPath          string     `gorm:"size:1024" json:"pdfPath,omitempty"`
	UploadedAt       time.Time  `gorm:"index;not null" json:"uploadedAt"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
}
