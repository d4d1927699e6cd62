package models

import (
	"time"
)

type EditStatus string

const (
	StatusPending  EditStatus = "pending"
	StatusComplete EditStatus = "complete"
	StatusFailed   EditStatus = "failed"
)

// EditedPhoto is the durable record of one edit request.
// EditedImageURL is set only while complete, ErrorMessage only while failed.
type EditedPhoto struct {
	ID              string     `json:"id" gorm:"type:uuid;primaryKey"`
	UserID          string     `json:"user_id" gorm:"not null;index:idx_edited_photos_owner"`
	OriginalPhotoID string     `json:"original_photo_id" gorm:"not null;index:idx_edited_photos_owner"`
	Prompt          string     `json:"prompt" gorm:"not null"`
	Status          EditStatus `json:"status" gorm:"not null;size:16"`
	EditedImageURL  *string    `json:"edited_image_url,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (EditedPhoto) TableName() string {
	return "edited_photos"
}

// Profile carries the credit balance spent on edit submissions.
type Profile struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	Credits   int       `json:"credits" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}
