package models

import (
	"time"
)

type Room struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	IsPrivate   bool      `gorm:"not null;default:false;index" json:"isPrivate"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Messages    []Message `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
