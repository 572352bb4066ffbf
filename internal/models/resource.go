package models

import "time"

// Resource is a named document attached to a bot. Its chunks live in the
// vector store; ResourceDocument rows link them back to the resource.
type Resource struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	BotID     uint      `gorm:"not null;index"`
	Name      string    `gorm:"size:256;not null"`
	Source    string    `gorm:"size:1024"`
	CreatedAt time.Time

	Documents []ResourceDocument `gorm:"foreignKey:ResourceID"`
}

// ResourceDocument links one stored chunk to its resource. Position keeps the
// order the chunks were produced in.
type ResourceDocument struct {
	ResourceID uint   `gorm:"primaryKey"`
	DocumentID string `gorm:"primaryKey;size:64"`
	Position   int    `gorm:"not null;default:0"`
}
