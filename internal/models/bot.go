package models

import "time"

// Bot is a registered chat bot. Username is the platform handle and doubles as
// the namespace key of the bot's document collection.
type Bot struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Token     string    `gorm:"size:256;not null" json:"-"`
	Name      string    `gorm:"size:128"`
	Username  string    `gorm:"size:64;not null;uniqueIndex"`
	Platform  string    `gorm:"size:16;not null;default:telegram"`
	CreatedAt time.Time

	Resources []Resource `gorm:"foreignKey:BotID"`
}
