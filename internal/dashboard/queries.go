package dashboard

import (
	"time"

	"github.com/zulandar/botyard/internal/models"
	"gorm.io/gorm"
)

// BotRow holds a registered bot with its resource count for display.
type BotRow struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
	Resources int64     `json:"resources"`
	Running   bool      `json:"running"`
}

// BotSummary returns every registered bot ordered by id. Tokens are never
// included.
func BotSummary(db *gorm.DB) ([]BotRow, error) {
	var bots []models.Bot
	if err := db.Order("id ASC").Find(&bots).Error; err != nil {
		return nil, err
	}

	type countRow struct {
		BotID uint
		N     int64
	}
	var counts []countRow
	if err := db.Model(&models.Resource{}).
		Select("bot_id, COUNT(*) AS n").
		Group("bot_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	byBot := make(map[uint]int64, len(counts))
	for _, c := range counts {
		byBot[c.BotID] = c.N
	}

	rows := make([]BotRow, len(bots))
	for i, b := range bots {
		rows[i] = BotRow{
			ID:        b.ID,
			Name:      b.Name,
			Username:  b.Username,
			Platform:  b.Platform,
			CreatedAt: b.CreatedAt,
			Resources: byBot[b.ID],
		}
	}
	return rows, nil
}

// ResourceRow holds one resource and the number of chunks linked to it.
type ResourceRow struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Chunks    int64     `json:"chunks"`
}

// BotResources returns the resources of botID ordered by name. The bool is
// false when the bot does not exist.
func BotResources(db *gorm.DB, botID uint) ([]ResourceRow, bool, error) {
	var n int64
	if err := db.Model(&models.Bot{}).Where("id = ?", botID).Count(&n).Error; err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}

	var resources []models.Resource
	if err := db.Where("bot_id = ?", botID).Order("name ASC, id ASC").Find(&resources).Error; err != nil {
		return nil, true, err
	}
	rows := make([]ResourceRow, len(resources))
	if len(resources) == 0 {
		return rows, true, nil
	}

	ids := make([]uint, len(resources))
	for i, r := range resources {
		ids[i] = r.ID
	}
	type countRow struct {
		ResourceID uint
		N          int64
	}
	var counts []countRow
	if err := db.Model(&models.ResourceDocument{}).
		Select("resource_id, COUNT(*) AS n").
		Where("resource_id IN ?", ids).
		Group("resource_id").
		Scan(&counts).Error; err != nil {
		return nil, true, err
	}
	byResource := make(map[uint]int64, len(counts))
	for _, c := range counts {
		byResource[c.ResourceID] = c.N
	}

	for i, r := range resources {
		rows[i] = ResourceRow{
			ID:        r.ID,
			Name:      r.Name,
			Source:    r.Source,
			CreatedAt: r.CreatedAt,
			Chunks:    byResource[r.ID],
		}
	}
	return rows, true, nil
}
