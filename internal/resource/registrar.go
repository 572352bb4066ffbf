// Package resource records which vector-store chunks belong to which uploaded
// document of which bot.
package resource

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zulandar/botyard/internal/models"
	"gorm.io/gorm"
)

// ErrPersistence is returned when a resource could not be written or read.
// Nothing is partially written when it is returned from Register.
var ErrPersistence = errors.New("resource: persistence failure")

// batchSize bounds the rows per INSERT for chunk links.
const batchSize = 200

// Registrar persists resources and their chunk links.
type Registrar struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewRegistrar returns a Registrar using db.
func NewRegistrar(db *gorm.DB, log zerolog.Logger) *Registrar {
	return &Registrar{db: db, log: log}
}

// Register creates a resource owned by botID with one link per chunk id, in
// chunk order. It is equivalent to RegisterFrom with an empty source.
func (r *Registrar) Register(ctx context.Context, botID uint, name string, chunkIDs []string) (*models.Resource, error) {
	return r.RegisterFrom(ctx, botID, name, "", chunkIDs)
}

// RegisterFrom is Register with a recorded source reference (for example the
// platform file id the document was uploaded as).
func (r *Registrar) RegisterFrom(ctx context.Context, botID uint, name, source string, chunkIDs []string) (*models.Resource, error) {
	name = strings.TrimSpace(name)
	if botID == 0 {
		return nil, errors.New("resource: bot id is required")
	}
	if name == "" {
		return nil, errors.New("resource: name is required")
	}

	res := &models.Resource{BotID: botID, Name: name, Source: source}
	docs := links(chunkIDs)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(res).Error; err != nil {
			return errors.Wrap(err, "create resource")
		}
		if len(docs) == 0 {
			return nil
		}
		for i := range docs {
			docs[i].ResourceID = res.ID
		}
		if err := tx.CreateInBatches(docs, batchSize).Error; err != nil {
			return errors.Wrap(err, "link chunks")
		}
		return nil
	})
	if err != nil {
		r.log.Error().Err(err).Uint("bot_id", botID).Str("resource", name).Msg("resource: register failed")
		return nil, errors.Wrapf(ErrPersistence, "register %q: %v", name, err)
	}

	res.Documents = docs
	r.log.Info().Uint("bot_id", botID).Uint("resource_id", res.ID).Str("resource", name).Int("chunks", len(docs)).Msg("resource: registered")
	return res, nil
}

// links builds ordered link rows, dropping repeated chunk ids. Identical chunk
// content yields identical ids, and the pair (resource, chunk) is the key.
func links(chunkIDs []string) []models.ResourceDocument {
	seen := make(map[string]bool, len(chunkIDs))
	docs := make([]models.ResourceDocument, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		docs = append(docs, models.ResourceDocument{DocumentID: id, Position: len(docs)})
	}
	return docs
}

// List returns the resources of botID ordered by name.
func (r *Registrar) List(ctx context.Context, botID uint) ([]models.Resource, error) {
	var out []models.Resource
	if err := r.db.WithContext(ctx).Where("bot_id = ?", botID).Order("name ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, errors.Wrapf(ErrPersistence, "list bot %d: %v", botID, err)
	}
	return out, nil
}

// Documents returns the chunk ids of a resource in their original order.
func (r *Registrar) Documents(ctx context.Context, resourceID uint) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.ResourceDocument{}).
		Where("resource_id = ?", resourceID).
		Order("position ASC").
		Pluck("document_id", &ids).Error
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "documents of %d: %v", resourceID, err)
	}
	return ids, nil
}

// Count returns how many resources botID owns.
func (r *Registrar) Count(ctx context.Context, botID uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Resource{}).Where("bot_id = ?", botID).Count(&n).Error; err != nil {
		return 0, errors.Wrapf(ErrPersistence, "count bot %d: %v", botID, err)
	}
	return n, nil
}
