package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/model"
	"gorm.io/gorm"
)

type sceneHandler struct {
	mapper *Mapper
}

func (h *sceneHandler) Collection() string { return jetstream.CollectionScene }

func (h *sceneHandler) Apply(tx *gorm.DB, ev *jetstream.Event) (uuid.UUID, error) {
	if ev.Operation == jetstream.OpDelete {
		return applySoftDelete(tx, h.mapper, ev)
	}

	var p jetstream.ScenePayload
	if err := decodePayload(ev, &p); err != nil {
		return uuid.Nil, err
	}
	if err := EnforceLocationConsent(ev.Collection, p.AllowPrecise, p.Precise); err != nil {
		return uuid.Nil, err
	}

	fields := map[string]any{
		"name":        p.Name,
		"description": p.Description,
	}
	for k, v := range geoFields(&p.GeoPayload) {
		fields[k] = v
	}
	reviveOnCreate(ev, fields)

	return applyUpsert(tx, h.mapper, ev, func(id uuid.UUID, now time.Time) any {
		row := &model.Scene{
			ID:           id,
			Name:         p.Name,
			Description:  p.Description,
			Geohash:      p.Geohash,
			AllowPrecise: p.AllowPrecise,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if p.AllowPrecise && p.Precise != nil {
			row.PreciseLat = &p.Precise.Lat
			row.PreciseLng = &p.Precise.Lng
		}
		return row
	}, fields)
}
