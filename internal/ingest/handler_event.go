package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/model"
	"gorm.io/gorm"
)

type eventHandler struct {
	mapper *Mapper
}

func (h *eventHandler) Collection() string { return jetstream.CollectionEvent }

func (h *eventHandler) Apply(tx *gorm.DB, ev *jetstream.Event) (uuid.UUID, error) {
	if ev.Operation == jetstream.OpDelete {
		return applySoftDelete(tx, h.mapper, ev)
	}

	var p jetstream.EventPayload
	if err := decodePayload(ev, &p); err != nil {
		return uuid.Nil, err
	}
	if err := EnforceLocationConsent(ev.Collection, p.AllowPrecise, p.Precise); err != nil {
		return uuid.Nil, err
	}
	startsAt, err := parseTimestamp(ev.Collection, "startsAt", p.StartsAt)
	if err != nil {
		return uuid.Nil, err
	}
	endsAt, err := parseTimestamp(ev.Collection, "endsAt", p.EndsAt)
	if err != nil {
		return uuid.Nil, err
	}

	sceneID, err := resolveRef(tx, h.mapper, jetstream.CollectionScene, p.Scene)
	if err != nil {
		return uuid.Nil, err
	}
	sceneRefDID, sceneRefKey := refPair(p.Scene)

	fields := map[string]any{
		"title":         p.Title,
		"description":   p.Description,
		"starts_at":     startsAt,
		"ends_at":       endsAt,
		"scene_id":      sceneID,
		"scene_ref_did": sceneRefDID,
		"scene_ref_key": sceneRefKey,
	}
	for k, v := range geoFields(&p.GeoPayload) {
		fields[k] = v
	}
	reviveOnCreate(ev, fields)

	return applyUpsert(tx, h.mapper, ev, func(id uuid.UUID, now time.Time) any {
		row := &model.Event{
			ID:           id,
			Title:        p.Title,
			Description:  p.Description,
			StartsAt:     startsAt,
			EndsAt:       endsAt,
			SceneID:      sceneID,
			SceneRefDID:  sceneRefDID,
			SceneRefKey:  sceneRefKey,
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
