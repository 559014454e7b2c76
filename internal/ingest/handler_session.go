package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/model"
	"gorm.io/gorm"
)

type sessionHandler struct {
	mapper *Mapper
}

func (h *sessionHandler) Collection() string { return jetstream.CollectionSession }

func (h *sessionHandler) Apply(tx *gorm.DB, ev *jetstream.Event) (uuid.UUID, error) {
	if ev.Operation == jetstream.OpDelete {
		return applySoftDelete(tx, h.mapper, ev)
	}

	var p jetstream.SessionPayload
	if err := decodePayload(ev, &p); err != nil {
		return uuid.Nil, err
	}
	status := model.SessionStatus(p.Status)
	if p.Status == "" {
		status = model.SessionScheduled
	}
	if !status.Valid() {
		return uuid.Nil, &ValidationError{Collection: ev.Collection, Field: "status", Message: "status must be scheduled, live, or ended"}
	}
	startedAt, err := parseTimestamp(ev.Collection, "startedAt", p.StartedAt)
	if err != nil {
		return uuid.Nil, err
	}
	endedAt, err := parseTimestamp(ev.Collection, "endedAt", p.EndedAt)
	if err != nil {
		return uuid.Nil, err
	}

	sceneID, err := resolveRef(tx, h.mapper, jetstream.CollectionScene, p.Scene)
	if err != nil {
		return uuid.Nil, err
	}
	eventID, err := resolveRef(tx, h.mapper, jetstream.CollectionEvent, p.Event)
	if err != nil {
		return uuid.Nil, err
	}
	sceneRefDID, sceneRefKey := refPair(p.Scene)
	eventRefDID, eventRefKey := refPair(p.Event)

	fields := map[string]any{
		"title":         p.Title,
		"status":        status,
		"started_at":    startedAt,
		"ended_at":      endedAt,
		"scene_id":      sceneID,
		"scene_ref_did": sceneRefDID,
		"scene_ref_key": sceneRefKey,
		"event_id":      eventID,
		"event_ref_did": eventRefDID,
		"event_ref_key": eventRefKey,
	}
	reviveOnCreate(ev, fields)

	return applyUpsert(tx, h.mapper, ev, func(id uuid.UUID, now time.Time) any {
		return &model.StreamSession{
			ID:          id,
			Title:       p.Title,
			Status:      status,
			StartedAt:   startedAt,
			EndedAt:     endedAt,
			SceneID:     sceneID,
			SceneRefDID: sceneRefDID,
			SceneRefKey: sceneRefKey,
			EventID:     eventID,
			EventRefDID: eventRefDID,
			EventRefKey: eventRefKey,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}, fields)
}
