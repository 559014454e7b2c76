package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/model"
	"gorm.io/gorm"
)

type postHandler struct {
	mapper *Mapper
}

func (h *postHandler) Collection() string { return jetstream.CollectionPost }

func (h *postHandler) Apply(tx *gorm.DB, ev *jetstream.Event) (uuid.UUID, error) {
	if ev.Operation == jetstream.OpDelete {
		return applySoftDelete(tx, h.mapper, ev)
	}

	var p jetstream.PostPayload
	if err := decodePayload(ev, &p); err != nil {
		return uuid.Nil, err
	}
	// Re-validated on every apply: an update can drop a previously-present
	// ref and leave the post dangling.
	if !p.Scene.Set() && !p.Event.Set() {
		return uuid.Nil, &ValidationError{
			Collection: ev.Collection,
			Field:      "scene/event",
			Message:    "a post must reference a scene or an event, or both",
		}
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
		"author_did":    ev.DID,
		"text":          p.Text,
		"scene_id":      sceneID,
		"scene_ref_did": sceneRefDID,
		"scene_ref_key": sceneRefKey,
		"event_id":      eventID,
		"event_ref_did": eventRefDID,
		"event_ref_key": eventRefKey,
	}
	reviveOnCreate(ev, fields)

	return applyUpsert(tx, h.mapper, ev, func(id uuid.UUID, now time.Time) any {
		return &model.Post{
			ID:          id,
			AuthorDID:   ev.DID,
			Text:        p.Text,
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
