package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/model"
	"gorm.io/gorm"
)

type allianceHandler struct {
	mapper *Mapper
}

func (h *allianceHandler) Collection() string { return jetstream.CollectionAlliance }

func (h *allianceHandler) Apply(tx *gorm.DB, ev *jetstream.Event) (uuid.UUID, error) {
	if ev.Operation == jetstream.OpDelete {
		return applyHardDelete(tx, h.mapper, ev)
	}

	var p jetstream.AlliancePayload
	if err := decodePayload(ev, &p); err != nil {
		return uuid.Nil, err
	}
	if !p.Scene.Set() || !p.Ally.Set() {
		return uuid.Nil, &ValidationError{Collection: ev.Collection, Field: "scene/ally", Message: "alliance requires both scene refs"}
	}
	if p.Weight < 0 || p.Weight > 1 {
		return uuid.Nil, &ValidationError{Collection: ev.Collection, Field: "weight", Message: "alliance weight must lie in [0,1]"}
	}

	sceneID, err := resolveRef(tx, h.mapper, jetstream.CollectionScene, p.Scene)
	if err != nil {
		return uuid.Nil, err
	}
	allyID, err := resolveRef(tx, h.mapper, jetstream.CollectionScene, p.Ally)
	if err != nil {
		return uuid.Nil, err
	}
	sceneRefDID, sceneRefKey := refPair(p.Scene)
	allyRefDID, allyRefKey := refPair(p.Ally)

	fields := map[string]any{
		"weight":             p.Weight,
		"scene_id":           sceneID,
		"scene_ref_did":      sceneRefDID,
		"scene_ref_key":      sceneRefKey,
		"ally_scene_id":      allyID,
		"ally_scene_ref_did": allyRefDID,
		"ally_scene_ref_key": allyRefKey,
	}

	return applyUpsert(tx, h.mapper, ev, func(id uuid.UUID, now time.Time) any {
		return &model.SceneAlliance{
			ID:              id,
			Weight:          p.Weight,
			SceneID:         sceneID,
			SceneRefDID:     sceneRefDID,
			SceneRefKey:     sceneRefKey,
			AllySceneID:     allyID,
			AllySceneRefDID: allyRefDID,
			AllySceneRefKey: allyRefKey,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}, fields)
}
