package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/model"
	"gorm.io/gorm"
)

type membershipHandler struct {
	mapper *Mapper
}

func (h *membershipHandler) Collection() string { return jetstream.CollectionMembership }

func (h *membershipHandler) Apply(tx *gorm.DB, ev *jetstream.Event) (uuid.UUID, error) {
	if ev.Operation == jetstream.OpDelete {
		return applyHardDelete(tx, h.mapper, ev)
	}

	var p jetstream.MembershipPayload
	if err := decodePayload(ev, &p); err != nil {
		return uuid.Nil, err
	}
	if !p.Scene.Set() {
		return uuid.Nil, &ValidationError{Collection: ev.Collection, Field: "scene", Message: "membership requires a scene ref"}
	}
	if p.TrustWeight < 0 || p.TrustWeight > 1 {
		return uuid.Nil, &ValidationError{Collection: ev.Collection, Field: "trustWeight", Message: "trust weight must lie in [0,1]"}
	}
	member := p.Member
	if member == "" {
		member = ev.DID
	}
	role := p.Role
	if role == "" {
		role = "member"
	}

	sceneID, err := resolveRef(tx, h.mapper, jetstream.CollectionScene, p.Scene)
	if err != nil {
		return uuid.Nil, err
	}
	sceneRefDID, sceneRefKey := refPair(p.Scene)

	fields := map[string]any{
		"member_did":    member,
		"role":          role,
		"trust_weight":  p.TrustWeight,
		"scene_id":      sceneID,
		"scene_ref_did": sceneRefDID,
		"scene_ref_key": sceneRefKey,
	}

	return applyUpsert(tx, h.mapper, ev, func(id uuid.UUID, now time.Time) any {
		return &model.SceneMembership{
			ID:          id,
			MemberDID:   member,
			Role:        role,
			TrustWeight: p.TrustWeight,
			SceneID:     sceneID,
			SceneRefDID: sceneRefDID,
			SceneRefKey: sceneRefKey,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}, fields)
}
