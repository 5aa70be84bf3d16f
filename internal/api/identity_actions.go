package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"corral/internal/config"
	"corral/internal/store"
)

// IdentityDetail pairs an identity with its association audit trail.
type IdentityDetail struct {
	Identity     IdentityView      `json:"identity"`
	Associations []AssociationView `json:"associations"`
}

// ListIdentities returns every identity, active and inactive.
func ListIdentities(ctx context.Context, cfg *config.Config) ([]IdentityView, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	identities, err := st.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]IdentityView, 0, len(identities))
	for _, id := range identities {
		views = append(views, FromIdentity(id))
	}
	return views, nil
}

// GetIdentityDetail returns one identity with its association audit trail.
func GetIdentityDetail(ctx context.Context, cfg *config.Config, identityID string) (*IdentityDetail, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	identity, err := st.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, fmt.Errorf("identity %s not found", identityID)
	}
	associations, err := st.AssociationsForIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	detail := &IdentityDetail{Identity: FromIdentity(identity)}
	for _, assoc := range associations {
		detail.Associations = append(detail.Associations, FromAssociation(assoc))
	}
	return detail, nil
}

// ConfirmIdentity binds a tentative identity to a known subject. Confirming
// an identity already bound to a different subject is rejected; use
// RebindIdentity for an explicit correction.
func ConfirmIdentity(ctx context.Context, cfg *config.Config, identityID, subjectID string) (*IdentityView, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, fmt.Errorf("subject id is required")
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.ConfirmBinding(ctx, identityID, subjectID); err != nil {
		if errors.Is(err, store.ErrConfirmedBinding) {
			return nil, fmt.Errorf("identity %s is already bound to another subject: %w", identityID, err)
		}
		return nil, err
	}
	identity, err := st.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	view := FromIdentity(identity)
	return &view, nil
}

// RebindIdentity overrides an existing confirmed binding.
func RebindIdentity(ctx context.Context, cfg *config.Config, identityID, subjectID string) (*IdentityView, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, fmt.Errorf("subject id is required")
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.RebindIdentity(ctx, identityID, subjectID); err != nil {
		return nil, err
	}
	identity, err := st.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	view := FromIdentity(identity)
	return &view, nil
}
