package store

import (
	"context"

	"github.com/ocx/workforce/internal/model"
)

var profilesTable = jsonTable{name: "permission_profiles"}

// UpsertProfile inserts or replaces a PermissionProfile row.
func (s *Store) UpsertProfile(ctx context.Context, p *model.PermissionProfile) error {
	now := nowString()
	return profilesTable.upsert(ctx, s, p.ID, p, []string{"org_id"}, []interface{}{p.OrgID}, now, now)
}

// GetProfile fetches one PermissionProfile by id.
func (s *Store) GetProfile(ctx context.Context, id string) (*model.PermissionProfile, error) {
	var p model.PermissionProfile
	if err := profilesTable.getByID(ctx, s, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfilesByOrg returns every profile scoped to orgID.
func (s *Store) ListProfilesByOrg(ctx context.Context, orgID string) ([]*model.PermissionProfile, error) {
	items, err := profilesTable.listWhere(ctx, s, "org_id", orgID, "", func() interface{} { return &model.PermissionProfile{} })
	if err != nil {
		return nil, err
	}
	out := make([]*model.PermissionProfile, len(items))
	for i, it := range items {
		out[i] = it.(*model.PermissionProfile)
	}
	return out, nil
}

// DeleteProfile removes a PermissionProfile row.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	return profilesTable.delete(ctx, s, id)
}
