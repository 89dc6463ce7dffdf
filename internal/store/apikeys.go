package store

import (
	"context"

	"github.com/ocx/workforce/internal/model"
)

var apiKeysTable = jsonTable{name: "api_keys"}

// UpsertAPIKey inserts or replaces an APIKey row.
func (s *Store) UpsertAPIKey(ctx context.Context, k *model.APIKey) error {
	now := nowString()
	return apiKeysTable.upsert(ctx, s, k.ID, k, []string{"org_id", "is_active"}, []interface{}{k.OrgID, k.IsActive}, k.CreatedAt.UTC().Format(rfc3339), now)
}

// GetAPIKey fetches one APIKey by its public id.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var k model.APIKey
	if err := apiKeysTable.getByID(ctx, s, id, &k); err != nil {
		return nil, err
	}
	return &k, nil
}

// ListAPIKeysByOrg returns every APIKey scoped to orgID.
func (s *Store) ListAPIKeysByOrg(ctx context.Context, orgID string) ([]*model.APIKey, error) {
	items, err := apiKeysTable.listWhere(ctx, s, "org_id", orgID, "created_at ASC", func() interface{} { return &model.APIKey{} })
	if err != nil {
		return nil, err
	}
	out := make([]*model.APIKey, len(items))
	for i, it := range items {
		out[i] = it.(*model.APIKey)
	}
	return out, nil
}

// DeleteAPIKey removes an APIKey row.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	return apiKeysTable.delete(ctx, s, id)
}
