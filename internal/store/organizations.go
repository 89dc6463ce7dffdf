package store

import (
	"context"
	"fmt"

	"github.com/ocx/workforce/internal/model"
)

var orgsTable = jsonTable{name: "organizations"}

// UpsertOrganization inserts or replaces an Organization row.
func (s *Store) UpsertOrganization(ctx context.Context, org *model.Organization) error {
	return orgsTable.upsert(ctx, s, org.ID, org,
		[]string{"slug"}, []interface{}{org.Slug},
		org.CreatedAt.UTC().Format(rfc3339), org.UpdatedAt.UTC().Format(rfc3339))
}

// GetOrganization fetches one Organization by id.
func (s *Store) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	if err := orgsTable.getByID(ctx, s, id, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// GetOrganizationBySlug fetches one Organization by its unique slug.
func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	items, err := orgsTable.listWhere(ctx, s, "slug", slug, "", func() interface{} { return &model.Organization{} })
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0].(*model.Organization), nil
}

// ListOrganizations returns every Organization row.
func (s *Store) ListOrganizations(ctx context.Context) ([]*model.Organization, error) {
	rows, err := s.Query(ctx, "SELECT data FROM organizations")
	if err != nil {
		return nil, err
	}
	return decodeRows[model.Organization](rows)
}

// DeleteOrganization removes an Organization row.
func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	return orgsTable.delete(ctx, s, id)
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

func decodeRows[T any](rows []map[string]interface{}) ([]*T, error) {
	out := make([]*T, 0, len(rows))
	for _, r := range rows {
		raw, ok := r["data"]
		if !ok {
			continue
		}
		var body []byte
		switch v := raw.(type) {
		case []byte:
			body = v
		case string:
			body = []byte(v)
		default:
			return nil, fmt.Errorf("unexpected data column type %T", raw)
		}
		var item T
		if err := unmarshalInto(body, &item); err != nil {
			return nil, err
		}
		out = append(out, &item)
	}
	return out, nil
}
