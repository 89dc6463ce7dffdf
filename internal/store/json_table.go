package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// jsonTable is the common shape behind every typed accessor in this
// package: one row per entity, its full JSON payload in `data`, plus
// whatever indexed columns that entity's queries need.
type jsonTable struct {
	name string
}

func (t jsonTable) ph(s *Store, i int) string { return s.dialect.Placeholder(i) }

// upsert inserts or replaces a row by primary key id. extraCols/extraVals
// are the additional indexed columns beyond id/data/created_at/updated_at,
// in positional order.
func (t jsonTable) upsert(ctx context.Context, s *Store, id string, payload interface{}, extraCols []string, extraVals []interface{}, createdAt, updatedAt string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", t.name, err)
	}

	cols := append([]string{"id"}, extraCols...)
	cols = append(cols, "data", "created_at", "updated_at")
	vals := append([]interface{}{id}, extraVals...)
	vals = append(vals, body, createdAt, updatedAt)

	placeholders := make([]string, len(vals))
	for i := range vals {
		placeholders[i] = t.ph(s, i+1)
	}

	// Portable upsert: delete-then-insert inside a transaction. Avoids
	// depending on dialect-specific ON CONFLICT/ON DUPLICATE KEY syntax.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = %s", t.name, t.ph(s, 1)), id); err != nil {
		return fmt.Errorf("upsert %s delete: %w", t.name, err)
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		t.name, join(cols, ", "), join(placeholders, ", "),
	)
	if _, err := tx.ExecContext(ctx, insertSQL, vals...); err != nil {
		return fmt.Errorf("upsert %s insert: %w", t.name, err)
	}
	return tx.Commit()
}

func (t jsonTable) getByID(ctx context.Context, s *Store, id string, out interface{}) error {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = %s", t.name, t.ph(s, 1)), id)
	var body []byte
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(body, out)
}

func (t jsonTable) delete(ctx context.Context, s *Store, id string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = %s", t.name, t.ph(s, 1)), id)
	return err
}

// listWhere runs `SELECT data FROM <table> WHERE <col> = ? ORDER BY <orderBy>`
// and unmarshals each row's data into a fresh value from newOut, appending
// it to the slice it
// returns. newOut should return a pointer to a fresh zero value each call.
func (t jsonTable) listWhere(ctx context.Context, s *Store, col string, val interface{}, orderBy string, newOut func() interface{}) ([]interface{}, error) {
	q := fmt.Sprintf("SELECT data FROM %s WHERE %s = %s", t.name, col, t.ph(s, 1))
	if orderBy != "" {
		q += " ORDER BY " + orderBy
	}
	rows, err := s.db.QueryContext(ctx, q, val)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []interface{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		item := newOut()
		if err := json.Unmarshal(body, item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func unmarshalInto(body []byte, out interface{}) error {
	return json.Unmarshal(body, out)
}

func join(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	out := ss[0]
	for _, s := range ss[1:] {
		out += sep + s
	}
	return out
}
