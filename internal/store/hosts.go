package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// CreateHost inserts a new Host row.
func (s *Store) CreateHost(h *Host) error {
	nodesJSON, _ := json.Marshal(h.Nodes)
	_, err := s.db.Exec(`
		INSERT INTO hosts (id, name, endpoint, token_id, token_secret, verify_tls, is_default, nodes_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.Name, h.Endpoint, h.TokenID, h.TokenSecret, boolToInt(h.VerifyTLS), boolToInt(h.IsDefault),
		string(nodesJSON), fmtTime(h.CreatedAt), fmtTime(h.UpdatedAt))
	return classifyUnique(err)
}

// UpdateHost persists the full row.
func (s *Store) UpdateHost(h *Host) error {
	nodesJSON, _ := json.Marshal(h.Nodes)
	res, err := s.db.Exec(`
		UPDATE hosts SET name=?, endpoint=?, token_id=?, token_secret=?, verify_tls=?, is_default=?, nodes_json=?, updated_at=?
		WHERE id=?`,
		h.Name, h.Endpoint, h.TokenID, h.TokenSecret, boolToInt(h.VerifyTLS), boolToInt(h.IsDefault),
		string(nodesJSON), fmtTime(time.Now()), h.ID)
	if err != nil {
		return classifyUnique(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetHost fetches a single Host by ID.
func (s *Store) GetHost(id string) (*Host, error) {
	row := s.db.QueryRow(`
		SELECT id, name, endpoint, token_id, token_secret, verify_tls, is_default, nodes_json, created_at, updated_at
		FROM hosts WHERE id=?`, id)
	return scanHost(row)
}

// GetDefaultHost returns the Host flagged is_default, or ErrNotFound if none
// has been configured yet.
func (s *Store) GetDefaultHost() (*Host, error) {
	row := s.db.QueryRow(`
		SELECT id, name, endpoint, token_id, token_secret, verify_tls, is_default, nodes_json, created_at, updated_at
		FROM hosts WHERE is_default=1 LIMIT 1`)
	return scanHost(row)
}

// ListHosts returns every configured Host.
func (s *Store) ListHosts() ([]*Host, error) {
	rows, err := s.db.Query(`
		SELECT id, name, endpoint, token_id, token_secret, verify_tls, is_default, nodes_json, created_at, updated_at
		FROM hosts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteHost removes a Host row. Callers must first ensure no Apps remain
// on the host (enforced at the Lifecycle layer, not here).
func (s *Store) DeleteHost(id string) error {
	_, err := s.db.Exec(`DELETE FROM hosts WHERE id=?`, id)
	return err
}

func scanHost(row rowScanner) (*Host, error) {
	var h Host
	var verifyTLS, isDefault int
	var nodesJSON, created, updated string
	err := row.Scan(&h.ID, &h.Name, &h.Endpoint, &h.TokenID, &h.TokenSecret, &verifyTLS, &isDefault,
		&nodesJSON, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	h.VerifyTLS = verifyTLS != 0
	h.IsDefault = isDefault != 0
	_ = json.Unmarshal([]byte(nodesJSON), &h.Nodes)
	h.CreatedAt = parseTime(created)
	h.UpdatedAt = parseTime(updated)
	return &h, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
