package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness constraint would be violated
// (hostname, vmid, or ip already in use on the host).
var ErrConflict = errors.New("conflict")

// CreateApp inserts a new App row. The caller is responsible for having
// reserved the hostname/IP via the IPAM registry first.
func (s *Store) CreateApp(a *App) error {
	resJSON, _ := json.Marshal(a.Resources)
	envJSON, _ := json.Marshal(a.Env)
	portsJSON, _ := json.Marshal(a.Ports)

	_, err := s.db.Exec(`
		INSERT INTO apps (id, catalog_id, name, hostname, host_id, node_name, vmid, ip,
			status, status_reason, resources_json, env_json, ports_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CatalogID, a.Name, a.Hostname, a.HostID, a.NodeName, a.VMID, a.IP,
		a.Status, a.StatusReason, string(resJSON), string(envJSON), string(portsJSON),
		fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if err != nil {
		return classifyUnique(err)
	}
	return nil
}

// UpdateApp persists the full row (used by the Pipeline and the Lifecycle
// Controller after a transition).
func (s *Store) UpdateApp(a *App) error {
	resJSON, _ := json.Marshal(a.Resources)
	envJSON, _ := json.Marshal(a.Env)
	portsJSON, _ := json.Marshal(a.Ports)

	res, err := s.db.Exec(`
		UPDATE apps SET catalog_id=?, name=?, hostname=?, host_id=?, node_name=?, vmid=?, ip=?,
			status=?, status_reason=?, resources_json=?, env_json=?, ports_json=?, updated_at=?
		WHERE id=?`,
		a.CatalogID, a.Name, a.Hostname, a.HostID, a.NodeName, a.VMID, a.IP,
		a.Status, a.StatusReason, string(resJSON), string(envJSON), string(portsJSON),
		fmtTime(time.Now()), a.ID)
	if err != nil {
		return classifyUnique(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompareAndSwapStatus transitions an App's status only if its current
// status matches from — the atomic guard behind the status transition
// table (the Lifecycle Controller decides which transitions are legal;
// this just makes the write race-free once it has decided).
func (s *Store) CompareAndSwapStatus(appID, from, to, reason string) (bool, error) {
	res, err := s.db.Exec(`UPDATE apps SET status=?, status_reason=?, updated_at=? WHERE id=? AND status=?`,
		to, reason, fmtTime(time.Now()), appID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetApp fetches a single App by ID.
func (s *Store) GetApp(id string) (*App, error) {
	row := s.db.QueryRow(`
		SELECT id, catalog_id, name, hostname, host_id, node_name, vmid, ip,
			status, status_reason, resources_json, env_json, ports_json, created_at, updated_at
		FROM apps WHERE id=?`, id)
	return scanApp(row)
}

// ListApps returns all Apps, optionally filtered by host.
func (s *Store) ListApps(hostID string) ([]*App, error) {
	var rows *sql.Rows
	var err error
	if hostID == "" {
		rows, err = s.db.Query(`SELECT id, catalog_id, name, hostname, host_id, node_name, vmid, ip,
			status, status_reason, resources_json, env_json, ports_json, created_at, updated_at FROM apps`)
	} else {
		rows, err = s.db.Query(`SELECT id, catalog_id, name, hostname, host_id, node_name, vmid, ip,
			status, status_reason, resources_json, env_json, ports_json, created_at, updated_at FROM apps WHERE host_id=?`, hostID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*App
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAppsByStatus returns all Apps currently in any of the given statuses
// — used by the Status Reconciler.
func (s *Store) ListAppsByStatus(hostID string, statuses ...string) ([]*App, error) {
	all, err := s.ListApps(hostID)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*App
	for _, a := range all {
		if want[a.Status] {
			out = append(out, a)
		}
	}
	return out, nil
}

// DeleteApp removes the App row — Deleting is terminal, the row is dropped
// rather than kept in a tombstone state.
func (s *Store) DeleteApp(id string) error {
	_, err := s.db.Exec(`DELETE FROM apps WHERE id=?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApp(row rowScanner) (*App, error) {
	var a App
	var resJSON, envJSON, portsJSON, created, updated string
	err := row.Scan(&a.ID, &a.CatalogID, &a.Name, &a.Hostname, &a.HostID, &a.NodeName, &a.VMID, &a.IP,
		&a.Status, &a.StatusReason, &resJSON, &envJSON, &portsJSON, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(resJSON), &a.Resources)
	_ = json.Unmarshal([]byte(envJSON), &a.Env)
	_ = json.Unmarshal([]byte(portsJSON), &a.Ports)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func classifyUnique(err error) error {
	if err == nil {
		return nil
	}
	// modernc.org/sqlite reports constraint violations as plain errors
	// whose message contains "UNIQUE constraint failed" — match on that
	// rather than a driver-specific error code, since the pure-Go driver
	// doesn't expose one.
	msg := err.Error()
	if containsUniqueViolation(msg) {
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	}
	return err
}

func containsUniqueViolation(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "unique constraint")
}
