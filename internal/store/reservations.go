package store

import (
	"database/sql"
	"time"
)

// CreateReservation inserts a tentative hostname/IP reservation. The
// UNIQUE index on (host_id, ip) makes a concurrent double-allocation of the
// same address fail here rather than surface later as a Proxmox conflict.
func (s *Store) CreateReservation(r *Reservation) error {
	_, err := s.db.Exec(`
		INSERT INTO reservations (host_id, hostname, ip, app_id, token, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.HostID, r.Hostname, r.IP, r.AppID, r.Token, fmtTime(r.CreatedAt))
	return classifyUnique(err)
}

// BindReservation attaches an App ID to a previously tentative reservation,
// identified by its token — called once the Deployment Pipeline has
// successfully created the App row.
func (s *Store) BindReservation(token, appID string) error {
	res, err := s.db.Exec(`UPDATE reservations SET app_id=? WHERE token=?`, appID, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseReservation deletes the reservation for hostID/hostname and
// records the freed IP's release time, so the IPAM allocator can pass it
// over during the cooldown window — called on pipeline
// rollback or App deletion.
func (s *Store) ReleaseReservation(hostID, hostname string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var ip string
	err = tx.QueryRow(`SELECT ip FROM reservations WHERE host_id=? AND hostname=?`, hostID, hostname).Scan(&ip)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM reservations WHERE host_id=? AND hostname=?`, hostID, hostname); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO released_ips (host_id, ip, released_at) VALUES (?, ?, ?)
		ON CONFLICT(host_id, ip) DO UPDATE SET released_at=excluded.released_at`,
		hostID, ip, fmtTime(time.Now())); err != nil {
		return err
	}
	return tx.Commit()
}

// ListIPsInCooldown returns the IPs on hostID released within the last
// window, oldest release first — the IPAM allocator prefers a fully free
// address but falls back to the head of this list (longest-cooled first)
// rather than refusing an allocation the pool can still satisfy.
func (s *Store) ListIPsInCooldown(hostID string, window time.Duration) ([]string, error) {
	cutoff := fmtTime(time.Now().Add(-window))
	rows, err := s.db.Query(`SELECT ip FROM released_ips WHERE host_id=? AND released_at > ? ORDER BY released_at ASC`, hostID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		out = append(out, ip)
	}
	return out, rows.Err()
}

// HostnameExists reports whether hostname is already reserved (tentatively
// or bound) on hostID.
func (s *Store) HostnameExists(hostID, hostname string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM reservations WHERE host_id=? AND hostname=?`, hostID, hostname).Scan(&n)
	return n > 0, err
}

// ListReservedIPs returns every IP currently reserved on hostID, used by the
// IPAM allocator to find the lowest free address.
func (s *Store) ListReservedIPs(hostID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT ip FROM reservations WHERE host_id=?`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		out = append(out, ip)
	}
	return out, rows.Err()
}

// GetReservationByToken fetches a reservation by its allocation token.
func (s *Store) GetReservationByToken(token string) (*Reservation, error) {
	row := s.db.QueryRow(`
		SELECT host_id, hostname, ip, app_id, token, created_at FROM reservations WHERE token=?`, token)
	return scanReservation(row)
}

func scanReservation(row rowScanner) (*Reservation, error) {
	var r Reservation
	var created string
	err := row.Scan(&r.HostID, &r.Hostname, &r.IP, &r.AppID, &r.Token, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}
