package store

import "database/sql"

// CreateBackup inserts a new Backup row, normally in BackupCreating status.
func (s *Store) CreateBackup(b *Backup) error {
	_, err := s.db.Exec(`
		INSERT INTO backups (id, app_id, filename, size_bytes, compression, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.AppID, b.Filename, b.SizeBytes, b.Compression, b.Status, fmtTime(b.CreatedAt))
	return err
}

// UpdateBackup persists the full row (used when a vzdump job completes or
// fails).
func (s *Store) UpdateBackup(b *Backup) error {
	res, err := s.db.Exec(`
		UPDATE backups SET filename=?, size_bytes=?, compression=?, status=? WHERE id=?`,
		b.Filename, b.SizeBytes, b.Compression, b.Status, b.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBackup fetches a single Backup by ID.
func (s *Store) GetBackup(id string) (*Backup, error) {
	row := s.db.QueryRow(`
		SELECT id, app_id, filename, size_bytes, compression, status, created_at FROM backups WHERE id=?`, id)
	return scanBackup(row)
}

// ListBackups returns an App's backups, newest first.
func (s *Store) ListBackups(appID string) ([]*Backup, error) {
	rows, err := s.db.Query(`
		SELECT id, app_id, filename, size_bytes, compression, status, created_at
		FROM backups WHERE app_id=? ORDER BY created_at DESC`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListReadyBackups returns an App's Ready backups, newest first — the
// Backup Engine prunes from the tail of this list to enforce retention.
func (s *Store) ListReadyBackups(appID string) ([]*Backup, error) {
	all, err := s.ListBackups(appID)
	if err != nil {
		return nil, err
	}
	var ready []*Backup
	for _, b := range all {
		if b.Status == BackupReady {
			ready = append(ready, b)
		}
	}
	return ready, nil
}

// DeleteBackup removes a Backup row.
func (s *Store) DeleteBackup(id string) error {
	_, err := s.db.Exec(`DELETE FROM backups WHERE id=?`, id)
	return err
}

// DeleteBackupsForApp removes every Backup belonging to appID — used when
// an App is deleted under DeletePolicyCascade.
func (s *Store) DeleteBackupsForApp(appID string) error {
	_, err := s.db.Exec(`DELETE FROM backups WHERE app_id=?`, appID)
	return err
}

func scanBackup(row rowScanner) (*Backup, error) {
	var b Backup
	var created string
	err := row.Scan(&b.ID, &b.AppID, &b.Filename, &b.SizeBytes, &b.Compression, &b.Status, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.CreatedAt = parseTime(created)
	return &b, nil
}
