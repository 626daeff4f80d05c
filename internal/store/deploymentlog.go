package store

import "time"

// AppendDeploymentLog writes a single append-only deployment log line for
// an App's pipeline run.
func (s *Store) AppendDeploymentLog(e *DeploymentLogEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO deployment_logs (app_id, timestamp, step, level, message) VALUES (?, ?, ?, ?, ?)`,
		e.AppID, fmtTime(ts), e.Step, e.Level, e.Message)
	return err
}

// ListDeploymentLog returns an App's full deployment log, oldest first.
func (s *Store) ListDeploymentLog(appID string) ([]*DeploymentLogEntry, error) {
	rows, err := s.db.Query(`
		SELECT app_id, timestamp, step, level, message FROM deployment_logs WHERE app_id=? ORDER BY id ASC`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DeploymentLogEntry
	for rows.Next() {
		var e DeploymentLogEntry
		var ts string
		if err := rows.Scan(&e.AppID, &ts, &e.Step, &e.Level, &e.Message); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		out = append(out, &e)
	}
	return out, rows.Err()
}
