package store

import (
	"database/sql"

	"github.com/proximityhq/proximity/internal/secrets"
)

// SetSetting upserts a single control-plane Setting. If cipher is non-nil,
// value is encrypted before being written whatever the key; key is not
// checked against config.EncryptedKeys here — callers pass a nil cipher
// for keys that are never sensitive.
func (s *Store) SetSetting(key, value, category string, cipher *secrets.Cipher) error {
	encrypted := false
	stored := value
	if cipher != nil {
		enc, err := cipher.Encrypt(value)
		if err != nil {
			return err
		}
		stored = enc
		encrypted = secrets.IsEncrypted(enc)
	}

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, category, encrypted) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, category=excluded.category, encrypted=excluded.encrypted`,
		key, stored, category, boolToInt(encrypted))
	return err
}

// GetSetting fetches a single Setting by key, decrypting its value when
// cipher is non-nil and the stored value carries the encrypted prefix.
func (s *Store) GetSetting(key string, cipher *secrets.Cipher) (*Setting, error) {
	row := s.db.QueryRow(`SELECT key, value, category, encrypted FROM settings WHERE key=?`, key)
	st, err := scanSetting(row)
	if err != nil {
		return nil, err
	}
	if cipher != nil && st.Encrypted {
		plain, err := cipher.Decrypt(st.Value)
		if err != nil {
			return nil, err
		}
		st.Value = plain
	}
	return st, nil
}

// ListSettings returns every Setting in category (or all, if category is
// empty), decrypting values when cipher is non-nil.
func (s *Store) ListSettings(category string, cipher *secrets.Cipher) ([]*Setting, error) {
	var rows *sql.Rows
	var err error
	if category == "" {
		rows, err = s.db.Query(`SELECT key, value, category, encrypted FROM settings ORDER BY key`)
	} else {
		rows, err = s.db.Query(`SELECT key, value, category, encrypted FROM settings WHERE category=? ORDER BY key`, category)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Setting
	for rows.Next() {
		st, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		if cipher != nil && st.Encrypted {
			plain, err := cipher.Decrypt(st.Value)
			if err != nil {
				return nil, err
			}
			st.Value = plain
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// DeleteSetting removes a single Setting.
func (s *Store) DeleteSetting(key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key=?`, key)
	return err
}

func scanSetting(row rowScanner) (*Setting, error) {
	var st Setting
	var encrypted int
	err := row.Scan(&st.Key, &st.Value, &st.Category, &encrypted)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.Encrypted = encrypted != 0
	return &st, nil
}
