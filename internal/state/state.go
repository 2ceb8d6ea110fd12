package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/webskype/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.webskype/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second

	// maxSessionHistory is the number of session records kept per account.
	maxSessionHistory = 100
)

var apiKeysBucket = []byte("api_keys")

func chatsBucket(account string) []byte {
	return []byte("account:" + account + ":chats")
}

func sessionsBucket(account string) []byte {
	return []byte("account:" + account + ":sessions")
}

// sessionKey orders session records by login time. bbolt iterates keys
// in byte order, which for this format is chronological.
func sessionKey(loggedInAt time.Time) []byte {
	return []byte(loggedInAt.UTC().Format("20060102T150405.000000000Z"))
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it and its
// directory if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(apiKeysBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// SaveChat records a chat for account. An existing record for the same
// id is kept, so FirstSeen stays the first sighting.
func (s *State) SaveChat(account string, rec models.ChatRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(chatsBucket(account))
		if err != nil {
			return err
		}

		if b.Get([]byte(rec.ID)) != nil {
			return nil
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return b.Put([]byte(rec.ID), data)
	})
}

// GetChat returns the chat record for id, or nil if not found.
func (s *State) GetChat(account, id string) (*models.ChatRecord, error) {
	var rec *models.ChatRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatsBucket(account))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}

		rec = &models.ChatRecord{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}

// AllChats returns every chat recorded for account, ordered by id.
func (s *State) AllChats(account string) ([]models.ChatRecord, error) {
	var chats []models.ChatRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatsBucket(account))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var rec models.ChatRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}

			chats = append(chats, rec)

			return nil
		})
	})

	return chats, err
}

// StartSession records a new login. The oldest records beyond the
// history limit are dropped.
func (s *State) StartSession(rec models.SessionRecord) error {
	if rec.LoggedInAt.IsZero() {
		return fmt.Errorf("session record needs a login time")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(sessionsBucket(rec.Username))
		if err != nil {
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		if err := b.Put(sessionKey(rec.LoggedInAt), data); err != nil {
			return err
		}

		var keys [][]byte

		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}

		for len(keys) > maxSessionHistory {
			if err := b.Delete(keys[0]); err != nil {
				return err
			}

			keys = keys[1:]
		}

		return nil
	})
}

// EndSession marks the session that logged in at loggedInAt as ended.
func (s *State) EndSession(account string, loggedInAt, endedAt time.Time, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket(account))
		if b == nil {
			return fmt.Errorf("no sessions recorded for %s", account)
		}

		key := sessionKey(loggedInAt)

		v := b.Get(key)
		if v == nil {
			return fmt.Errorf("no session for %s at %s", account, loggedInAt.Format(time.RFC3339))
		}

		var rec models.SessionRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}

		rec.EndedAt = endedAt
		rec.EndReason = reason

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return b.Put(key, data)
	})
}

// Sessions returns the recorded sessions for account, oldest first.
func (s *State) Sessions(account string) ([]models.SessionRecord, error) {
	var sessions []models.SessionRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket(account))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var rec models.SessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}

			sessions = append(sessions, rec)

			return nil
		})
	})

	return sessions, err
}

// LastSession returns the most recent session for account, or nil.
func (s *State) LastSession(account string) (*models.SessionRecord, error) {
	var rec *models.SessionRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket(account))
		if b == nil {
			return nil
		}

		_, v := b.Cursor().Last()
		if v == nil {
			return nil
		}

		rec = &models.SessionRecord{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}

// SaveAPIKey persists an API key, keyed by its hash.
func (s *State) SaveAPIKey(keyHash string, ak models.APIKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(apiKeysBucket)

		data, err := json.Marshal(ak)
		if err != nil {
			return err
		}

		return b.Put([]byte(keyHash), data)
	})
}

// DeleteAPIKey removes an API key by its hash.
func (s *State) DeleteAPIKey(keyHash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(apiKeysBucket).Delete([]byte(keyHash))
	})
}

// AllAPIKeys returns all stored API keys, keyed by hash.
func (s *State) AllAPIKeys() (map[string]models.APIKey, error) {
	result := make(map[string]models.APIKey)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(apiKeysBucket)

		return b.ForEach(func(k, v []byte) error {
			var ak models.APIKey
			if err := json.Unmarshal(v, &ak); err != nil {
				return err
			}

			result[string(k)] = ak

			return nil
		})
	})

	return result, err
}
