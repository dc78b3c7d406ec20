// Package state persists gateway data in a bbolt database: users,
// sessions, API tokens, access requests, app tokens and registered
// app clients. Values are JSON. Secrets are stored only as digests.
package state

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket                = []byte("app")
	appStatusKey             = []byte("status")
	usersBucket              = []byte("users")
	sessionsBucket           = []byte("sessions")
	sessionsByUserBucket     = []byte("sessions_by_user")
	apiTokensBucket          = []byte("api_tokens")
	apiTokenIDsBucket        = []byte("api_token_ids")
	userRequestsBucket       = []byte("user_access_requests")
	userRequestPendingBucket = []byte("user_access_pending")
	appRequestsBucket        = []byte("app_access_requests")
	appTokensBucket          = []byte("app_tokens")
	oauthClientBucket        = []byte("oauth_clients")
)

var allBuckets = [][]byte{
	appBucket,
	usersBucket,
	sessionsBucket,
	sessionsByUserBucket,
	apiTokensBucket,
	apiTokenIDsBucket,
	userRequestsBucket,
	userRequestPendingBucket,
	appRequestsBucket,
	appTokensBucket,
	oauthClientBucket,
}

// AppStatus is the install-level setup state.
type AppStatus string

const (
	// AppStatusResourceAdmin means no one has logged in yet; the first
	// user to complete login becomes the admin.
	AppStatusResourceAdmin AppStatus = "resource_admin"
	AppStatusReady         AppStatus = "ready"
)

// TokenDigest returns the SHA-256 hex digest of a token string. Token
// tables are keyed by digest so raw tokens are not stored on disk.
func TokenDigest(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. A fresh database starts in the resource-admin setup
// state.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		app := tx.Bucket(appBucket)
		if app.Get(appStatusKey) == nil {
			return app.Put(appStatusKey, []byte(AppStatusResourceAdmin))
		}

		return nil
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

// AppStatus returns the current setup state.
func (s *State) AppStatus() (AppStatus, error) {
	var status AppStatus

	err := s.db.View(func(tx *bolt.Tx) error {
		status = AppStatus(tx.Bucket(appBucket).Get(appStatusKey))
		return nil
	})

	return status, err
}

// SetAppStatus overwrites the setup state.
func (s *State) SetAppStatus(status AppStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(appStatusKey, []byte(status))
	})
}

// getJSON decodes the value at key into v. It reports false when the
// key is absent.
func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}

	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return b.Put(key, data)
}

// seqKey encodes a bucket sequence number so keys sort numerically.
func seqKey(id int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))

	return k
}

// page clamps offset and limit to the length of a result set.
func page(total, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}

	if offset > total {
		offset = total
	}

	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	return offset, end
}
