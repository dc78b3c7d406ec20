package state

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/alexjbarnes/llm-gateway/internal/models"
	bolt "go.etcd.io/bbolt"
)

// OAuthTransient holds the login values stored between initiation and
// callback.
type OAuthTransient struct {
	CSRFState    string
	PKCEVerifier string
	CallbackURL  string
}

func sessionIndexKey(userID, sessionID string) []byte {
	return []byte(userID + "\x00" + sessionID)
}

// SaveSession writes a session and keeps the per-user index in step.
func (s *State) SaveSession(sess models.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		idx := tx.Bucket(sessionsByUserBucket)

		var prev models.Session

		found, err := getJSON(b, []byte(sess.ID), &prev)
		if err != nil {
			return err
		}

		if found && prev.UserID != "" && prev.UserID != sess.UserID {
			if err := idx.Delete(sessionIndexKey(prev.UserID, sess.ID)); err != nil {
				return err
			}
		}

		if sess.UserID != "" {
			if err := idx.Put(sessionIndexKey(sess.UserID, sess.ID), nil); err != nil {
				return err
			}
		}

		return putJSON(b, []byte(sess.ID), sess)
	})
}

// GetSession returns a session by ID, or nil if not found.
func (s *State) GetSession(id string) (*models.Session, error) {
	var out *models.Session

	err := s.db.View(func(tx *bolt.Tx) error {
		var sess models.Session

		ok, err := getJSON(tx.Bucket(sessionsBucket), []byte(id), &sess)
		if ok {
			out = &sess
		}

		return err
	})

	return out, err
}

// DeleteSession removes a session. Missing sessions are not an error.
func (s *State) DeleteSession(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteSessionTx(tx, id)
	})
}

func deleteSessionTx(tx *bolt.Tx, id string) error {
	b := tx.Bucket(sessionsBucket)

	var sess models.Session

	found, err := getJSON(b, []byte(id), &sess)
	if err != nil || !found {
		return err
	}

	if sess.UserID != "" {
		if err := tx.Bucket(sessionsByUserBucket).Delete(sessionIndexKey(sess.UserID, id)); err != nil {
			return err
		}
	}

	return b.Delete([]byte(id))
}

// DeleteUserSessions removes every session belonging to userID and
// returns how many were removed.
func (s *State) DeleteUserSessions(userID string) (int, error) {
	n := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(sessionsByUserBucket)
		prefix := []byte(userID + "\x00")

		var ids []string

		c := idx.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, string(k[len(prefix):]))
		}

		for _, id := range ids {
			if err := tx.Bucket(sessionsBucket).Delete([]byte(id)); err != nil {
				return err
			}

			if err := idx.Delete(sessionIndexKey(userID, id)); err != nil {
				return err
			}

			n++
		}

		return nil
	})

	return n, err
}

// UpdateSessionRole sets the cached role on a session. Missing sessions
// are ignored.
func (s *State) UpdateSessionRole(id string, role *models.Role) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)

		var sess models.Session

		found, err := getJSON(b, []byte(id), &sess)
		if err != nil || !found {
			return err
		}

		sess.Role = role

		return putJSON(b, []byte(id), sess)
	})
}

// UpdateSessionTokens replaces the upstream tokens of an existing
// session and returns the updated record. A session deleted in the
// meantime is left deleted and nil is returned.
func (s *State) UpdateSessionTokens(id, accessToken, refreshToken string, expiry time.Time) (*models.Session, error) {
	var out *models.Session

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)

		var sess models.Session

		found, err := getJSON(b, []byte(id), &sess)
		if err != nil || !found {
			return err
		}

		sess.AccessToken = accessToken
		sess.TokenExpiry = expiry

		if refreshToken != "" {
			sess.RefreshToken = refreshToken
		}

		if err := putJSON(b, []byte(id), sess); err != nil {
			return err
		}

		out = &sess

		return nil
	})

	return out, err
}

// ConsumeSessionOAuth reads and clears the login transient fields in a
// single write transaction. It reports false when the session is gone
// or holds no pending login.
func (s *State) ConsumeSessionOAuth(id string) (OAuthTransient, bool, error) {
	var out OAuthTransient

	found := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)

		var sess models.Session

		ok, err := getJSON(b, []byte(id), &sess)
		if err != nil || !ok {
			return err
		}

		if sess.CSRFState == "" || sess.PKCEVerifier == "" {
			return nil
		}

		out = OAuthTransient{
			CSRFState:    sess.CSRFState,
			PKCEVerifier: sess.PKCEVerifier,
			CallbackURL:  sess.CallbackURL,
		}
		found = true

		sess.CSRFState = ""
		sess.PKCEVerifier = ""
		sess.CallbackURL = ""

		return putJSON(b, []byte(id), sess)
	})

	return out, found, err
}

// DeleteExpiredSessions removes sessions whose expiry is before now.
func (s *State) DeleteExpiredSessions(now time.Time) (int, error) {
	n := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		var expired []string

		err := tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			var sess models.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}

			if now.After(sess.ExpiresAt) {
				expired = append(expired, string(k))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, id := range expired {
			if err := deleteSessionTx(tx, id); err != nil {
				return err
			}

			n++
		}

		return nil
	})

	return n, err
}
