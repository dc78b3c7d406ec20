package state

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	bolt "go.etcd.io/bbolt"
)

// SaveAppAccessRequest writes an app access request.
func (s *State) SaveAppAccessRequest(r models.AppAccessRequest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(appRequestsBucket), []byte(r.ID), r)
	})
}

// GetAppAccessRequest returns an app access request by ID, or nil.
func (s *State) GetAppAccessRequest(id string) (*models.AppAccessRequest, error) {
	var out *models.AppAccessRequest

	err := s.db.View(func(tx *bolt.Tx) error {
		var r models.AppAccessRequest

		ok, err := getJSON(tx.Bucket(appRequestsBucket), []byte(id), &r)
		if ok {
			out = &r
		}

		return err
	})

	return out, err
}

// UpdateAppAccessRequest applies fn to the request inside one write
// transaction. If fn returns an error the request is left unchanged,
// unless fn also mutated it to a terminal state and returned
// ErrAppRequestExpired, in which case the expiry is persisted and the
// error still returned.
func (s *State) UpdateAppAccessRequest(id string, fn func(*models.AppAccessRequest) error) (*models.AppAccessRequest, error) {
	var out models.AppAccessRequest

	var fnErr error

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appRequestsBucket)

		ok, err := getJSON(b, []byte(id), &out)
		if err != nil {
			return err
		}

		if !ok {
			return apperrors.ErrAppRequestNotFound
		}

		fnErr = fn(&out)
		if fnErr != nil && !(apperrors.Is(fnErr, apperrors.ErrAppRequestExpired) && out.Status == models.AppRequestExpired) {
			return fnErr
		}

		return putJSON(b, []byte(id), out)
	})
	if err != nil {
		return nil, err
	}

	if fnErr != nil {
		return nil, fnErr
	}

	return &out, nil
}

// SaveAppToken persists an app token keyed by its digest.
func (s *State) SaveAppToken(t models.AppToken) error {
	if t.TokenDigest == "" {
		return fmt.Errorf("token digest is required for persistence")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(appTokensBucket), []byte(t.TokenDigest), t)
	})
}

// GetAppToken returns the app token with the given digest, or nil.
func (s *State) GetAppToken(digest string) (*models.AppToken, error) {
	var out *models.AppToken

	err := s.db.View(func(tx *bolt.Tx) error {
		var t models.AppToken

		ok, err := getJSON(tx.Bucket(appTokensBucket), []byte(digest), &t)
		if ok {
			out = &t
		}

		return err
	})

	return out, err
}

// DeleteExpiredAppTokens removes app tokens that expired before now.
func (s *State) DeleteExpiredAppTokens(now time.Time) (int, error) {
	n := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appTokensBucket)

		var expired [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var t models.AppToken
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}

			if now.After(t.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}

			n++
		}

		return nil
	})

	return n, err
}

// SaveOAuthClient persists a registered app client.
func (s *State) SaveOAuthClient(c models.OAuthClient) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(oauthClientBucket), []byte(c.ClientID), c)
	})
}

// GetOAuthClient returns a registered client by ID, or nil if not found.
func (s *State) GetOAuthClient(clientID string) (*models.OAuthClient, error) {
	var c *models.OAuthClient

	err := s.db.View(func(tx *bolt.Tx) error {
		var found models.OAuthClient

		ok, err := getJSON(tx.Bucket(oauthClientBucket), []byte(clientID), &found)
		if ok {
			c = &found
		}

		return err
	})

	return c, err
}

// OAuthClientCount returns the number of registered app clients.
func (s *State) OAuthClientCount() int {
	count := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(oauthClientBucket).Stats().KeyN

		return nil
	})

	return count
}
