package state

import (
	"encoding/json"
	"fmt"
	"sort"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	bolt "go.etcd.io/bbolt"
)

// SaveAPIToken persists a new API token, keyed by its digest. The
// token ID index is written in the same transaction.
func (s *State) SaveAPIToken(t models.APIToken) error {
	if t.TokenDigest == "" {
		return fmt.Errorf("token digest is required for persistence")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(apiTokenIDsBucket).Put([]byte(t.ID), []byte(t.TokenDigest)); err != nil {
			return err
		}

		return putJSON(tx.Bucket(apiTokensBucket), []byte(t.TokenDigest), t)
	})
}

// GetAPITokenByDigest returns the token with the given digest, or nil.
func (s *State) GetAPITokenByDigest(digest string) (*models.APIToken, error) {
	var out *models.APIToken

	err := s.db.View(func(tx *bolt.Tx) error {
		var t models.APIToken

		ok, err := getJSON(tx.Bucket(apiTokensBucket), []byte(digest), &t)
		if ok {
			out = &t
		}

		return err
	})

	return out, err
}

// GetAPIToken returns the token with the given ID, or nil.
func (s *State) GetAPIToken(id string) (*models.APIToken, error) {
	var out *models.APIToken

	err := s.db.View(func(tx *bolt.Tx) error {
		digest := tx.Bucket(apiTokenIDsBucket).Get([]byte(id))
		if digest == nil {
			return nil
		}

		var t models.APIToken

		ok, err := getJSON(tx.Bucket(apiTokensBucket), digest, &t)
		if ok {
			out = &t
		}

		return err
	})

	return out, err
}

// UpdateAPIToken applies fn to the token with the given ID inside one
// write transaction. fn may return an error to abort the update.
func (s *State) UpdateAPIToken(id string, fn func(*models.APIToken) error) (*models.APIToken, error) {
	var out models.APIToken

	err := s.db.Update(func(tx *bolt.Tx) error {
		digest := tx.Bucket(apiTokenIDsBucket).Get([]byte(id))
		if digest == nil {
			return apperrors.ErrTokenNotFound
		}

		b := tx.Bucket(apiTokensBucket)

		ok, err := getJSON(b, digest, &out)
		if err != nil {
			return err
		}

		if !ok {
			return apperrors.ErrTokenNotFound
		}

		if err := fn(&out); err != nil {
			return err
		}

		return putJSON(b, digest, out)
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// ListAPITokens returns a user's tokens, newest first, and the total count.
func (s *State) ListAPITokens(userID string, offset, limit int) ([]models.APIToken, int, error) {
	var tokens []models.APIToken

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(apiTokensBucket).ForEach(func(_, v []byte) error {
			var t models.APIToken
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}

			if t.UserID == userID {
				tokens = append(tokens, t)
			}

			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(tokens, func(i, j int) bool { return tokens[i].CreatedAt.After(tokens[j].CreatedAt) })

	start, end := page(len(tokens), offset, limit)

	return tokens[start:end], len(tokens), nil
}
