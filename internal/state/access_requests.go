package state

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	bolt "go.etcd.io/bbolt"
)

// CreateUserAccessRequest records a pending request for userID. The
// pending index is checked and written in the same transaction, so at
// most one pending request exists per user.
func (s *State) CreateUserAccessRequest(userID, username string, now time.Time) (*models.UserAccessRequest, error) {
	var out models.UserAccessRequest

	err := s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(userRequestPendingBucket)
		if pending.Get([]byte(userID)) != nil {
			return apperrors.ErrAlreadyPending
		}

		b := tx.Bucket(userRequestsBucket)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		out = models.UserAccessRequest{
			ID:          int64(seq),
			UserID:      userID,
			Username:    username,
			Status:      models.RequestPending,
			RequestedAt: now,
		}

		if err := pending.Put([]byte(userID), seqKey(out.ID)); err != nil {
			return err
		}

		return putJSON(b, seqKey(out.ID), out)
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// GetUserAccessRequest returns a request by ID, or nil.
func (s *State) GetUserAccessRequest(id int64) (*models.UserAccessRequest, error) {
	var out *models.UserAccessRequest

	err := s.db.View(func(tx *bolt.Tx) error {
		var r models.UserAccessRequest

		ok, err := getJSON(tx.Bucket(userRequestsBucket), seqKey(id), &r)
		if ok {
			out = &r
		}

		return err
	})

	return out, err
}

// PendingUserAccessRequest returns the user's pending request, or nil.
func (s *State) PendingUserAccessRequest(userID string) (*models.UserAccessRequest, error) {
	var out *models.UserAccessRequest

	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(userRequestPendingBucket).Get([]byte(userID))
		if key == nil {
			return nil
		}

		var r models.UserAccessRequest

		ok, err := getJSON(tx.Bucket(userRequestsBucket), key, &r)
		if ok {
			out = &r
		}

		return err
	})

	return out, err
}

// ListUserAccessRequests returns requests oldest first. When
// pendingOnly is set only pending requests are returned.
func (s *State) ListUserAccessRequests(pendingOnly bool, offset, limit int) ([]models.UserAccessRequest, int, error) {
	var out []models.UserAccessRequest

	err := s.db.View(func(tx *bolt.Tx) error {
		if pendingOnly {
			b := tx.Bucket(userRequestsBucket)

			return tx.Bucket(userRequestPendingBucket).ForEach(func(_, key []byte) error {
				var r models.UserAccessRequest

				ok, err := getJSON(b, key, &r)
				if ok {
					out = append(out, r)
				}

				return err
			})
		}

		return tx.Bucket(userRequestsBucket).ForEach(func(_, v []byte) error {
			var r models.UserAccessRequest
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}

			out = append(out, r)

			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	if pendingOnly {
		sortRequestsByID(out)
	}

	start, end := page(len(out), offset, limit)

	return out[start:end], len(out), nil
}

func sortRequestsByID(rs []models.UserAccessRequest) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}

// DecideUserAccessRequest moves a pending request to approved or
// rejected. On approval the user's role is set to role in the same
// transaction. Requests that are not pending fail with
// ErrRequestAlreadyProcessed.
func (s *State) DecideUserAccessRequest(id int64, status models.RequestStatus, reviewer string, role *models.Role, now time.Time) (*models.UserAccessRequest, error) {
	var out models.UserAccessRequest

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(userRequestsBucket)

		ok, err := getJSON(b, seqKey(id), &out)
		if err != nil {
			return err
		}

		if !ok {
			return apperrors.ErrRequestNotFound
		}

		if out.Status != models.RequestPending {
			return apperrors.ErrRequestAlreadyProcessed
		}

		out.Status = status
		out.DecidedAt = &now
		out.DecidedBy = reviewer

		if status == models.RequestApproved {
			out.GrantedRole = role

			if err := setUserRoleTx(tx, out.UserID, role, now); err != nil {
				return err
			}
		}

		// Only clear the index when it still points at this request.
		pending := tx.Bucket(userRequestPendingBucket)
		if bytes.Equal(pending.Get([]byte(out.UserID)), seqKey(id)) {
			if err := pending.Delete([]byte(out.UserID)); err != nil {
				return err
			}
		}

		return putJSON(b, seqKey(id), out)
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

