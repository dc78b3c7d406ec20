package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	bolt "go.etcd.io/bbolt"
)

// GetUser returns a user by ID, or nil if not found.
func (s *State) GetUser(id string) (*models.User, error) {
	var u *models.User

	err := s.db.View(func(tx *bolt.Tx) error {
		var found models.User

		ok, err := getJSON(tx.Bucket(usersBucket), []byte(id), &found)
		if ok {
			u = &found
		}

		return err
	})

	return u, err
}

// UpsertUser records a login. New users are created without a role
// unless the install is still in the resource-admin state, in which
// case the user becomes admin and the install moves to ready. Both
// happen in one transaction so only one user can claim admin.
func (s *State) UpsertUser(id, username, email string, now time.Time) (*models.User, error) {
	var out models.User

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)

		found, err := getJSON(b, []byte(id), &out)
		if err != nil {
			return err
		}

		if !found {
			out = models.User{ID: id, CreatedAt: now}
		}

		out.Username = username
		out.Email = email
		out.UpdatedAt = now

		app := tx.Bucket(appBucket)
		if AppStatus(app.Get(appStatusKey)) == AppStatusResourceAdmin {
			admin := models.RoleAdmin
			out.Role = &admin

			if err := app.Put(appStatusKey, []byte(AppStatusReady)); err != nil {
				return err
			}
		}

		return putJSON(b, []byte(id), out)
	})
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}

	return &out, nil
}

// SetUserRole assigns a role to a user. A nil role revokes access.
func (s *State) SetUserRole(id string, role *models.Role, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return setUserRoleTx(tx, id, role, now)
	})
}

func setUserRoleTx(tx *bolt.Tx, id string, role *models.Role, now time.Time) error {
	b := tx.Bucket(usersBucket)

	var u models.User

	found, err := getJSON(b, []byte(id), &u)
	if err != nil {
		return err
	}

	if !found {
		return apperrors.ErrUserNotFound
	}

	u.Role = role
	u.UpdatedAt = now

	return putJSON(b, []byte(id), u)
}

// DeleteUser removes a user. Tokens owned by the user stay on disk but
// fail validation because their owner no longer exists. A pending
// access request is closed as rejected so it cannot be approved later.
func (s *State) DeleteUser(id string) error {
	now := time.Now().UTC()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(id)) == nil {
			return apperrors.ErrUserNotFound
		}

		pending := tx.Bucket(userRequestPendingBucket)

		if key := pending.Get([]byte(id)); key != nil {
			reqs := tx.Bucket(userRequestsBucket)

			var r models.UserAccessRequest

			ok, err := getJSON(reqs, key, &r)
			if err != nil {
				return err
			}

			if ok && r.Status == models.RequestPending {
				r.Status = models.RequestRejected
				r.DecidedAt = &now

				if err := putJSON(reqs, key, r); err != nil {
					return err
				}
			}

			if err := pending.Delete([]byte(id)); err != nil {
				return err
			}
		}

		return b.Delete([]byte(id))
	})
}

// ListUsers returns users ordered by username, and the total count.
func (s *State) ListUsers(offset, limit int) ([]models.User, int, error) {
	var users []models.User

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(usersBucket).ForEach(func(_, v []byte) error {
			var u models.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}

			users = append(users, u)

			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	start, end := page(len(users), offset, limit)

	return users[start:end], len(users), nil
}
