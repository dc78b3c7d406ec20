package server

import (
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/respond"
)

type createTokenRequest struct {
	Name  string `json:"name" validate:"max=100"`
	Scope string `json:"scope" validate:"required"`
}

// createTokenResponse carries the plaintext token. It is returned
// exactly once.
type createTokenResponse struct {
	Token  string             `json:"token"`
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Scope  models.TokenScope  `json:"scope"`
	Status models.TokenStatus `json:"status"`
}

// tokenView is token metadata without the digest.
type tokenView struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Scope     models.TokenScope  `json:"scope"`
	Status    models.TokenStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func newTokenView(t *models.APIToken) tokenView {
	return tokenView{
		ID:        t.ID,
		Name:      t.Name,
		Scope:     t.Scope,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

type updateTokenRequest struct {
	Status models.TokenStatus `json:"status" validate:"required,oneof=active inactive"`
	Name   *string            `json:"name,omitempty" validate:"omitempty,max=100"`
}

func (h *handlers) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	var req createTokenRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	scope, err := models.ParseTokenScope(req.Scope)
	if err != nil {
		respond.Error(w, h.logger, fmt.Errorf("%w: %q", apperrors.ErrInvalidScope, req.Scope))
		return
	}

	plaintext, t, err := h.tokens.Create(r.Context(), sa.UserID, *sa.Role, scope, req.Name)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusCreated, createTokenResponse{
		Token:  plaintext,
		ID:     t.ID,
		Name:   t.Name,
		Scope:  t.Scope,
		Status: t.Status,
	})
}

func (h *handlers) handleListTokens(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	page, size := pageParams(r)

	ts, total, err := h.tokens.List(r.Context(), sa.UserID, page, size)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	views := make([]tokenView, 0, len(ts))
	for i := range ts {
		views = append(views, newTokenView(&ts[i]))
	}

	respond.JSON(w, http.StatusOK, newPage(views, total, page, size))
}

func (h *handlers) handleUpdateToken(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	var req updateTokenRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	t, err := h.tokens.Update(r.Context(), r.PathValue("id"), sa.UserID, req.Status, req.Name)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, newTokenView(t))
}
