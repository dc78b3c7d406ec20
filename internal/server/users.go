package server

import (
	"net/http"

	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/respond"
	"github.com/alexjbarnes/llm-gateway/internal/users"
)

type changeRoleRequest struct {
	Role models.Role `json:"role" validate:"required"`
}

func actor(sa models.SessionAuth) users.Actor {
	return users.Actor{UserID: sa.UserID, Role: sa.Role}
}

func (h *handlers) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)

	us, total, err := h.users.List(r.Context(), page, size)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, newPage(us, total, page, size))
}

func (h *handlers) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	var req changeRoleRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	u, err := h.users.ChangeRole(r.Context(), actor(sa), r.PathValue("id"), req.Role)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, u)
}

func (h *handlers) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	if err := h.users.Remove(r.Context(), actor(sa), r.PathValue("id")); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
