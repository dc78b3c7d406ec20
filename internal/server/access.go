package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/alexjbarnes/llm-gateway/internal/access"
	"github.com/alexjbarnes/llm-gateway/internal/apps"
	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/respond"
	"github.com/google/uuid"
)

// requestID classifies a path id: user requests have numeric ids, app
// requests have UUIDs.
type requestID struct {
	user  int64
	app   string
	isApp bool
}

func parseRequestID(raw string) (requestID, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		return requestID{user: n}, nil
	}

	if _, err := uuid.Parse(raw); err == nil {
		return requestID{app: raw, isApp: true}, nil
	}

	return requestID{}, apperrors.ErrRequestNotFound
}

func reviewer(sa models.SessionAuth) access.Reviewer {
	return access.Reviewer{UserID: sa.UserID, Username: sa.Username, Role: sa.Role}
}

// --- User-level requests ---

func (h *handlers) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	req, err := h.userRequests.Request(r.Context(), sa.UserID, sa.Username, sa.Role)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusCreated, req)
}

func (h *handlers) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	req, err := h.userRequests.Status(r.Context(), sa.UserID)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, req)
}

func (h *handlers) handleListRequests(w http.ResponseWriter, r *http.Request) {
	var pendingOnly bool

	switch status := r.URL.Query().Get("status"); status {
	case "", "pending":
		pendingOnly = true
	case "all":
	default:
		respond.Error(w, h.logger, fmt.Errorf("%w: status must be pending or all", apperrors.ErrInvalidRequest))
		return
	}

	page, size := pageParams(r)

	rs, total, err := h.userRequests.List(r.Context(), pendingOnly, page, size)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, newPage(rs, total, page, size))
}

type approveUserRequest struct {
	GrantedRole models.Role `json:"granted_role" validate:"required"`
}

type approveAppRequest struct {
	ApprovedRole      models.UserScope     `json:"approved_role" validate:"required"`
	ApprovedResources []models.ResourceRef `json:"approved_resources"`
}

// handleApprove serves both request kinds; the id decides which.
func (h *handlers) handleApprove(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	id, err := parseRequestID(r.PathValue("id"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	if id.isApp {
		var body approveAppRequest
		if err := respond.Decode(w, r, &body); err != nil {
			respond.Error(w, h.logger, err)
			return
		}

		approved, err := h.appRequests.Approve(r.Context(), id.app, reviewer(sa), body.ApprovedRole, body.ApprovedResources)
		if err != nil {
			respond.Error(w, h.logger, err)
			return
		}

		respond.JSON(w, http.StatusOK, approved)

		return
	}

	var body approveUserRequest
	if err := respond.Decode(w, r, &body); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	approved, err := h.userRequests.Approve(r.Context(), id.user, reviewer(sa), body.GrantedRole)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, approved)
}

func (h *handlers) handleReject(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	id, err := parseRequestID(r.PathValue("id"))
	if err != nil || id.isApp {
		respond.Error(w, h.logger, apperrors.ErrRequestNotFound)
		return
	}

	rejected, err := h.userRequests.Reject(r.Context(), id.user, reviewer(sa))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, rejected)
}

// --- App-level requests, reviewer side ---

func (h *handlers) handleReview(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	id, err := parseRequestID(r.PathValue("id"))
	if err != nil || !id.isApp {
		respond.Error(w, h.logger, apperrors.ErrAppRequestNotFound)
		return
	}

	review, err := h.appRequests.Review(r.Context(), id.app, sa.UserID)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, review)
}

func (h *handlers) handleDeny(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	id, err := parseRequestID(r.PathValue("id"))
	if err != nil || !id.isApp {
		respond.Error(w, h.logger, apperrors.ErrAppRequestNotFound)
		return
	}

	denied, err := h.appRequests.Deny(r.Context(), id.app, sa.UserID)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, denied)
}

// --- App-level requests, app side ---

type createAppRequestBody struct {
	AppClientID   string               `json:"app_client_id" validate:"required"`
	FlowType      models.FlowType      `json:"flow_type" validate:"required,oneof=redirect popup"`
	RedirectURL   string               `json:"redirect_url,omitempty" validate:"omitempty,url"`
	RequestedRole models.UserScope     `json:"requested_role,omitempty"`
	Resources     []models.ResourceRef `json:"resources,omitempty" validate:"max=20"`
}

type createAppRequestResponse struct {
	ID        string                  `json:"id"`
	Status    models.AppRequestStatus `json:"status"`
	ReviewURL string                  `json:"review_url"`
}

// appRequestStatus is what an app may see of its own request.
type appRequestStatus struct {
	ID                 string                  `json:"id"`
	AppClientID        string                  `json:"app_client_id"`
	Status             models.AppRequestStatus `json:"status"`
	RequestedRole      models.UserScope        `json:"requested_role"`
	ApprovedRole       *models.UserScope       `json:"approved_role,omitempty"`
	ApprovedResources  []models.ResourceRef    `json:"approved_resources,omitempty"`
	AccessRequestScope string                  `json:"access_request_scope,omitempty"`
}

func (h *handlers) handleCreateAppRequest(w http.ResponseWriter, r *http.Request) {
	var body createAppRequestBody
	if err := respond.Decode(w, r, &body); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	base, err := h.baseURL(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	created, reviewURL, err := h.appRequests.Create(r.Context(), access.CreateAppRequest{
		AppClientID:   body.AppClientID,
		FlowType:      body.FlowType,
		RedirectURL:   body.RedirectURL,
		RequestedRole: body.RequestedRole,
		Resources:     body.Resources,
	}, base)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusCreated, createAppRequestResponse{
		ID:        created.ID,
		Status:    created.Status,
		ReviewURL: reviewURL,
	})
}

func (h *handlers) handleAppRequestStatus(w http.ResponseWriter, r *http.Request) {
	ar, err := h.appRequests.AppStatus(r.Context(), r.PathValue("id"), r.URL.Query().Get("app_client_id"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	out := appRequestStatus{
		ID:                ar.ID,
		AppClientID:       ar.AppClientID,
		Status:            ar.Status,
		RequestedRole:     ar.RequestedRole,
		ApprovedRole:      ar.ApprovedRole,
		ApprovedResources: ar.ApprovedResources,
	}

	if ar.Status == models.AppRequestApproved {
		out.AccessRequestScope = apps.AccessRequestScopePrefix + ar.ID
	}

	respond.JSON(w, http.StatusOK, out)
}
