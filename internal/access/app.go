package access

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/google/uuid"
)

//go:generate mockgen -source=app.go -destination=mock_resources_test.go -package=access

// ReviewPath is the frontend page where a user reviews an app request.
const ReviewPath = "/ui/apps/access-requests/review"

// AppStore is the persistence the app-level workflow needs.
// *state.State satisfies it.
type AppStore interface {
	SaveAppAccessRequest(r models.AppAccessRequest) error
	GetAppAccessRequest(id string) (*models.AppAccessRequest, error)
	UpdateAppAccessRequest(id string, fn func(*models.AppAccessRequest) error) (*models.AppAccessRequest, error)
	GetOAuthClient(clientID string) (*models.OAuthClient, error)
}

// Resources looks up the reviewer's configured resource instances.
type Resources interface {
	ListOwned(ownerUserID string) []models.ResourceInstance
	Get(id string) (models.ResourceInstance, bool)
}

// CreateAppRequest is an app's request for delegated access.
type CreateAppRequest struct {
	AppClientID   string
	FlowType      models.FlowType
	RedirectURL   string
	RequestedRole models.UserScope
	Resources     []models.ResourceRef
}

// ReviewResource pairs a requested resource with the reviewer's
// matching instances.
type ReviewResource struct {
	Requested models.ResourceRef        `json:"requested"`
	Instances []models.ResourceInstance `json:"instances"`
}

// Review is what a reviewer sees before deciding.
type Review struct {
	Request   *models.AppAccessRequest `json:"request"`
	Client    *models.OAuthClient      `json:"client,omitempty"`
	Resources []ReviewResource         `json:"resources"`
}

// AppRequests runs the app-level access request workflow.
type AppRequests struct {
	store     AppStore
	resources Resources
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewAppRequests returns the app-level workflow. Undecided requests
// expire after ttl.
func NewAppRequests(store AppStore, resources Resources, ttl time.Duration, logger *slog.Logger) *AppRequests {
	return &AppRequests{store: store, resources: resources, ttl: ttl, logger: logger, now: time.Now}
}

// Create validates and stores a new request in the pending state.
// Requests are never approved without a reviewer. The returned review
// URL is built from baseURL.
func (a *AppRequests) Create(_ context.Context, req CreateAppRequest, baseURL string) (*models.AppAccessRequest, string, error) {
	client, err := a.store.GetOAuthClient(req.AppClientID)
	if err != nil {
		return nil, "", storeErr(err)
	}

	if client == nil {
		return nil, "", apperrors.ErrUnknownClient
	}

	if req.RequestedRole == 0 {
		req.RequestedRole = models.UserScopeUser
	}

	if !req.RequestedRole.Valid() {
		return nil, "", fmt.Errorf("%w: %w", apperrors.ErrInvalidRequest, models.ErrInvalidScope)
	}

	for _, res := range req.Resources {
		if res.Type != models.ResourceToolset && res.Type != models.ResourceMCP {
			return nil, "", fmt.Errorf("%w: %q", apperrors.ErrInvalidResourceType, res.Type)
		}

		if res.ID == "" {
			return nil, "", fmt.Errorf("%w: resource id is required", apperrors.ErrInvalidRequest)
		}
	}

	now := a.now()
	id := uuid.NewString()

	r := models.AppAccessRequest{
		ID:                 id,
		AppClientID:        req.AppClientID,
		FlowType:           req.FlowType,
		Status:             models.AppRequestDraft,
		RequestedRole:      req.RequestedRole,
		RequestedResources: req.Resources,
		ExpiresAt:          now.Add(a.ttl),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	switch req.FlowType {
	case models.FlowRedirect:
		redirect, err := withRequestID(req.RedirectURL, id)
		if err != nil {
			return nil, "", err
		}

		r.RedirectURL = redirect
	case models.FlowPopup:
		if req.RedirectURL != "" {
			redirect, err := withRequestID(req.RedirectURL, id)
			if err != nil {
				return nil, "", err
			}

			r.RedirectURL = redirect
		}
	default:
		return nil, "", apperrors.ErrInvalidFlowType
	}

	r.Status = models.AppRequestPending

	if err := a.store.SaveAppAccessRequest(r); err != nil {
		return nil, "", storeErr(err)
	}

	a.logger.Info("access: app requested access",
		slog.String("request_id", id),
		slog.String("client_id", req.AppClientID),
		slog.String("flow", string(req.FlowType)),
	)

	return &r, ReviewURL(baseURL, id), nil
}

// ReviewURL returns the review page for request id.
func ReviewURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + ReviewPath + "?id=" + url.QueryEscape(id)
}

// AppStatus returns a request to the app that created it. A request
// belonging to another client is reported as not found.
func (a *AppRequests) AppStatus(_ context.Context, id, clientID string) (*models.AppAccessRequest, error) {
	r, err := a.load(id)
	if err != nil {
		return nil, err
	}

	if r.AppClientID != clientID {
		return nil, apperrors.ErrAppRequestNotFound
	}

	return r, nil
}

// Review returns the request with, for each requested resource, the
// reviewer's own instances of that type and kind.
func (a *AppRequests) Review(_ context.Context, id, reviewerUserID string) (*Review, error) {
	r, err := a.load(id)
	if err != nil {
		return nil, err
	}

	if r.Status == models.AppRequestExpired {
		return nil, apperrors.ErrAppRequestExpired
	}

	client, err := a.store.GetOAuthClient(r.AppClientID)
	if err != nil {
		return nil, storeErr(err)
	}

	owned := a.resources.ListOwned(reviewerUserID)

	out := &Review{Request: r, Client: client, Resources: make([]ReviewResource, 0, len(r.RequestedResources))}
	for _, req := range r.RequestedResources {
		rr := ReviewResource{Requested: req, Instances: []models.ResourceInstance{}}

		for _, inst := range owned {
			if inst.Type == req.Type && inst.Kind == req.ID {
				rr.Instances = append(rr.Instances, inst)
			}
		}

		out.Resources = append(out.Resources, rr)
	}

	return out, nil
}

// Approve grants the request. approvedRole may be lower than what the
// app asked for but never above the reviewer's own delegation cap or
// the requested role. Every approved instance is checked before
// anything is written.
func (a *AppRequests) Approve(_ context.Context, id string, reviewer Reviewer, approvedRole models.UserScope, approvals []models.ResourceRef) (*models.AppAccessRequest, error) {
	if reviewer.Role == nil {
		return nil, apperrors.ErrMissingRole
	}

	if !approvedRole.Valid() {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidRequest, models.ErrInvalidScope)
	}

	if !reviewer.Role.MaxUserScope().HasAccessTo(approvedRole) {
		return nil, apperrors.ErrApprovedRoleExceeds
	}

	current, err := a.load(id)
	if err != nil {
		return nil, err
	}

	if !current.RequestedRole.HasAccessTo(approvedRole) {
		return nil, fmt.Errorf("%w: approved role is above the requested role", apperrors.ErrApprovedRoleExceeds)
	}

	if err := a.checkApprovals(current, reviewer.UserID, approvals); err != nil {
		return nil, err
	}

	r, err := a.store.UpdateAppAccessRequest(id, func(r *models.AppAccessRequest) error {
		now := a.now()
		if err := a.checkOpen(r, now); err != nil {
			return err
		}

		role := approvedRole
		r.Status = models.AppRequestApproved
		r.ApprovedRole = &role
		r.ApprovedResources = approvals
		r.ReviewerUserID = reviewer.UserID
		r.DecidedAt = &now
		r.UpdatedAt = now

		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	a.logger.Info("access: app request approved",
		slog.String("request_id", id),
		slog.String("client_id", r.AppClientID),
		slog.String("reviewer", reviewer.UserID),
		slog.String("role", approvedRole.String()),
		slog.Int("resources", len(approvals)),
	)

	return r, nil
}

// Deny closes the request. Denial is terminal.
func (a *AppRequests) Deny(_ context.Context, id, reviewerUserID string) (*models.AppAccessRequest, error) {
	r, err := a.store.UpdateAppAccessRequest(id, func(r *models.AppAccessRequest) error {
		now := a.now()
		if err := a.checkOpen(r, now); err != nil {
			return err
		}

		r.Status = models.AppRequestDenied
		r.ReviewerUserID = reviewerUserID
		r.DecidedAt = &now
		r.UpdatedAt = now

		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	a.logger.Info("access: app request denied",
		slog.String("request_id", id),
		slog.String("reviewer", reviewerUserID),
	)

	return r, nil
}

// checkOpen runs inside the update transaction. A pending request past
// its expiry is marked expired.
func (a *AppRequests) checkOpen(r *models.AppAccessRequest, now time.Time) error {
	if r.ExpiredAt(now) {
		r.Status = models.AppRequestExpired
		r.UpdatedAt = now

		return apperrors.ErrAppRequestExpired
	}

	switch r.Status {
	case models.AppRequestPending:
		return nil
	case models.AppRequestExpired:
		return apperrors.ErrAppRequestExpired
	default:
		return apperrors.ErrAppRequestAlreadyProcessed
	}
}

func (a *AppRequests) checkApprovals(r *models.AppAccessRequest, reviewerUserID string, approvals []models.ResourceRef) error {
	for _, ap := range approvals {
		inst, ok := a.resources.Get(ap.ID)
		if !ok || inst.OwnerUserID != reviewerUserID {
			return fmt.Errorf("%w: %s", apperrors.ErrResourceNotOwned, ap.ID)
		}

		if inst.Type != ap.Type || !requested(r, inst) {
			return fmt.Errorf("%w: %s was not requested", apperrors.ErrInvalidResourceType, ap.ID)
		}

		if !inst.Enabled || (inst.RequiresAPIKey && !inst.HasAPIKey) {
			return fmt.Errorf("%w: %s", apperrors.ErrResourceNotConfigured, ap.ID)
		}
	}

	return nil
}

func requested(r *models.AppAccessRequest, inst models.ResourceInstance) bool {
	for _, req := range r.RequestedResources {
		if req.Type == inst.Type && req.ID == inst.Kind {
			return true
		}
	}

	return false
}

// load returns a request, marking it expired first if its time is up.
func (a *AppRequests) load(id string) (*models.AppAccessRequest, error) {
	r, err := a.store.GetAppAccessRequest(id)
	if err != nil {
		return nil, storeErr(err)
	}

	if r == nil {
		return nil, apperrors.ErrAppRequestNotFound
	}

	if !r.ExpiredAt(a.now()) {
		return r, nil
	}

	updated, err := a.store.UpdateAppAccessRequest(id, func(r *models.AppAccessRequest) error {
		if r.ExpiredAt(a.now()) {
			r.Status = models.AppRequestExpired
			r.UpdatedAt = a.now()
		}

		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	return updated, nil
}

// withRequestID appends id=<id> to an absolute http(s) redirect URL.
func withRequestID(raw, id string) (string, error) {
	if raw == "" {
		return "", apperrors.ErrMissingRedirectURL
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: redirect_url must be an absolute http(s) URL", apperrors.ErrInvalidRequest)
	}

	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
