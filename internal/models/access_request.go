package models

import "time"

// RequestStatus is the state of a user-level access request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// UserAccessRequest is a logged-in user's request to be granted a role.
type UserAccessRequest struct {
	ID          int64         `json:"id"`
	UserID      string        `json:"user_id"`
	Username    string        `json:"username"`
	Status      RequestStatus `json:"status"`
	RequestedAt time.Time     `json:"requested_at"`
	DecidedAt   *time.Time    `json:"decided_at,omitempty"`
	DecidedBy   string        `json:"decided_by,omitempty"`
	GrantedRole *Role         `json:"granted_role,omitempty"`
}

// AppRequestStatus is the state of an app access request.
type AppRequestStatus string

const (
	AppRequestDraft    AppRequestStatus = "draft"
	AppRequestPending  AppRequestStatus = "pending"
	AppRequestApproved AppRequestStatus = "approved"
	AppRequestDenied   AppRequestStatus = "denied"
	AppRequestExpired  AppRequestStatus = "expired"
)

// FlowType controls how the reviewer's browser returns to the app.
type FlowType string

const (
	FlowRedirect FlowType = "redirect"
	FlowPopup    FlowType = "popup"
)

// Resource types an app may ask for.
const (
	ResourceToolset = "toolset"
	ResourceMCP     = "mcp"
)

// ResourceRef names a resource by type. For requested resources ID is
// the toolset kind or MCP server URL; for approved resources it is the
// reviewer's concrete instance ID.
type ResourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// AppAccessRequest is a third-party application's request for delegated
// access to a user's resources.
type AppAccessRequest struct {
	ID                 string           `json:"id"`
	AppClientID        string           `json:"app_client_id"`
	FlowType           FlowType         `json:"flow_type"`
	RedirectURL        string           `json:"redirect_url,omitempty"`
	Status             AppRequestStatus `json:"status"`
	RequestedRole      UserScope        `json:"requested_role"`
	ApprovedRole       *UserScope       `json:"approved_role,omitempty"`
	RequestedResources []ResourceRef    `json:"requested_resources"`
	ApprovedResources  []ResourceRef    `json:"approved_resources,omitempty"`
	ReviewerUserID     string           `json:"reviewer_user_id,omitempty"`
	DecidedAt          *time.Time       `json:"decided_at,omitempty"`
	ExpiresAt          time.Time        `json:"expires_at"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Decided reports whether the request has left the undecided states.
func (r *AppAccessRequest) Decided() bool {
	return r.Status != AppRequestDraft && r.Status != AppRequestPending
}

// ExpiredAt reports whether an undecided request has passed its expiry.
func (r *AppAccessRequest) ExpiredAt(now time.Time) bool {
	return !r.Decided() && now.After(r.ExpiresAt)
}

// ResourceInstance is a concrete toolset or MCP server configured by a user.
type ResourceInstance struct {
	ID             string `json:"id" yaml:"id"`
	OwnerUserID    string `json:"owner_user_id" yaml:"owner"`
	Type           string `json:"type" yaml:"type"`
	Kind           string `json:"kind" yaml:"kind"`
	Name           string `json:"name" yaml:"name"`
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	RequiresAPIKey bool   `json:"requires_api_key" yaml:"requires_api_key"`
	HasAPIKey      bool   `json:"has_api_key" yaml:"has_api_key"`
}
