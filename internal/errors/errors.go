// Package errors defines the gateway's error values. Each value carries
// a stable code and the HTTP status it maps to, so handlers can render
// any error returned by a service without knowing where it came from.
package errors

import (
	"errors"
	"net/http"
)

// Error is a typed application error.
type Error struct {
	Code    string
	Type    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Error types, used as the "type" field of error responses.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeAuthentication = "authentication_error"
	TypeForbidden      = "forbidden_error"
	TypeNotFound       = "not_found_error"
	TypeConflict       = "conflict_error"
	TypeUnprocessable  = "unprocessable_entity_error"
	TypeInternal       = "internal_server_error"
	TypeUpstream       = "upstream_error"
)

func newError(status int, typ, code, msg string) *Error {
	return &Error{Code: code, Type: typ, Status: status, Message: msg}
}

// Login flow errors.
var (
	ErrMissingState        = newError(http.StatusBadRequest, TypeInvalidRequest, "login_error-missing_state", "missing state parameter")
	ErrMissingCode         = newError(http.StatusBadRequest, TypeInvalidRequest, "login_error-missing_code", "missing code parameter")
	ErrStateDigestMismatch = newError(http.StatusBadRequest, TypeInvalidRequest, "login_error-state_digest_mismatch", "state parameter does not match")
	ErrSessionInfoNotFound = newError(http.StatusInternalServerError, TypeInternal, "login_error-session_info_not_found", "login session information not found")
	ErrOAuthProvider       = newError(http.StatusBadRequest, TypeInvalidRequest, "login_error-oauth_error", "identity provider returned an error")
	ErrProviderTimeout     = newError(http.StatusGatewayTimeout, TypeUpstream, "login_error-provider_timeout", "identity provider timed out")
	ErrProviderExchange    = newError(http.StatusBadGateway, TypeUpstream, "login_error-provider_error", "identity provider request failed")
	ErrNotLoggedIn         = newError(http.StatusUnauthorized, TypeAuthentication, "login_error-not_logged_in", "not logged in")
)

// API token errors.
var (
	ErrPrivilegeEscalation = newError(http.StatusBadRequest, TypeInvalidRequest, "token_error-privilege_escalation", "cannot create a token with a scope above your role")
	ErrInvalidScope        = newError(http.StatusBadRequest, TypeInvalidRequest, "token_error-invalid_scope", "invalid token scope")
	ErrTokenNotFound       = newError(http.StatusNotFound, TypeNotFound, "token_error-not_found", "token not found")
	ErrTokenInactive       = newError(http.StatusUnauthorized, TypeAuthentication, "token_error-inactive", "token is inactive")
	ErrTokenInvalid        = newError(http.StatusUnauthorized, TypeAuthentication, "token_error-invalid", "invalid token")
	ErrTokenOwnerRemoved   = newError(http.StatusUnauthorized, TypeAuthentication, "token_error-owner_removed", "token owner no longer exists")
	ErrTokenExpired        = newError(http.StatusUnauthorized, TypeAuthentication, "token_error-expired", "token has expired")
	ErrTokenScopeRevoked   = newError(http.StatusUnauthorized, TypeAuthentication, "token_error-scope_revoked", "token owner's role no longer permits this scope")
)

// User access request errors.
var (
	ErrAlreadyPending          = newError(http.StatusConflict, TypeConflict, "access_request_error-already_pending", "an access request is already pending")
	ErrAlreadyHasAccess        = newError(http.StatusUnprocessableEntity, TypeUnprocessable, "access_request_error-already_has_access", "user already has access")
	ErrPendingRequestNotFound  = newError(http.StatusNotFound, TypeNotFound, "access_request_error-pending_request_not_found", "no pending access request")
	ErrRequestNotFound         = newError(http.StatusNotFound, TypeNotFound, "access_request_error-request_not_found", "access request not found")
	ErrInsufficientPrivileges  = newError(http.StatusBadRequest, TypeInvalidRequest, "access_request_error-insufficient_privileges", "insufficient privileges to grant this role")
	ErrRequestAlreadyProcessed = newError(http.StatusConflict, TypeConflict, "access_request_error-already_processed", "access request has already been processed")
)

// App access request errors.
var (
	ErrAppRequestNotFound         = newError(http.StatusNotFound, TypeNotFound, "app_access_request_error-not_found", "app access request not found")
	ErrAppRequestExpired          = newError(http.StatusGone, TypeInvalidRequest, "app_access_request_error-expired", "app access request has expired")
	ErrAppRequestAlreadyProcessed = newError(http.StatusConflict, TypeConflict, "app_access_request_error-already_processed", "app access request has already been processed")
	ErrInvalidFlowType            = newError(http.StatusBadRequest, TypeInvalidRequest, "app_access_request_error-invalid_flow_type", "flow_type must be redirect or popup")
	ErrMissingRedirectURL         = newError(http.StatusBadRequest, TypeInvalidRequest, "app_access_request_error-missing_redirect_url", "redirect_url is required for the redirect flow")
	ErrInvalidResourceType        = newError(http.StatusBadRequest, TypeInvalidRequest, "app_access_request_error-invalid_resource_type", "invalid resource type")
	ErrResourceNotOwned           = newError(http.StatusBadRequest, TypeInvalidRequest, "app_access_request_error-resource_not_owned", "resource instance not owned by reviewer")
	ErrResourceNotConfigured      = newError(http.StatusBadRequest, TypeInvalidRequest, "app_access_request_error-resource_not_configured", "resource instance is disabled or missing an API key")
	ErrApprovedRoleExceeds        = newError(http.StatusBadRequest, TypeInvalidRequest, "app_access_request_error-approved_role_exceeds", "approved role exceeds reviewer's maximum scope")
	ErrAppNotApproved             = newError(http.StatusForbidden, TypeForbidden, "app_access_request_error-not_approved", "access request is not approved")
	ErrAppClientMismatch          = newError(http.StatusForbidden, TypeForbidden, "app_access_request_error-app_client_mismatch", "access request belongs to another application")
	ErrAppPrivilegeEscalation     = newError(http.StatusForbidden, TypeForbidden, "app_access_request_error-privilege_escalation", "approved role exceeds user's maximum scope")
	ErrUnknownClient              = newError(http.StatusBadRequest, TypeInvalidRequest, "app_access_request_error-unknown_client", "unknown app client")
)

// Authorization errors.
var (
	ErrInvalidAccess = newError(http.StatusUnauthorized, TypeAuthentication, "auth_error-invalid_access", "authentication required")
	ErrMissingRole   = newError(http.StatusForbidden, TypeForbidden, "auth_error-missing_role", "user has no role")
	ErrForbidden     = newError(http.StatusForbidden, TypeForbidden, "auth_error-forbidden", "insufficient role or scope")
	ErrSessionOnly   = newError(http.StatusUnauthorized, TypeAuthentication, "auth_error-session_only", "this endpoint requires a browser session")
)

// User management errors.
var (
	ErrUserNotFound = newError(http.StatusNotFound, TypeNotFound, "user_error-not_found", "user not found")
	ErrSelfModify   = newError(http.StatusBadRequest, TypeInvalidRequest, "user_error-self_modify", "cannot change your own role")
)

// Server errors.
var (
	ErrStore          = newError(http.StatusInternalServerError, TypeInternal, "store_error", "storage failure")
	ErrInvalidRequest = newError(http.StatusBadRequest, TypeInvalidRequest, "invalid_request", "invalid request")
	ErrRateLimited    = newError(http.StatusTooManyRequests, TypeInvalidRequest, "rate_limited", "too many requests")
)

// StatusOf returns the HTTP status for err. The first *Error found in
// the chain wins; anything else is a 500.
func StatusOf(err error) int {
	if e := As(err); e != nil {
		return e.Status
	}

	return http.StatusInternalServerError
}

// As returns the first *Error in err's chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return nil
}

// Is is errors.Is, re-exported so callers need only one import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
