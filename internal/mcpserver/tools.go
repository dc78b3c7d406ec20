// Package mcpserver exposes the caller's identity and resource grants
// as MCP tools. A server is built per request and bound to that
// request's resolved identity, so tools never see another caller.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/alexjbarnes/llm-gateway/internal/auth"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/resources"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Grants looks up the access request behind an app token.
// *state.State satisfies it.
type Grants interface {
	GetAppAccessRequest(id string) (*models.AppAccessRequest, error)
}

// Deps are the collaborators the tools read from.
type Deps struct {
	Resources resources.Registry
	Grants    Grants
	Version   string
}

// NewHandler returns the streamable HTTP handler for /mcp. It must sit
// behind the identity resolver.
func NewHandler(deps Deps) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return NewServer(deps, auth.FromContext(r.Context()))
	}, &mcp.StreamableHTTPOptions{Stateless: true, JSONResponse: true})
}

// NewServer builds an MCP server whose tools act as ac.
func NewServer(deps Deps, ac models.AuthContext) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "llm-gateway", Version: deps.Version},
		nil,
	)
	RegisterTools(server, deps, ac)

	return server
}

// RegisterTools adds the identity and resource tools to server.
func RegisterTools(server *mcp.Server, deps Deps, ac models.AuthContext) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoami",
		Description: "Describe the authenticated caller: credential kind, user, and the role or scope in effect.",
	}, whoamiHandler(ac))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_resources",
		Description: "List the toolset and MCP server instances the caller may use. Apps only see instances approved for them.",
	}, listResourcesHandler(deps, ac))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_resource_access",
		Description: "Check whether the caller may use a resource instance, and why not if denied.",
	}, checkAccessHandler(deps, ac))
}

// --- Input and output types ---

// WhoamiInput has no parameters.
type WhoamiInput struct{}

// WhoamiResult describes the caller.
type WhoamiResult struct {
	Kind            string `json:"kind"`
	UserID          string `json:"user_id,omitempty"`
	Username        string `json:"username,omitempty"`
	Role            string `json:"role,omitempty"`
	Scope           string `json:"scope,omitempty"`
	ClientID        string `json:"client_id,omitempty"`
	AccessRequestID string `json:"access_request_id,omitempty"`
}

// ListResourcesInput filters by resource type.
type ListResourcesInput struct {
	Type string `json:"type,omitempty" jsonschema:"toolset or mcp, defaults to both"`
}

// ListResourcesResult is the caller's usable instances.
type ListResourcesResult struct {
	Resources []models.ResourceInstance `json:"resources"`
}

// CheckAccessInput names one instance.
type CheckAccessInput struct {
	ID string `json:"id" jsonschema:"resource instance id"`
}

// CheckAccessResult is the access decision.
type CheckAccessResult struct {
	ID      string `json:"id"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// --- Handlers ---

func whoamiHandler(ac models.AuthContext) mcp.ToolHandlerFor[WhoamiInput, *WhoamiResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ WhoamiInput) (*mcp.CallToolResult, *WhoamiResult, error) {
		result := describe(ac)
		return textResult(result), result, nil
	}
}

func listResourcesHandler(deps Deps, ac models.AuthContext) mcp.ToolHandlerFor[ListResourcesInput, *ListResourcesResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ListResourcesInput) (*mcp.CallToolResult, *ListResourcesResult, error) {
		if input.Type != "" && input.Type != models.ResourceToolset && input.Type != models.ResourceMCP {
			return nil, nil, fmt.Errorf("unknown resource type %q", input.Type)
		}

		usable, err := usableResources(deps, ac)
		if err != nil {
			return nil, nil, err
		}

		result := &ListResourcesResult{Resources: []models.ResourceInstance{}}
		for _, r := range usable {
			if input.Type == "" || r.Type == input.Type {
				result.Resources = append(result.Resources, r)
			}
		}

		return textResult(result), result, nil
	}
}

func checkAccessHandler(deps Deps, ac models.AuthContext) mcp.ToolHandlerFor[CheckAccessInput, *CheckAccessResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input CheckAccessInput) (*mcp.CallToolResult, *CheckAccessResult, error) {
		if input.ID == "" {
			return nil, nil, fmt.Errorf("id is required")
		}

		result := &CheckAccessResult{ID: input.ID}

		inst, ok := deps.Resources.Get(input.ID)
		if !ok || inst.OwnerUserID != models.UserIDOf(ac) {
			result.Reason = "resource not found"
			return textResult(result), result, nil
		}

		switch {
		case !inst.Enabled:
			result.Reason = "resource is disabled"
		case inst.RequiresAPIKey && !inst.HasAPIKey:
			result.Reason = "resource has no API key configured"
		default:
			approved, err := approvedForApp(deps, ac, inst)
			if err != nil {
				return nil, nil, err
			}

			if approved {
				result.Allowed = true
			} else {
				result.Reason = "resource not approved for this app"
			}
		}

		return textResult(result), result, nil
	}
}

func describe(ac models.AuthContext) *WhoamiResult {
	out := &WhoamiResult{Kind: models.Kind(ac), UserID: models.UserIDOf(ac)}

	switch a := ac.(type) {
	case models.SessionAuth:
		out.Username = a.Username
		if a.Role != nil {
			out.Role = a.Role.String()
		}
	case models.APITokenAuth:
		out.Scope = a.Scope.String()
	case models.ExternalAppAuth:
		out.Scope = a.Scope.String()
		out.ClientID = a.ClientID
		out.AccessRequestID = a.AccessRequestID
	case models.Anonymous:
	}

	return out
}

// usableResources returns the caller's enabled, configured instances.
// Apps are further limited to the instances approved on their request.
func usableResources(deps Deps, ac models.AuthContext) ([]models.ResourceInstance, error) {
	var out []models.ResourceInstance

	for _, r := range deps.Resources.ListOwned(models.UserIDOf(ac)) {
		if !r.Enabled || (r.RequiresAPIKey && !r.HasAPIKey) {
			continue
		}

		ok, err := approvedForApp(deps, ac, r)
		if err != nil {
			return nil, err
		}

		if ok {
			out = append(out, r)
		}
	}

	return out, nil
}

// approvedForApp reports whether inst is usable under ac. Only app
// callers are restricted; their request must list the instance.
func approvedForApp(deps Deps, ac models.AuthContext, inst models.ResourceInstance) (bool, error) {
	app, ok := ac.(models.ExternalAppAuth)
	if !ok {
		return true, nil
	}

	req, err := deps.Grants.GetAppAccessRequest(app.AccessRequestID)
	if err != nil {
		return false, fmt.Errorf("loading access request: %w", err)
	}

	if req == nil || req.Status != models.AppRequestApproved {
		return false, nil
	}

	return slices.Contains(req.ApprovedResources, models.ResourceRef{Type: inst.Type, ID: inst.ID}), nil
}

// textResult renders v as indented JSON text next to the structured
// output.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
