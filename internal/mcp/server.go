// Package mcp registers the fleet management tools on an MCP server.
// These tools give operator-side MCP clients the same provisioning and
// sync operations the HTTP API exposes to the application.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/dbfleet/internal/provision"
	"github.com/hazyhaar/dbfleet/internal/registry"
	"github.com/hazyhaar/pkg/audit"
	"github.com/hazyhaar/pkg/kit"
)

// NewServer creates an MCPServer with all fleet tools registered.
func NewServer(orch *provision.Orchestrator, reg *registry.Registry, auditLog audit.Logger) *server.MCPServer {
	srv := server.NewMCPServer(
		"dbfleet",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	registerProvisionTenant(srv, orch, auditLog)
	registerSyncTenant(srv, orch, auditLog)
	registerTenantStatus(srv, reg)
	registerListTenants(srv, reg)

	return srv
}

// --- provision_tenant ---

func registerProvisionTenant(srv *server.MCPServer, orch *provision.Orchestrator, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*provisionReq)
		return orch.Provision(ctx, r.TenantID, r.Contact)
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "provision_tenant")(endpoint)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tenant_id": map[string]string{"type": "string", "description": "Tenant identifier"},
			"contact":   map[string]string{"type": "string", "description": "Contact address recorded in the registry"},
		},
		"required": []string{"tenant_id", "contact"},
	})
	tool := mcp.NewToolWithRawSchema("provision_tenant", "Create and initialize a dedicated database for a tenant", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &provisionReq{
			TenantID: stringArg(args, "tenant_id"),
			Contact:  stringArg(args, "contact"),
		}}, nil
	})
}

type provisionReq struct {
	TenantID string `json:"tenant_id"`
	Contact  string `json:"contact"`
}

// --- sync_tenant ---

func registerSyncTenant(srv *server.MCPServer, orch *provision.Orchestrator, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*syncReq)
		return orch.GetOrSync(ctx, r.TenantID, r.Contact)
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "sync_tenant")(endpoint)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tenant_id": map[string]string{"type": "string", "description": "Tenant identifier"},
			"contact":   map[string]string{"type": "string", "description": "Contact used if the tenant must be provisioned first"},
		},
		"required": []string{"tenant_id"},
	})
	tool := mcp.NewToolWithRawSchema("sync_tenant", "Converge a tenant database to the current schema, provisioning it if absent", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &syncReq{
			TenantID: stringArg(args, "tenant_id"),
			Contact:  stringArg(args, "contact"),
		}}, nil
	})
}

type syncReq struct {
	TenantID string `json:"tenant_id"`
	Contact  string `json:"contact"`
}

// --- tenant_status ---

func registerTenantStatus(srv *server.MCPServer, reg *registry.Registry) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tenant_id": map[string]string{"type": "string", "description": "Tenant identifier"},
		},
		"required": []string{"tenant_id"},
	})
	tool := mcp.NewToolWithRawSchema("tenant_status", "Look up a tenant's registry entry", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		return reg.Get(ctx, request.(*statusReq).TenantID)
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &statusReq{TenantID: stringArg(args, "tenant_id")}}, nil
	})
}

type statusReq struct {
	TenantID string `json:"tenant_id"`
}

// --- list_tenants ---

func registerListTenants(srv *server.MCPServer, reg *registry.Registry) {
	schema, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	})
	tool := mcp.NewToolWithRawSchema("list_tenants", "List all registered tenant databases, newest first", schema)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		entries, err := reg.List(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tenants": entries, "count": len(entries)}, nil
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &struct{}{}}, nil
	})
}

// --- helpers ---

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
