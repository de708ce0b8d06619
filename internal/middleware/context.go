// Package middleware carries the identity headers edge agents send with
// every upload into request contexts, so services behind the gateway
// agree on how tenant and agent identity travel.
package middleware

import (
	"context"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	// TenantIDKey is the context key for the posting tenant.
	TenantIDKey contextKey = "tenant_id"
	// AgentIDKey is the context key for the posting edge agent.
	AgentIDKey contextKey = "agent_id"
	// SchemaVersionKey is the context key for the declared UER schema.
	SchemaVersionKey contextKey = "schema_version"
)

// HTTP headers set by the edge connector.
const (
	HeaderTenantID      = "X-Tenant-ID"
	HeaderAgentID       = "X-Agent-ID"
	HeaderSchemaVersion = "X-Schema-Version"
)

// WithTenantID returns a new context with the tenant ID set.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithAgentID returns a new context with the agent ID set.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// GetTenantID extracts the tenant ID from the context.
func GetTenantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(TenantIDKey).(string)
	return v, ok
}

// GetAgentID extracts the agent ID from the context.
func GetAgentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(AgentIDKey).(string)
	return v, ok
}

// GetSchemaVersion extracts the declared schema version from the context.
func GetSchemaVersion(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(SchemaVersionKey).(string)
	return v, ok
}

// AgentContextMiddleware copies the edge identity headers into the
// request context. Presence is checked by the handlers, which own the
// error shape for their route.
func AgentContextMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			if tenant := c.Request().Header.Get(HeaderTenantID); tenant != "" {
				ctx = WithTenantID(ctx, tenant)
			}
			if agent := c.Request().Header.Get(HeaderAgentID); agent != "" {
				ctx = WithAgentID(ctx, agent)
			}
			if schema := c.Request().Header.Get(HeaderSchemaVersion); schema != "" {
				ctx = context.WithValue(ctx, SchemaVersionKey, schema)
			}

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
