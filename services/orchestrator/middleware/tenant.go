// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Tenant Resolution
//
// Every request is resolved to a tenant before reaching a handler. The
// tenant is the isolation boundary for sandbox quotas, rate limits, and
// operation ownership, so no handler runs without one.
//
//	Request
//	   │
//	   ▼
//	TenantMiddleware
//	   │
//	   ├─► Read "X-Tenant-ID" header
//	   │
//	   ├─► Missing: fall back to the default tenant (single-tenant mode)
//	   │
//	   └─► Store tenant id in context
//	           │
//	           ▼
//	       Handler (retrieves via GetTenantID)
//
// # Single-Tenant Mode
//
// When no X-Tenant-ID header is sent, requests are attributed to the
// "local" tenant. This keeps local and development deployments working
// without any identity infrastructure; a fronting gateway injects real
// tenant ids in multi-tenant installations.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// tenantIDKey is the context key for the resolved tenant id.
const tenantIDKey = "buildcore_tenant_id"

// DefaultTenant is the tenant attributed to requests that carry no tenant
// header (single-tenant mode).
const DefaultTenant = "local"

// SetTenantID stores the resolved tenant id in the Gin context.
func SetTenantID(c *gin.Context, tenantID string) {
	c.Set(tenantIDKey, tenantID)
}

// GetTenantID retrieves the resolved tenant id from the Gin context.
//
// Returns DefaultTenant if TenantMiddleware did not run; handlers never
// have to deal with an absent tenant.
func GetTenantID(c *gin.Context) string {
	if v, exists := c.Get(tenantIDKey); exists {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return DefaultTenant
}

// TenantMiddleware resolves the request's tenant from the X-Tenant-ID
// header and stores it in the context for downstream handlers.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader("X-Tenant-ID"))
		if tenantID == "" {
			tenantID = DefaultTenant
		}
		SetTenantID(c, tenantID)
		c.Next()
	}
}
