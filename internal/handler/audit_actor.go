package handler

import (
	"context"
	"net/http"

	"go-auth-tokens/internal/event"
	"go-auth-tokens/internal/middleware"
)

// auditContext tags the request context with the caller address so auth
// events published by the service can be attributed.
func auditContext(r *http.Request) context.Context {
	return event.WithClientIP(r.Context(), middleware.ClientIP(r))
}
