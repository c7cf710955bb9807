package middleware

import (
	"net/http"
	"strings"

	"github.com/CaioWing/Armada/internal/domain"
	"github.com/CaioWing/Armada/internal/service"
)

// AuditLog returns a middleware that records operator API actions.
func AuditLog(auditSvc *service.AuditService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			// Only audit mutating requests that succeeded
			if r.Method == http.MethodGet || r.Method == http.MethodOptions {
				return
			}
			if rw.status >= 400 {
				return
			}

			action, resource := classifyRequest(r.Method, r.URL.Path)
			if action == "" {
				return
			}

			actor := "anonymous"
			if uid, ok := r.Context().Value(UserIDKey).(string); ok && uid != "" {
				actor = uid
			}

			entry := &domain.AuditEntry{
				Actor:     actor,
				ActorType: "operator",
				Action:    action,
				Resource:  resource,
				IPAddress: r.RemoteAddr,
				Details:   map[string]interface{}{"method": r.Method, "path": r.URL.Path},
			}

			// Extract resource ID from URL if present
			parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/"), "/")
			if len(parts) >= 2 {
				entry.ResourceID = parts[1]
			}

			auditSvc.Log(r.Context(), entry)
		})
	}
}

func classifyRequest(method, path string) (action, resource string) {
	p := strings.TrimPrefix(path, "/api/v1/")

	switch {
	case strings.HasPrefix(p, "firmware") && method == http.MethodPost:
		return "firmware.upload", "firmware"
	case strings.HasPrefix(p, "firmware") && method == http.MethodPatch:
		return "firmware.deprecate", "firmware"
	case strings.HasPrefix(p, "firmware") && method == http.MethodDelete:
		return "firmware.delete", "firmware"
	case strings.HasPrefix(p, "campaigns") && method == http.MethodPost && strings.HasSuffix(p, "approve"):
		return "campaign.approve", "campaign"
	case strings.HasPrefix(p, "campaigns") && method == http.MethodPost && strings.HasSuffix(p, "start"):
		return "campaign.start", "campaign"
	case strings.HasPrefix(p, "campaigns") && method == http.MethodPost && strings.HasSuffix(p, "pause"):
		return "campaign.pause", "campaign"
	case strings.HasPrefix(p, "campaigns") && method == http.MethodPost && strings.HasSuffix(p, "resume"):
		return "campaign.resume", "campaign"
	case strings.HasPrefix(p, "campaigns") && method == http.MethodPost && strings.HasSuffix(p, "cancel"):
		return "campaign.cancel", "campaign"
	case strings.HasPrefix(p, "campaigns") && method == http.MethodPost && strings.HasSuffix(p, "rollback"):
		return "campaign.rollback", "campaign"
	case strings.HasPrefix(p, "campaigns") && method == http.MethodPost:
		return "campaign.create", "campaign"
	case strings.HasPrefix(p, "updates") && method == http.MethodPost && strings.HasSuffix(p, "cancel"):
		return "update.cancel", "update"
	case strings.HasPrefix(p, "updates") && method == http.MethodPost && strings.HasSuffix(p, "retry"):
		return "update.retry", "update"
	case strings.HasPrefix(p, "updates") && method == http.MethodPost:
		return "update.schedule", "update"
	case strings.HasPrefix(p, "rollbacks") && method == http.MethodPost:
		return "rollback.initiate", "rollback"
	case strings.HasPrefix(p, "auth"):
		return "auth.login", "auth"
	default:
		return "", ""
	}
}
