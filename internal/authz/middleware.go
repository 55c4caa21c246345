package authz

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/vialibre/vialibre/internal/shared"
)

// PrincipalResolver loads the full principal for a session account ID.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, accountID int64) (*Principal, error)
}

// Middleware wires role checks for HTTP handlers. An unauthenticated caller
// gets 401 with a login pointer; a caller with the wrong role gets 403. The
// two are never conflated because the web layer reacts differently to each.
type Middleware struct {
	Resolver PrincipalResolver
	Logger   *slog.Logger
}

// RequireAny ensures the current principal holds at least one required role
// and stashes the principal in the request context.
func (m Middleware) RequireAny(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := m.currentPrincipal(r)
			if !ok {
				writeUnauthenticated(w)
				return
			}
			if len(roles) > 0 && !principal.Roles.HasAny(roles...) {
				writeForbidden(w)
				return
			}
			ctx := ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthenticated only demands a resolvable principal.
func (m Middleware) RequireAuthenticated() func(http.Handler) http.Handler {
	return m.RequireAny()
}

func (m Middleware) currentPrincipal(r *http.Request) (*Principal, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return nil, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return nil, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("authz parse account id", slog.String("value", raw))
		}
		return nil, false
	}
	principal, err := m.Resolver.ResolvePrincipal(r.Context(), id)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Warn("authz resolve principal", slog.Int64("account_id", id), slog.Any("error", err))
		}
		return nil, false
	}
	return principal, true
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "unauthenticated",
		"login": "/auth/login",
	})
}

func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "forbidden"})
}
