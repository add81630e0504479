package cataloghttp

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/catalogo-pos/catalogo/internal/platform/httpx"
)

// AdminTokenHeader carries the kiosk admin token.
const AdminTokenHeader = "X-Admin-Token"

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.adminHash) == 0 {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "admin routes are disabled")
			return
		}
		token := strings.TrimSpace(r.Header.Get(AdminTokenHeader))
		if token == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing admin token")
			return
		}
		if err := bcrypt.CompareHashAndPassword(h.adminHash, []byte(token)); err != nil {
			h.logger.Warn("admin token rejected", slog.String("remote", r.RemoteAddr))
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
