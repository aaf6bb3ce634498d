package middleware

import (
	"net/http"

	"github.com/gestaozabele/painelvendas/internal/guard"
)

// AccessChecker decide o acesso a partir da sessão corrente.
type AccessChecker interface {
	CheckAccess(req guard.Requirement) guard.Decision
}

// RequireAccess aplica o guard de papéis: pending vira 503, login 401 e
// unauthorized 403, sempre com o destino em details.redirect.
func RequireAccess(checker AccessChecker, req guard.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := checker.CheckAccess(req)
			switch {
			case d.Kind == guard.KindAllow:
				next.ServeHTTP(w, r)
			case d.Kind == guard.KindPending:
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusServiceUnavailable, "AUTH_PENDING", "verificando sessão", nil)
			case d.Target == guard.UnauthorizedPath:
				writeError(w, http.StatusForbidden, "FORBIDDEN", "acesso não permitido para este perfil", map[string]string{"redirect": d.Target})
			default:
				message := "sessão ausente"
				if d.TimedOut {
					message = "verificação de sessão expirou"
				}
				writeError(w, http.StatusUnauthorized, "AUTH", message, map[string]string{"redirect": d.Target})
			}
		})
	}
}
