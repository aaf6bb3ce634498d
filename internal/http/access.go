package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gestaozabele/painelvendas/internal/guard"
	"github.com/gestaozabele/painelvendas/internal/session"
)

type accessBody struct {
	Decision string     `json:"decision"`
	Kind     guard.Kind `json:"kind"`
	Target   string     `json:"target"`
}

func newAccessBody(d guard.Decision) accessBody {
	return accessBody{Decision: d.String(), Kind: d.Kind, Target: d.Target}
}

// CheckAccess expõe a decisão do guard para uma tela.
func (h *Handler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	req, ok := parseRequirement(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, newAccessBody(h.guard.CheckAccess(req)))
}

// StreamAccess acompanha a decisão de uma tela via Server-Sent Events: envia a
// decisão inicial e cada mudança até o cliente desconectar.
func (h *Handler) StreamAccess(w http.ResponseWriter, r *http.Request) {
	req, ok := parseRequirement(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "streaming não suportado", nil)
		return
	}

	decisions := make(chan guard.Decision, 8)
	stop := h.guard.Watch(req, func(d guard.Decision) {
		select {
		case decisions <- d:
		default:
			h.logger.Warn().Str("decision", d.String()).Msg("cliente SSE lento; decisão descartada")
		}
	})
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": conectado\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case d := <-decisions:
			data, err := json.Marshal(newAccessBody(d))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: decision\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func parseRequirement(w http.ResponseWriter, r *http.Request) (guard.Requirement, bool) {
	q := r.URL.Query()
	req := guard.Requirement{
		RequireSuperAdmin:  parseBool(q.Get("super_admin")),
		RequireAdminAccess: parseBool(q.Get("admin")),
	}
	for _, raw := range strings.Split(q.Get("roles"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		role := session.ParseRole(raw)
		if role == "" {
			WriteError(w, http.StatusBadRequest, "VALIDATION", "papel desconhecido", map[string]string{"role": raw})
			return req, false
		}
		req.AllowedRoles = append(req.AllowedRoles, role)
	}
	return req, true
}
