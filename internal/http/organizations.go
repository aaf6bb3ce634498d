package http

import (
	"net/http"
	"strings"

	"github.com/gestaozabele/painelvendas/internal/orgcache"
)

// SearchOrganizations filtra o diretório. Com ?cache=0 a busca vai ao servidor.
func (h *Handler) SearchOrganizations(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("search"))

	var opts []orgcache.SearchOption
	if c := r.URL.Query().Get("cache"); c != "" && !parseBool(c) {
		opts = append(opts, orgcache.WithoutCache())
	}

	groups, err := h.directory.Search(r.Context(), term, opts...)
	if err != nil {
		WriteRemoteError(w, err)
		return
	}

	body := map[string]any{"groups": groups}
	if cachedAt, ok := h.directory.CachedAt(); ok {
		body["cached_at"] = cachedAt
	}
	WriteJSON(w, http.StatusOK, body)
}

// RefreshOrganizations força nova carga do diretório.
func (h *Handler) RefreshOrganizations(w http.ResponseWriter, r *http.Request) {
	groups, err := h.directory.Refresh(r.Context())
	if err != nil {
		WriteRemoteError(w, err)
		return
	}
	h.toasts.Success("Organizações atualizadas", "")
	WriteJSON(w, http.StatusOK, map[string]any{"groups": groups})
}
