package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/gestaozabele/painelvendas/internal/http/middleware"
	"github.com/gestaozabele/painelvendas/internal/model"
	"github.com/gestaozabele/painelvendas/internal/remote"
)

func listParams(q url.Values) (remote.ListParams, bool) {
	p := remote.ListParams{
		Page:     1,
		PageSize: 20,
		Search:   strings.TrimSpace(q.Get("search")),
		Status:   strings.TrimSpace(q.Get("status")),
	}
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, false
		}
		p.Page = n
	}
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return p, false
		}
		p.PageSize = n
	}
	return p, true
}

// ListStoveIDs lista o inventário de fogões no escopo selecionado.
func (h *Handler) ListStoveIDs(w http.ResponseWriter, r *http.Request) {
	p, ok := listParams(r.URL.Query())
	if !ok {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "paginação inválida", nil)
		return
	}
	if p.Status != "" && p.Status != model.StoveAvailable && p.Status != model.StoveSold {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "status inválido", nil)
		return
	}
	p.OrganizationIDs = httpmiddleware.GetOrganizations(r.Context())

	stoves, pag, err := h.backend.ListStoveIDs(r.Context(), p)
	if err != nil {
		WriteRemoteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newPageBody(stoves, pag))
}

// UpdateStoveIDStatus marca o fogão como disponível ou vendido.
func (h *Handler) UpdateStoveIDStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}
	if payload.Status != model.StoveAvailable && payload.Status != model.StoveSold {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "status deve ser available ou sold", nil)
		return
	}

	stove, err := h.backend.UpdateStoveIDStatus(r.Context(), id, payload.Status)
	if err != nil {
		h.toasts.Error("Falha ao atualizar fogão", userMessage(err))
		WriteRemoteError(w, err)
		return
	}
	h.toasts.Success("Fogão atualizado", stove.StoveID+" agora está "+stove.Status)
	WriteJSON(w, http.StatusOK, map[string]any{"stove": stove})
}

// ListAgents lista agentes de vendas.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	p, ok := listParams(r.URL.Query())
	if !ok {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "paginação inválida", nil)
		return
	}
	agents, pag, err := h.backend.ListAgents(r.Context(), p)
	if err != nil {
		WriteRemoteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newPageBody(agents, pag))
}

// SetAgentStatus ativa ou desativa um agente (somente super admin).
func (h *Handler) SetAgentStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var payload struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Active == nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "campo active obrigatório", nil)
		return
	}

	agent, err := h.backend.SetAgentStatus(r.Context(), id, *payload.Active)
	if err != nil {
		h.toasts.Error("Falha ao alterar agente", userMessage(err))
		WriteRemoteError(w, err)
		return
	}
	title := "Agente desativado"
	if *payload.Active {
		title = "Agente ativado"
	}
	h.toasts.Success(title, agent.FullName)
	WriteJSON(w, http.StatusOK, map[string]any{"agent": agent})
}

// Dashboard devolve os agregados do painel no escopo selecionado.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.backend.DashboardStats(r.Context(), httpmiddleware.GetOrganizations(r.Context()))
	if err != nil {
		WriteRemoteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
