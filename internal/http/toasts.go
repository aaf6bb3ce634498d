package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gestaozabele/painelvendas/internal/toast"
	"github.com/gestaozabele/painelvendas/internal/util"
)

// ListToasts devolve as notificações visíveis.
func (h *Handler) ListToasts(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"toasts": h.toasts.Active()})
}

// DismissToast fecha uma notificação antes do prazo.
func (h *Handler) DismissToast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !util.IsUUID(id) {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return
	}
	if !h.toasts.Dismiss(id) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "notificação não encontrada", nil)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}

// StreamToasts entrega eventos shown/dismissed via Server-Sent Events.
func (h *Handler) StreamToasts(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "streaming não suportado", nil)
		return
	}

	events := make(chan toast.Event, 32)
	unsubscribe := h.toasts.Subscribe(func(ev toast.Event) {
		select {
		case events <- ev:
		default:
			h.logger.Warn().Str("toast_id", ev.Toast.ID).Msg("cliente SSE lento; evento descartado")
		}
	})
	defer unsubscribe()

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
		case ev := <-events:
			data, err := json.Marshal(ev.Toast)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
