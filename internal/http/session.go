package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gestaozabele/painelvendas/internal/guard"
	"github.com/gestaozabele/painelvendas/internal/session"
)

type sessionBody struct {
	State   session.State    `json:"state"`
	Session *session.Session `json:"session"`
	Flags   session.Flags    `json:"flags"`
}

func newSessionBody(view session.View) sessionBody {
	return sessionBody{State: view.State, Session: view.Session, Flags: view.Session.Flags()}
}

// GetSession devolve o estado atual da sessão e as flags derivadas.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, newSessionBody(h.session.View()))
}

// Login autentica por email ou telefone.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Identifier string `json:"identifier"`
		Email      string `json:"email"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}
	identifier := strings.TrimSpace(payload.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(payload.Email)
	}

	_, err := h.session.SignIn(r.Context(), identifier, payload.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidInput) {
			WriteError(w, http.StatusBadRequest, "VALIDATION", "informe email ou telefone e senha", nil)
			return
		}
		// falha de login aparece só inline no formulário, sem toast
		WriteError(w, http.StatusUnauthorized, "AUTH", "credenciais inválidas", nil)
		return
	}

	WriteJSON(w, http.StatusOK, newSessionBody(h.session.View()))
}

// Logout encerra a sessão; a sessão local é sempre descartada.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.SignOut(r.Context()); err != nil {
		var authErr *session.AuthError
		if !errors.As(err, &authErr) {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível encerrar a sessão", nil)
			return
		}
		h.toasts.Error("Sessão encerrada localmente", "Não foi possível avisar o servidor")
	}
	WriteJSON(w, http.StatusOK, newSessionBody(h.session.View()))
}

// GetReminder informa se o aviso de troca de senha deve aparecer.
func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUserID(w)
	if !ok {
		return
	}
	show := false
	if h.reminders != nil {
		dismissed, err := h.reminders.Dismissed(r.Context(), userID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível ler preferências", nil)
			return
		}
		show = !dismissed
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"show": show})
}

// DismissReminder registra que o usuário dispensou o aviso.
func (h *Handler) DismissReminder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUserID(w)
	if !ok {
		return
	}
	if h.reminders != nil {
		if err := h.reminders.Dismiss(r.Context(), userID); err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível salvar preferência", nil)
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"show": false})
}

func (h *Handler) currentUserID(w http.ResponseWriter) (string, bool) {
	view := h.session.View()
	if view.Session == nil {
		WriteError(w, http.StatusUnauthorized, "AUTH", "sessão ausente", map[string]string{"redirect": guard.LoginPath})
		return "", false
	}
	return view.Session.UserID, true
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "sim":
		return true
	}
	return false
}
