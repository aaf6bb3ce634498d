package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gestaozabele/painelvendas/internal/orgcache"
	"github.com/gestaozabele/painelvendas/internal/paging"
	"github.com/gestaozabele/painelvendas/internal/remote"
)

// SuccessEnvelope padroniza respostas com dados.
type SuccessEnvelope struct {
	Data  any `json:"data"`
	Error any `json:"error"`
}

// ErrorEnvelope padroniza respostas de erro.
type ErrorEnvelope struct {
	Data  any        `json:"data"`
	Error *ErrorBody `json:"error"`
}

// ErrorBody descreve falhas normalizadas.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// PageBody é o formato das listagens paginadas.
type PageBody[T any] struct {
	Items      []T               `json:"items"`
	Pagination paging.Pagination `json:"pagination"`
	HasMore    bool              `json:"has_more"`
}

func newPageBody[T any](items []T, pag paging.Pagination) PageBody[T] {
	if items == nil {
		items = []T{}
	}
	return PageBody[T]{Items: items, Pagination: pag, HasMore: pag.HasMore()}
}

// WriteJSON escreve envelope de sucesso.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessEnvelope{Data: data, Error: nil})
}

// WriteError escreve envelope de erro e mantém formato consistente.
func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorEnvelope{
		Data:  nil,
		Error: &ErrorBody{Code: code, Message: message, Details: details},
	})
}

// WriteRemoteError traduz falhas das funções remotas para o envelope local.
func WriteRemoteError(w http.ResponseWriter, err error) {
	var serverErr *remote.ServerError
	switch {
	case errors.Is(err, remote.ErrUnauthenticated):
		WriteError(w, http.StatusUnauthorized, "AUTH", "sessão ausente", map[string]string{"redirect": "/login"})
	case errors.Is(err, remote.ErrSessionChanged), errors.Is(err, orgcache.ErrDiscarded), errors.Is(err, paging.ErrDiscarded):
		WriteError(w, http.StatusConflict, "DISCARDED", "resposta descartada: sessão ou listagem mudou", nil)
	case errors.As(err, &serverErr):
		status := http.StatusBadGateway
		if serverErr.StatusCode >= 400 && serverErr.StatusCode < 500 {
			status = serverErr.StatusCode
		}
		code := serverErr.Code
		if code == "" {
			code = "REMOTE"
		}
		WriteError(w, status, code, serverErr.UserMessage(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusGatewayTimeout, "TIMEOUT", "o servidor demorou a responder", nil)
	default:
		WriteError(w, http.StatusBadGateway, "REMOTE", "falha ao contatar o servidor", nil)
	}
}

// userMessage escolhe o texto do toast para um erro remoto.
func userMessage(err error) string {
	var serverErr *remote.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.UserMessage()
	}
	if errors.Is(err, remote.ErrUnauthenticated) {
		return "Faça login novamente"
	}
	return "Erro de conexão, tente novamente"
}
