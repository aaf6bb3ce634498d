package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated indica ausência de token; a requisição nunca é enviada.
	ErrUnauthenticated = errors.New("sessão ausente")
	// ErrSessionChanged indica que a identidade mudou durante a requisição
	// e a resposta foi descartada.
	ErrSessionChanged = errors.New("sessão alterada durante a requisição")
)

// ServerError representa resposta não-2xx ou envelope com success=false.
type ServerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ServerError) Error() string {
	switch {
	case e.Code != "" && e.Message != "" && e.Code != e.Message:
		return fmt.Sprintf("servidor (%d): %s: %s", e.StatusCode, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("servidor (%d): %s", e.StatusCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("servidor (%d): %s", e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("servidor: status %d", e.StatusCode)
	}
}

// UserMessage escolhe o texto mais útil para exibir ao usuário.
func (e *ServerError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "Erro no servidor, tente novamente"
}
