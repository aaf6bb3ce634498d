package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indica identificador ou senha ausentes/malformados.
	ErrInvalidInput = errors.New("credenciais incompletas")
	// ErrDisposed indica uso do store após Dispose.
	ErrDisposed = errors.New("session store encerrado")
)

// AuthError encapsula rejeições do serviço de sessão.
type AuthError struct {
	Op    string
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Cause)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}
