package util

import (
	"github.com/google/uuid"
)

// NewID gera identificador opaco para objetos locais (toasts, tickets).
func NewID() string {
	return uuid.NewString()
}

// IsUUID indica se s é um UUID válido.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
