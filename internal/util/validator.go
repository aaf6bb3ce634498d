package util

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// IsEmail indica se o identificador tem forma de e-mail.
func IsEmail(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// ValidateIdentifier aceita e-mail ou telefone (E.164 sem separadores).
func ValidateIdentifier(identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return errors.New("identificador obrigatório")
	}
	if IsEmail(identifier) {
		if _, err := mail.ParseAddress(identifier); err != nil {
			return errors.New("email inválido")
		}
		return nil
	}
	if !phonePattern.MatchString(NormalizePhone(identifier)) {
		return errors.New("telefone inválido")
	}
	return nil
}

// NormalizePhone remove espaços, hífens e parênteses.
func NormalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
}

// RequireString garante string não vazia.
func RequireString(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New(field + " obrigatório")
	}
	return nil
}
