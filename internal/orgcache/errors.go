package orgcache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSnapshot indica que o cache nunca foi preenchido (ou foi limpo).
var ErrNoSnapshot = errors.New("orgcache: diretório não carregado")

// ErrDiscarded indica busca cujo resultado chegou depois de um Clear.
var ErrDiscarded = errors.New("orgcache: busca descartada após limpeza")

// StaleSelectionError aponta ids selecionados que não existem mais no diretório.
// O chamador deve re-resolver a seleção (Reselect) em vez de falhar.
type StaleSelectionError struct {
	Unknown []string
}

func (e *StaleSelectionError) Error() string {
	return fmt.Sprintf("orgcache: seleção desatualizada (%s)", strings.Join(e.Unknown, ", "))
}
