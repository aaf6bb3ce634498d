package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gestaozabele/painelvendas/internal/orgcache"
)

type contextKey string

const contextKeyOrganizations contextKey = "organizations"

// HeaderOrganizations carrega a seleção de filiais do usuário.
const HeaderOrganizations = "X-Organizations"

// HeaderDroppedOrganizations lista os ids removidos da seleção após re-resolução.
const HeaderDroppedOrganizations = "X-Organizations-Dropped"

// SelectionResolver confere ids de filial contra o diretório em cache e,
// quando a seleção está desatualizada, re-resolve contra uma busca nova.
type SelectionResolver interface {
	ResolveSelection(ids []string) ([]string, error)
	Reselect(ctx context.Context, ids []string) (kept, dropped []string, err error)
}

// Scope valida a seleção de organizações (header X-Organizations ou query
// organization_ids) e a injeta no contexto. Sem seleção a requisição segue
// sem escopo. Ids desconhecidos disparam uma re-resolução contra o servidor;
// os que continuarem ausentes saem da seleção e voltam em X-Organizations-Dropped.
func Scope(resolver SelectionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderOrganizations)
			if raw == "" {
				raw = r.URL.Query().Get("organization_ids")
			}
			if strings.TrimSpace(raw) == "" {
				next.ServeHTTP(w, r)
				return
			}

			var ids []string
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				uid, err := uuid.Parse(part)
				if err != nil {
					writeError(w, http.StatusBadRequest, "VALIDATION", "organização inválida", map[string]string{"id": part})
					return
				}
				ids = append(ids, uid.String())
			}

			resolved, err := resolver.ResolveSelection(ids)
			var stale *orgcache.StaleSelectionError
			if errors.As(err, &stale) {
				var ok bool
				if resolved, ok = reselect(w, r, resolver, ids, stale); !ok {
					return
				}
				err = nil
			}
			if err != nil {
				if errors.Is(err, orgcache.ErrNoSnapshot) {
					writeError(w, http.StatusConflict, "DIRECTORY_NOT_LOADED", "diretório de organizações não carregado", nil)
					return
				}
				writeError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível validar a seleção", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(SetOrganizations(r.Context(), resolved)))
		})
	}
}

// reselect atualiza o diretório uma vez e segue com os ids que ainda existem.
// Responde 409 (e devolve false) quando a atualização falha ou nenhum id sobrevive.
func reselect(w http.ResponseWriter, r *http.Request, resolver SelectionResolver, ids []string, stale *orgcache.StaleSelectionError) ([]string, bool) {
	kept, dropped, err := resolver.Reselect(r.Context(), ids)
	if err != nil {
		log.Warn().Err(err).Strs("unknown", stale.Unknown).Msg("re-resolução da seleção falhou")
		writeError(w, http.StatusConflict, "STALE_SELECTION", "seleção de organizações desatualizada", map[string]any{"unknown": stale.Unknown})
		return nil, false
	}
	if len(kept) == 0 {
		writeError(w, http.StatusConflict, "STALE_SELECTION", "nenhuma organização selecionada existe mais", map[string]any{"unknown": dropped})
		return nil, false
	}
	if len(dropped) > 0 {
		w.Header().Set(HeaderDroppedOrganizations, strings.Join(dropped, ","))
	}
	return kept, true
}

// SetOrganizations injeta a seleção validada no contexto.
func SetOrganizations(ctx context.Context, ids []string) context.Context {
	return context.WithValue(ctx, contextKeyOrganizations, ids)
}

// GetOrganizations retorna a seleção do contexto (nil quando sem escopo).
func GetOrganizations(ctx context.Context) []string {
	val, _ := ctx.Value(contextKeyOrganizations).([]string)
	return val
}
