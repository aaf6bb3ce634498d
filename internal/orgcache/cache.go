package orgcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/gestaozabele/painelvendas/internal/kv"
	"github.com/gestaozabele/painelvendas/internal/model"
	"github.com/gestaozabele/painelvendas/internal/paging"
	"github.com/gestaozabele/painelvendas/internal/remote"
	"github.com/gestaozabele/painelvendas/internal/toast"
)

const (
	// CacheKey é a chave do snapshot no armazenamento local.
	CacheKey = "organizations_cache"
	// DefaultTTL é a validade do snapshot.
	DefaultTTL = 30 * time.Minute
	// SnapshotPageSize cobre o diretório inteiro em uma única página.
	SnapshotPageSize = 1000
)

// Fetcher consulta o diretório remoto de organizações.
type Fetcher interface {
	OrganizationsGrouped(ctx context.Context, p remote.ListParams) ([]model.OrganizationGroup, paging.Pagination, error)
}

// Notifier recebe erros visíveis ao usuário.
type Notifier interface {
	Notify(kind toast.Kind, title, body string) toast.Toast
}

// Options ajusta o Cache.
type Options struct {
	TTL      time.Duration
	PageSize int
	Store    kv.Store
	Notifier Notifier
	// Limiter limita buscas remotas; nil usa uma busca por segundo com rajada de 2.
	Limiter *rate.Limiter
	Now     func() time.Time
}

// Cache mantém o snapshot do diretório agrupado de organizações.
type Cache struct {
	fetcher  Fetcher
	store    kv.Store
	notifier Notifier
	ttl      time.Duration
	pageSize int
	limiter  *rate.Limiter
	now      func() time.Time
	logger   zerolog.Logger
	flight   singleflight.Group

	mu       sync.RWMutex
	groups   []model.OrganizationGroup
	cachedAt time.Time
	loaded   bool
	// gen muda a cada Clear; buscas iniciadas antes são descartadas.
	gen uint64
}

// New cria o Cache. Store e Notifier são opcionais.
func New(fetcher Fetcher, opts Options) *Cache {
	c := &Cache{
		fetcher:  fetcher,
		store:    opts.Store,
		notifier: opts.Notifier,
		ttl:      opts.TTL,
		pageSize: opts.PageSize,
		limiter:  opts.Limiter,
		now:      opts.Now,
		logger:   log.With().Str("component", "orgcache").Logger(),
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.pageSize <= 0 {
		c.pageSize = SnapshotPageSize
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Every(time.Second), 2)
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Load restaura o snapshot persistido quando ainda está dentro do TTL.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	var groups []model.OrganizationGroup
	cachedAt, err := kv.GetFresh(ctx, c.store, CacheKey, c.ttl, c.now(), &groups)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	valid := c.validate(groups)
	c.mu.Lock()
	c.groups = valid
	c.cachedAt = cachedAt
	c.loaded = true
	c.mu.Unlock()

	c.logger.Debug().Int("groups", len(valid)).Time("cached_at", cachedAt).Msg("snapshot restaurado")
	return nil
}

// GetSnapshot devolve cópia do snapshot, ou nil se ausente ou com idade >= TTL.
func (c *Cache) GetSnapshot() []model.OrganizationGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.freshLocked() {
		return nil
	}
	return cloneGroups(c.groups)
}

// CachedAt informa quando o snapshot atual foi gravado.
func (c *Cache) CachedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cachedAt, c.loaded
}

// SetSnapshot substitui o snapshot e o carimbo de tempo de uma vez. Grupos
// malformados são descartados com log. O erro devolvido é apenas de persistência.
func (c *Cache) SetSnapshot(ctx context.Context, groups []model.OrganizationGroup) error {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()
	_, err := c.replace(ctx, gen, groups)
	return err
}

// Search filtra o diretório pelo termo (nome base, filial ou estado, sem
// diferenciar maiúsculas). Com snapshot válido não há chamada de rede.
func (c *Cache) Search(ctx context.Context, term string, opts ...SearchOption) ([]model.OrganizationGroup, error) {
	cfg := searchConfig{useCache: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !cfg.useCache {
		return c.searchRemote(ctx, term)
	}

	if snapshot := c.GetSnapshot(); snapshot != nil {
		return filterGroups(snapshot, term), nil
	}

	groups, err := c.fetchSnapshot(ctx)
	if err != nil {
		if discarded(err) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.notify("Não foi possível carregar as organizações", err)
		if stale, ok := c.stale(); ok {
			c.logger.Warn().Err(err).Msg("busca servida do snapshot expirado")
			return filterGroups(stale, term), nil
		}
		return nil, err
	}
	return filterGroups(groups, term), nil
}

// Refresh força nova busca. Em falha o snapshot existente (mesmo expirado) é mantido.
func (c *Cache) Refresh(ctx context.Context) ([]model.OrganizationGroup, error) {
	groups, err := c.fetchSnapshot(ctx)
	if err != nil {
		if !discarded(err) {
			c.notify("Falha ao atualizar organizações", err)
		}
		return nil, err
	}
	return groups, nil
}

// Clear esvazia o snapshot em memória e no armazenamento local.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.groups = nil
	c.cachedAt = time.Time{}
	c.loaded = false
	c.gen++
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.Remove(ctx, CacheKey)
}

// ResolveSelection confere que cada id pertence a alguma filial conhecida.
// Devolve os ids sem duplicatas, na ordem recebida.
func (c *Cache) ResolveSelection(ids []string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return nil, ErrNoSnapshot
	}

	known := knownBranches(c.groups)
	var (
		resolved []string
		unknown  []string
		seen     = make(map[string]struct{}, len(ids))
	)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
			continue
		}
		resolved = append(resolved, id)
	}
	if len(unknown) > 0 {
		return resolved, &StaleSelectionError{Unknown: unknown}
	}
	return resolved, nil
}

// Reselect atualiza o diretório e devolve a seleção sem os ids que sumiram.
func (c *Cache) Reselect(ctx context.Context, ids []string) (kept, dropped []string, err error) {
	if _, err := c.Refresh(ctx); err != nil {
		return nil, nil, err
	}
	kept, err = c.ResolveSelection(ids)
	var stale *StaleSelectionError
	if errors.As(err, &stale) {
		c.logger.Info().Strs("dropped", stale.Unknown).Msg("seleção re-resolvida")
		return kept, stale.Unknown, nil
	}
	return kept, nil, err
}

func (c *Cache) fetchSnapshot(ctx context.Context) ([]model.OrganizationGroup, error) {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	ch := c.flight.DoChan("snapshot", func() (any, error) {
		// A busca é compartilhada; não morre com o contexto de quem chegou primeiro.
		fctx := context.WithoutCancel(ctx)
		if err := c.limiter.Wait(fctx); err != nil {
			return nil, err
		}
		groups, _, err := c.fetcher.OrganizationsGrouped(fctx, remote.ListParams{Page: 1, PageSize: c.pageSize})
		if err != nil {
			return nil, err
		}
		valid, err := c.replace(fctx, gen, groups)
		if err != nil && !errors.Is(err, ErrDiscarded) {
			// falha de persistência não invalida o snapshot em memória
			return valid, nil
		}
		return valid, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneGroups(res.Val.([]model.OrganizationGroup)), nil
	}
}

func (c *Cache) searchRemote(ctx context.Context, term string) ([]model.OrganizationGroup, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	groups, _, err := c.fetcher.OrganizationsGrouped(ctx, remote.ListParams{
		Page:     1,
		PageSize: c.pageSize,
		Search:   term,
	})
	if err != nil {
		if !errors.Is(err, remote.ErrSessionChanged) {
			c.notify("Falha na busca de organizações", err)
		}
		return nil, err
	}
	return c.validate(groups), nil
}

// replace grava o snapshot se nenhum Clear ocorreu desde gen. O retorno é a
// lista validada (não compartilhada com o estado interno).
func (c *Cache) replace(ctx context.Context, gen uint64, groups []model.OrganizationGroup) ([]model.OrganizationGroup, error) {
	valid := c.validate(groups)
	now := c.now()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug().Msg("snapshot descartado: cache limpo durante a busca")
		return nil, ErrDiscarded
	}
	c.groups = valid
	c.cachedAt = now
	c.loaded = true
	c.mu.Unlock()

	if c.store != nil {
		if err := kv.PutJSON(ctx, c.store, CacheKey, valid, now); err != nil {
			c.logger.Warn().Err(err).Msg("falha ao persistir snapshot")
			return cloneGroups(valid), err
		}
	}
	return cloneGroups(valid), nil
}

func (c *Cache) validate(groups []model.OrganizationGroup) []model.OrganizationGroup {
	valid := make([]model.OrganizationGroup, 0, len(groups))
	for _, g := range groups {
		if err := g.Validate(); err != nil {
			c.logger.Warn().Err(err).Msg("grupo malformado descartado")
			continue
		}
		valid = append(valid, g.Clone())
	}
	return valid
}

func (c *Cache) stale() ([]model.OrganizationGroup, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return nil, false
	}
	return cloneGroups(c.groups), true
}

func (c *Cache) freshLocked() bool {
	return c.loaded && c.now().Sub(c.cachedAt) < c.ttl
}

func (c *Cache) notify(title string, err error) {
	if c.notifier == nil {
		c.logger.Error().Err(err).Msg(title)
		return
	}
	msg := err.Error()
	var serverErr *remote.ServerError
	if errors.As(err, &serverErr) {
		msg = serverErr.UserMessage()
	}
	c.notifier.Notify(toast.KindError, title, msg)
}

func discarded(err error) bool {
	return errors.Is(err, ErrDiscarded) || errors.Is(err, remote.ErrSessionChanged)
}

func filterGroups(groups []model.OrganizationGroup, term string) []model.OrganizationGroup {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return groups
	}
	out := make([]model.OrganizationGroup, 0, len(groups))
	for _, g := range groups {
		if matches(g, term) {
			out = append(out, g)
		}
	}
	return out
}

func matches(g model.OrganizationGroup, term string) bool {
	if strings.Contains(strings.ToLower(g.BaseName), term) {
		return true
	}
	for _, b := range g.Branches {
		if strings.Contains(strings.ToLower(b.BranchName), term) || strings.Contains(strings.ToLower(b.State), term) {
			return true
		}
	}
	return false
}

func knownBranches(groups []model.OrganizationGroup) map[string]struct{} {
	known := make(map[string]struct{})
	for _, g := range groups {
		for _, b := range g.Branches {
			known[b.ID] = struct{}{}
		}
	}
	return known
}

func cloneGroups(groups []model.OrganizationGroup) []model.OrganizationGroup {
	out := make([]model.OrganizationGroup, len(groups))
	for i, g := range groups {
		out[i] = g.Clone()
	}
	return out
}
