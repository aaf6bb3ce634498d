package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gestaozabele/painelvendas/internal/config"
	"github.com/gestaozabele/painelvendas/internal/guard"
	httpmiddleware "github.com/gestaozabele/painelvendas/internal/http/middleware"
	"github.com/gestaozabele/painelvendas/internal/model"
	"github.com/gestaozabele/painelvendas/internal/orgcache"
	"github.com/gestaozabele/painelvendas/internal/paging"
	"github.com/gestaozabele/painelvendas/internal/remote"
	"github.com/gestaozabele/painelvendas/internal/session"
	"github.com/gestaozabele/painelvendas/internal/toast"
)

// SessionService é o store de sessão visto pelos handlers.
type SessionService interface {
	View() session.View
	SignIn(ctx context.Context, identifier, password string) (*session.Session, error)
	SignOut(ctx context.Context) error
	Subscribe(fn func(session.View)) (unsubscribe func())
}

// ReminderService guarda a preferência do aviso de troca de senha.
type ReminderService interface {
	Dismissed(ctx context.Context, userID string) (bool, error)
	Dismiss(ctx context.Context, userID string) error
}

// Directory é o cache do diretório de organizações.
type Directory interface {
	Search(ctx context.Context, term string, opts ...orgcache.SearchOption) ([]model.OrganizationGroup, error)
	Refresh(ctx context.Context) ([]model.OrganizationGroup, error)
	ResolveSelection(ids []string) ([]string, error)
	Reselect(ctx context.Context, ids []string) (kept, dropped []string, err error)
	CachedAt() (time.Time, bool)
	Clear(ctx context.Context) error
}

// Backend são as funções remotas de negócio.
type Backend interface {
	ListSales(ctx context.Context, p remote.ListParams) ([]model.Sale, paging.Pagination, error)
	CreateSale(ctx context.Context, in model.SaleInput) (*model.Sale, error)
	DeleteSale(ctx context.Context, id string) error
	ListStoveIDs(ctx context.Context, p remote.ListParams) ([]model.StoveID, paging.Pagination, error)
	UpdateStoveIDStatus(ctx context.Context, id, status string) (*model.StoveID, error)
	ListAgents(ctx context.Context, p remote.ListParams) ([]model.Agent, paging.Pagination, error)
	SetAgentStatus(ctx context.Context, id string, active bool) (*model.Agent, error)
	DashboardStats(ctx context.Context, organizationIDs []string) (*model.DashboardStats, error)
}

// Deps agrupa as dependências do BFF.
type Deps struct {
	Session   SessionService
	Reminders ReminderService
	Directory Directory
	Backend   Backend
	Guard     *guard.Guard
	Toasts    *toast.Dispatcher
	// SalesPageSize é o tamanho de página da listagem de vendas.
	SalesPageSize int
}

type Handler struct {
	session       SessionService
	reminders     ReminderService
	directory     Directory
	backend       Backend
	guard         *guard.Guard
	toasts        *toast.Dispatcher
	sales         *salesFeed
	publicLimiter *httpmiddleware.RateLimiter
	logger        zerolog.Logger
	unsubscribe   func()
	lastEpoch     uint64
}

// NewHandler monta o Handler e passa a acompanhar a sessão: quando a
// identidade muda, cache de organizações e listagens são descartados.
func NewHandler(cfg *config.Config, deps Deps) (*Handler, error) {
	if deps.Session == nil || deps.Directory == nil || deps.Backend == nil || deps.Guard == nil || deps.Toasts == nil {
		return nil, errors.New("http: dependências incompletas")
	}
	h := &Handler{
		session:       deps.Session,
		reminders:     deps.Reminders,
		directory:     deps.Directory,
		backend:       deps.Backend,
		guard:         deps.Guard,
		toasts:        deps.Toasts,
		publicLimiter: httpmiddleware.NewRateLimiter(cfg.RateLimitPublic.RequestsPerSecond, cfg.RateLimitPublic.Burst),
		logger:        log.With().Str("component", "http").Logger(),
		lastEpoch:     deps.Session.View().Epoch,
	}
	h.sales = newSalesFeed(deps.Backend, deps.SalesPageSize)
	h.unsubscribe = deps.Session.Subscribe(h.onSessionChange)
	return h, nil
}

// Close desliga o Handler da sessão.
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.sales.reset()
}

// NewRouter devolve roteador configurado.
func NewRouter(cfg *config.Config, h *Handler) http.Handler {
	authenticated := httpmiddleware.RequireAccess(h.guard, guard.Requirement{})
	adminOnly := httpmiddleware.RequireAccess(h.guard, guard.Requirement{RequireAdminAccess: true})
	superAdminOnly := httpmiddleware.RequireAccess(h.guard, guard.Requirement{RequireSuperAdmin: true})
	scope := httpmiddleware.Scope(h.directory)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpmiddleware.Logging(h.logger))
	r.Use(httpmiddleware.Recover)
	r.Use(httpmiddleware.CORS(cfg.AllowOrigins))
	r.Use(httpmiddleware.IPRateLimit(h.publicLimiter))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(api chi.Router) {
		api.Route("/session", func(s chi.Router) {
			s.Get("/", h.GetSession)
			s.Post("/login", h.Login)
			s.Post("/logout", h.Logout)
			s.With(authenticated).Get("/reminder", h.GetReminder)
			s.With(authenticated).Post("/reminder/dismiss", h.DismissReminder)
		})
		api.Get("/access", h.CheckAccess)
		api.Get("/access/stream", h.StreamAccess)

		api.Route("/toasts", func(t chi.Router) {
			t.Get("/", h.ListToasts)
			t.Get("/stream", h.StreamToasts)
			t.Delete("/{id}", h.DismissToast)
		})

		api.Group(func(private chi.Router) {
			private.Use(authenticated)

			private.Get("/organizations", h.SearchOrganizations)
			private.With(adminOnly).Post("/organizations/refresh", h.RefreshOrganizations)

			private.Group(func(scoped chi.Router) {
				scoped.Use(scope)
				scoped.Get("/sales", h.ListSales)
				scoped.Post("/sales", h.CreateSale)
				scoped.Get("/stove-ids", h.ListStoveIDs)
				scoped.Get("/dashboard", h.Dashboard)
			})
			private.With(adminOnly).Delete("/sales/{id}", h.DeleteSale)
			private.With(adminOnly).Patch("/stove-ids/{id}/status", h.UpdateStoveIDStatus)

			private.With(adminOnly).Get("/agents", h.ListAgents)
			private.With(superAdminOnly).Patch("/agents/{id}/status", h.SetAgentStatus)
		})
	})

	return r
}

// Health responde status simples.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	view := h.session.View()
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "session": view.State})
}

func (h *Handler) onSessionChange(view session.View) {
	if view.Epoch == h.lastEpoch {
		return
	}
	h.lastEpoch = view.Epoch

	h.sales.reset()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.directory.Clear(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("falha ao limpar cache de organizações")
	}
	h.logger.Debug().Str("state", string(view.State)).Msg("identidade mudou; estado derivado descartado")
}
