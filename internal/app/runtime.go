package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gestaozabele/painelvendas/internal/auth"
	"github.com/gestaozabele/painelvendas/internal/config"
	"github.com/gestaozabele/painelvendas/internal/db"
	"github.com/gestaozabele/painelvendas/internal/guard"
	"github.com/gestaozabele/painelvendas/internal/kv"
	"github.com/gestaozabele/painelvendas/internal/orgcache"
	"github.com/gestaozabele/painelvendas/internal/remote"
	"github.com/gestaozabele/painelvendas/internal/session"
	"github.com/gestaozabele/painelvendas/internal/toast"
)

const stateNamespace = "painelvendas"

// Runtime é o contexto de cliente completo: sessão, requisições autenticadas,
// cache do diretório, guard e notificações sobre um único store local.
type Runtime struct {
	Config    *config.Config
	Store     kv.Store
	Auth      *auth.GoTrueClient
	Session   *session.Store
	Reminders *session.Reminders
	Remote    *remote.Client
	Directory *orgcache.Cache
	Guard     *guard.Guard
	Toasts    *toast.Dispatcher

	closers []func()
}

// Build monta o Runtime a partir da configuração. O chamador deve chamar
// Start e, ao final, Close.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	store, err := rt.openStore(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Store = store

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	rt.Auth, err = auth.NewGoTrueClient(auth.GoTrueConfig{
		URL:        cfg.SupabaseURL,
		AnonKey:    cfg.SupabaseAnonKey,
		Store:      store,
		Decoder:    auth.NewClaimsDecoder(cfg.JWTSecret),
		HTTPClient: httpClient,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}

	rt.Reminders = session.NewReminders(store)
	rt.Session = session.New(rt.Auth, rt.Reminders, session.Options{AuthCheckTimeout: cfg.AuthCheckTimeout})
	rt.closers = append(rt.closers, rt.Session.Dispose)

	rt.Remote, err = remote.New(remote.Config{
		FunctionsURL: cfg.FunctionsURL,
		AnonKey:      cfg.SupabaseAnonKey,
		HTTPClient:   httpClient,
	}, rt.Session)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("remote: %w", err)
	}

	var sinks []toast.Sink
	if sink := toast.NewWebhookSink(cfg.ToastWebhookURL); sink != nil {
		sinks = append(sinks, sink)
	}
	dismiss := cfg.ToastDismiss
	if dismiss == 0 {
		dismiss = -1
	}
	rt.Toasts = toast.New(toast.Options{DismissAfter: dismiss, Sinks: sinks})
	rt.closers = append(rt.closers, rt.Toasts.Close)

	rt.Directory = orgcache.New(rt.Remote, orgcache.Options{
		TTL:      cfg.OrgCacheTTL,
		PageSize: cfg.DirectoryPage,
		Store:    store,
		Notifier: rt.Toasts,
		Limiter:  rate.NewLimiter(rate.Limit(cfg.DirectoryRate), 2),
	})

	rt.Guard = guard.New(rt.Session, guard.Options{
		Timeout: cfg.AuthCheckTimeout,
		Cleanup: rt.Auth.PurgeLocal,
	})

	return rt, nil
}

// Start restaura a sessão persistida e o snapshot do diretório. Falha na
// sessão não é fatal: o store termina Anonymous.
func (rt *Runtime) Start(ctx context.Context) {
	if err := rt.Session.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("sessão persistida não restaurada")
	}
	if rt.Session.View().Session == nil {
		return
	}
	if err := rt.Directory.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("snapshot de organizações não restaurado")
	}
}

// KeepSessionFresh consulta o serviço de sessão a cada intervalo enquanto há
// usuário logado; o serviço renova o token perto da expiração e o store
// recebe TOKEN_REFRESHED. Bloqueia até ctx terminar.
func (rt *Runtime) KeepSessionFresh(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	logger := log.With().Str("component", "refresher").Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rt.Session.View().Session == nil {
				continue
			}
			if _, err := rt.Auth.GetSession(ctx); err != nil {
				logger.Warn().Err(err).Msg("falha ao renovar sessão")
			}
		}
	}
}

// Close libera conexões na ordem inversa da criação.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *Runtime) openStore(ctx context.Context) (kv.Store, error) {
	cfg := rt.Config
	switch cfg.StateBackend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis parse: %w", err)
		}
		client := redis.NewClient(opts)
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		return kv.NewRedis(client, stateNamespace), nil
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		return newPostgresStore(ctx, pool)
	default:
		return kv.NewMemory(), nil
	}
}

func newPostgresStore(ctx context.Context, pool *pgxpool.Pool) (kv.Store, error) {
	store, err := kv.NewPostgres(ctx, pool, stateNamespace)
	if err != nil {
		return nil, fmt.Errorf("client_state: %w", err)
	}
	return store, nil
}
