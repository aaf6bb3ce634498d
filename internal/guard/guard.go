package guard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gestaozabele/painelvendas/internal/session"
)

// Destinos de redirecionamento.
const (
	LoginPath        = "/login"
	UnauthorizedPath = "/unauthorized"
)

// Requirement declara o que uma tela exige.
type Requirement struct {
	RequireSuperAdmin  bool           `json:"require_super_admin,omitempty"`
	RequireAdminAccess bool           `json:"require_admin_access,omitempty"`
	AllowedRoles       []session.Role `json:"allowed_roles,omitempty"`
}

// Kind é o resultado da checagem.
type Kind string

const (
	KindPending  Kind = "pending"
	KindAllow    Kind = "allow"
	KindRedirect Kind = "redirect"
)

// Decision é o veredito para uma tela.
type Decision struct {
	Kind   Kind   `json:"kind"`
	Target string `json:"target,omitempty"`
	// TimedOut marca o redirecionamento causado pelo limite de carregamento.
	TimedOut bool `json:"timed_out,omitempty"`
}

func (d Decision) String() string {
	if d.Kind == KindRedirect {
		return "redirect(" + d.Target + ")"
	}
	return string(d.Kind)
}

var (
	pending      = Decision{Kind: KindPending}
	allow        = Decision{Kind: KindAllow}
	toLogin      = Decision{Kind: KindRedirect, Target: LoginPath}
	unauthorized = Decision{Kind: KindRedirect, Target: UnauthorizedPath}
)

// Decide é função pura de (estado da sessão, requisito, instante, limite).
func Decide(view session.View, req Requirement, now time.Time, timeout time.Duration) Decision {
	switch view.State {
	case session.StateAnonymous:
		return toLogin
	case session.StateAuthenticated:
		if satisfies(view.Session.Flags(), view.Session, req) {
			return allow
		}
		return unauthorized
	case session.StateLoading:
		if !view.LoadingSince.IsZero() && now.Sub(view.LoadingSince) >= timeout {
			return Decision{Kind: KindRedirect, Target: LoginPath, TimedOut: true}
		}
		return pending
	default:
		return pending
	}
}

func satisfies(flags session.Flags, sess *session.Session, req Requirement) bool {
	if !flags.IsAuthenticated {
		return false
	}
	if req.RequireSuperAdmin && !flags.IsSuperAdmin {
		return false
	}
	if req.RequireAdminAccess && !flags.HasAdminAccess {
		return false
	}
	if len(req.AllowedRoles) > 0 {
		for _, role := range req.AllowedRoles {
			if sess.Role == role {
				return true
			}
		}
		return false
	}
	return true
}

// ViewSource é o store de sessão visto pelo guard.
type ViewSource interface {
	View() session.View
	Subscribe(fn func(session.View)) (unsubscribe func())
}

// Options ajusta o Guard.
type Options struct {
	Timeout time.Duration
	// Cleanup apaga artefatos de autenticação persistidos quando o
	// carregamento estoura o limite. Roda uma vez por carregamento.
	Cleanup func(ctx context.Context) error
	Now     func() time.Time
}

// Guard aplica Decide sobre o store de sessão.
type Guard struct {
	source  ViewSource
	timeout time.Duration
	cleanup func(ctx context.Context) error
	now     func() time.Time
	logger  zerolog.Logger

	mu      sync.Mutex
	cleaned time.Time
}

// New cria o Guard.
func New(source ViewSource, opts Options) *Guard {
	g := &Guard{
		source:  source,
		timeout: opts.Timeout,
		cleanup: opts.Cleanup,
		now:     opts.Now,
		logger:  log.With().Str("component", "guard").Logger(),
	}
	if g.timeout <= 0 {
		g.timeout = session.DefaultAuthCheckTimeout
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// CheckAccess avalia o requisito contra a sessão atual.
func (g *Guard) CheckAccess(req Requirement) Decision {
	view := g.source.View()
	d := Decide(view, req, g.now(), g.timeout)
	if d.TimedOut {
		g.runCleanup(view.LoadingSince)
	}
	return d
}

// Watch chama fn com a decisão inicial e a cada mudança dela, reavaliando em
// toda transição da sessão e quando o limite de carregamento vence.
func (g *Guard) Watch(req Requirement, fn func(Decision)) (stop func()) {
	w := &watcher{guard: g, req: req, fn: fn}

	unsubscribe := g.source.Subscribe(func(view session.View) { w.evaluate(view) })
	w.evaluate(g.source.View())

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			w.stop()
		})
	}
}

func (g *Guard) runCleanup(loadingSince time.Time) {
	g.mu.Lock()
	if g.cleaned.Equal(loadingSince) && !g.cleaned.IsZero() {
		g.mu.Unlock()
		return
	}
	g.cleaned = loadingSince
	g.mu.Unlock()

	g.logger.Warn().Dur("timeout", g.timeout).Msg("verificação de sessão excedeu o limite; limpando artefatos locais")
	if g.cleanup == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.cleanup(ctx); err != nil {
		g.logger.Error().Err(err).Msg("falha ao limpar sessão local")
	}
}

type watcher struct {
	guard *Guard
	req   Requirement
	fn    func(Decision)

	// evalMu mantém as entregas a fn na ordem das avaliações.
	evalMu sync.Mutex

	mu      sync.Mutex
	last    *Decision
	timer   *time.Timer
	stopped bool
}

func (w *watcher) evaluate(view session.View) {
	w.evalMu.Lock()
	defer w.evalMu.Unlock()

	g := w.guard
	now := g.now()
	d := Decide(view, w.req, now, g.timeout)
	if d.TimedOut {
		g.runCleanup(view.LoadingSince)
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if d.Kind == KindPending && view.State == session.StateLoading && !view.LoadingSince.IsZero() {
		remaining := g.timeout - now.Sub(view.LoadingSince)
		w.timer = time.AfterFunc(remaining, func() { w.evaluate(g.source.View()) })
	}
	changed := w.last == nil || *w.last != d
	if changed {
		w.last = &d
	}
	w.mu.Unlock()

	if changed {
		w.fn(d)
	}
}

func (w *watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
