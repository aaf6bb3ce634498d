package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gestaozabele/painelvendas/internal/util"
)

// DefaultAuthCheckTimeout limita a verificação inicial da sessão.
const DefaultAuthCheckTimeout = 10 * time.Second

// Options ajusta o Store.
type Options struct {
	AuthCheckTimeout time.Duration
	Logger           *zerolog.Logger
	Now              func() time.Time
}

type subscriber struct {
	id uint64
	fn func(View)
}

// Store é a fonte única de "quem está logado e o que pode fazer".
type Store struct {
	provider  Provider
	reminders *Reminders
	timeout   time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	// emitMu serializa transição + entrega para que assinantes vejam a ordem real.
	emitMu sync.Mutex

	mu            sync.RWMutex
	state         State
	session       *Session
	loadingSince  time.Time
	epoch         uint64
	subs          []subscriber
	nextSub       uint64
	unsubProvider func()
	disposed      bool
}

// New cria store em estado Unknown. reminders pode ser nil.
func New(provider Provider, reminders *Reminders, opts Options) *Store {
	s := &Store{
		provider:  provider,
		reminders: reminders,
		timeout:   opts.AuthCheckTimeout,
		now:       opts.Now,
		state:     StateUnknown,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultAuthCheckTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	} else {
		s.logger = log.With().Str("component", "session").Logger()
	}
	return s
}

// Start carrega a sessão persistida. Sempre termina em Authenticated ou
// Anonymous; falha ou timeout do serviço resulta em Anonymous e o erro é devolvido.
func (s *Store) Start(ctx context.Context) error {
	s.transition(func() bool {
		s.state = StateLoading
		s.loadingSince = s.now()
		return true
	})

	unsub := s.provider.OnAuthStateChange(s.handleEvent)
	s.mu.Lock()
	s.unsubProvider = unsub
	s.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		sess *Session
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		sess, err := s.provider.GetSession(checkCtx)
		ch <- result{sess: sess, err: err}
	}()

	var (
		loaded *Session
		err    error
	)
	select {
	case r := <-ch:
		loaded, err = r.sess, r.err
	case <-checkCtx.Done():
		err = fmt.Errorf("verificação de sessão: %w", checkCtx.Err())
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("sessão inicial indisponível, seguindo anônimo")
		loaded = nil
	}

	s.transition(func() bool {
		// um evento do provedor pode ter resolvido a sessão antes
		if s.state != StateLoading {
			return false
		}
		s.apply(loaded)
		return true
	})
	return err
}

// Current devolve cópia da sessão ativa ou nil.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.clone()
}

// View devolve retrato imutável do estado.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

// Epoch muda sempre que a identidade logada muda.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// AccessToken devolve o token atual junto com a época em que foi lido.
func (s *Store) AccessToken() (string, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || s.session.AccessToken == "" {
		return "", s.epoch, false
	}
	return s.session.AccessToken, s.epoch, true
}

// SignIn autentica via serviço de sessão. Em falha o estado não muda.
func (s *Store) SignIn(ctx context.Context, identifier, password string) (*Session, error) {
	if s.isDisposed() {
		return nil, ErrDisposed
	}
	if err := util.ValidateIdentifier(identifier); err != nil {
		return nil, &AuthError{Op: "sign-in", Cause: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}
	if err := util.RequireString(password, "senha"); err != nil {
		return nil, &AuthError{Op: "sign-in", Cause: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}

	sess, err := s.provider.SignInWithPassword(ctx, identifier, password)
	if err != nil {
		s.logger.Warn().Err(err).Msg("login recusado")
		return nil, &AuthError{Op: "sign-in", Cause: err}
	}
	if sess == nil || sess.AccessToken == "" {
		return nil, &AuthError{Op: "sign-in", Cause: errors.New("serviço não devolveu sessão")}
	}

	s.transition(func() bool { return s.apply(sess) })
	s.logger.Info().Str("user_id", sess.UserID).Str("role", string(sess.Role)).Msg("login efetuado")
	return sess.clone(), nil
}

// SignOut encerra a sessão. A sessão local é limpa mesmo se o serviço falhar.
func (s *Store) SignOut(ctx context.Context) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	current := s.Current()
	providerErr := s.provider.SignOut(ctx)

	s.transition(func() bool { return s.apply(nil) })

	if current != nil && s.reminders != nil {
		if err := s.reminders.Clear(ctx, current.UserID); err != nil {
			s.logger.Warn().Err(err).Str("user_id", current.UserID).Msg("falha ao limpar lembrete de senha")
		}
	}
	if providerErr != nil {
		s.logger.Warn().Err(providerErr).Msg("logout remoto falhou; sessão local encerrada")
		return &AuthError{Op: "sign-out", Cause: providerErr}
	}
	return nil
}

// Subscribe registra fn para toda transição. fn não deve chamar SignIn/SignOut
// de forma síncrona.
func (s *Store) Subscribe(fn func(View)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Dispose desliga o store do provedor e descarta assinantes.
func (s *Store) Dispose() {
	s.mu.Lock()
	unsub := s.unsubProvider
	s.unsubProvider = nil
	s.subs = nil
	s.disposed = true
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (s *Store) handleEvent(ev Event, sess *Session) {
	s.logger.Debug().Str("event", string(ev)).Msg("evento de sessão")
	switch ev {
	case EventSignedOut:
		s.transition(func() bool { return s.apply(nil) })
	default:
		if sess == nil {
			return
		}
		s.transition(func() bool {
			// Anonymous só vira Authenticated por SignIn explícito; refresh ou
			// update atrasados (ex.: GetSession abandonado pelo timeout) são ignorados.
			if ev != EventSignedIn && (s.state == StateAnonymous || s.state == StateUnknown) {
				s.logger.Debug().Str("event", string(ev)).Str("state", string(s.state)).Msg("evento ignorado sem sessão ativa")
				return false
			}
			return s.apply(sess)
		})
	}
}

// apply troca a sessão; exige s.mu travado. Devolve false quando nada mudou.
func (s *Store) apply(sess *Session) bool {
	next := StateAnonymous
	if sess != nil {
		next = StateAuthenticated
	}
	if s.state == next && sessionsEqual(s.session, sess) {
		return false
	}
	if identity(s.session) != identity(sess) {
		s.epoch++
	}
	s.state = next
	s.session = sess.clone()
	return true
}

func (s *Store) transition(mutate func() bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.disposed || !mutate() {
		s.mu.Unlock()
		return
	}
	view := s.viewLocked()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(view)
	}
}

func (s *Store) viewLocked() View {
	return View{
		State:        s.state,
		Session:      s.session.clone(),
		LoadingSince: s.loadingSince,
		Epoch:        s.epoch,
	}
}

func (s *Store) isDisposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disposed
}

func identity(sess *Session) string {
	if sess == nil {
		return ""
	}
	return sess.UserID
}

func sessionsEqual(a, b *Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UserID == b.UserID && a.Email == b.Email && a.Role == b.Role &&
		a.AccessToken == b.AccessToken && a.RefreshToken == b.RefreshToken && a.ExpiresAt.Equal(b.ExpiresAt)
}
