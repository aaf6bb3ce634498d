package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestaozabele/painelvendas/internal/session"
)

type fakeSource struct {
	mu   sync.Mutex
	view session.View
	subs []func(session.View)
}

func (f *fakeSource) View() session.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeSource) Subscribe(fn func(session.View)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	idx := len(f.subs) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.subs[idx] = nil
		f.mu.Unlock()
	}
}

func (f *fakeSource) set(v session.View) {
	f.mu.Lock()
	f.view = v
	subs := append([]func(session.View){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(v)
		}
	}
}

func authenticated(role session.Role) session.View {
	return session.View{
		State:   session.StateAuthenticated,
		Session: &session.Session{UserID: "u1", Email: "u1@example.com", Role: role},
	}
}

func TestDecide(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	loading := session.View{State: session.StateLoading, LoadingSince: now.Add(-3 * time.Second)}
	stuck := session.View{State: session.StateLoading, LoadingSince: now.Add(-10 * time.Second)}

	tests := []struct {
		name string
		view session.View
		req  Requirement
		want string
	}{
		{"desconhecido aguarda", session.View{State: session.StateUnknown}, Requirement{}, "pending"},
		{"carregando aguarda", loading, Requirement{}, "pending"},
		{"carregamento estourado vai ao login", stuck, Requirement{}, "redirect(/login)"},
		{"anônimo vai ao login", session.View{State: session.StateAnonymous}, Requirement{RequireSuperAdmin: true}, "redirect(/login)"},
		{"admin sem super admin", authenticated(session.RoleAdmin), Requirement{RequireSuperAdmin: true}, "redirect(/unauthorized)"},
		{"super admin", authenticated(session.RoleSuperAdmin), Requirement{RequireSuperAdmin: true}, "allow"},
		{"admin com acesso admin", authenticated(session.RoleAdmin), Requirement{RequireAdminAccess: true}, "allow"},
		{"agente sem acesso admin", authenticated(session.RoleAgent), Requirement{RequireAdminAccess: true}, "redirect(/unauthorized)"},
		{"super admin agent não é admin", authenticated(session.RoleSuperAdminAgent), Requirement{RequireAdminAccess: true}, "redirect(/unauthorized)"},
		{"papel na lista", authenticated(session.RoleAgent), Requirement{AllowedRoles: []session.Role{session.RoleAgent, session.RoleSuperAdminAgent}}, "allow"},
		{"papel fora da lista", authenticated(session.RoleAdmin), Requirement{AllowedRoles: []session.Role{session.RoleAgent}}, "redirect(/unauthorized)"},
		{"sem papel", authenticated(""), Requirement{}, "allow"},
		{"sem papel com lista", authenticated(""), Requirement{AllowedRoles: []session.Role{session.RoleAgent}}, "redirect(/unauthorized)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := Decide(tt.view, tt.req, now, 10*time.Second)
			second := Decide(tt.view, tt.req, now, 10*time.Second)
			assert.Equal(t, tt.want, first.String())
			assert.Equal(t, first, second)
		})
	}
}

func TestAdminNeverAllowedOnSuperAdminScreen(t *testing.T) {
	src := &fakeSource{view: authenticated(session.RoleAdmin)}
	g := New(src, Options{})
	for i := 0; i < 3; i++ {
		d := g.CheckAccess(Requirement{RequireSuperAdmin: true})
		assert.Equal(t, KindRedirect, d.Kind)
		assert.Equal(t, UnauthorizedPath, d.Target)
	}
}

func TestCheckAccessCleansUpOnceOnTimeout(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	now := start
	src := &fakeSource{view: session.View{State: session.StateLoading, LoadingSince: start}}

	var cleanups atomic.Int32
	g := New(src, Options{
		Timeout: 10 * time.Second,
		Now:     func() time.Time { return now },
		Cleanup: func(ctx context.Context) error {
			cleanups.Add(1)
			return nil
		},
	})

	now = start.Add(9 * time.Second)
	assert.Equal(t, "pending", g.CheckAccess(Requirement{}).String())
	assert.Zero(t, cleanups.Load())

	now = start.Add(10 * time.Second)
	d := g.CheckAccess(Requirement{})
	assert.Equal(t, "redirect(/login)", d.String())
	assert.True(t, d.TimedOut)
	g.CheckAccess(Requirement{})
	assert.Equal(t, int32(1), cleanups.Load())
}

func TestWatchReevaluatesOnTransitions(t *testing.T) {
	src := &fakeSource{view: session.View{State: session.StateLoading, LoadingSince: time.Now()}}
	g := New(src, Options{Timeout: time.Hour})

	var (
		mu  sync.Mutex
		got []string
	)
	stop := g.Watch(Requirement{RequireAdminAccess: true}, func(d Decision) {
		mu.Lock()
		got = append(got, d.String())
		mu.Unlock()
	})

	src.set(authenticated(session.RoleAdmin))
	src.set(authenticated(session.RoleAdmin))
	src.set(session.View{State: session.StateAnonymous})
	stop()
	src.set(authenticated(session.RoleAgent))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pending", "allow", "redirect(/login)"}, got)
}

func TestWatchFiresAtTimeout(t *testing.T) {
	src := &fakeSource{view: session.View{State: session.StateLoading, LoadingSince: time.Now()}}
	cleaned := make(chan struct{}, 1)
	g := New(src, Options{
		Timeout: 30 * time.Millisecond,
		Cleanup: func(ctx context.Context) error {
			cleaned <- struct{}{}
			return nil
		},
	})

	decisions := make(chan Decision, 4)
	stop := g.Watch(Requirement{}, func(d Decision) { decisions <- d })
	defer stop()

	require.Equal(t, KindPending, (<-decisions).Kind)
	select {
	case d := <-decisions:
		assert.Equal(t, "redirect(/login)", d.String())
	case <-time.After(2 * time.Second):
		t.Fatal("watch não reavaliou no limite")
	}
	select {
	case <-cleaned:
	case <-time.After(2 * time.Second):
		t.Fatal("limpeza não executada")
	}
}
