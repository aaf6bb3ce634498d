package session

import (
	"context"
	"strings"
	"time"
)

// Role é o papel do usuário no painel.
type Role string

const (
	RoleSuperAdmin      Role = "super_admin"
	RoleAdmin           Role = "admin"
	RoleAgent           Role = "agent"
	RoleSuperAdminAgent Role = "super_admin_agent"
)

// ParseRole normaliza um claim de papel; papéis desconhecidos viram vazio.
func ParseRole(raw string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleSuperAdmin, RoleAdmin, RoleAgent, RoleSuperAdminAgent:
		return r
	default:
		return ""
	}
}

// Session representa a sessão autenticada corrente.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Role         Role      `json:"role,omitempty"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Flags são derivadas da sessão e nunca guardadas separadamente.
type Flags struct {
	IsAuthenticated   bool `json:"is_authenticated"`
	IsSuperAdmin      bool `json:"is_super_admin"`
	IsAdmin           bool `json:"is_admin"`
	IsAgent           bool `json:"is_agent"`
	IsSuperAdminAgent bool `json:"is_super_admin_agent"`
	HasAdminAccess    bool `json:"has_admin_access"`
}

// Flags calcula os papéis efetivos. Aceita receptor nil (anônimo).
func (s *Session) Flags() Flags {
	if s == nil {
		return Flags{}
	}
	f := Flags{
		IsAuthenticated:   true,
		IsSuperAdmin:      s.Role == RoleSuperAdmin,
		IsAdmin:           s.Role == RoleAdmin,
		IsAgent:           s.Role == RoleAgent,
		IsSuperAdminAgent: s.Role == RoleSuperAdminAgent,
	}
	f.HasAdminAccess = f.IsAdmin || f.IsSuperAdmin
	return f
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// State é o estágio do ciclo de vida da sessão.
type State string

const (
	StateUnknown       State = "unknown"
	StateLoading       State = "loading"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
)

// View é um retrato imutável do store.
type View struct {
	State        State     `json:"state"`
	Session      *Session  `json:"session"`
	LoadingSince time.Time `json:"-"`
	Epoch        uint64    `json:"-"`
}

// Resolved indica que a verificação inicial terminou.
func (v View) Resolved() bool {
	return v.State == StateAuthenticated || v.State == StateAnonymous
}

// Event é o tipo de transição reportada pelo serviço de sessão.
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// Provider é o serviço externo de autenticação.
type Provider interface {
	// GetSession devolve nil, nil quando não há sessão persistida.
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, identifier, password string) (*Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn func(Event, *Session)) (unsubscribe func())
}
