package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gestaozabele/painelvendas/internal/kv"
	"github.com/gestaozabele/painelvendas/internal/session"
	"github.com/gestaozabele/painelvendas/internal/util"
)

// StorageKey é a chave do blob de sessão no store local.
const StorageKey = "auth-token"

const defaultRefreshMargin = time.Minute

var (
	// ErrInvalidGrant indica refresh token revogado ou expirado.
	ErrInvalidGrant = errors.New("refresh token inválido")
)

// APIError descreve erro devolvido pela API de autenticação.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth api: status %d", e.StatusCode)
	}
	return e.Message
}

// GoTrueConfig descreve o endpoint de autenticação do BaaS.
type GoTrueConfig struct {
	URL           string
	AnonKey       string
	Store         kv.Store
	Decoder       *ClaimsDecoder
	HTTPClient    *http.Client
	RefreshMargin time.Duration
	Now           func() time.Time
}

// GoTrueClient implementa session.Provider sobre a API REST de auth do BaaS.
type GoTrueClient struct {
	baseURL    string
	anonKey    string
	store      kv.Store
	decoder    *ClaimsDecoder
	httpClient *http.Client
	margin     time.Duration
	now        func() time.Time

	mu        sync.Mutex
	current   *storedSession
	loaded    bool
	listeners map[int]func(session.Event, *session.Session)
	nextID    int
}

type authUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type storedSession struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    int64    `json:"expires_at"`
	User         authUser `json:"user"`
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	User         authUser `json:"user"`
}

// NewGoTrueClient valida configuração e cria o cliente.
func NewGoTrueClient(cfg GoTrueConfig) (*GoTrueClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("auth: url obrigatória")
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, errors.New("auth: anon key obrigatória")
	}
	if cfg.Store == nil {
		return nil, errors.New("auth: store obrigatório")
	}

	c := &GoTrueClient{
		baseURL:    strings.TrimRight(cfg.URL, "/") + "/auth/v1",
		anonKey:    cfg.AnonKey,
		store:      cfg.Store,
		decoder:    cfg.Decoder,
		httpClient: cfg.HTTPClient,
		margin:     cfg.RefreshMargin,
		now:        cfg.Now,
		listeners:  make(map[int]func(session.Event, *session.Session)),
	}
	if c.decoder == nil {
		c.decoder = NewClaimsDecoder("")
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if c.margin <= 0 {
		c.margin = defaultRefreshMargin
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// GetSession devolve a sessão persistida, renovando o token quando perto de expirar.
func (c *GoTrueClient) GetSession(ctx context.Context) (*session.Session, error) {
	stored, err := c.loadStored(ctx)
	if err != nil || stored == nil {
		return nil, err
	}

	expiresAt := time.Unix(stored.ExpiresAt, 0)
	if c.now().Add(c.margin).Before(expiresAt) {
		return c.toSession(stored)
	}

	refreshed, err := c.refresh(ctx, stored.RefreshToken)
	if errors.Is(err, ErrInvalidGrant) {
		log.Warn().Msg("auth: refresh recusado, sessão local descartada")
		_ = c.PurgeLocal(ctx)
		c.emit(session.EventSignedOut, nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sess, err := c.persist(ctx, refreshed)
	if err != nil {
		return nil, err
	}
	c.emit(session.EventTokenRefreshed, sess)
	return sess, nil
}

// SignInWithPassword autentica por e-mail ou telefone.
func (c *GoTrueClient) SignInWithPassword(ctx context.Context, identifier, password string) (*session.Session, error) {
	body := map[string]string{"password": password}
	identifier = strings.TrimSpace(identifier)
	if util.IsEmail(identifier) {
		body["email"] = strings.ToLower(identifier)
	} else {
		body["phone"] = util.NormalizePhone(identifier)
	}

	var resp tokenResponse
	if err := c.post(ctx, "/token?grant_type=password", "", body, &resp); err != nil {
		return nil, err
	}

	sess, err := c.persist(ctx, &resp)
	if err != nil {
		return nil, err
	}
	c.emit(session.EventSignedIn, sess)
	return sess, nil
}

// SignOut revoga a sessão remota e sempre descarta a local.
func (c *GoTrueClient) SignOut(ctx context.Context) error {
	stored, _ := c.loadStored(ctx)

	var remoteErr error
	if stored != nil && stored.AccessToken != "" {
		remoteErr = c.post(ctx, "/logout", stored.AccessToken, nil, nil)
		var apiErr *APIError
		// token já inválido no servidor: nada a revogar
		if errors.As(remoteErr, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusNotFound) {
			remoteErr = nil
		}
	}

	if err := c.PurgeLocal(ctx); err != nil {
		log.Warn().Err(err).Msg("auth: falha ao limpar sessão local")
	}
	c.emit(session.EventSignedOut, nil)
	return remoteErr
}

// OnAuthStateChange registra ouvinte de transições.
func (c *GoTrueClient) OnAuthStateChange(fn func(session.Event, *session.Session)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// PurgeLocal apaga artefatos de autenticação persistidos.
func (c *GoTrueClient) PurgeLocal(ctx context.Context) error {
	c.mu.Lock()
	c.current = nil
	c.loaded = true
	c.mu.Unlock()
	return c.store.Remove(ctx, StorageKey)
}

func (c *GoTrueClient) loadStored(ctx context.Context) (*storedSession, error) {
	c.mu.Lock()
	if c.loaded {
		cur := c.current
		c.mu.Unlock()
		return cur, nil
	}
	c.mu.Unlock()

	var stored storedSession
	_, err := kv.GetJSON(ctx, c.store, StorageKey, &stored)
	if errors.Is(err, kv.ErrNotFound) {
		c.mu.Lock()
		c.loaded = true
		c.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if stored.AccessToken == "" {
		return nil, nil
	}

	c.mu.Lock()
	c.current = &stored
	c.loaded = true
	c.mu.Unlock()
	return &stored, nil
}

func (c *GoTrueClient) refresh(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	if refreshToken == "" {
		return nil, ErrInvalidGrant
	}
	var resp tokenResponse
	err := c.post(ctx, "/token?grant_type=refresh_token", "", map[string]string{"refresh_token": refreshToken}, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, apiErr.Message)
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GoTrueClient) persist(ctx context.Context, resp *tokenResponse) (*session.Session, error) {
	// chamador já desistiu: não regrava o que PurgeLocal pode ter apagado
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, errors.New("auth: resposta sem access token")
	}
	stored := &storedSession{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.ExpiresAt,
		User:         resp.User,
	}
	if stored.ExpiresAt == 0 && resp.ExpiresIn > 0 {
		stored.ExpiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second).Unix()
	}

	sess, err := c.toSession(stored)
	if err != nil {
		return nil, err
	}
	if stored.ExpiresAt == 0 {
		stored.ExpiresAt = sess.ExpiresAt.Unix()
	}

	if err := kv.PutJSON(ctx, c.store, StorageKey, stored, c.now()); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.current = stored
	c.loaded = true
	c.mu.Unlock()
	return sess, nil
}

func (c *GoTrueClient) toSession(stored *storedSession) (*session.Session, error) {
	claims, err := c.decoder.Decode(stored.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("auth: access token: %w", err)
	}

	sess := &session.Session{
		UserID:       stored.User.ID,
		Email:        stored.User.Email,
		Role:         ResolveRole(stored.User.AppMetadata, stored.User.UserMetadata, claims),
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		ExpiresAt:    time.Unix(stored.ExpiresAt, 0),
	}
	if sess.UserID == "" {
		sess.UserID = claims.Subject
	}
	if sess.Email == "" {
		sess.Email = claims.Email
	}
	if stored.ExpiresAt == 0 {
		sess.ExpiresAt = claims.Expiry()
	}
	return sess, nil
}

func (c *GoTrueClient) emit(ev session.Event, sess *session.Session) {
	c.mu.Lock()
	listeners := make([]func(session.Event, *session.Session), 0, len(c.listeners))
	for id := 1; id <= c.nextID; id++ {
		if fn, ok := c.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(ev, sess)
	}
}

func (c *GoTrueClient) post(ctx context.Context, path, bearer string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.anonKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
		Code             any    `json:"code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(raw, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}

	apiErr.Code = firstNonEmpty(payload.ErrorCode, payload.Error)
	apiErr.Message = firstNonEmpty(payload.ErrorDescription, payload.Msg, payload.Message, payload.Error)
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
