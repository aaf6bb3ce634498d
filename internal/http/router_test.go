package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/gestaozabele/painelvendas/internal/config"
	"github.com/gestaozabele/painelvendas/internal/guard"
	httpmiddleware "github.com/gestaozabele/painelvendas/internal/http/middleware"
	"github.com/gestaozabele/painelvendas/internal/kv"
	"github.com/gestaozabele/painelvendas/internal/model"
	"github.com/gestaozabele/painelvendas/internal/orgcache"
	"github.com/gestaozabele/painelvendas/internal/paging"
	"github.com/gestaozabele/painelvendas/internal/remote"
	"github.com/gestaozabele/painelvendas/internal/session"
	"github.com/gestaozabele/painelvendas/internal/toast"
)

const (
	orgIkeja = "7d1f5c1e-4b7a-4d43-9a3b-1f2e3d4c5b6a"
	orgKano  = "0b9c8d7e-6f5a-4b3c-8d2e-1f0a9b8c7d6e"
	orgGone  = "5a4b3c2d-1e0f-4a9b-8c7d-6e5f4a3b2c1d"
)

type stubProvider struct {
	mu    sync.Mutex
	users map[string]*session.Session
}

func (p *stubProvider) GetSession(ctx context.Context) (*session.Session, error) { return nil, nil }

func (p *stubProvider) SignInWithPassword(ctx context.Context, identifier, password string) (*session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess, ok := p.users[identifier+"/"+password]
	if !ok {
		return nil, errors.New("Invalid login credentials")
	}
	return sess, nil
}

func (p *stubProvider) SignOut(ctx context.Context) error { return nil }

func (p *stubProvider) OnAuthStateChange(fn func(session.Event, *session.Session)) func() {
	return func() {}
}

type stubDirectory struct {
	calls atomic.Int32

	mu    sync.Mutex
	extra []model.OrganizationGroup
}

// addGroup simula um grupo criado no servidor depois do snapshot.
func (d *stubDirectory) addGroup(g model.OrganizationGroup) {
	d.mu.Lock()
	d.extra = append(d.extra, g)
	d.mu.Unlock()
}

func (d *stubDirectory) OrganizationsGrouped(ctx context.Context, p remote.ListParams) ([]model.OrganizationGroup, paging.Pagination, error) {
	d.calls.Add(1)
	groups := []model.OrganizationGroup{
		{
			BaseName:        "Lagos Stoves",
			OrganizationIDs: []string{orgIkeja},
			Branches:        []model.Branch{{ID: orgIkeja, BranchName: "Ikeja", State: "Lagos"}},
			BranchCount:     1,
		},
		{
			BaseName:        "Kano Cookers",
			OrganizationIDs: []string{orgKano},
			Branches:        []model.Branch{{ID: orgKano, BranchName: "Sabon Gari", State: "Kano"}},
			BranchCount:     1,
		},
	}
	d.mu.Lock()
	groups = append(groups, d.extra...)
	d.mu.Unlock()
	return groups, paging.New(1, p.PageSize, len(groups)), nil
}

type stubBackend struct {
	mu        sync.Mutex
	sales     []model.Sale
	lastScope []string
	createErr error
}

func (b *stubBackend) ListSales(ctx context.Context, p remote.ListParams) ([]model.Sale, paging.Pagination, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastScope = p.OrganizationIDs
	pag := paging.New(p.Page, p.PageSize, len(b.sales))
	start := (p.Page - 1) * p.PageSize
	if start >= len(b.sales) {
		return nil, pag, nil
	}
	end := start + p.PageSize
	if end > len(b.sales) {
		end = len(b.sales)
	}
	return append([]model.Sale(nil), b.sales[start:end]...), pag, nil
}

func (b *stubBackend) CreateSale(ctx context.Context, in model.SaleInput) (*model.Sale, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return nil, b.createErr
	}
	sale := model.Sale{ID: "s-new", StoveSerialNo: in.StoveSerialNo, EndUserName: in.EndUserName, OrganizationID: in.OrganizationID}
	b.sales = append(b.sales, sale)
	return &sale, nil
}

func (b *stubBackend) setCreateErr(err error) {
	b.mu.Lock()
	b.createErr = err
	b.mu.Unlock()
}

func (b *stubBackend) DeleteSale(ctx context.Context, id string) error { return nil }

func (b *stubBackend) ListStoveIDs(ctx context.Context, p remote.ListParams) ([]model.StoveID, paging.Pagination, error) {
	return []model.StoveID{{ID: "st1", StoveID: "STV-1", Status: model.StoveAvailable}}, paging.New(1, p.PageSize, 1), nil
}

func (b *stubBackend) UpdateStoveIDStatus(ctx context.Context, id, status string) (*model.StoveID, error) {
	return &model.StoveID{ID: id, StoveID: "STV-1", Status: status}, nil
}

func (b *stubBackend) ListAgents(ctx context.Context, p remote.ListParams) ([]model.Agent, paging.Pagination, error) {
	return []model.Agent{{ID: "a1", FullName: "Ada"}}, paging.New(1, p.PageSize, 1), nil
}

func (b *stubBackend) SetAgentStatus(ctx context.Context, id string, active bool) (*model.Agent, error) {
	return &model.Agent{ID: id, FullName: "Ada", Status: "active"}, nil
}

func (b *stubBackend) DashboardStats(ctx context.Context, organizationIDs []string) (*model.DashboardStats, error) {
	return &model.DashboardStats{TotalSales: len(organizationIDs)}, nil
}

type harness struct {
	server    *httptest.Server
	store     *session.Store
	directory *stubDirectory
	backend   *stubBackend
	toasts    *toast.Dispatcher

	// lastHeader guarda os cabeçalhos da última resposta de do.
	lastHeader http.Header
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	provider := &stubProvider{users: map[string]*session.Session{
		"admin@example.com/secret": {UserID: "u-admin", Email: "admin@example.com", Role: session.RoleAdmin, AccessToken: "t1", ExpiresAt: time.Now().Add(time.Hour)},
		"agent@example.com/secret": {UserID: "u-agent", Email: "agent@example.com", Role: session.RoleAgent, AccessToken: "t2", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	store := session.New(provider, session.NewReminders(kv.NewMemory()), session.Options{})
	require.NoError(t, store.Start(context.Background()))

	dir := &stubDirectory{}
	toasts := toast.New(toast.Options{DismissAfter: -1})
	cache := orgcache.New(dir, orgcache.Options{Notifier: toasts, Limiter: rate.NewLimiter(rate.Inf, 1)})
	backend := &stubBackend{}
	for i := 0; i < 5; i++ {
		backend.sales = append(backend.sales, model.Sale{ID: string(rune('a' + i))})
	}

	cfg := &config.Config{RateLimitPublic: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000}}
	h, err := NewHandler(cfg, Deps{
		Session:       store,
		Reminders:     session.NewReminders(kv.NewMemory()),
		Directory:     cache,
		Backend:       backend,
		Guard:         guard.New(store, guard.Options{}),
		Toasts:        toasts,
		SalesPageSize: 2,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(cfg, h))
	t.Cleanup(func() {
		srv.Close()
		h.Close()
		toasts.Close()
	})
	return &harness{server: srv, store: store, directory: dir, backend: backend, toasts: toasts}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *ErrorBody      `json:"error"`
}

func (h *harness) do(t *testing.T, method, path, body string, header map[string]string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	h.lastHeader = resp.Header

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (h *harness) login(t *testing.T, email string) {
	t.Helper()
	status, _ := h.do(t, http.MethodPost, "/api/session/login", `{"identifier":"`+email+`","password":"secret"}`, nil)
	require.Equal(t, http.StatusOK, status)
}

func TestAnonymousIsSentToLogin(t *testing.T) {
	h := newHarness(t)

	status, env := h.do(t, http.MethodGet, "/api/sales", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "AUTH", env.Error.Code)

	status, env = h.do(t, http.MethodGet, "/api/access?super_admin=1", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"redirect(/login)"`)
}

func TestLoginExposesDerivedFlags(t *testing.T) {
	h := newHarness(t)

	status, env := h.do(t, http.MethodPost, "/api/session/login", `{"identifier":"admin@example.com","password":"errada"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, session.StateAnonymous, h.store.View().State)
	require.NotNil(t, env.Error)
	assert.Equal(t, "AUTH", env.Error.Code)
	// erro de credencial fica só no formulário
	assert.Empty(t, h.toasts.Active())

	status, _ = h.do(t, http.MethodPost, "/api/session/login", `{"identifier":"","password":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	h.login(t, "admin@example.com")
	status, env = h.do(t, http.MethodGet, "/api/session", "", nil)
	require.Equal(t, http.StatusOK, status)

	var body struct {
		State session.State `json:"state"`
		Flags session.Flags `json:"flags"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, session.StateAuthenticated, body.State)
	assert.True(t, body.Flags.HasAdminAccess)
	assert.False(t, body.Flags.IsSuperAdmin)
	assert.NotContains(t, string(env.Data), "t1")
}

func TestRoleScopedRoutes(t *testing.T) {
	h := newHarness(t)
	h.login(t, "agent@example.com")

	status, env := h.do(t, http.MethodGet, "/api/agents", "", nil)
	assert.Equal(t, http.StatusForbidden, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	status, _ = h.do(t, http.MethodGet, "/api/stove-ids", "", nil)
	assert.Equal(t, http.StatusOK, status)

	_, env = h.do(t, http.MethodGet, "/api/access?roles=agent,super_admin_agent", "", nil)
	assert.Contains(t, string(env.Data), `"allow"`)

	status, _ = h.do(t, http.MethodGet, "/api/access?roles=gerente", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestOrganizationsServedFromCache(t *testing.T) {
	h := newHarness(t)
	h.login(t, "admin@example.com")

	status, env := h.do(t, http.MethodGet, "/api/organizations?search=lagos", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), "Lagos Stoves")
	assert.NotContains(t, string(env.Data), "Kano Cookers")

	status, env = h.do(t, http.MethodGet, "/api/organizations?search=KANO", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), "Kano Cookers")
	assert.Equal(t, int32(1), h.directory.calls.Load())
}

func TestSalesScopeAndLoadMore(t *testing.T) {
	h := newHarness(t)
	h.login(t, "admin@example.com")

	// seleção sem diretório carregado
	status, env := h.do(t, http.MethodGet, "/api/sales", "", map[string]string{httpmiddleware.HeaderOrganizations: orgIkeja})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "DIRECTORY_NOT_LOADED", env.Error.Code)

	h.do(t, http.MethodGet, "/api/organizations", "", nil)
	require.Equal(t, int32(1), h.directory.calls.Load())

	// orgGone não existe nem após atualizar: a listagem segue só com orgIkeja
	var page PageBody[model.Sale]
	status, env = h.do(t, http.MethodGet, "/api/sales?page=1", "", map[string]string{httpmiddleware.HeaderOrganizations: orgIkeja + "," + orgGone})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, orgGone, h.lastHeader.Get(httpmiddleware.HeaderDroppedOrganizations))
	assert.Equal(t, int32(2), h.directory.calls.Load())
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)

	scope := map[string]string{httpmiddleware.HeaderOrganizations: orgIkeja}

	status, env = h.do(t, http.MethodGet, "/api/sales?page=1", "", scope)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, h.lastHeader.Get(httpmiddleware.HeaderDroppedOrganizations))
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Items, 2)

	// repetir a mesma página não duplica
	_, env = h.do(t, http.MethodGet, "/api/sales?page=1", "", scope)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Items, 2)

	_, env = h.do(t, http.MethodGet, "/api/sales", "", scope)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Items, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, []string{page.Items[0].ID, page.Items[1].ID, page.Items[2].ID, page.Items[3].ID})
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.True(t, page.HasMore)

	_, env = h.do(t, http.MethodGet, "/api/sales", "", scope)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Items, 5)
	assert.False(t, page.HasMore)

	h.backend.mu.Lock()
	assert.Equal(t, []string{orgIkeja}, h.backend.lastScope)
	h.backend.mu.Unlock()

	_, env = h.do(t, http.MethodGet, "/api/sales?reset=1", "", scope)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Items, 2)
}

func TestStaleSelectionRefreshesDirectoryOnce(t *testing.T) {
	h := newHarness(t)
	h.login(t, "agent@example.com")
	h.do(t, http.MethodGet, "/api/organizations", "", nil)
	require.Equal(t, int32(1), h.directory.calls.Load())

	const orgAbuja = "3c2b1a0f-9e8d-4c7b-a6f5-e4d3c2b1a0f9"
	h.directory.addGroup(model.OrganizationGroup{
		BaseName:        "Abuja Clean Cook",
		OrganizationIDs: []string{orgAbuja},
		Branches:        []model.Branch{{ID: orgAbuja, BranchName: "Wuse", State: "FCT"}},
		BranchCount:     1,
	})

	// filial criada depois do snapshot: uma atualização e a seleção passa
	status, _ := h.do(t, http.MethodGet, "/api/dashboard", "", map[string]string{httpmiddleware.HeaderOrganizations: orgAbuja})
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, h.lastHeader.Get(httpmiddleware.HeaderDroppedOrganizations))
	assert.Equal(t, int32(2), h.directory.calls.Load())

	// já no snapshot: nenhuma busca extra
	status, _ = h.do(t, http.MethodGet, "/api/dashboard", "", map[string]string{httpmiddleware.HeaderOrganizations: orgAbuja + "," + orgKano})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int32(2), h.directory.calls.Load())

	// nenhum id sobrevive à atualização
	status, env := h.do(t, http.MethodGet, "/api/dashboard", "", map[string]string{httpmiddleware.HeaderOrganizations: orgGone})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "STALE_SELECTION", env.Error.Code)
	assert.Equal(t, int32(3), h.directory.calls.Load())
}

func TestAccessStreamFollowsSession(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.server.URL+"/api/access/stream?admin=1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() string {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}

	assert.Contains(t, next(), `"redirect(/login)"`)

	h.login(t, "admin@example.com")
	assert.Contains(t, next(), `"allow"`)

	status, _ := h.do(t, http.MethodPost, "/api/session/logout", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, next(), `"redirect(/login)"`)

	status, _ = h.do(t, http.MethodGet, "/api/access/stream?roles=gerente", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCreateSaleToastsOutcome(t *testing.T) {
	h := newHarness(t)
	h.login(t, "admin@example.com")

	h.backend.setCreateErr(&remote.ServerError{StatusCode: 200, Code: "STOVE_SOLD", Message: "Stove already sold"})
	status, env := h.do(t, http.MethodPost, "/api/sales", `{"stove_serial_no":"STV-1","end_user_name":"Chidi","amount":100}`, nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "STOVE_SOLD", env.Error.Code)
	h.backend.mu.Lock()
	assert.Len(t, h.backend.sales, 5)
	h.backend.mu.Unlock()

	h.backend.setCreateErr(nil)
	status, _ = h.do(t, http.MethodPost, "/api/sales", `{"stove_serial_no":"STV-2","end_user_name":"Chidi","amount":100}`, nil)
	assert.Equal(t, http.StatusCreated, status)

	active := h.toasts.Active()
	require.Len(t, active, 2)
	assert.Equal(t, toast.KindError, active[0].Kind)
	assert.Equal(t, "Stove already sold", active[0].Body)
	assert.Equal(t, toast.KindSuccess, active[1].Kind)

	status, _ = h.do(t, http.MethodPost, "/api/sales", `{"stove_serial_no":"","end_user_name":"Chidi"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLogoutDropsDirectory(t *testing.T) {
	h := newHarness(t)
	h.login(t, "admin@example.com")
	h.do(t, http.MethodGet, "/api/organizations", "", nil)

	status, _ := h.do(t, http.MethodPost, "/api/session/logout", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, session.StateAnonymous, h.store.View().State)

	h.login(t, "agent@example.com")
	h.do(t, http.MethodGet, "/api/organizations", "", nil)
	assert.Equal(t, int32(2), h.directory.calls.Load())
}

func TestReminder(t *testing.T) {
	h := newHarness(t)
	h.login(t, "agent@example.com")

	_, env := h.do(t, http.MethodGet, "/api/session/reminder", "", nil)
	assert.JSONEq(t, `{"show":true}`, string(env.Data))

	status, _ := h.do(t, http.MethodPost, "/api/session/reminder/dismiss", "", nil)
	require.Equal(t, http.StatusOK, status)

	_, env = h.do(t, http.MethodGet, "/api/session/reminder", "", nil)
	assert.JSONEq(t, `{"show":false}`, string(env.Data))
}

func TestToastStream(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.server.URL+"/api/toasts/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	// comentário inicial confirma a assinatura
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, ":"))

	sent := h.toasts.Info("Atualizando", "diretório")

	var event, data string
	for event == "" || data == "" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, "shown", event)
	assert.Contains(t, data, sent.ID)

	status, _ := h.do(t, http.MethodDelete, "/api/toasts/"+sent.ID, "", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = h.do(t, http.MethodDelete, "/api/toasts/"+sent.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
