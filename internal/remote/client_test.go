package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestaozabele/painelvendas/internal/model"
)

type stubTokens struct {
	mu    sync.Mutex
	token string
	epoch uint64
}

func (s *stubTokens) AccessToken() (string, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.epoch, s.token != ""
}

func (s *stubTokens) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *stubTokens) signOut() {
	s.mu.Lock()
	s.token = ""
	s.epoch++
	s.mu.Unlock()
}

func newClient(t *testing.T, url string, tokens TokenSource) *Client {
	t.Helper()
	c, err := New(Config{FunctionsURL: url + "/functions/v1", AnonKey: "anon"}, tokens)
	require.NoError(t, err)
	return c
}

func TestWithAuthFailsFastWithoutToken(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	c := newClient(t, srv.URL, &stubTokens{})
	called := false
	_, err := c.WithAuth(context.Background(), func(ctx context.Context, h http.Header) (*http.Response, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.False(t, called)

	_, _, err = c.ListSales(context.Background(), ListParams{Page: 1})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, hits.Load())
}

func TestCallSendsBearerAndDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/v1/organizations-grouped", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "1000", r.URL.Query().Get("page_size"))
		_, _ = w.Write([]byte(`{"success":true,"data":[{"baseName":"Lagos Stoves","organizationIds":["o1"],"branches":[{"id":"o1","branchName":"Ikeja","state":"Lagos"}],"branchCount":1}],"pagination":{"page":1,"page_size":1000,"total_count":1,"total_pages":1}}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, &stubTokens{token: "tok"})
	groups, pag, err := c.OrganizationsGrouped(context.Background(), ListParams{Page: 1, PageSize: 1000})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Ikeja", groups[0].Branches[0].BranchName)
	assert.True(t, pag.Valid())
}

func TestSuccessFalseIsFailureEvenWithStatus200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"STOVE_SOLD","message":"Stove already sold"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, &stubTokens{token: "tok"})
	_, err := c.CreateSale(context.Background(), model.SaleInput{StoveSerialNo: "S1"})

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusOK, serverErr.StatusCode)
	assert.Equal(t, "STOVE_SOLD", serverErr.Code)
	assert.Equal(t, "Stove already sold", serverErr.UserMessage())
}

func TestNon2xxMapsToServerError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
		wantMsg  string
	}{
		{"corpo estruturado", `{"error":"FORBIDDEN","message":"Admins only","statusCode":403}`, "FORBIDDEN", "Admins only"},
		{"corpo ilegível", `<html>bad gateway</html>`, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newClient(t, srv.URL, &stubTokens{token: "tok"})
			err := c.DeleteSale(context.Background(), "sale-1")

			var serverErr *ServerError
			require.ErrorAs(t, err, &serverErr)
			assert.Equal(t, http.StatusForbidden, serverErr.StatusCode)
			assert.Equal(t, tt.wantCode, serverErr.Code)
			assert.Equal(t, tt.wantMsg, serverErr.Message)
		})
	}
}

func TestResponseDiscardedAfterSignOutDuringFlight(t *testing.T) {
	tokens := &stubTokens{token: "tok"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens.signOut()
		_, _ = w.Write([]byte(`{"success":true,"data":{"total_sales":10}}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, tokens)
	stats, err := c.DashboardStats(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSessionChanged)
	assert.Nil(t, stats)
}

func TestUpdateStoveIDStatusValidatesStatus(t *testing.T) {
	c := newClient(t, "http://127.0.0.1:1", &stubTokens{token: "tok"})
	_, err := c.UpdateStoveIDStatus(context.Background(), "s1", "lost")
	assert.Error(t, err)
}

func TestListParamsEncoding(t *testing.T) {
	q := ListParams{Page: 2, PageSize: 50, Search: " ikeja ", Status: "sold", OrganizationIDs: []string{"o1", "o2"}}.values()
	assert.Equal(t, "2", q.Get("page"))
	assert.Equal(t, "50", q.Get("page_size"))
	assert.Equal(t, "ikeja", q.Get("search"))
	assert.Equal(t, "o1,o2", q.Get("organization_ids"))
}
