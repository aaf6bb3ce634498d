package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestaozabele/painelvendas/internal/config"
	"github.com/gestaozabele/painelvendas/internal/guard"
	"github.com/gestaozabele/painelvendas/internal/remote"
	"github.com/gestaozabele/painelvendas/internal/session"
)

func TestBuildWiresAnonymousRuntime(t *testing.T) {
	var functionCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		functionCalls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &config.Config{
		SupabaseURL:      srv.URL,
		SupabaseAnonKey:  "anon",
		FunctionsURL:     srv.URL + "/functions/v1",
		StateBackend:     config.BackendMemory,
		OrgCacheTTL:      30 * time.Minute,
		AuthCheckTimeout: time.Second,
		ToastDismiss:     time.Second,
		DirectoryPage:    1000,
		DirectoryRate:    10,
		HTTPTimeout:      time.Second,
	}

	rt, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer rt.Close()

	rt.Start(context.Background())
	assert.Equal(t, session.StateAnonymous, rt.Session.View().State)
	assert.Equal(t, "redirect(/login)", rt.Guard.CheckAccess(guard.Requirement{}).String())

	_, err = rt.Directory.Search(context.Background(), "lagos")
	assert.ErrorIs(t, err, remote.ErrUnauthenticated)
	assert.Zero(t, functionCalls)
}
