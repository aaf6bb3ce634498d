package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gestaozabele/painelvendas/internal/paging"
)

// TokenSource fornece o token atual e a época da identidade que o emitiu.
type TokenSource interface {
	AccessToken() (token string, epoch uint64, ok bool)
	Epoch() uint64
}

// RequestFunc executa a chamada com os headers autenticados já montados.
type RequestFunc func(ctx context.Context, header http.Header) (*http.Response, error)

// Envelope é o formato uniforme das funções remotas.
type Envelope[T any] struct {
	Success    bool               `json:"success"`
	Data       T                  `json:"data"`
	Error      string             `json:"error,omitempty"`
	Message    string             `json:"message,omitempty"`
	Pagination *paging.Pagination `json:"pagination,omitempty"`
}

// Config descreve o endpoint de funções do BaaS.
type Config struct {
	FunctionsURL string
	AnonKey      string
	HTTPClient   *http.Client
}

// Client chama as funções remotas sempre com bearer token válido.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	tokens     TokenSource
}

// New cria cliente sobre a fonte de tokens (normalmente o session.Store).
func New(cfg Config, tokens TokenSource) (*Client, error) {
	if strings.TrimSpace(cfg.FunctionsURL) == "" {
		return nil, errors.New("remote: functions url obrigatória")
	}
	if tokens == nil {
		return nil, errors.New("remote: token source obrigatório")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.FunctionsURL, "/"),
		anonKey:    cfg.AnonKey,
		httpClient: httpClient,
		tokens:     tokens,
	}, nil
}

// WithAuth executa fn com Authorization e Content-Type preenchidos. Sem
// token falha de imediato; respostas não-2xx viram *ServerError; se a
// identidade mudou durante o voo a resposta é descartada.
func (c *Client) WithAuth(ctx context.Context, fn RequestFunc) (*http.Response, error) {
	token, epoch, ok := c.tokens.AccessToken()
	if !ok {
		return nil, ErrUnauthenticated
	}

	header := make(http.Header)
	header.Set("Authorization", "Bearer "+token)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	if c.anonKey != "" {
		header.Set("apikey", c.anonKey)
	}

	resp, err := fn(ctx, header)
	if err != nil {
		return nil, err
	}

	if c.tokens.Epoch() != epoch {
		resp.Body.Close()
		log.Debug().Msg("remote: resposta descartada após troca de sessão")
		return nil, ErrSessionChanged
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeServerError(resp)
	}
	return resp, nil
}

// Call faz a requisição e decodifica o envelope; success=false é falha mesmo com HTTP 200.
func Call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (Envelope[T], error) {
	var env Envelope[T]

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return env, err
		}
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	resp, err := c.WithAuth(ctx, func(ctx context.Context, header http.Header) (*http.Response, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header = header
		return c.httpClient.Do(req)
	})
	if err != nil {
		return env, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return env, &ServerError{StatusCode: resp.StatusCode, Message: "resposta inválida: " + err.Error()}
	}
	if !env.Success {
		return env, &ServerError{StatusCode: resp.StatusCode, Code: env.Error, Message: env.Message}
	}
	return env, nil
}

func decodeServerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		StatusCode int    `json:"statusCode"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || (payload.Error == "" && payload.Message == "") {
		return &ServerError{StatusCode: resp.StatusCode}
	}
	status := resp.StatusCode
	if payload.StatusCode != 0 {
		status = payload.StatusCode
	}
	return &ServerError{StatusCode: status, Code: payload.Error, Message: payload.Message}
}
