package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// SchemaVersion é a versão atual dos blobs persistidos.
const SchemaVersion = 1

var (
	// ErrNotFound indica chave ausente (ou blob descartado).
	ErrNotFound = errors.New("kv: chave não encontrada")
)

// Store é o armazenamento chave/valor do estado local do cliente.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, keys ...string) error
}

type envelope struct {
	Version int             `json:"v"`
	SavedAt int64           `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// PutJSON grava value como blob versionado, carimbado com now.
func PutJSON(ctx context.Context, s Store, key string, value any, now time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{Version: SchemaVersion, SavedAt: now.UnixMilli(), Data: data})
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw)
}

// GetJSON lê um blob versionado em out e devolve o instante de gravação.
// Blobs ilegíveis ou de outra versão são removidos e tratados como ausentes.
func GetJSON(ctx context.Context, s Store, key string, out any) (time.Time, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version != SchemaVersion || len(env.Data) == 0 {
		log.Warn().Str("key", key).Msg("kv: blob incompatível descartado")
		_ = s.Remove(ctx, key)
		return time.Time{}, ErrNotFound
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("kv: payload incompatível descartado")
		_ = s.Remove(ctx, key)
		return time.Time{}, ErrNotFound
	}

	return time.UnixMilli(env.SavedAt), nil
}

// GetFresh é GetJSON restrito a blobs com idade menor que ttl.
func GetFresh(ctx context.Context, s Store, key string, ttl time.Duration, now time.Time, out any) (time.Time, error) {
	savedAt, err := GetJSON(ctx, s, key, out)
	if err != nil {
		return time.Time{}, err
	}
	if now.Sub(savedAt) >= ttl {
		return time.Time{}, ErrNotFound
	}
	return savedAt, nil
}
