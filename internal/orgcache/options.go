package orgcache

type searchConfig struct {
	useCache bool
}

// SearchOption ajusta uma chamada de Search.
type SearchOption func(*searchConfig)

// WithoutCache faz a busca no servidor e não toca no snapshot.
func WithoutCache() SearchOption {
	return func(c *searchConfig) { c.useCache = false }
}
