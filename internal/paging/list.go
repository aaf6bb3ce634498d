package paging

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDiscarded indica resposta de página descartada por Reset durante o voo.
	ErrDiscarded = errors.New("página descartada")
)

// PageFetcher busca uma página do endpoint remoto.
type PageFetcher[T any] func(ctx context.Context, page, pageSize int) ([]T, Pagination, error)

// Result é o retrato da lista após uma carga.
type Result[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

type ticket[T any] struct {
	page       int
	gen        uint64
	done       chan struct{}
	resolved   bool
	items      []T
	pagination Pagination
	err        error
}

// List acumula páginas de um endpoint paginado ("carregar mais").
// Páginas são aplicadas na ordem em que as chamadas foram iniciadas,
// não na ordem de chegada das respostas.
type List[T any] struct {
	fetch    PageFetcher[T]
	pageSize int

	mu         sync.Mutex
	gen        uint64
	items      []T
	loaded     map[int]bool
	inflight   map[int]*ticket[T]
	queue      []*ticket[T]
	pagination Pagination
	maxPage    int
}

// NewList cria lista vazia.
func NewList[T any](pageSize int, fetch PageFetcher[T]) *List[T] {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &List[T]{
		fetch:    fetch,
		pageSize: pageSize,
		loaded:   make(map[int]bool),
		inflight: make(map[int]*ticket[T]),
	}
}

// LoadMore carrega page e a anexa. Páginas já carregadas ou em voo não são
// buscadas de novo.
func (l *List[T]) LoadMore(ctx context.Context, page int) (Result[T], error) {
	if page < 1 {
		page = 1
	}

	l.mu.Lock()
	if l.loaded[page] {
		res := l.resultLocked()
		l.mu.Unlock()
		return res, nil
	}
	if t, ok := l.inflight[page]; ok {
		l.mu.Unlock()
		return l.wait(ctx, t)
	}
	t := &ticket[T]{page: page, gen: l.gen, done: make(chan struct{})}
	l.inflight[page] = t
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	items, pag, err := l.fetch(ctx, page, l.pageSize)

	l.mu.Lock()
	if t.gen != l.gen {
		l.mu.Unlock()
		return Result[T]{}, ErrDiscarded
	}
	t.resolved = true
	t.items, t.pagination, t.err = items, pag, err
	l.flushLocked()
	l.mu.Unlock()

	return l.wait(ctx, t)
}

// LoadNext carrega a página seguinte à maior já carregada.
func (l *List[T]) LoadNext(ctx context.Context) (Result[T], error) {
	l.mu.Lock()
	next := l.maxPage + 1
	l.mu.Unlock()
	return l.LoadMore(ctx, next)
}

// Reset esvazia a lista; respostas em voo passam a ser descartadas.
func (l *List[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	for _, t := range l.queue {
		close(t.done)
	}
	l.queue = nil
	l.inflight = make(map[int]*ticket[T])
	l.loaded = make(map[int]bool)
	l.items = nil
	l.pagination = Pagination{}
	l.maxPage = 0
}

// Items devolve cópia dos itens acumulados.
func (l *List[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resultLocked().Items
}

// Pagination devolve a última paginação aplicada.
func (l *List[T]) Pagination() Pagination {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pagination
}

func (l *List[T]) wait(ctx context.Context, t *ticket[T]) (Result[T], error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if t.gen != l.gen {
		return Result[T]{}, ErrDiscarded
	}
	if t.err != nil {
		return Result[T]{}, t.err
	}
	return l.resultLocked(), nil
}

// flushLocked aplica o prefixo resolvido da fila.
func (l *List[T]) flushLocked() {
	for len(l.queue) > 0 && l.queue[0].resolved {
		t := l.queue[0]
		l.queue = l.queue[1:]
		delete(l.inflight, t.page)

		if t.err == nil && !l.loaded[t.page] {
			l.items = append(l.items, t.items...)
			l.loaded[t.page] = true
			if t.page > l.maxPage {
				l.maxPage = t.page
			}
			l.pagination = t.pagination.Normalize()
		}
		close(t.done)
	}
}

func (l *List[T]) resultLocked() Result[T] {
	items := make([]T, len(l.items))
	copy(items, l.items)
	return Result[T]{Items: items, Pagination: l.pagination}
}
