package toast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gestaozabele/painelvendas/internal/util"
)

// DefaultDismissAfter é o tempo de vida padrão de uma notificação.
const DefaultDismissAfter = 5 * time.Second

// Kind classifica a notificação.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Toast é uma mensagem transitória para o usuário.
type Toast struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType indica se o toast apareceu ou saiu.
type EventType string

const (
	EventShown     EventType = "shown"
	EventDismissed EventType = "dismissed"
)

// Event é entregue aos assinantes na ordem das chamadas.
type Event struct {
	Type  EventType `json:"type"`
	Toast Toast     `json:"toast"`
}

// Sink recebe cópia de cada toast fora do processo (webhook etc.).
type Sink interface {
	Deliver(ctx context.Context, t Toast) error
}

// Options ajusta o Dispatcher. DismissAfter zero usa o padrão; negativo desliga
// o auto-dismiss.
type Options struct {
	DismissAfter time.Duration
	Sinks        []Sink
	Now          func() time.Time
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// Dispatcher é um pub-sub mínimo de notificações.
type Dispatcher struct {
	dismissAfter time.Duration
	sinks        []Sink
	now          func() time.Time
	logger       zerolog.Logger

	emitMu sync.Mutex

	mu      sync.Mutex
	active  []Toast
	timers  map[string]*time.Timer
	subs    []subscriber
	nextSub uint64
	closed  bool
}

// New cria um Dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		dismissAfter: opts.DismissAfter,
		sinks:        opts.Sinks,
		now:          opts.Now,
		logger:       log.With().Str("component", "toast").Logger(),
		timers:       make(map[string]*time.Timer),
	}
	if d.dismissAfter == 0 {
		d.dismissAfter = DefaultDismissAfter
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Notify publica um toast. Não há deduplicação: duas chamadas iguais geram dois toasts.
func (d *Dispatcher) Notify(kind Kind, title, body string) Toast {
	t := Toast{
		ID:        util.NewID(),
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: d.now(),
	}

	d.logToast(t)

	d.emitMu.Lock()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.emitMu.Unlock()
		return t
	}
	d.active = append(d.active, t)
	if d.dismissAfter > 0 {
		id := t.ID
		d.timers[id] = time.AfterFunc(d.dismissAfter, func() { d.Dismiss(id) })
	}
	subs := append([]subscriber(nil), d.subs...)
	d.mu.Unlock()

	for _, s := range subs {
		s.fn(Event{Type: EventShown, Toast: t})
	}
	d.emitMu.Unlock()

	d.forward(t)
	return t
}

// Success publica um toast de sucesso.
func (d *Dispatcher) Success(title, body string) Toast { return d.Notify(KindSuccess, title, body) }

// Error publica um toast de erro.
func (d *Dispatcher) Error(title, body string) Toast { return d.Notify(KindError, title, body) }

// Info publica um toast informativo.
func (d *Dispatcher) Info(title, body string) Toast { return d.Notify(KindInfo, title, body) }

// Dismiss remove o toast; devolve false se ele já não estava ativo.
func (d *Dispatcher) Dismiss(id string) bool {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	idx := -1
	for i, t := range d.active {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return false
	}
	t := d.active[idx]
	d.active = append(d.active[:idx], d.active[idx+1:]...)
	if timer, ok := d.timers[id]; ok {
		timer.Stop()
		delete(d.timers, id)
	}
	subs := append([]subscriber(nil), d.subs...)
	d.mu.Unlock()

	for _, s := range subs {
		s.fn(Event{Type: EventDismissed, Toast: t})
	}
	return true
}

// Subscribe registra fn. fn roda sob a ordem global de eventos e não deve
// chamar Notify/Dismiss de forma síncrona.
func (d *Dispatcher) Subscribe(fn func(Event)) (unsubscribe func()) {
	d.mu.Lock()
	d.nextSub++
	id := d.nextSub
	d.subs = append(d.subs, subscriber{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, s := range d.subs {
				if s.id == id {
					d.subs = append(d.subs[:i], d.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Active devolve os toasts visíveis, do mais antigo ao mais novo.
func (d *Dispatcher) Active() []Toast {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Toast(nil), d.active...)
}

// Close cancela os timers pendentes e ignora notificações futuras.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id, timer := range d.timers {
		timer.Stop()
		delete(d.timers, id)
	}
	d.subs = nil
}

func (d *Dispatcher) logToast(t Toast) {
	ev := d.logger.Info()
	if t.Kind == KindError {
		ev = d.logger.Error()
	}
	ev.Str("toast_id", t.ID).Str("kind", string(t.Kind)).Str("title", t.Title).Msg(t.Body)
}

func (d *Dispatcher) forward(t Toast) {
	for _, sink := range d.sinks {
		go func(s Sink) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Deliver(ctx, t); err != nil {
				d.logger.Warn().Err(err).Str("toast_id", t.ID).Msg("falha ao encaminhar toast")
			}
		}(sink)
	}
}
