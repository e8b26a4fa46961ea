// Package sse implements a Server-Sent Events broker for live post updates.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types sent to clients.
const (
	TypePostCreated  = "post.created"
	TypePostUpdated  = "post.updated"
	TypePostDeleted  = "post.deleted"
	TypeIndexUpdated = "index.updated"
	TypeReady        = "ready"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// PostEvent is the payload of the post.* events.
type PostEvent struct {
	Slug         string `json:"slug"`
	PreviousSlug string `json:"previousSlug,omitempty"`
}

type postEventReq struct {
	kind  string
	event PostEvent
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger used for client connects and disconnects.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithClientsObserver registers fn to receive the client count whenever it
// changes. fn runs on the broker loop and must not block.
func WithClientsObserver(fn func(n int)) Option {
	return func(b *Broker) { b.onClients = fn }
}

// Broker manages SSE client connections and broadcasts events.
//
// A single internal event loop owns the client set and the index throttle
// timestamp; public methods talk to it through channels.
type Broker struct {
	indexMin  time.Duration
	logger    *slog.Logger
	onClients func(n int)

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	postEventCh   chan postEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that sends at most one index.updated event per
// indexThrottle.
func NewBroker(indexThrottle time.Duration, opts ...Option) *Broker {
	if indexThrottle <= 0 {
		indexThrottle = 2 * time.Second
	}

	b := &Broker{
		indexMin:      indexThrottle,
		logger:        slog.Default(),
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		postEventCh:   make(chan postEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastIndex time.Time

	observe := func() {
		if b.onClients != nil {
			b.onClients(len(clients))
		}
	}

	broadcast := func(event Event) {
		raw, err := encode(event)
		if err != nil {
			b.logger.Warn("sse: encode failed", slog.String("type", event.Type), slog.String("error", err.Error()))
			return
		}
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than block the loop.
			}
		}
	}

	indexUpdated := func() {
		now := time.Now()
		if now.Sub(lastIndex) >= b.indexMin {
			lastIndex = now
			broadcast(Event{Type: TypeIndexUpdated, Data: map[string]string{}})
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			clear(clients)
			observe()
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			observe()

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
				observe()
			}

		case event := <-b.publishCh:
			if event.Type == TypeIndexUpdated {
				indexUpdated()
				continue
			}
			broadcast(event)

		case req := <-b.postEventCh:
			switch req.kind {
			case "created":
				broadcast(Event{Type: TypePostCreated, Data: req.event})
			case "updated":
				broadcast(Event{Type: TypePostUpdated, Data: req.event})
			case "deleted":
				broadcast(Event{Type: TypePostDeleted, Data: req.event})
			}
			indexUpdated()

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients. index.updated events are
// throttled like the ones following post events.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishPostEvent publishes a post change (kind is created, updated or
// deleted) followed by a throttled index.updated event.
func (b *Broker) PublishPostEvent(kind string, event PostEvent) {
	if b.closed.Load() {
		return
	}
	select {
	case b.postEventCh <- postEventReq{kind: kind, event: event}:
	case <-b.stopped:
	}
}

// PublishIndexChanged publishes a throttled index.updated event.
func (b *Broker) PublishIndexChanged() {
	b.Publish(Event{Type: TypeIndexUpdated})
}

// ServeHTTP is the SSE endpoint handler. Every client first receives a ready
// event carrying its connection id.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if ready, err := encode(Event{Type: TypeReady, Data: map[string]string{"client": id}}); err == nil {
		_, _ = w.Write(ready)
	}
	flusher.Flush()

	b.logger.Debug("sse: client connected", slog.String("client", id))
	defer b.logger.Debug("sse: client disconnected", slog.String("client", id))

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
