// Package sse implements a Server-Sent Events broker for signal and event updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/coherence/internal/models"
)

// Event types broadcast by the broker.
const (
	TypeSignalComputed  = "signal.computed"
	TypeCoherenceEvent  = "coherence.event"
	TypeHistoryUpdated  = "history.updated"
	TypeRecordsIngested = "records.ingested"
	TypeFileIndexed     = "file.indexed"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// backlogSize is how many recent frames are kept for clients reconnecting
// with Last-Event-ID.
const backlogSize = 128

// reconnectDelay is sent to clients as the SSE retry interval.
const reconnectDelay = 3 * time.Second

type frame struct {
	id  uint64
	raw []byte
}

type subscribeReq struct {
	ch    chan []byte
	after uint64
}

type signalReq struct {
	signal models.CoherenceSignal
	events []models.CoherenceEvent
}

// Broker manages SSE client connections and broadcasts events.
//
// Every frame carries a monotonically increasing id. The broker keeps the last
// backlogSize frames so a reconnecting client resumes after its Last-Event-ID.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, backlog, frame counter, history throttle timestamp). Public methods
// communicate with this loop through channels, so no mutexes are required.
type Broker struct {
	historyMin time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	signalCh      chan signalReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker with the given history throttle interval.
func NewBroker(historyThrottle time.Duration) *Broker {
	if historyThrottle <= 0 {
		historyThrottle = 2 * time.Second
	}

	b := &Broker{
		historyMin:    historyThrottle,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		signalCh:      make(chan signalReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	backlog := make([]frame, 0, backlogSize)
	var (
		lastID      uint64
		lastHistory time.Time
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		lastID++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", lastID, event.Type, payload))

		if len(backlog) == backlogSize {
			copy(backlog, backlog[1:])
			backlog = backlog[:backlogSize-1]
		}
		backlog = append(backlog, frame{id: lastID, raw: raw})

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.ch] = struct{}{}
			if req.after == 0 {
				break
			}
			for _, f := range backlog {
				if f.id <= req.after {
					continue
				}
				select {
				case req.ch <- f.raw:
				default:
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.signalCh:
			broadcast(Event{Type: TypeSignalComputed, Data: req.signal})
			for _, ev := range req.events {
				broadcast(Event{Type: TypeCoherenceEvent, Data: ev})
			}

			now := time.Now()
			if now.Sub(lastHistory) >= b.historyMin {
				lastHistory = now
				broadcast(Event{Type: TypeHistoryUpdated, Data: map[string]uint64{"window_id": req.signal.Window.WindowID}})
			}

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

// Subscribe adds a new client and returns its channel. A non-zero after
// replays the buffered frames with a greater id first.
func (b *Broker) Subscribe(after uint64) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{ch: ch, after: after}:
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

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishSignal publishes a new signal, the events it triggered and a
// throttled history.updated event.
func (b *Broker) PublishSignal(sig models.CoherenceSignal, events []models.CoherenceEvent) {
	if b.closed.Load() {
		return
	}
	select {
	case b.signalCh <- signalReq{signal: sig, events: events}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/stream).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", reconnectDelay.Milliseconds())
	flusher.Flush()

	after, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	ch := b.Subscribe(after)
	defer b.Unsubscribe(ch)

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
