// Package stream fans simulated price updates out to clients subscribed to
// per-symbol topics.
package stream

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/papertrade/market-engine/internal/metrics"
	"github.com/papertrade/market-engine/internal/model"
)

// Event names on the wire.
const (
	EventSubscribe    = "subscribe"
	EventUnsubscribe  = "unsubscribe"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventPriceHistory = "priceHistory"
	EventPriceUpdate  = "priceUpdate"
	EventError        = "error"
)

// Subscriber is one connected client. Send must not block; a client that
// cannot accept a message returns an error and misses it.
type Subscriber interface {
	ID() string
	Send(event string, payload any) error
}

// HistorySource returns the retained history of a symbol, oldest first.
type HistorySource interface {
	History(ctx context.Context, symbol string) ([]model.PricePoint, error)
}

// SymbolsPayload is the body of subscribe, unsubscribe and their acks.
type SymbolsPayload struct {
	Symbols []string `json:"symbols"`
}

// HistoryPayload is the body of a priceHistory event.
type HistoryPayload struct {
	Symbol  string             `json:"symbol"`
	History []model.PricePoint `json:"history"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Broadcaster maps each topic to its members and each member to its
// topics. Join and leave are O(1); Publish is O(members).
type Broadcaster struct {
	history HistorySource

	mu          sync.RWMutex
	topics      map[string]map[string]Subscriber
	memberships map[string]map[string]struct{}
}

// NewBroadcaster creates an empty broadcaster. history may be nil, in
// which case subscribers receive an empty backlog.
func NewBroadcaster(history HistorySource) *Broadcaster {
	return &Broadcaster{
		history:     history,
		topics:      make(map[string]map[string]Subscriber),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Subscribe joins sub to each symbol's topic, sends each symbol's history
// to sub alone, then acknowledges the full set. It returns the normalized
// symbols.
func (b *Broadcaster) Subscribe(ctx context.Context, sub Subscriber, symbols []string) []string {
	joined := normalize(symbols)
	for _, sym := range joined {
		b.join(sub, sym)

		b.deliver(sub, EventPriceHistory, HistoryPayload{Symbol: sym, History: b.backlog(ctx, sym)})
	}
	b.deliver(sub, EventSubscribed, SymbolsPayload{Symbols: joined})
	slog.Debug("client subscribed", "client", sub.ID(), "symbols", joined)
	return joined
}

// Unsubscribe removes sub from each symbol's topic and acknowledges.
func (b *Broadcaster) Unsubscribe(sub Subscriber, symbols []string) []string {
	left := normalize(symbols)
	for _, sym := range left {
		b.leave(sub.ID(), sym)
	}
	b.deliver(sub, EventUnsubscribed, SymbolsPayload{Symbols: left})
	slog.Debug("client unsubscribed", "client", sub.ID(), "symbols", left)
	return left
}

// Publish delivers update to every current member of symbol's topic. A
// topic without members is a no-op.
func (b *Broadcaster) Publish(symbol string, update any) {
	b.mu.RLock()
	members := b.topics[symbol]
	targets := make([]Subscriber, 0, len(members))
	for _, sub := range members {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, EventPriceUpdate, update)
	}
}

// Remove drops sub from every topic it belongs to.
func (b *Broadcaster) Remove(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := sub.ID()
	for sym := range b.memberships[id] {
		b.removeLocked(id, sym)
	}
	delete(b.memberships, id)
}

// Topics returns the topics sub currently belongs to, sorted.
func (b *Broadcaster) Topics(sub Subscriber) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.memberships[sub.ID()]))
	for sym := range b.memberships[sub.ID()] {
		topics = append(topics, sym)
	}
	sort.Strings(topics)
	return topics
}

// Members returns the number of subscribers on symbol's topic.
func (b *Broadcaster) Members(symbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[symbol])
}

func (b *Broadcaster) join(sub Subscriber, symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := sub.ID()
	members, ok := b.topics[symbol]
	if !ok {
		members = make(map[string]Subscriber)
		b.topics[symbol] = members
	}
	if _, already := members[id]; !already {
		metrics.Subscriptions.Inc()
	}
	members[id] = sub

	topics, ok := b.memberships[id]
	if !ok {
		topics = make(map[string]struct{})
		b.memberships[id] = topics
	}
	topics[symbol] = struct{}{}
}

func (b *Broadcaster) leave(id, symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(id, symbol)
	if len(b.memberships[id]) == 0 {
		delete(b.memberships, id)
	}
}

func (b *Broadcaster) removeLocked(id, symbol string) {
	members, ok := b.topics[symbol]
	if !ok {
		return
	}
	if _, ok := members[id]; ok {
		delete(members, id)
		metrics.Subscriptions.Dec()
	}
	if len(members) == 0 {
		delete(b.topics, symbol)
	}
	delete(b.memberships[id], symbol)
}

func (b *Broadcaster) backlog(ctx context.Context, symbol string) []model.PricePoint {
	if b.history == nil {
		return []model.PricePoint{}
	}
	points, err := b.history.History(ctx, symbol)
	if err != nil {
		slog.Warn("price history unavailable", "symbol", symbol, "err", err)
		return []model.PricePoint{}
	}
	if points == nil {
		points = []model.PricePoint{}
	}
	return points
}

// deliver sends one event to one subscriber. Failures stay with that
// subscriber.
func (b *Broadcaster) deliver(sub Subscriber, event string, payload any) {
	if err := sub.Send(event, payload); err != nil {
		metrics.DroppedDeliveries.Inc()
		slog.Debug("delivery dropped", "client", sub.ID(), "event", event, "err", err)
	}
}

// normalize uppercases symbols, drops blanks and duplicates, and keeps
// first-seen order.
func normalize(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := model.NormalizeSymbol(s)
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}
