package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/market-engine/internal/model"
)

type received struct {
	event   string
	payload any
}

// fakeSubscriber records everything sent to it. When failing is set every
// Send returns an error.
type fakeSubscriber struct {
	id      string
	failing bool

	mu   sync.Mutex
	msgs []received
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(event string, payload any) error {
	if f.failing {
		return errors.New("connection reset")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, received{event, payload})
	return nil
}

func (f *fakeSubscriber) events(name string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, m := range f.msgs {
		if m.event == name {
			out = append(out, m.payload)
		}
	}
	return out
}

func (f *fakeSubscriber) all() []received {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]received(nil), f.msgs...)
}

type staticHistory map[string][]model.PricePoint

func (h staticHistory) History(_ context.Context, symbol string) ([]model.PricePoint, error) {
	if symbol == "BROKEN" {
		return nil, errors.New("redis down")
	}
	return h[symbol], nil
}

func price(s string) *decimal.Decimal {
	p := decimal.RequireFromString(s)
	return &p
}

func update(symbol, p string) model.PriceUpdate {
	return model.PriceUpdate{Symbol: symbol, Price: price(p), Timestamp: time.Now()}
}

func TestSubscribe_DeliversHistoryThenAck(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	hist := staticHistory{
		"AAPL": {
			{Price: price("100"), Timestamp: t0},
			{Price: price("101"), Timestamp: t0.Add(2 * time.Second)},
		},
	}
	b := NewBroadcaster(hist)
	c := &fakeSubscriber{id: "c1"}

	joined := b.Subscribe(context.Background(), c, []string{"aapl", " googl ", "AAPL", ""})
	assert.Equal(t, []string{"AAPL", "GOOGL"}, joined)

	msgs := c.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, EventPriceHistory, msgs[0].event)
	assert.Equal(t, EventPriceHistory, msgs[1].event)
	assert.Equal(t, EventSubscribed, msgs[2].event)

	aapl := msgs[0].payload.(HistoryPayload)
	assert.Equal(t, "AAPL", aapl.Symbol)
	require.Len(t, aapl.History, 2)
	assert.True(t, aapl.History[0].Price.Equal(decimal.NewFromInt(100)), "oldest first")

	googl := msgs[1].payload.(HistoryPayload)
	assert.NotNil(t, googl.History)
	assert.Empty(t, googl.History)

	assert.Equal(t, SymbolsPayload{Symbols: []string{"AAPL", "GOOGL"}}, msgs[2].payload)
	assert.Equal(t, []string{"AAPL", "GOOGL"}, b.Topics(c))
}

func TestSubscribe_HistoryFailureStillJoins(t *testing.T) {
	b := NewBroadcaster(staticHistory{})
	c := &fakeSubscriber{id: "c1"}

	b.Subscribe(context.Background(), c, []string{"BROKEN"})
	hist := c.events(EventPriceHistory)
	require.Len(t, hist, 1)
	assert.Empty(t, hist[0].(HistoryPayload).History)

	b.Publish("BROKEN", update("BROKEN", "1"))
	assert.Len(t, c.events(EventPriceUpdate), 1)
}

func TestPublish_OnlyReachesTopicMembers(t *testing.T) {
	b := NewBroadcaster(nil)
	ctx := context.Background()
	apple := &fakeSubscriber{id: "apple"}
	google := &fakeSubscriber{id: "google"}
	both := &fakeSubscriber{id: "both"}

	b.Subscribe(ctx, apple, []string{"AAPL"})
	b.Subscribe(ctx, google, []string{"GOOGL"})
	b.Subscribe(ctx, both, []string{"AAPL", "GOOGL"})

	b.Publish("AAPL", update("AAPL", "180"))
	b.Publish("GOOGL", update("GOOGL", "140"))
	b.Publish("TSLA", update("TSLA", "250")) // no members

	for _, u := range apple.events(EventPriceUpdate) {
		assert.Equal(t, "AAPL", u.(model.PriceUpdate).Symbol)
	}
	assert.Len(t, apple.events(EventPriceUpdate), 1)
	assert.Len(t, google.events(EventPriceUpdate), 1)
	assert.Equal(t, "GOOGL", google.events(EventPriceUpdate)[0].(model.PriceUpdate).Symbol)
	assert.Len(t, both.events(EventPriceUpdate), 2)
	assert.Equal(t, 0, b.Members("TSLA"))
}

func TestUnsubscribe_StopsOnlyThatSymbol(t *testing.T) {
	b := NewBroadcaster(nil)
	c := &fakeSubscriber{id: "c1"}
	b.Subscribe(context.Background(), c, []string{"AAPL", "GOOGL"})

	left := b.Unsubscribe(c, []string{"aapl"})
	assert.Equal(t, []string{"AAPL"}, left)
	acks := c.events(EventUnsubscribed)
	require.Len(t, acks, 1)
	assert.Equal(t, SymbolsPayload{Symbols: []string{"AAPL"}}, acks[0])

	b.Publish("AAPL", update("AAPL", "180"))
	b.Publish("GOOGL", update("GOOGL", "140"))

	updates := c.events(EventPriceUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "GOOGL", updates[0].(model.PriceUpdate).Symbol)
	assert.Equal(t, 0, b.Members("AAPL"))
	assert.Equal(t, []string{"GOOGL"}, b.Topics(c))
}

func TestRemove_LeavesEveryTopic(t *testing.T) {
	b := NewBroadcaster(nil)
	ctx := context.Background()
	gone := &fakeSubscriber{id: "gone"}
	stays := &fakeSubscriber{id: "stays"}
	b.Subscribe(ctx, gone, []string{"AAPL", "MSFT", "NIFTY"})
	b.Subscribe(ctx, stays, []string{"AAPL"})

	b.Remove(gone)

	assert.Empty(t, b.Topics(gone))
	assert.Equal(t, 0, b.Members("MSFT"))
	assert.Equal(t, 0, b.Members("NIFTY"))
	assert.Equal(t, 1, b.Members("AAPL"))

	b.Publish("AAPL", update("AAPL", "180"))
	assert.Empty(t, gone.events(EventPriceUpdate))
	assert.Len(t, stays.events(EventPriceUpdate), 1)

	b.Remove(gone) // already gone
}

func TestPublish_FailingClientIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	ctx := context.Background()
	bad := &fakeSubscriber{id: "bad"}
	good := &fakeSubscriber{id: "good"}
	b.Subscribe(ctx, bad, []string{"AAPL"})
	b.Subscribe(ctx, good, []string{"AAPL"})
	bad.failing = true

	for i := 0; i < 5; i++ {
		b.Publish("AAPL", update("AAPL", "180"))
	}
	assert.Len(t, good.events(EventPriceUpdate), 5)
}

func TestPublish_PreservesOrderPerSymbol(t *testing.T) {
	b := NewBroadcaster(nil)
	c := &fakeSubscriber{id: "c1"}
	b.Subscribe(context.Background(), c, []string{"AAPL"})

	want := []string{"100.00", "100.50", "99.75", "101.20"}
	for _, p := range want {
		b.Publish("AAPL", update("AAPL", p))
	}

	got := c.events(EventPriceUpdate)
	require.Len(t, got, len(want))
	for i, p := range want {
		assert.True(t, got[i].(model.PriceUpdate).Price.Equal(decimal.RequireFromString(p)), "update %d out of order", i)
	}
}

func TestBroadcaster_ConcurrentAccess(t *testing.T) {
	b := NewBroadcaster(nil)
	ctx := context.Background()
	var wg sync.WaitGroup

	subs := make([]*fakeSubscriber, 20)
	for i := range subs {
		subs[i] = &fakeSubscriber{id: string(rune('a' + i))}
	}
	for _, s := range subs {
		wg.Add(1)
		go func(s *fakeSubscriber) {
			defer wg.Done()
			b.Subscribe(ctx, s, []string{"AAPL", "MSFT"})
			b.Unsubscribe(s, []string{"MSFT"})
		}(s)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			b.Publish("AAPL", update("AAPL", "1"))
		}
	}()
	wg.Wait()

	assert.Equal(t, 20, b.Members("AAPL"))
	assert.Equal(t, 0, b.Members("MSFT"))
}
