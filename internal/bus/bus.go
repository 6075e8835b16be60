package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Handler receives an event dispatched for the type it was subscribed to.
type Handler func(ctx context.Context, evt Event)

// SubscriptionToken identifies a registered handler for later Unsubscribe.
type SubscriptionToken int

// Bus is a typed pub/sub channel. Dispatch is synchronous and run to
// completion: a handler is never re-entered while another handler for the
// same Emit call is still running, which is what makes the single-threaded
// cooperative scheduling model described by the engine true in practice.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[EventType]map[SubscriptionToken]Handler
	nextTok  SubscriptionToken
}

// New creates a Bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[EventType]map[SubscriptionToken]Handler),
	}
}

// On registers handler for evt and returns a token usable with Off.
func (b *Bus) On(evt EventType, handler Handler) SubscriptionToken {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextTok++
	tok := b.nextTok
	if b.handlers[evt] == nil {
		b.handlers[evt] = make(map[SubscriptionToken]Handler)
	}
	b.handlers[evt][tok] = handler
	return tok
}

// Off removes a previously registered handler.
func (b *Bus) Off(evt EventType, tok SubscriptionToken) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers[evt], tok)
}

// Emit dispatches payload to every handler registered for evt, in
// subscription order. ctx is carried through purely for cancellation and
// log correlation; it has no effect on fan-out order.
func (b *Bus) Emit(ctx context.Context, evt EventType, payload any) {
	b.mu.RLock()
	subs := b.handlers[evt]
	ordered := make([]SubscriptionToken, 0, len(subs))
	for tok := range subs {
		ordered = append(ordered, tok)
	}
	handlersCopy := make([]Handler, 0, len(subs))
	for _, tok := range sortedTokens(ordered) {
		handlersCopy = append(handlersCopy, subs[tok])
	}
	b.mu.RUnlock()

	b.logger.DebugContext(ctx, "bus emit", slog.String("event", string(evt)), slog.Int("handlers", len(handlersCopy)))

	e := Event{Type: evt, Payload: payload}
	for _, h := range handlersCopy {
		h(ctx, e)
	}
}

func sortedTokens(toks []SubscriptionToken) []SubscriptionToken {
	for i := 1; i < len(toks); i++ {
		for j := i; j > 0 && toks[j-1] > toks[j]; j-- {
			toks[j-1], toks[j] = toks[j], toks[j-1]
		}
	}
	return toks
}
