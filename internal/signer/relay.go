package signer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"Incinerator/internal/asset"
	"Incinerator/internal/logger"
	"Incinerator/internal/wire"
)

const (
	// subscriberBuffer is the per-subscriber queue of request notifications.
	subscriberBuffer = 16
)

var (
	// ErrUnknownRequest is returned when resolving a request that is not pending.
	ErrUnknownRequest = errors.New("unknown signing request")

	// ErrAlreadyPending is returned when the same transition is already waiting.
	ErrAlreadyPending = errors.New("signing request already pending")
)

// Request is a transition waiting for an external wallet signature.
type Request struct {
	ID        string        `json:"id"`        // ID is the base58 message hash
	AssetID   asset.ID      `json:"assetId"`   // AssetID is the asset being disposed of
	Owner     asset.Address `json:"owner"`     // Owner must produce the signature
	Kind      asset.Kind    `json:"kind"`      // Kind is the on-chain action
	Hash      asset.Hash    `json:"hash"`      // Hash is the payload to sign
	Message   []byte        `json:"message"`   // Message is the encoded transition
	CreatedAt time.Time     `json:"createdAt"` // CreatedAt is when the request was queued
}

// Relay hands unsigned transitions to a browser wallet and waits for the
// wallet to resolve or reject them. It has no timeout: a request stays
// pending until answered or until the caller's context ends.
type Relay struct {
	mu      sync.Mutex
	pending map[string]*pendingSign
	subs    map[chan Request]struct{}
}

// pendingSign is one outstanding request.
type pendingSign struct {
	req      Request
	unsigned *wire.Unsigned
	done     chan signResult // done has capacity 1 and receives exactly once
}

// signResult is the outcome delivered to the waiting Sign call.
type signResult struct {
	signed *wire.Signed
	err    error
}

// NewRelay creates an empty relay.
func NewRelay() *Relay {
	return &Relay{
		pending: make(map[string]*pendingSign),
		subs:    make(map[chan Request]struct{}),
	}
}

// Sign queues u and blocks until the wallet answers or ctx ends.
// Rejection and caller cancellation both return ErrUserCancelled.
func (r *Relay) Sign(ctx context.Context, u *wire.Unsigned) (*wire.Signed, error) {
	p := &pendingSign{
		req: Request{
			ID:        u.Hash.String(),
			AssetID:   u.AssetID,
			Owner:     u.Owner,
			Kind:      u.Kind,
			Hash:      u.Hash,
			Message:   u.Message,
			CreatedAt: time.Now(),
		},
		unsigned: u,
		done:     make(chan signResult, 1),
	}

	r.mu.Lock()
	if _, exists := r.pending[p.req.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPending, p.req.ID)
	}
	r.pending[p.req.ID] = p
	r.broadcast(p.req)
	r.mu.Unlock()

	logger.Debug("signing request queued", "id", asset.ShortRef(p.req.ID), "asset", u.AssetID)

	select {
	case res := <-p.done:
		return res.signed, res.err
	case <-ctx.Done():
		r.remove(p.req.ID)
		return nil, fmt.Errorf("%w:\n%w", asset.ErrUserCancelled, ctx.Err())
	}
}

// Resolve attaches the wallet's signature to request id.
// An invalid signature is returned to the caller and the request stays pending.
func (r *Relay) Resolve(id string, signer asset.Address, sig []byte) error {
	r.mu.Lock()
	p, ok := r.pending[id]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}

	signed, err := p.unsigned.Attach(signer, sig)
	if err != nil {
		return err
	}

	if !r.remove(id) {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}

	p.done <- signResult{signed: signed}

	return nil
}

// Reject answers request id with a user cancellation.
func (r *Relay) Reject(id string) error {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}

	p.done <- signResult{err: fmt.Errorf("%w: rejected in wallet", asset.ErrUserCancelled)}

	return nil
}

// Pending returns the outstanding requests, oldest first.
func (r *Relay) Pending() []Request {
	r.mu.Lock()
	reqs := make([]Request, 0, len(r.pending))
	for _, p := range r.pending {
		reqs = append(reqs, p.req)
	}
	r.mu.Unlock()

	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})

	return reqs
}

// Subscribe returns a channel receiving every newly queued request and a
// function that unsubscribes. Notifications are dropped for slow subscribers.
func (r *Relay) Subscribe() (<-chan Request, func()) {
	ch := make(chan Request, subscriberBuffer)

	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ch)
			r.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

// broadcast notifies subscribers without blocking. Caller holds mu.
func (r *Relay) broadcast(req Request) {
	for ch := range r.subs {
		select {
		case ch <- req:
		default:
			logger.Warn("signing subscriber lagging, dropped request", "id", asset.ShortRef(req.ID))
		}
	}
}

// remove deletes id and reports whether it was still pending.
func (r *Relay) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[id]; !ok {
		return false
	}

	delete(r.pending, id)

	return true
}
