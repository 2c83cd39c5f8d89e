package endpoint

import (
	"context"
	"fmt"
	"sync"

	"mini-xpc/codec"
	"mini-xpc/message"
)

// result resolves one pending call: a reply, or an error raised locally.
type result struct {
	reply *message.Message
	err   error
}

// pendingTable maps sequence numbers to waiting callers. Each channel has
// room for one result, so resolving never blocks.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uint64]chan result
	closed  error // Set once the endpoint is cancelled; no entries after that
}

func (p *pendingTable) add(seq uint64) (chan result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return nil, p.closed
	}
	ch := make(chan result, 1)
	p.entries[seq] = ch
	return ch, nil
}

func (p *pendingTable) remove(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, seq)
}

// resolve hands r to the caller waiting on seq, if any.
func (p *pendingTable) resolve(seq uint64, r result) bool {
	p.mu.Lock()
	ch, ok := p.entries[seq]
	delete(p.entries, seq)
	p.mu.Unlock()
	if ok {
		ch <- r
	}
	return ok
}

// closeAll fails every waiting caller with err and refuses new entries.
func (p *pendingTable) closeAll(err error) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = err
	n := len(p.entries)
	for seq, ch := range p.entries {
		ch <- result{err: err}
		delete(p.entries, seq)
	}
	return n
}

// SendTwoWay sends req to the handler name on the peer and waits for the
// reply, which is decoded into resp (a pointer, or nil to discard it).
//
// The call returns the unboxed remote error when the handler failed,
// ConnectionInvalidError when the endpoint is cancelled first, and ctx.Err()
// when ctx ends first. There is no implicit timeout.
func (e *Endpoint) SendTwoWay(ctx context.Context, name string, req, resp any) error {
	body, err := codec.Encode(req)
	if err != nil {
		return err
	}
	if err := e.sendable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Register before sending, the reply may arrive before Send returns.
	seq := e.seq.Add(1)
	ch, err := e.pending.add(seq)
	if err != nil {
		return err
	}
	if err := e.transport.Send(message.NewRequest(seq, name, body)); err != nil {
		e.pending.remove(seq)
		return fmt.Errorf("endpoint: send %q: %w", name, err)
	}

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		e.pending.remove(seq)
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}
	if r.reply.Failed {
		return e.registry.Unbox(r.reply.Body)
	}
	if resp == nil {
		return nil
	}
	return codec.Decode(r.reply.Body, resp)
}

// Call is SendTwoWay with the reply decoded into a new Resp.
func Call[Resp any](ctx context.Context, e *Endpoint, name string, req any) (Resp, error) {
	var resp Resp
	err := e.SendTwoWay(ctx, name, req, &resp)
	return resp, err
}

// SendOneWay sends req to the handler name and returns without waiting.
// Only encoding errors and a closed or idle endpoint are reported here;
// delivery failures go to the endpoint's error handler.
func (e *Endpoint) SendOneWay(ctx context.Context, name string, req any) error {
	body, err := codec.Encode(req)
	if err != nil {
		return err
	}
	if err := e.sendable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.transport.Send(message.NewOneWay(name, body)); err != nil {
		e.reportError(fmt.Errorf("endpoint: one-way %q: %w", name, err))
	}
	return nil
}

// Notify is SendOneWay without a context.
func (e *Endpoint) Notify(name string, req any) error {
	return e.SendOneWay(context.Background(), name, req)
}
