package endpoint

import (
	"fmt"

	"go.uber.org/zap"

	"mini-xpc/codec"
	"mini-xpc/message"
	"mini-xpc/middleware"
	"mini-xpc/object"
	"mini-xpc/registry"
)

// receiver adapts an Endpoint to transport.Receiver without putting the
// callbacks in the Endpoint's API.
type receiver struct{ e *Endpoint }

func (r receiver) Deliver(m *message.Message) { r.e.deliver(m) }

func (r receiver) SendFailed(m *message.Message, err error) {
	switch {
	case m.Type == message.TypeRequest:
		if r.e.pending.resolve(m.Seq, result{err: fmt.Errorf("endpoint: send %q: %w", m.Name, err)}) {
			return
		}
	case m.Type == message.TypeReply && !m.Failed:
		// The result could not travel; the caller still gets an answer.
		r.e.replyAsync(message.NewFailure(m, r.e.registry.Box(err)))
		return
	}
	r.e.reportError(fmt.Errorf("endpoint: %v not delivered: %w", m, err))
}

func (r receiver) Disconnected(err error) {
	cause := "transport closed"
	if err != nil {
		cause = err.Error()
	}
	r.e.cancelWith(cause)
}

func (e *Endpoint) deliver(m *message.Message) {
	if m.Type == message.TypeReply {
		r := result{reply: m}
		if m.Err != nil {
			r = result{err: &codec.DataCorruptedError{Msg: "undecodable reply: " + m.Err.Error()}}
		}
		if !e.pending.resolve(m.Seq, r) {
			// The caller gave up (context ended) before the reply came.
			e.logger.Debug("reply without pending call", zap.Uint64("seq", m.Seq), zap.String("name", m.Name))
		}
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Cancelled:
		return
	case Idle, Suspended:
		e.queued = append(e.queued, m)
		return
	}
	e.dispatch(m)
}

// dispatch runs m on its own goroutine. Callers hold e.mu so that queued
// messages start in arrival order.
func (e *Endpoint) dispatch(m *message.Message) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.handle(m)
	}()
}

func (e *Endpoint) handle(m *message.Message) {
	if m.Err != nil {
		e.fail(m, &codec.DataCorruptedError{Msg: "undecodable request: " + m.Err.Error()})
		return
	}
	h, ok := e.handler(m.Name)
	if !ok {
		e.fail(m, &registry.HandlerNotFoundError{Name: m.Name})
		return
	}

	out, err := e.invoke(h, m)
	if !m.ExpectsReply() {
		if err != nil {
			e.reportError(fmt.Errorf("endpoint: one-way handler %q: %w", m.Name, err))
		}
		return
	}
	if err != nil {
		e.reply(message.NewFailure(m, e.registry.Box(err)))
		return
	}
	e.reply(message.NewReply(m, out))
}

// invoke runs h, turning a panic into an error for the caller.
func (e *Endpoint) invoke(h middleware.HandlerFunc, m *message.Message) (out object.Object, err error) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("handler panicked", zap.String("name", m.Name), zap.Any("panic", p), zap.Stack("stack"))
			err = &registry.HandlerPanicError{Name: m.Name, Value: fmt.Sprint(p)}
		}
	}()
	return h(e.ctx, m)
}

// fail answers m with err, or reports err when m has no caller waiting.
func (e *Endpoint) fail(m *message.Message, err error) {
	if m.ExpectsReply() {
		e.reply(message.NewFailure(m, e.registry.Box(err)))
		return
	}
	e.reportError(err)
}

// replyAsync sends r from a new goroutine. SendFailed runs on the
// transport's writer, which must not block on its own outbox.
func (e *Endpoint) replyAsync(r *message.Message) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reply(r)
	}()
}

// reply sends r unless the endpoint was cancelled while the handler ran.
func (e *Endpoint) reply(r *message.Message) {
	if e.State() == Cancelled {
		e.logger.Debug("dropping reply after cancel", zap.Stringer("msg", r))
		return
	}
	if err := e.transport.Send(r); err != nil {
		e.reportError(fmt.Errorf("endpoint: reply %v: %w", r, err))
	}
}
