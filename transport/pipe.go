package transport

import (
	"errors"
	"sync"

	"mini-xpc/message"
)

var errStarted = errors.New("transport: already started")

// Pipe is one end of an in-process transport pair. Messages are handed over
// by reference; handles inside them are shared, not duplicated.
type Pipe struct {
	peer *Pipe
	link *pipeLink

	mu    sync.Mutex
	queue []*message.Message
	ready chan struct{} // Signalled when the queue grows
	recv  Receiver
}

// pipeLink is the state both ends share.
type pipeLink struct {
	once   sync.Once
	closed chan struct{}
}

// NewPipe returns two connected ends.
func NewPipe() (*Pipe, *Pipe) {
	link := &pipeLink{closed: make(chan struct{})}
	a := &Pipe{link: link, ready: make(chan struct{}, 1)}
	b := &Pipe{link: link, ready: make(chan struct{}, 1)}
	a.peer, b.peer = b, a
	return a, b
}

func (p *Pipe) Start(r Receiver) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recv != nil {
		return errStarted
	}
	p.recv = r
	go p.deliverLoop()
	return nil
}

// Send queues m on the peer. Messages sent before the peer starts are held
// until it does.
func (p *Pipe) Send(m *message.Message) error {
	select {
	case <-p.link.closed:
		return ErrClosed
	default:
	}
	q := p.peer
	q.mu.Lock()
	q.queue = append(q.queue, m)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Close closes both ends.
func (p *Pipe) Close() error {
	p.link.once.Do(func() { close(p.link.closed) })
	return nil
}

func (p *Pipe) deliverLoop() {
	for {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()

		for _, m := range batch {
			select {
			case <-p.link.closed:
				p.recv.Disconnected(ErrClosed)
				return
			default:
			}
			p.recv.Deliver(m)
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-p.ready:
		case <-p.link.closed:
			p.recv.Disconnected(ErrClosed)
			return
		}
	}
}
