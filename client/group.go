package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mini-xpc/loadbalance"
	"mini-xpc/registry"
)

// Group spreads calls over a fixed set of listeners. It dials each listener
// on first use and redials after the connection was lost.
type Group struct {
	instances []loadbalance.Instance
	balancer  loadbalance.Balancer
	opts      []Option

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewGroup creates a group over instances. A nil balancer means round robin.
func NewGroup(instances []loadbalance.Instance, bal loadbalance.Balancer, opts ...Option) *Group {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	return &Group{
		instances: instances,
		balancer:  bal,
		opts:      opts,
		clients:   make(map[string]*Client),
	}
}

// Call picks a listener for name and calls it there. The handler name is
// the balancing key.
func (g *Group) Call(ctx context.Context, name string, req, resp any) error {
	inst, err := g.balancer.Pick(name, g.instances)
	if err != nil {
		return err
	}
	c, err := g.client(ctx, inst)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", inst.Addr, err)
	}
	err = c.SendTwoWay(ctx, name, req, resp)
	if errors.Is(err, registry.ErrConnectionInvalid) {
		g.forget(inst.Addr, c)
	}
	return err
}

func (g *Group) client(ctx context.Context, inst *loadbalance.Instance) (*Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, &registry.ConnectionInvalidError{Reason: "group closed"}
	}
	if c, ok := g.clients[inst.Addr]; ok {
		select {
		case <-c.Done():
		default:
			return c, nil
		}
	}
	network := inst.Network
	if network == "" {
		network = "tcp"
	}
	c, err := Dial(ctx, network, inst.Addr, g.opts...)
	if err != nil {
		return nil, err
	}
	g.clients[inst.Addr] = c
	return c, nil
}

func (g *Group) forget(addr string, c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clients[addr] == c {
		delete(g.clients, addr)
	}
}

// Close closes every connection of the group.
func (g *Group) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for addr, c := range g.clients {
		c.Close()
		delete(g.clients, addr)
	}
	return nil
}
