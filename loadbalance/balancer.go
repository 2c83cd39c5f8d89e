// Package loadbalance picks one of several listeners for the next call.
//
// Three strategies are implemented:
//   - RoundRobin:      equal listeners, stateless handlers
//   - WeightedRandom:  listeners of different capacity
//   - ConsistentHash:  handlers that keep per-key state, e.g. a cache
package loadbalance

import "errors"

// ErrNoInstances is returned by Pick when there is nothing to pick from.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Instance is a listener a client can dial.
type Instance struct {
	Network string
	Addr    string
	Weight  int // Relative capacity, used by WeightedRandom
}

// Balancer chooses an instance for each call. Pick must be goroutine-safe.
type Balancer interface {
	// Pick selects one instance. key identifies the call, e.g. its handler
	// name; strategies that ignore affinity ignore it.
	Pick(key string, instances []Instance) (*Instance, error)
	Name() string
}

// New returns the strategy called name: "round_robin", "weighted_random" or
// "consistent_hash".
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, errors.New("loadbalance: unknown strategy " + name)
}
