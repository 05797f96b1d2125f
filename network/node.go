package network

import (
	"math/rand"
	"sync"
	"time"

	"github.com/bartossh/Ledgerlink/ids"
)

const (
	DefaultMinBackoff = 250 * time.Millisecond
	DefaultMaxBackoff = 8 * time.Second
)

// Node is a consensus node and its health as seen by this process.
// Health is shared by every request that targets the node.
type Node struct {
	Address   string
	AccountID ids.AccountID

	mux        sync.Mutex
	minBackoff time.Duration
	maxBackoff time.Duration
	base       time.Duration
	failures   int
	readyAt    time.Time
}

func newNode(address string, account ids.AccountID, min, max time.Duration) *Node {
	return &Node{Address: address, AccountID: account, minBackoff: min, maxBackoff: max}
}

// IsHealthy reports whether the node is not backing off at now.
func (n *Node) IsHealthy(now time.Time) bool {
	n.mux.Lock()
	defer n.mux.Unlock()
	return !now.Before(n.readyAt)
}

// ReadyAt is the instant the node leaves backoff.
func (n *Node) ReadyAt() time.Time {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.readyAt
}

// Failures is the count of consecutive failures.
func (n *Node) Failures() int {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.failures
}

// MarkFailure puts the node in backoff and returns the backoff applied.
// The base doubles from the minimum on each consecutive failure, jitter is below half the
// base and the result never exceeds the maximum, so consecutive delays never decrease.
func (n *Node) MarkFailure() time.Duration {
	n.mux.Lock()
	defer n.mux.Unlock()

	switch {
	case n.base == 0:
		n.base = n.minBackoff
	case n.base < n.maxBackoff:
		n.base *= 2
		if n.base > n.maxBackoff {
			n.base = n.maxBackoff
		}
	}
	n.failures++

	d := n.base
	if half := int64(n.base / 2); half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	if d > n.maxBackoff {
		d = n.maxBackoff
	}
	n.readyAt = time.Now().Add(d)
	return d
}

// MarkSuccess resets the backoff state.
func (n *Node) MarkSuccess() {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.base = 0
	n.failures = 0
	n.readyAt = time.Time{}
}
