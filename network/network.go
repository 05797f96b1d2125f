// Package network holds the consensus and mirror node sets of a ledger, the lazily created
// channel to each node and the per node health used to pick where a request goes next.
package network

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/logger"
)

var (
	ErrNoNodes     = errors.New("network has no consensus nodes")
	ErrUnknownNode = errors.New("node account is not part of the network")
	ErrDial        = errors.New("cannot create node channel")
	ErrClosed      = errors.New("network is closed")
)

// Config is the network configuration.
type Config struct {
	Nodes              map[string]ids.AccountID `yaml:"nodes"`
	Mirrors            []string                 `yaml:"mirrors"`
	Insecure           bool                     `yaml:"insecure"`
	CACertFile         string                   `yaml:"ca_cert_file"`
	ServerNameOverride string                   `yaml:"server_name_override"`
	MinBackoff         time.Duration            `yaml:"min_backoff"`
	MaxBackoff         time.Duration            `yaml:"max_backoff"`
	KeepaliveTime      time.Duration            `yaml:"keepalive_time"`
	KeepaliveTimeout   time.Duration            `yaml:"keepalive_timeout"`
	ConnectTimeout     time.Duration            `yaml:"connect_timeout"`
}

func (c *Config) verify() error {
	if len(c.Nodes) == 0 {
		return ErrNoNodes
	}
	seen := make(map[ids.AccountID]string, len(c.Nodes))
	for address, account := range c.Nodes {
		if address == "" {
			return fmt.Errorf("node [ %s ] has an empty address", account)
		}
		if account.IsZero() {
			return fmt.Errorf("node at [ %s ] has no account id", address)
		}
		if other, ok := seen[account]; ok {
			return fmt.Errorf("node account [ %s ] is used by [ %s ] and [ %s ]", account, other, address)
		}
		seen[account] = address
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		return fmt.Errorf("max backoff [ %s ] is lower than min backoff [ %s ]", c.MaxBackoff, c.MinBackoff)
	}
	if c.KeepaliveTime <= 0 {
		c.KeepaliveTime = 30 * time.Second
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = 10 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return nil
}

// Option configures the Network.
type Option func(n *Network)

// WithDialer replaces the default gRPC dialer.
func WithDialer(d Dialer) Option {
	return func(n *Network) {
		n.dial = d
	}
}

// Network is the set of nodes a client talks to. It is safe for concurrent use.
type Network struct {
	log      logger.Logger
	dial     Dialer
	nodes    map[ids.AccountID]*Node
	mirrors  []string
	mux      sync.Mutex
	channels map[string]Channel
	closed   bool
}

// New creates the network. Channels are created on first use.
func New(cfg Config, log logger.Logger, opts ...Option) (*Network, error) {
	if err := cfg.verify(); err != nil {
		return nil, err
	}
	n := &Network{
		log:      log,
		nodes:    make(map[ids.AccountID]*Node, len(cfg.Nodes)),
		mirrors:  append([]string(nil), cfg.Mirrors...),
		channels: make(map[string]Channel),
	}
	for address, account := range cfg.Nodes {
		n.nodes[account] = newNode(address, account, cfg.MinBackoff, cfg.MaxBackoff)
	}
	n.dial = GRPCDialer(cfg)
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Mirrors returns the mirror node base URLs.
func (n *Network) Mirrors() []string {
	return append([]string(nil), n.mirrors...)
}

// AccountIDs returns the account ids of all consensus nodes in ascending order.
func (n *Network) AccountIDs() []ids.AccountID {
	out := maps.Keys(n.nodes)
	sortAccounts(out)
	return out
}

// Node returns the node with the account id.
func (n *Network) Node(account ids.AccountID) (*Node, error) {
	node, ok := n.nodes[account]
	if !ok {
		return nil, errors.Join(ErrUnknownNode, fmt.Errorf("account [ %s ]", account))
	}
	return node, nil
}

// Candidates returns the nodes a request may target.
// An explicit list is kept in the given order. Otherwise every node is returned with healthy
// nodes first in random order followed by backing off nodes, soonest ready first.
func (n *Network) Candidates(explicit []ids.AccountID) ([]*Node, error) {
	if len(explicit) > 0 {
		out := make([]*Node, 0, len(explicit))
		for _, account := range explicit {
			node, err := n.Node(account)
			if err != nil {
				return nil, err
			}
			out = append(out, node)
		}
		return out, nil
	}
	if len(n.nodes) == 0 {
		return nil, ErrNoNodes
	}

	now := time.Now()
	var healthy, backingOff []*Node
	for _, account := range n.AccountIDs() {
		node := n.nodes[account]
		if node.IsHealthy(now) {
			healthy = append(healthy, node)
			continue
		}
		backingOff = append(backingOff, node)
	}
	rand.Shuffle(len(healthy), func(i, j int) { healthy[i], healthy[j] = healthy[j], healthy[i] })
	sort.SliceStable(backingOff, func(i, j int) bool {
		return backingOff[i].ReadyAt().Before(backingOff[j].ReadyAt())
	})
	return append(healthy, backingOff...), nil
}

// Select picks up to max node account ids for a transaction to be frozen for, preferring
// healthy nodes. Max of zero or less selects every node.
func (n *Network) Select(max int) []ids.AccountID {
	nodes, err := n.Candidates(nil)
	if err != nil {
		return nil
	}
	if max > 0 && len(nodes) > max {
		nodes = nodes[:max]
	}
	out := make([]ids.AccountID, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, node.AccountID)
	}
	return out
}

// Channel returns the channel of the node, dialing it on first use.
// Concurrent first use of one address results in a single dial.
func (n *Network) Channel(node *Node) (Channel, error) {
	n.mux.Lock()
	defer n.mux.Unlock()

	if n.closed {
		return nil, ErrClosed
	}
	if ch, ok := n.channels[node.Address]; ok {
		return ch, nil
	}
	ch, err := n.dial(node.Address)
	if err != nil {
		n.log.Error(fmt.Sprintf("dialing node [ %s ] at [ %s ] failed, %s", node.AccountID, node.Address, err))
		return nil, errors.Join(ErrDial, err)
	}
	n.channels[node.Address] = ch
	n.log.Debug(fmt.Sprintf("channel to node [ %s ] at [ %s ] created", node.AccountID, node.Address))
	return ch, nil
}

// Close closes every channel. The network cannot be used afterwards.
func (n *Network) Close() error {
	n.mux.Lock()
	defer n.mux.Unlock()

	var errs []error
	for address, ch := range n.channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing [ %s ]: %w", address, err))
		}
	}
	n.channels = make(map[string]Channel)
	n.closed = true
	return errors.Join(errs...)
}

func sortAccounts(a []ids.AccountID) {
	sort.Slice(a, func(i, j int) bool {
		if a[i].Shard != a[j].Shard {
			return a[i].Shard < a[j].Shard
		}
		if a[i].Realm != a[j].Realm {
			return a[i].Realm < a[j].Realm
		}
		return a[i].Num < a[j].Num
	})
}
