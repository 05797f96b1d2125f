// Package client is the handle applications use to talk to a ledger network.
//
// A Client owns the node topology, the retry policy and the operator account paying for
// transactions and queries. It is passed explicitly to every call, there is no global state.
package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/cache"
	"github.com/bartossh/Ledgerlink/executor"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/logger"
	"github.com/bartossh/Ledgerlink/mirror"
	"github.com/bartossh/Ledgerlink/network"
	"github.com/bartossh/Ledgerlink/receipt"
	"github.com/bartossh/Ledgerlink/transaction"
)

const (
	DefaultMaxQueryPayment = body.Hbar
	defaultMirrorTimeout   = 10 * time.Second
)

var (
	ErrNoOperator       = errors.New("client has no operator")
	ErrQueryCostTooHigh = errors.New("query cost exceeds the max query payment")
	ErrNoMirror         = errors.New("client has no mirror node")
)

// Config contains the client configuration.
type Config struct {
	Network                  network.Config  `yaml:"network"`
	Policy                   executor.Policy `yaml:"policy"`
	OperatorAccountID        ids.AccountID   `yaml:"operator_account_id"`
	OperatorKey              string          `yaml:"operator_key"`
	OperatorKeyFile          string          `yaml:"operator_key_file"`
	DefaultMaxTransactionFee uint64          `yaml:"default_max_transaction_fee"`
	MaxQueryPayment          uint64          `yaml:"max_query_payment"`
	ChunkSize                int             `yaml:"chunk_size"`
	MaxNodesPerTransaction   int             `yaml:"max_nodes_per_transaction"`
	MirrorTimeout            time.Duration   `yaml:"mirror_timeout"`
	ReceiptCache             *cache.Config   `yaml:"receipt_cache"`
}

// ReceiptCache memorizes final receipts.
type ReceiptCache interface {
	Save(id ids.TransactionID, rc receipt.Receipt) error
	Get(id ids.TransactionID) (receipt.Receipt, error)
	Close() error
}

type options struct {
	network  []network.Option
	executor []executor.Option
	receipts ReceiptCache
}

// Option configures the Client.
type Option func(o *options)

// WithDialer replaces the gRPC dialer, used to reach simulated nodes.
func WithDialer(d network.Dialer) Option {
	return func(o *options) {
		o.network = append(o.network, network.WithDialer(d))
	}
}

// WithExecutorOptions passes options to the executor, for example an observer.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *options) {
		o.executor = append(o.executor, opts...)
	}
}

// WithReceiptCache replaces the receipt cache built from the configuration.
func WithReceiptCache(c ReceiptCache) Option {
	return func(o *options) {
		o.receipts = c
	}
}

// Client is a handle to a ledger network. It is safe for concurrent use.
type Client struct {
	net             *network.Network
	exec            *executor.Executor
	log             logger.Logger
	operator        ids.AccountID
	operatorKey     *keys.PrivateKey
	defaultFee      uint64
	maxQueryPayment uint64
	chunkSize       int
	maxNodes        int
	receipts        ReceiptCache
	mirror          *mirror.Rest
}

// New creates a client from the configuration.
func New(cfg Config, log logger.Logger, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		log:             log,
		operator:        cfg.OperatorAccountID,
		defaultFee:      cfg.DefaultMaxTransactionFee,
		maxQueryPayment: cfg.MaxQueryPayment,
		chunkSize:       cfg.ChunkSize,
		maxNodes:        cfg.MaxNodesPerTransaction,
		receipts:        o.receipts,
	}
	if c.maxQueryPayment == 0 {
		c.maxQueryPayment = uint64(DefaultMaxQueryPayment)
	}

	key, err := operatorKey(cfg)
	if err != nil {
		return nil, err
	}
	if key != nil && c.operator.IsZero() {
		return nil, errors.New("operator key is set without operator account id")
	}
	c.operatorKey = key

	c.net, err = network.New(cfg.Network, log, o.network...)
	if err != nil {
		return nil, err
	}
	c.exec, err = executor.New(c.net, cfg.Policy, log, o.executor...)
	if err != nil {
		return nil, errors.Join(err, c.net.Close())
	}

	if c.receipts == nil && cfg.ReceiptCache != nil {
		c.receipts, err = cache.New(*cfg.ReceiptCache, log)
		if err != nil {
			return nil, errors.Join(err, c.net.Close())
		}
	}

	if mirrors := c.net.Mirrors(); len(mirrors) > 0 {
		timeout := cfg.MirrorTimeout
		if timeout <= 0 {
			timeout = defaultMirrorTimeout
		}
		c.mirror = mirror.NewRest(mirrors[0], timeout)
	}

	c.log.Info(fmt.Sprintf("client ready, [ %d ] nodes, operator [ %s ]", len(c.net.AccountIDs()), c.operator))
	return c, nil
}

func operatorKey(cfg Config) (*keys.PrivateKey, error) {
	switch {
	case cfg.OperatorKey != "":
		k, err := keys.ParsePrivateKey(cfg.OperatorKey)
		if err != nil {
			return nil, errors.Join(errors.New("operator key"), err)
		}
		return &k, nil
	case cfg.OperatorKeyFile != "":
		k, err := keys.ReadFromPem(cfg.OperatorKeyFile)
		if err != nil {
			return nil, errors.Join(errors.New("operator key file"), err)
		}
		return &k, nil
	}
	return nil, nil
}

// OperatorAccountID returns the account paying for transactions by default.
func (c *Client) OperatorAccountID() ids.AccountID { return c.operator }

// OperatorPublicKey returns the operator public key, false when the client has no operator key.
func (c *Client) OperatorPublicKey() (keys.PublicKey, bool) {
	if c.operatorKey == nil {
		return keys.PublicKey{}, false
	}
	return c.operatorKey.PublicKey(), true
}

// NodeAccountIDs selects the nodes a transaction is frozen for, healthy nodes first.
func (c *Client) NodeAccountIDs() []ids.AccountID { return c.net.Select(c.maxNodes) }

func (c *Client) DefaultMaxTransactionFee() uint64 { return c.defaultFee }

func (c *Client) ChunkSize() int { return c.chunkSize }

// Executor returns the executor, for requests built outside of this package.
func (c *Client) Executor() *executor.Executor { return c.exec }

// Network returns the node topology.
func (c *Client) Network() *network.Network { return c.net }

// Mirror returns the REST client of the first mirror node.
func (c *Client) Mirror() (*mirror.Rest, error) {
	if c.mirror == nil {
		return nil, ErrNoMirror
	}
	return c.mirror, nil
}

// Freeze freezes the builder with the client as environment.
func (c *Client) Freeze(b *transaction.Builder) (*transaction.Transaction, error) {
	return b.Freeze(c)
}

// Close releases the node channels and the receipt cache.
func (c *Client) Close() error {
	var err error
	if c.receipts != nil {
		err = c.receipts.Close()
	}
	return errors.Join(err, c.net.Close())
}
