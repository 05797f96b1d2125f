// Package executor sends requests to nodes with retry, per node backoff and status
// classification, and polls for the final outcome of submitted transactions.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/logger"
	"github.com/bartossh/Ledgerlink/network"
	"github.com/bartossh/Ledgerlink/status"
)

const (
	DefaultMaxAttempts    = 10
	DefaultRequestTimeout = 2 * time.Minute
	DefaultAttemptTimeout = 10 * time.Second
	DefaultPollInterval   = 250 * time.Millisecond
	DefaultPollTimeout    = 2 * time.Minute
)

// Request is one logical request that may be sent to several nodes until one accepts it.
type Request[T any] interface {
	// Nodes restricts the request to these nodes in this order, empty means any node.
	Nodes() []ids.AccountID
	TransactionID() ids.TransactionID
	Method() string
	// Encode returns the bytes to send to the node, bodies may differ per node.
	Encode(node ids.AccountID) ([]byte, error)
	// Decode returns the value and the precheck status carried by the node answer.
	Decode(node ids.AccountID, raw []byte) (T, status.Code, error)
}

// Classifier may be implemented by a Request to override how precheck statuses are treated.
type Classifier interface {
	Classify(code status.Code) status.Class
}

// Result is the accepted answer of a request.
type Result[T any] struct {
	Value    T
	NodeID   ids.AccountID
	Status   status.Code
	Attempts int
}

// Policy bounds the retry loop and polling. Node backoff bounds belong to network.Config.
type Policy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		RequestTimeout: DefaultRequestTimeout,
		AttemptTimeout: DefaultAttemptTimeout,
		PollInterval:   DefaultPollInterval,
		PollTimeout:    DefaultPollTimeout,
	}
}

func (p *Policy) verify() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative, got %d", p.MaxAttempts)
	}
	d := DefaultPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = d.RequestTimeout
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.PollTimeout <= 0 {
		p.PollTimeout = d.PollTimeout
	}
	return nil
}

// Nodes is the part of the network the executor depends on.
type Nodes interface {
	Candidates(explicit []ids.AccountID) ([]*network.Node, error)
	Channel(node *network.Node) (network.Channel, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures the Executor.
type Option func(e *Executor)

// WithSleep replaces the wait used between attempts and polls.
func WithSleep(s SleepFunc) Option {
	return func(e *Executor) {
		e.sleep = s
	}
}

// WithObserver registers an observer of attempts and waits.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observers = append(e.observers, o)
	}
}

// Executor runs requests against the network. It is safe for concurrent use.
type Executor struct {
	nodes     Nodes
	policy    Policy
	log       logger.Logger
	sleep     SleepFunc
	observers []Observer
}

// New creates an executor, zero policy fields take defaults.
func New(nodes Nodes, policy Policy, log logger.Logger, opts ...Option) (*Executor, error) {
	if err := policy.verify(); err != nil {
		return nil, err
	}
	e := &Executor{nodes: nodes, policy: policy, log: log, sleep: sleep}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Policy returns the policy in use.
func (e *Executor) Policy() Policy { return e.policy }

// Execute sends the request until a node accepts it, a node rejects it with a fatal status,
// attempts run out or the request deadline passes.
func Execute[T any](ctx context.Context, e *Executor, req Request[T]) (Result[T], error) {
	ctx, cancel := context.WithTimeout(ctx, e.policy.RequestTimeout)
	defer cancel()

	method, txID := req.Method(), req.TransactionID()
	nodes, err := e.nodes.Candidates(req.Nodes())
	if err != nil {
		return Result[T]{}, err
	}
	if len(nodes) == 0 {
		return Result[T]{}, network.ErrNoNodes
	}

	var (
		lastStatus status.Code
		lastErr    error
		lastNode   ids.AccountID
		attempt    int
	)
	timeout := func(err error) (Result[T], error) {
		if err != nil {
			lastErr = err
		}
		e.notify(Event{Kind: EventTimeout, Method: method, Node: lastNode, Status: lastStatus, Attempt: attempt, Err: lastErr})
		e.log.Warn(fmt.Sprintf("[ %s ] for [ %s ] gave up after [ %d ] attempts", method, txID, attempt))
		return Result[T]{}, &TimeoutError{
			Method: method, TransactionID: txID, NodeID: lastNode,
			LastStatus: lastStatus, LastErr: lastErr, Attempts: attempt,
		}
	}

	for attempt < e.policy.MaxAttempts {
		node, wait := pick(nodes, attempt, time.Now())
		if wait > 0 {
			e.notify(Event{Kind: EventWait, Method: method, Node: node.AccountID, Duration: wait, Attempt: attempt + 1})
			if err := e.sleep(ctx, wait); err != nil {
				return timeout(err)
			}
		}
		attempt++
		lastNode = node.AccountID

		payload, err := req.Encode(node.AccountID)
		if err != nil {
			return Result[T]{}, err
		}

		ch, err := e.nodes.Channel(node)
		if err != nil {
			if errors.Is(err, network.ErrClosed) {
				return Result[T]{}, err
			}
			lastErr = errors.Join(ErrTransient, err)
			e.backoff(node, method, attempt, lastErr)
			continue
		}

		start := time.Now()
		actx, acancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
		raw, err := ch.Invoke(actx, method, payload)
		acancel()
		latency := time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				return timeout(errors.Join(ErrTransient, err))
			}
			if !isTransient(err) {
				e.notify(Event{Kind: EventFatal, Method: method, Node: node.AccountID, Duration: latency, Attempt: attempt, Err: err})
				e.log.Error(fmt.Sprintf("[ %s ] to node [ %s ] failed, %s", method, node.AccountID, err))
				return Result[T]{}, errors.Join(ErrFatal, fmt.Errorf("node [ %s ]: %w", node.AccountID, err))
			}
			lastErr = errors.Join(ErrTransient, err)
			e.notify(Event{Kind: EventAttempt, Method: method, Node: node.AccountID, Duration: latency, Attempt: attempt, Err: err})
			e.backoff(node, method, attempt, lastErr)
			continue
		}

		value, code, err := req.Decode(node.AccountID, raw)
		if err != nil {
			lastErr = errors.Join(ErrTransient, err)
			e.notify(Event{Kind: EventAttempt, Method: method, Node: node.AccountID, Duration: latency, Attempt: attempt, Err: err})
			e.backoff(node, method, attempt, lastErr)
			continue
		}
		lastStatus = code
		e.notify(Event{Kind: EventAttempt, Method: method, Node: node.AccountID, Status: code, Duration: latency, Attempt: attempt})

		switch classify(req, code) {
		case status.ClassSuccess:
			node.MarkSuccess()
			return Result[T]{Value: value, NodeID: node.AccountID, Status: code, Attempts: attempt}, nil
		case status.ClassRetryable:
			lastErr = nil
			e.backoff(node, method, attempt, fmt.Errorf("status %s", code))
		default:
			node.MarkSuccess()
			e.notify(Event{Kind: EventFatal, Method: method, Node: node.AccountID, Status: code, Attempt: attempt})
			e.log.Error(fmt.Sprintf("[ %s ] for [ %s ] rejected by node [ %s ] with [ %s ]", method, txID, node.AccountID, code))
			return Result[T]{Value: value, NodeID: node.AccountID, Status: code, Attempts: attempt}, &StatusError{
				Method: method, Status: code, TransactionID: txID, NodeID: node.AccountID,
			}
		}
	}

	return timeout(nil)
}

func (e *Executor) backoff(node *network.Node, method string, attempt int, cause error) {
	d := node.MarkFailure()
	e.notify(Event{Kind: EventBackoff, Method: method, Node: node.AccountID, Duration: d, Attempt: attempt, Err: cause})
	e.log.Debug(fmt.Sprintf("node [ %s ] backing off for [ %s ] after attempt [ %d ] of [ %s ], %s", node.AccountID, d, attempt, method, cause))
}

func (e *Executor) notify(ev Event) {
	for _, o := range e.observers {
		o.Observe(ev)
	}
}

// pick returns the first healthy node starting at the attempt offset, or the node that
// leaves backoff soonest with the time to wait for it.
func pick(nodes []*network.Node, offset int, now time.Time) (*network.Node, time.Duration) {
	var soonest *network.Node
	var readyAt time.Time
	for i := range nodes {
		n := nodes[(offset+i)%len(nodes)]
		if n.IsHealthy(now) {
			return n, 0
		}
		if r := n.ReadyAt(); soonest == nil || r.Before(readyAt) {
			soonest, readyAt = n, r
		}
	}
	return soonest, readyAt.Sub(now)
}

func classify[T any](req Request[T], code status.Code) status.Class {
	if c, ok := req.(Classifier); ok {
		return c.Classify(code)
	}
	return code.Classify()
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	s, ok := grpcstatus.FromError(err)
	if !ok {
		return true
	}
	switch s.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
