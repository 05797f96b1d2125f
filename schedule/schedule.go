// Package schedule wraps transactions for deferred execution.
//
// The network collects signatures on a schedule and executes the inner transaction once its
// keys are satisfied. The coordinator only builds the wrapper transactions and reads the ids
// out of their receipts, it never counts the collected signatures itself.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/client"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/logger"
	"github.com/bartossh/Ledgerlink/receipt"
	"github.com/bartossh/Ledgerlink/status"
	"github.com/bartossh/Ledgerlink/transaction"
)

var (
	ErrNoScheduleID   = errors.New("schedule create receipt has no schedule id")
	ErrAlreadyCreated = errors.New("identical schedule already exists")
)

// Schedule identifies a created schedule.
type Schedule struct {
	ScheduleID             ids.ScheduleID
	ScheduledTransactionID ids.TransactionID
	// NodeID is the node that accepted the schedule create transaction.
	NodeID ids.AccountID
}

// Option configures the schedule create body.
type Option func(c *body.ScheduleCreate)

// WithAdminKey allows the schedule to be deleted by the holder of key.
func WithAdminKey(key keys.Key) Option {
	return func(c *body.ScheduleCreate) { c.AdminKey = key }
}

// WithPayer makes account pay for the scheduled transaction instead of the schedule creator.
func WithPayer(account ids.AccountID) Option {
	return func(c *body.ScheduleCreate) { c.PayerAccountID = &account }
}

// WithMemo sets the memo of the schedule entity.
func WithMemo(memo string) Option {
	return func(c *body.ScheduleCreate) { c.ScheduleMemo = memo }
}

// WithScheduledMemo sets the memo of the scheduled transaction.
func WithScheduledMemo(memo string) Option {
	return func(c *body.ScheduleCreate) { c.Scheduled.Memo = memo }
}

// WithScheduledFee sets the max fee of the scheduled transaction.
func WithScheduledFee(fee uint64) Option {
	return func(c *body.ScheduleCreate) { c.Scheduled.TransactionFee = fee }
}

// WithExpiration sets when the network drops the schedule.
func WithExpiration(t time.Time) Option {
	return func(c *body.ScheduleCreate) { c.ExpirationTime = t }
}

// WithWaitForExpiry delays execution to the expiration time even when the keys are satisfied earlier.
func WithWaitForExpiry() Option {
	return func(c *body.ScheduleCreate) { c.WaitForExpiry = true }
}

// NewCreate returns a builder of the transaction scheduling inner.
func NewCreate(inner body.Schedulable, opts ...Option) *transaction.Builder {
	c := &body.ScheduleCreate{Scheduled: body.SchedulableBody{Data: inner}}
	if inner != nil {
		c.Scheduled.TransactionFee = uint64(inner.DefaultMaxFee())
	}
	for _, o := range opts {
		o(c)
	}
	return transaction.New(c)
}

// Client is the part of the client the coordinator submits through.
type Client interface {
	Freeze(b *transaction.Builder) (*transaction.Transaction, error)
	Execute(ctx context.Context, tx *transaction.Transaction) (client.TransactionResponse, error)
	GetReceipt(ctx context.Context, resp client.TransactionResponse) (receipt.Receipt, error)
}

// Coordinator submits schedule transactions.
type Coordinator struct {
	client Client
	log    logger.Logger
}

// New creates a coordinator submitting through c.
func New(c Client, log logger.Logger) *Coordinator {
	return &Coordinator{client: c, log: log}
}

// Create freezes the schedule create builder, signs it with signers and waits for the receipt.
// Signatures on the create transaction count towards the scheduled transaction.
// When an identical schedule exists its ids are returned together with ErrAlreadyCreated.
func (c *Coordinator) Create(ctx context.Context, b *transaction.Builder, signers ...keys.PrivateKey) (Schedule, receipt.Receipt, error) {
	if _, ok := b.Data().(*body.ScheduleCreate); !ok {
		return Schedule{}, receipt.Receipt{}, errors.Join(transaction.ErrConstruction, errors.New("builder does not create a schedule"))
	}
	resp, rc, err := c.submit(ctx, b, signers)
	if rc.ScheduleID == nil || rc.ScheduledTransactionID == nil {
		if err != nil {
			return Schedule{}, rc, err
		}
		return Schedule{}, rc, ErrNoScheduleID
	}
	s := Schedule{ScheduleID: *rc.ScheduleID, ScheduledTransactionID: *rc.ScheduledTransactionID, NodeID: resp.NodeID}
	if rc.Status == status.IdenticalScheduleAlreadyCreated {
		return s, rc, errors.Join(ErrAlreadyCreated, err)
	}
	if err != nil {
		return s, rc, err
	}
	c.log.Info(fmt.Sprintf("schedule [ %s ] created for transaction [ %s ]", s.ScheduleID, s.ScheduledTransactionID))
	return s, rc, nil
}

// Sign adds the signatures of signers to the schedule. The network executes the scheduled
// transaction as soon as the collected signatures satisfy its keys.
func (c *Coordinator) Sign(ctx context.Context, id ids.ScheduleID, signers ...keys.PrivateKey) (receipt.Receipt, error) {
	_, rc, err := c.submit(ctx, transaction.New(&body.ScheduleSign{ScheduleID: id}), signers)
	if err != nil {
		return rc, err
	}
	c.log.Debug(fmt.Sprintf("schedule [ %s ] signed by [ %d ] keys", id, len(signers)))
	return rc, nil
}

// Delete removes the schedule, signers must satisfy its admin key.
func (c *Coordinator) Delete(ctx context.Context, id ids.ScheduleID, signers ...keys.PrivateKey) (receipt.Receipt, error) {
	_, rc, err := c.submit(ctx, transaction.New(&body.ScheduleDelete{ScheduleID: id}), signers)
	if err != nil {
		return rc, err
	}
	c.log.Info(fmt.Sprintf("schedule [ %s ] deleted", id))
	return rc, nil
}

// ScheduledReceipt waits for the receipt of the scheduled transaction. It polls until the
// network executes the schedule or the poll budget runs out.
func (c *Coordinator) ScheduledReceipt(ctx context.Context, s Schedule) (receipt.Receipt, error) {
	return c.client.GetReceipt(ctx, client.TransactionResponse{TransactionID: s.ScheduledTransactionID, NodeID: s.NodeID})
}

func (c *Coordinator) submit(ctx context.Context, b *transaction.Builder, signers []keys.PrivateKey) (client.TransactionResponse, receipt.Receipt, error) {
	tx, err := c.client.Freeze(b)
	if err != nil {
		return client.TransactionResponse{}, receipt.Receipt{}, err
	}
	for _, k := range signers {
		if err := tx.Sign(k); err != nil {
			return client.TransactionResponse{}, receipt.Receipt{}, err
		}
	}
	resp, err := c.client.Execute(ctx, tx)
	if err != nil {
		return resp, receipt.Receipt{}, err
	}
	rc, err := c.client.GetReceipt(ctx, resp)
	return resp, rc, err
}
