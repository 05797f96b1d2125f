package query_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/executor"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/ledgertest"
	"github.com/bartossh/Ledgerlink/logging"
	"github.com/bartossh/Ledgerlink/network"
	"github.com/bartossh/Ledgerlink/query"
	"github.com/bartossh/Ledgerlink/status"
	"github.com/bartossh/Ledgerlink/transaction"
)

var node3 = ids.Account(3)

type fixture struct {
	ledger *ledgertest.Ledger
	exec   *executor.Executor
	key    keys.PrivateKey
	payer  ids.AccountID
	sleeps int
}

func newFixture(t *testing.T) *fixture {
	key, err := keys.GeneratePrivateKey(keys.Ed25519)
	assert.Nil(t, err)

	f := &fixture{ledger: ledgertest.NewLedger(node3), key: key}
	f.payer = f.ledger.CreateAccount(key.PublicKey(), 10*body.Hbar)

	nodes := map[string]ids.AccountID{"node3:50211": node3}
	log := logging.New(func(error) {}, func(error) {}, io.Discard)
	net, err := network.New(network.Config{Nodes: nodes}, log, network.WithDialer(f.ledger.Dialer(nodes)))
	assert.Nil(t, err)
	f.exec, err = executor.New(net, executor.Policy{}, log, executor.WithSleep(func(ctx context.Context, _ time.Duration) error {
		f.sleeps++
		return ctx.Err()
	}))
	assert.Nil(t, err)
	return f
}

func (f *fixture) submitTransfer(t *testing.T, to ids.AccountID, amount int64) *transaction.Transaction {
	tx, err := transaction.New(body.NewTransfer(f.payer, to, amount)).
		SetTransactionID(ids.NewTransactionID(f.payer)).
		SetNodeAccountIDs(node3).
		Freeze(nil)
	assert.Nil(t, err)
	assert.Nil(t, tx.Sign(f.key))
	_, err = executor.Execute[transaction.Submitted](context.Background(), f.exec, tx.Submission(0))
	assert.Nil(t, err)
	return tx
}

func (f *fixture) pay(node ids.AccountID, amount uint64) ([]byte, error) {
	tx, err := transaction.New(body.NewTransfer(f.payer, node, int64(amount))).
		SetTransactionID(ids.NewTransactionID(f.payer)).
		SetNodeAccountIDs(node).
		Freeze(nil)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(f.key); err != nil {
		return nil, err
	}
	return tx.Submission(0).Encode(node)
}

func TestPollReceiptWaitsForFinalStatus(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetReceiptDelay(3)
	to := f.ledger.CreateAccount(f.key.PublicKey(), 0)
	tx := f.submitTransfer(t, to, 5)

	rc, err := query.PollReceipt(context.Background(), f.exec, tx.TransactionID(), node3)
	assert.Nil(t, err)
	assert.Equal(t, status.Success, rc.Status)
	assert.Equal(t, 3, f.sleeps)
}

func TestPollReceiptReportsFailedTransaction(t *testing.T) {
	f := newFixture(t)
	tx := f.submitTransfer(t, ids.Account(9999), 5)

	rc, err := query.PollReceipt(context.Background(), f.exec, tx.TransactionID(), node3)
	assert.ErrorIs(t, err, executor.ErrReceiptStatus)
	assert.Equal(t, status.InvalidAccountID, rc.Status)

	var rse *executor.ReceiptStatusError
	assert.True(t, errors.As(err, &rse))
	assert.True(t, rse.TransactionID.Equal(tx.TransactionID()))
	assert.Equal(t, node3, rse.NodeID)
}

func TestPollReceiptRetriesBusyNode(t *testing.T) {
	f := newFixture(t)
	to := f.ledger.CreateAccount(f.key.PublicKey(), 0)
	tx := f.submitTransfer(t, to, 5)
	f.ledger.Script(node3, status.Busy)

	rc, err := query.PollReceipt(context.Background(), f.exec, tx.TransactionID(), node3)
	assert.Nil(t, err)
	assert.Equal(t, status.Success, rc.Status)
}

func TestGetRecordPaysTheNode(t *testing.T) {
	f := newFixture(t)
	to := f.ledger.CreateAccount(f.key.PublicKey(), 0)
	tx := f.submitTransfer(t, to, 5)

	cost, err := query.RecordCost(context.Background(), f.exec, tx.TransactionID(), node3)
	assert.Nil(t, err)
	assert.Equal(t, ledgertest.RecordCost, cost)

	before, _ := f.ledger.Balance(f.payer)
	rec, err := query.GetRecord(context.Background(), f.exec, tx.TransactionID(), node3, f.pay)
	assert.Nil(t, err)
	assert.Equal(t, status.Success, rec.Receipt.Status)
	assert.True(t, rec.TransactionID.Equal(tx.TransactionID()))
	assert.Len(t, rec.TransactionHash, 48)
	assert.Equal(t, uint64(ledgertest.Fee), rec.TransactionFee)

	after, _ := f.ledger.Balance(f.payer)
	assert.Equal(t, before-int64(ledgertest.RecordCost), after)
}

func TestGetRecordWithoutPayment(t *testing.T) {
	f := newFixture(t)
	_, err := query.GetRecord(context.Background(), f.exec, ids.NewTransactionID(f.payer), node3, nil)
	assert.ErrorIs(t, err, query.ErrNoPayment)
}

func TestRecordQueryWithoutPaymentIsRejected(t *testing.T) {
	f := newFixture(t)
	tx := f.submitTransfer(t, f.payer, 1)

	_, err := executor.Execute[query.RecordAnswer](context.Background(), f.exec, query.NewRecord(tx.TransactionID(), func(ids.AccountID, uint64) ([]byte, error) {
		return nil, nil
	}, ledgertest.RecordCost, node3))
	assert.ErrorIs(t, err, executor.ErrFatal)

	var se *executor.StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, status.InsufficientQueryPayment, se.Status)
}

func TestAccountBalance(t *testing.T) {
	f := newFixture(t)
	b, err := query.AccountBalance(context.Background(), f.exec, f.payer)
	assert.Nil(t, err)
	assert.Equal(t, f.payer, b.AccountID)
	assert.Equal(t, uint64(10*body.Hbar), b.Tinybars)

	_, err = query.AccountBalance(context.Background(), f.exec, ids.Account(424242))
	assert.ErrorIs(t, err, executor.ErrFatal)
}
