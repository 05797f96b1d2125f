package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/cache"
	"github.com/bartossh/Ledgerlink/codec"
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

var testNodes = map[string]ids.AccountID{
	"node3:50211": ids.Account(3),
	"node4:50211": ids.Account(4),
}

type fixture struct {
	ledger   *ledgertest.Ledger
	client   *Client
	operator ids.AccountID
	key      keys.PrivateKey
}

func mustKey(t *testing.T, curve keys.Curve) keys.PrivateKey {
	k, err := keys.GeneratePrivateKey(curve)
	assert.Nil(t, err)
	return k
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	return newLedgerFixture(t, ledgertest.NewLedger(ids.Account(3), ids.Account(4)), opts...)
}

func newLedgerFixture(t *testing.T, l *ledgertest.Ledger, opts ...Option) *fixture {
	f := &fixture{ledger: l, key: mustKey(t, keys.Ed25519)}
	f.operator = f.ledger.CreateAccount(f.key.PublicKey(), 1000*body.Hbar)

	log := logging.New(func(error) {}, func(error) {}, io.Discard)
	opts = append([]Option{
		WithDialer(f.ledger.Dialer(testNodes)),
		WithExecutorOptions(executor.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })),
	}, opts...)
	c, err := New(Config{
		Network:           network.Config{Nodes: testNodes},
		OperatorAccountID: f.operator,
		OperatorKey:       f.key.String(),
	}, log, opts...)
	assert.Nil(t, err)
	t.Cleanup(func() { _ = c.Close() })
	f.client = c
	return f
}

func (f *fixture) execute(t *testing.T, data body.Data, signers ...keys.PrivateKey) TransactionResponse {
	tx, err := f.client.Freeze(transaction.New(data))
	assert.Nil(t, err)
	for _, s := range signers {
		assert.Nil(t, tx.Sign(s))
	}
	resp, err := f.client.Execute(context.Background(), tx)
	assert.Nil(t, err)
	return resp
}

func TestThresholdAccountTransfer(t *testing.T) {
	f := newFixture(t)
	a, b, c := mustKey(t, keys.Ed25519), mustKey(t, keys.ECDSASecp256k1), mustKey(t, keys.Ed25519)
	threshold, err := keys.NewThresholdKey(2, a.PublicKey(), b.PublicKey(), c.PublicKey())
	assert.Nil(t, err)

	resp := f.execute(t, &body.AccountCreate{Key: threshold, InitialBalance: 10 * body.Hbar})
	rc, err := f.client.GetReceipt(context.Background(), resp)
	assert.Nil(t, err)
	assert.Equal(t, status.Success, rc.Status)
	assert.NotNil(t, rc.AccountID)
	shared := *rc.AccountID

	resp = f.execute(t, body.NewTransfer(shared, f.operator, body.Hbar), a, c)
	rc, err = f.client.GetReceipt(context.Background(), resp)
	assert.Nil(t, err)
	assert.Equal(t, status.Success, rc.Status)

	balance, err := f.client.GetAccountBalance(context.Background(), shared)
	assert.Nil(t, err)
	assert.Equal(t, uint64(9*body.Hbar), balance.Tinybars)

	resp = f.execute(t, body.NewTransfer(shared, f.operator, body.Hbar), b)
	rc, err = f.client.GetReceipt(context.Background(), resp)
	assert.ErrorIs(t, err, executor.ErrReceiptStatus)
	assert.ErrorIs(t, err, executor.ErrFatal)
	assert.Equal(t, status.InvalidSignature, rc.Status)

	var rse *executor.ReceiptStatusError
	assert.True(t, errors.As(err, &rse))
	assert.Equal(t, status.InvalidSignature, rse.Status)
	assert.True(t, rse.TransactionID.Equal(resp.TransactionID))

	balance, err = f.client.GetAccountBalance(context.Background(), shared)
	assert.Nil(t, err)
	assert.Equal(t, uint64(9*body.Hbar), balance.Tinybars)
}

func TestOperatorSignsOnlyWhenPaying(t *testing.T) {
	f := newFixture(t)
	other := mustKey(t, keys.Ed25519)
	payer := f.ledger.CreateAccount(other.PublicKey(), 10*body.Hbar)

	tx, err := f.client.Freeze(transaction.New(body.NewTransfer(payer, f.operator, 1)).
		SetTransactionID(ids.NewTransactionID(payer)))
	assert.Nil(t, err)

	_, err = f.client.Execute(context.Background(), tx)
	assert.ErrorIs(t, err, executor.ErrFatal)
	var se *executor.StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, status.InvalidSignature, se.Status)
	assert.False(t, tx.IsExecuted())
	for _, sigs := range tx.Signatures(0) {
		assert.Empty(t, sigs)
	}

	assert.Nil(t, tx.Sign(other))
	_, err = f.client.Execute(context.Background(), tx)
	assert.Nil(t, err)
	assert.True(t, tx.IsExecuted())
	assert.ErrorIs(t, tx.Sign(other), transaction.ErrExecuted)
}

func TestBusyNodeIsRetried(t *testing.T) {
	f := newFixture(t)
	tx, err := f.client.Freeze(transaction.New(body.NewTransfer(f.operator, f.operator, 1)).
		SetNodeAccountIDs(ids.Account(3)))
	assert.Nil(t, err)
	f.ledger.Script(ids.Account(3), status.Busy, status.Busy)

	resp, err := f.client.Execute(context.Background(), tx)
	assert.Nil(t, err)
	assert.Equal(t, ids.Account(3), resp.NodeID)
	assert.Equal(t, 3, f.ledger.Calls(ids.Account(3)))
}

func TestChunkedTopicMessage(t *testing.T) {
	f := newFixture(t)
	topic := f.ledger.CreateTopic()
	message := bytes.Repeat([]byte("ledger chunk "), 3)

	tx, err := f.client.Freeze(transaction.New(&body.TopicMessageSubmit{TopicID: topic, Message: message}).SetChunkSize(16))
	assert.Nil(t, err)
	assert.Equal(t, 3, tx.ChunkCount())

	responses, err := f.client.ExecuteAll(context.Background(), tx)
	assert.Nil(t, err)
	assert.Len(t, responses, 3)
	for i, r := range responses {
		assert.True(t, r.TransactionID.Equal(tx.ChunkTransactionID(i)))
	}

	stored := f.ledger.TopicMessages(topic)
	assert.Len(t, stored, 3)
	assert.Equal(t, message, bytes.Join(stored, nil))
}

func TestChunkFailureReportsIndex(t *testing.T) {
	f := newFixture(t)
	tx, err := f.client.Freeze(transaction.New(&body.TopicMessageSubmit{TopicID: ids.TopicID{Num: 777}, Message: make([]byte, 40)}).SetChunkSize(16))
	assert.Nil(t, err)

	_, err = f.client.ExecuteAll(context.Background(), tx)
	var ce *ChunkError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, 0, ce.Index)
	assert.Equal(t, 3, ce.Total)
	assert.Len(t, ce.Responses, 1)
	assert.ErrorIs(t, err, executor.ErrReceiptStatus)
	assert.False(t, tx.IsExecuted())
}

// rejectingChannel answers submission number reject, counted across all nodes, with code.
type rejectingChannel struct {
	network.Channel
	submissions *submissionCounter
}

type submissionCounter struct {
	mux    sync.Mutex
	count  int
	reject int
	code   status.Code
}

func (c rejectingChannel) Invoke(ctx context.Context, method string, req []byte) ([]byte, error) {
	switch method {
	case query.MethodReceipt, query.MethodRecord, query.MethodBalance:
		return c.Channel.Invoke(ctx, method, req)
	}
	c.submissions.mux.Lock()
	c.submissions.count++
	rejected := c.submissions.count == c.submissions.reject
	c.submissions.mux.Unlock()
	if rejected {
		return codec.EncodeTransactionResponse(c.submissions.code, 0), nil
	}
	return c.Channel.Invoke(ctx, method, req)
}

func rejectSubmission(next network.Dialer, counter *submissionCounter) network.Dialer {
	return func(address string) (network.Channel, error) {
		ch, err := next(address)
		if err != nil {
			return nil, err
		}
		return rejectingChannel{Channel: ch, submissions: counter}, nil
	}
}

func TestLaterChunkFailureStopsSubmission(t *testing.T) {
	l := ledgertest.NewLedger(ids.Account(3), ids.Account(4))
	counter := &submissionCounter{reject: 2, code: status.InsufficientTxFee}
	f := newLedgerFixture(t, l, WithDialer(rejectSubmission(l.Dialer(testNodes), counter)))
	topic := f.ledger.CreateTopic()

	tx, err := f.client.Freeze(transaction.New(&body.TopicMessageSubmit{TopicID: topic, Message: make([]byte, 40)}).SetChunkSize(16))
	assert.Nil(t, err)
	assert.Equal(t, 3, tx.ChunkCount())

	_, err = f.client.ExecuteAll(context.Background(), tx)
	var ce *ChunkError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, 1, ce.Index)
	assert.Equal(t, 3, ce.Total)
	assert.Len(t, ce.Responses, 1)
	assert.True(t, ce.Responses[0].TransactionID.Equal(tx.ChunkTransactionID(0)))
	assert.ErrorIs(t, err, executor.ErrFatal)

	var se *executor.StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, status.InsufficientTxFee, se.Status)

	assert.Len(t, f.ledger.TopicMessages(topic), 1)
	counter.mux.Lock()
	assert.Equal(t, 2, counter.count)
	counter.mux.Unlock()
	assert.False(t, tx.IsExecuted())
}

func TestExecutedTransactionIsRefused(t *testing.T) {
	f := newFixture(t)
	other := mustKey(t, keys.Ed25519)
	payer := f.ledger.CreateAccount(other.PublicKey(), 10*body.Hbar)

	own, err := f.client.Freeze(transaction.New(body.NewTransfer(f.operator, payer, 1)))
	assert.Nil(t, err)
	_, err = f.client.Execute(context.Background(), own)
	assert.Nil(t, err)
	_, err = f.client.Execute(context.Background(), own)
	assert.ErrorIs(t, err, transaction.ErrExecuted)

	foreign, err := f.client.Freeze(transaction.New(body.NewTransfer(payer, f.operator, 1)).
		SetTransactionID(ids.NewTransactionID(payer)))
	assert.Nil(t, err)
	assert.Nil(t, foreign.Sign(other))
	_, err = f.client.Execute(context.Background(), foreign)
	assert.Nil(t, err)

	calls := f.ledger.Calls(ids.Account(3)) + f.ledger.Calls(ids.Account(4))
	_, err = f.client.ExecuteAll(context.Background(), foreign)
	assert.ErrorIs(t, err, transaction.ErrExecuted)
	assert.Equal(t, calls, f.ledger.Calls(ids.Account(3))+f.ledger.Calls(ids.Account(4)))
}

func TestGetRecordPaidByOperator(t *testing.T) {
	f := newFixture(t)
	resp := f.execute(t, body.NewTransfer(f.operator, f.operator, 1))

	cost, err := f.client.GetRecordCost(context.Background(), resp)
	assert.Nil(t, err)
	assert.Equal(t, ledgertest.RecordCost, cost)

	rec, err := f.client.GetRecord(context.Background(), resp)
	assert.Nil(t, err)
	assert.Equal(t, status.Success, rec.Receipt.Status)
	assert.Equal(t, resp.Hash, rec.TransactionHash)
}

func TestRecordCostAboveLimitIsRefused(t *testing.T) {
	f := newFixture(t)
	f.client.maxQueryPayment = ledgertest.RecordCost - 1
	resp := f.execute(t, body.NewTransfer(f.operator, f.operator, 1))

	_, err := f.client.GetRecord(context.Background(), resp)
	assert.ErrorIs(t, err, ErrQueryCostTooHigh)
}

func TestReceiptIsCached(t *testing.T) {
	receipts, err := cache.New(cache.Config{}, logging.New(func(error) {}, func(error) {}, io.Discard))
	assert.Nil(t, err)
	f := newFixture(t, WithReceiptCache(receipts))
	resp := f.execute(t, body.NewTransfer(f.operator, f.operator, 1))

	_, err = f.client.GetReceipt(context.Background(), resp)
	assert.Nil(t, err)
	calls := f.ledger.Calls(resp.NodeID)

	rc, err := f.client.GetReceipt(context.Background(), resp)
	assert.Nil(t, err)
	assert.Equal(t, status.Success, rc.Status)
	assert.Equal(t, calls, f.ledger.Calls(resp.NodeID))
}

func TestNewRejectsKeyWithoutAccount(t *testing.T) {
	_, err := New(Config{
		Network:     network.Config{Nodes: testNodes},
		OperatorKey: mustKey(t, keys.Ed25519).String(),
	}, logging.New(func(error) {}, func(error) {}, io.Discard))
	assert.NotNil(t, err)
}

func TestMirrorIsOptional(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Mirror()
	assert.ErrorIs(t, err, ErrNoMirror)
}
