// Package query holds the read requests sent to consensus nodes: transaction receipts,
// transaction records and account balances.
//
// Every request implements executor.Request so it shares retry, backoff and node
// selection with transaction submission.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/bartossh/Ledgerlink/codec"
	"github.com/bartossh/Ledgerlink/executor"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/receipt"
	"github.com/bartossh/Ledgerlink/status"
)

const (
	MethodReceipt = "/proto.CryptoService/getTransactionReceipts"
	MethodRecord  = "/proto.CryptoService/getTxRecordByTxID"
	MethodBalance = "/proto.CryptoService/cryptoGetBalance"
)

var (
	ErrUnexpectedAnswer = errors.New("node answered a different query")
	ErrNoPayment        = errors.New("paid query needs a payment source")
)

// PaymentFunc returns an encoded transaction paying amount tinybars to the node.
// Payments are built per node since each node only accepts payments addressed to it.
type PaymentFunc func(node ids.AccountID, amount uint64) ([]byte, error)

func decode(raw []byte, kind codec.QueryKind) (codec.Response, error) {
	r, err := codec.DecodeResponse(raw)
	if err != nil {
		return r, err
	}
	if r.Kind != kind {
		return r, errors.Join(ErrUnexpectedAnswer, fmt.Errorf("expected [ %s ], got [ %s ]", kind, r.Kind))
	}
	return r, nil
}

// Receipt asks the node that accepted a transaction for its receipt. Receipt queries are free.
type Receipt struct {
	txID ids.TransactionID
	node ids.AccountID
}

// NewReceipt creates a receipt query bound to the submitting node.
func NewReceipt(txID ids.TransactionID, node ids.AccountID) *Receipt {
	return &Receipt{txID: txID, node: node}
}

func (q *Receipt) Nodes() []ids.AccountID { return []ids.AccountID{q.node} }

func (q *Receipt) TransactionID() ids.TransactionID { return q.txID }

func (q *Receipt) Method() string { return MethodReceipt }

func (q *Receipt) Encode(ids.AccountID) ([]byte, error) {
	return codec.EncodeQuery(codec.Query{Kind: codec.QueryReceipt, TransactionID: q.txID})
}

// Decode returns the receipt. A node that does not know the transaction yet answers with a
// RECEIPT_NOT_FOUND precheck and no receipt; the receipt then carries that status.
func (q *Receipt) Decode(_ ids.AccountID, raw []byte) (receipt.Receipt, status.Code, error) {
	r, err := decode(raw, codec.QueryReceipt)
	if err != nil {
		return receipt.Receipt{}, 0, err
	}
	if r.Receipt == nil {
		return receipt.Receipt{Status: r.Status}, r.Status, nil
	}
	return *r.Receipt, r.Status, nil
}

// Classify treats a missing receipt as an answer, the poller decides whether it is final.
func (q *Receipt) Classify(code status.Code) status.Class {
	switch code {
	case status.Ok, status.Success, status.ReceiptNotFound, status.Unknown:
		return status.ClassSuccess
	case status.Busy, status.PlatformNotActive, status.PlatformTransactionNotCreated:
		return status.ClassRetryable
	default:
		return status.ClassFatal
	}
}

// PollReceipt waits for the final receipt of a transaction accepted by node.
// A final failure status is returned with the receipt and a *executor.ReceiptStatusError.
// Cancelling ctx stops waiting, it does not undo the submission.
func PollReceipt(ctx context.Context, e *executor.Executor, txID ids.TransactionID, node ids.AccountID) (receipt.Receipt, error) {
	res, err := executor.Poll[receipt.Receipt](ctx, e, NewReceipt(txID, node), func(r receipt.Receipt) status.Code {
		return r.Status
	})
	return res.Value, err
}

// Record asks for the record of a transaction. Record queries are paid, the payment is
// built for whichever node the executor picks.
type Record struct {
	txID     ids.TransactionID
	nodes    []ids.AccountID
	pay      PaymentFunc
	cost     uint64
	costOnly bool
}

// NewRecord creates a record query paying cost tinybars, nodes may be empty.
func NewRecord(txID ids.TransactionID, pay PaymentFunc, cost uint64, nodes ...ids.AccountID) *Record {
	return &Record{txID: txID, nodes: nodes, pay: pay, cost: cost}
}

// NewRecordCost creates a query asking only for the price of the record.
func NewRecordCost(txID ids.TransactionID, nodes ...ids.AccountID) *Record {
	return &Record{txID: txID, nodes: nodes, costOnly: true}
}

func (q *Record) Nodes() []ids.AccountID { return q.nodes }

func (q *Record) TransactionID() ids.TransactionID { return q.txID }

func (q *Record) Method() string { return MethodRecord }

func (q *Record) Encode(node ids.AccountID) ([]byte, error) {
	if q.costOnly {
		return codec.EncodeQuery(codec.Query{Kind: codec.QueryRecord, ResponseType: codec.CostAnswer, TransactionID: q.txID})
	}
	if q.pay == nil {
		return nil, ErrNoPayment
	}
	payment, err := q.pay(node, q.cost)
	if err != nil {
		return nil, err
	}
	return codec.EncodeQuery(codec.Query{Kind: codec.QueryRecord, Payment: payment, TransactionID: q.txID})
}

// Decode returns the record, for cost queries only the Cost answer is set.
func (q *Record) Decode(_ ids.AccountID, raw []byte) (RecordAnswer, status.Code, error) {
	r, err := decode(raw, codec.QueryRecord)
	if err != nil {
		return RecordAnswer{}, 0, err
	}
	a := RecordAnswer{Cost: r.Cost}
	if r.Record != nil {
		a.Record = *r.Record
	}
	return a, r.Status, nil
}

// Classify retries a record the node has not stored yet.
func (q *Record) Classify(code status.Code) status.Class {
	switch code {
	case status.RecordNotFound, status.ReceiptNotFound, status.Unknown:
		return status.ClassRetryable
	default:
		return code.Classify()
	}
}

// RecordAnswer is the answer of a record query.
type RecordAnswer struct {
	Record receipt.Record
	Cost   uint64
}

// RecordCost returns the price of the record query in tinybars.
func RecordCost(ctx context.Context, e *executor.Executor, txID ids.TransactionID, nodes ...ids.AccountID) (uint64, error) {
	res, err := executor.Execute[RecordAnswer](ctx, e, NewRecordCost(txID, nodes...))
	if err != nil {
		return 0, err
	}
	return res.Value.Cost, nil
}

// GetRecord waits for the receipt on the submitting node, asks for the record price and
// then buys the record from the same node. A record of a transaction that finished with a
// failure status is returned together with the *executor.ReceiptStatusError.
func GetRecord(ctx context.Context, e *executor.Executor, txID ids.TransactionID, node ids.AccountID, pay PaymentFunc) (receipt.Record, error) {
	if pay == nil {
		return receipt.Record{}, ErrNoPayment
	}
	_, pollErr := PollReceipt(ctx, e, txID, node)
	if pollErr != nil && !errors.Is(pollErr, executor.ErrReceiptStatus) {
		return receipt.Record{}, pollErr
	}
	cost, err := RecordCost(ctx, e, txID, node)
	if err != nil {
		return receipt.Record{}, errors.Join(err, pollErr)
	}
	res, err := executor.Execute[RecordAnswer](ctx, e, NewRecord(txID, pay, cost, node))
	if err != nil {
		return receipt.Record{}, errors.Join(err, pollErr)
	}
	return res.Value.Record, pollErr
}

// Balance asks for the balance of an account. Balance queries are free.
type Balance struct {
	account ids.AccountID
	nodes   []ids.AccountID
}

// NewBalance creates a balance query, nodes may be empty.
func NewBalance(account ids.AccountID, nodes ...ids.AccountID) *Balance {
	return &Balance{account: account, nodes: nodes}
}

func (q *Balance) Nodes() []ids.AccountID { return q.nodes }

func (q *Balance) TransactionID() ids.TransactionID { return ids.TransactionID{} }

func (q *Balance) Method() string { return MethodBalance }

func (q *Balance) Encode(ids.AccountID) ([]byte, error) {
	return codec.EncodeQuery(codec.Query{Kind: codec.QueryBalance, AccountID: q.account})
}

func (q *Balance) Decode(_ ids.AccountID, raw []byte) (receipt.Balance, status.Code, error) {
	r, err := decode(raw, codec.QueryBalance)
	if err != nil {
		return receipt.Balance{}, 0, err
	}
	if r.Balance == nil {
		return receipt.Balance{AccountID: q.account}, r.Status, nil
	}
	return *r.Balance, r.Status, nil
}

// AccountBalance returns the balance of the account.
func AccountBalance(ctx context.Context, e *executor.Executor, account ids.AccountID) (receipt.Balance, error) {
	res, err := executor.Execute[receipt.Balance](ctx, e, NewBalance(account))
	return res.Value, err
}
