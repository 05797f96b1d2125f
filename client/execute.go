package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/executor"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/query"
	"github.com/bartossh/Ledgerlink/receipt"
	"github.com/bartossh/Ledgerlink/status"
	"github.com/bartossh/Ledgerlink/transaction"
)

// TransactionResponse identifies a submitted transaction and the node that accepted it.
type TransactionResponse struct {
	TransactionID ids.TransactionID
	NodeID        ids.AccountID
	Hash          []byte
}

// ChunkError reports the chunk that failed. Chunks accepted before it are not rolled back.
// Responses holds every chunk the node accepted, the failed chunk included when it was
// accepted and its receipt failed.
type ChunkError struct {
	Index     int
	Total     int
	Responses []TransactionResponse
	Err       error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d of %d failed: %s", e.Index+1, e.Total, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Execute submits the transaction and returns the response of its first chunk. When the
// operator pays for the transaction it is signed with the operator key first.
// Transactions of several chunks are submitted with ExecuteAll.
func (c *Client) Execute(ctx context.Context, tx *transaction.Transaction) (TransactionResponse, error) {
	responses, err := c.ExecuteAll(ctx, tx)
	if err != nil {
		return TransactionResponse{}, err
	}
	return responses[0], nil
}

// ExecuteAll submits every chunk in order. Unless disabled on the builder, the receipt of each
// chunk is awaited before the next chunk is sent. A failure returns a *ChunkError.
// An executed transaction is refused with transaction.ErrExecuted.
func (c *Client) ExecuteAll(ctx context.Context, tx *transaction.Transaction) ([]TransactionResponse, error) {
	if tx.IsExecuted() {
		return nil, transaction.ErrExecuted
	}
	if err := c.signAsOperator(tx); err != nil {
		return nil, err
	}

	total := tx.ChunkCount()
	responses := make([]TransactionResponse, 0, total)
	for i := 0; i < total; i++ {
		res, err := executor.Execute[transaction.Submitted](ctx, c.exec, tx.Submission(i))
		if err != nil {
			if total == 1 {
				return nil, err
			}
			return nil, &ChunkError{Index: i, Total: total, Responses: responses, Err: err}
		}
		resp := TransactionResponse{TransactionID: res.Value.TransactionID, NodeID: res.NodeID, Hash: res.Value.Hash}
		responses = append(responses, resp)

		if total > 1 && tx.WaitForChunkReceipts() {
			if _, err := c.GetReceipt(ctx, resp); err != nil {
				return nil, &ChunkError{Index: i, Total: total, Responses: responses, Err: err}
			}
		}
	}
	tx.MarkExecuted()
	c.log.Debug(fmt.Sprintf("transaction [ %s ] submitted in [ %d ] chunks", tx.TransactionID(), total))
	return responses, nil
}

func (c *Client) signAsOperator(tx *transaction.Transaction) error {
	if c.operatorKey == nil || tx.Payer() != c.operator {
		return nil
	}
	return tx.Sign(*c.operatorKey)
}

// GetReceipt waits for the final receipt of the submitted transaction. A receipt with a failure
// status is returned together with a *executor.ReceiptStatusError. Cancelling ctx stops waiting,
// it does not undo the submission.
func (c *Client) GetReceipt(ctx context.Context, resp TransactionResponse) (receipt.Receipt, error) {
	if c.receipts != nil {
		if rc, err := c.receipts.Get(resp.TransactionID); err == nil {
			return rc, receiptErr(rc, resp)
		}
	}
	rc, err := query.PollReceipt(ctx, c.exec, resp.TransactionID, resp.NodeID)
	if err != nil && !errors.Is(err, executor.ErrReceiptStatus) {
		return rc, err
	}
	if c.receipts != nil {
		if err := c.receipts.Save(resp.TransactionID, rc); err != nil {
			c.log.Warn(fmt.Sprintf("receipt of [ %s ] not cached, %s", resp.TransactionID, err))
		}
	}
	return rc, err
}

func receiptErr(rc receipt.Receipt, resp TransactionResponse) error {
	if rc.Status.Classify() == status.ClassSuccess {
		return nil
	}
	return &executor.ReceiptStatusError{Status: rc.Status, TransactionID: resp.TransactionID, NodeID: resp.NodeID}
}

// GetRecord waits for the receipt and buys the transaction record from the node that accepted
// the transaction, paid by the operator.
func (c *Client) GetRecord(ctx context.Context, resp TransactionResponse) (receipt.Record, error) {
	if c.operatorKey == nil {
		return receipt.Record{}, ErrNoOperator
	}
	return query.GetRecord(ctx, c.exec, resp.TransactionID, resp.NodeID, c.payment)
}

// GetRecordCost returns the price of the record of the transaction in tinybars.
func (c *Client) GetRecordCost(ctx context.Context, resp TransactionResponse) (uint64, error) {
	return query.RecordCost(ctx, c.exec, resp.TransactionID, resp.NodeID)
}

// GetAccountBalance returns the balance of the account.
func (c *Client) GetAccountBalance(ctx context.Context, account ids.AccountID) (receipt.Balance, error) {
	return query.AccountBalance(ctx, c.exec, account)
}

// payment builds a transfer from the operator to the node, signed by the operator.
func (c *Client) payment(node ids.AccountID, amount uint64) ([]byte, error) {
	if c.operatorKey == nil {
		return nil, ErrNoOperator
	}
	if amount > c.maxQueryPayment {
		return nil, errors.Join(ErrQueryCostTooHigh, fmt.Errorf("cost [ %d ], max [ %d ]", amount, c.maxQueryPayment))
	}
	tx, err := transaction.New(body.NewTransfer(c.operator, node, int64(amount))).
		SetNodeAccountIDs(node).
		Freeze(c)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(*c.operatorKey); err != nil {
		return nil, err
	}
	return tx.Submission(0).Encode(node)
}
