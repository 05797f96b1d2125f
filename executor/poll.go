package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/status"
)

// Outcome extracts the final status carried by a polled value, for example the receipt status.
type Outcome[T any] func(v T) status.Code

// Poll executes req repeatedly, waiting the policy poll interval between polls, until the
// outcome of the value is final or the poll budget runs out. A final failure returns the
// value with a *ReceiptStatusError. Abandoning the poll never undoes a submission.
func Poll[T any](ctx context.Context, e *Executor, req Request[T], outcome Outcome[T]) (Result[T], error) {
	ctx, cancel := context.WithTimeout(ctx, e.policy.PollTimeout)
	defer cancel()

	var (
		polls   int
		last    status.Code
		lastErr error
		node    = firstNode(req)
	)
	for {
		polls++
		res, err := Execute(ctx, e, req)
		switch {
		case err == nil:
			node = res.NodeID
			last = outcome(res.Value)
			e.notify(Event{Kind: EventPoll, Method: req.Method(), Node: node, Status: last, Attempt: polls})
			if last.IsTerminal() {
				if last.Classify() == status.ClassSuccess {
					return res, nil
				}
				e.log.Warn(fmt.Sprintf("transaction [ %s ] finished with [ %s ]", req.TransactionID(), last))
				return res, &ReceiptStatusError{Status: last, TransactionID: req.TransactionID(), NodeID: node}
			}
		case errors.Is(err, ErrTimeout):
			lastErr = err
		default:
			return res, err
		}

		if ctx.Err() != nil {
			return Result[T]{}, &PollTimeoutError{TransactionID: req.TransactionID(), NodeID: node, LastStatus: last, Polls: polls, LastErr: lastErr}
		}
		e.log.Debug(fmt.Sprintf("transaction [ %s ] still [ %s ] after poll [ %d ]", req.TransactionID(), last, polls))
		if err := e.sleep(ctx, e.policy.PollInterval); err != nil {
			return Result[T]{}, &PollTimeoutError{TransactionID: req.TransactionID(), NodeID: node, LastStatus: last, Polls: polls, LastErr: errors.Join(lastErr, err)}
		}
	}
}

func firstNode[T any](req Request[T]) (id ids.AccountID) {
	if nodes := req.Nodes(); len(nodes) > 0 {
		id = nodes[0]
	}
	return
}
