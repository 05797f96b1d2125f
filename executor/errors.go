package executor

import (
	"errors"
	"fmt"

	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/status"
)

var (
	ErrFatal         = errors.New("request rejected")
	ErrTimeout       = errors.New("request attempts exhausted")
	ErrTransient     = errors.New("transient network failure")
	ErrPollTimeout   = errors.New("outcome not final before the poll budget ran out")
	ErrReceiptStatus = errors.New("transaction reached a failed final status")
)

// StatusError is returned when a node rejects the request with a non retryable status.
type StatusError struct {
	Method        string
	Status        status.Code
	TransactionID ids.TransactionID
	NodeID        ids.AccountID
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("node [ %s ] rejected [ %s ] for transaction [ %s ] with status [ %s ]",
		e.NodeID, e.Method, e.TransactionID, e.Status)
}

func (e *StatusError) Is(target error) bool { return target == ErrFatal }

// TimeoutError is returned when attempts or the request deadline are exhausted.
type TimeoutError struct {
	Method        string
	TransactionID ids.TransactionID
	NodeID        ids.AccountID
	LastStatus    status.Code
	LastErr       error
	Attempts      int
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("[ %s ] for transaction [ %s ] gave up after [ %d ] attempts, last node [ %s ], last status [ %s ]",
		e.Method, e.TransactionID, e.Attempts, e.NodeID, e.LastStatus)
	if e.LastErr != nil {
		msg += fmt.Sprintf(", last error: %s", e.LastErr)
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// ReceiptStatusError is returned when polling ends on a final failure status.
// It matches both ErrReceiptStatus and ErrFatal, the network rejected the transaction.
type ReceiptStatusError struct {
	Status        status.Code
	TransactionID ids.TransactionID
	NodeID        ids.AccountID
}

func (e *ReceiptStatusError) Error() string {
	return fmt.Sprintf("transaction [ %s ] finished with status [ %s ] reported by node [ %s ]",
		e.TransactionID, e.Status, e.NodeID)
}

func (e *ReceiptStatusError) Is(target error) bool {
	return target == ErrReceiptStatus || target == ErrFatal
}

// PollTimeoutError is returned when the outcome is still processing after the poll budget.
type PollTimeoutError struct {
	TransactionID ids.TransactionID
	NodeID        ids.AccountID
	LastStatus    status.Code
	Polls         int
	LastErr       error
}

func (e *PollTimeoutError) Error() string {
	msg := fmt.Sprintf("transaction [ %s ] still [ %s ] on node [ %s ] after [ %d ] polls",
		e.TransactionID, e.LastStatus, e.NodeID, e.Polls)
	if e.LastErr != nil {
		msg += fmt.Sprintf(", last error: %s", e.LastErr)
	}
	return msg
}

func (e *PollTimeoutError) Is(target error) bool { return target == ErrPollTimeout }

func (e *PollTimeoutError) Unwrap() error { return e.LastErr }
