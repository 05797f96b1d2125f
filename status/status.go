// Package status holds the closed set of status codes returned by ledger nodes and their
// classification for retry purposes.
package status

import "fmt"

// Code is a node or network status code.
type Code int32

const (
	Ok                              Code = 0
	InvalidTransaction              Code = 1
	PayerAccountNotFound            Code = 2
	InvalidNodeAccount              Code = 3
	TransactionExpired              Code = 4
	InvalidTransactionStart         Code = 5
	InvalidTransactionDuration      Code = 6
	InvalidSignature                Code = 7
	MemoTooLong                     Code = 8
	InsufficientTxFee               Code = 9
	InsufficientPayerBalance        Code = 10
	DuplicateTransaction            Code = 11
	Busy                            Code = 12
	NotSupported                    Code = 13
	InvalidFileID                   Code = 14
	InvalidAccountID                Code = 15
	InvalidTransactionID            Code = 17
	ReceiptNotFound                 Code = 18
	RecordNotFound                  Code = 19
	Unknown                         Code = 21
	Success                         Code = 22
	FailInvalid                     Code = 23
	FailFee                         Code = 24
	FailBalance                     Code = 25
	KeyRequired                     Code = 26
	BadEncoding                     Code = 27
	InsufficientAccountBalance      Code = 28
	InvalidTopicID                  Code = 150
	InvalidChunkNumber              Code = 160
	InvalidChunkTransactionID       Code = 161
	InsufficientQueryPayment        Code = 40
	PlatformTransactionNotCreated   Code = 47
	PlatformNotActive               Code = 48
	TransactionOversize             Code = 54
	InvalidScheduleID               Code = 201
	ScheduleIsImmutable             Code = 202
	ScheduleAlreadyDeleted          Code = 209
	ScheduleAlreadyExecuted         Code = 210
	NoNewValidSignatures            Code = 212
	InvalidScheduleAccountID        Code = 213
	IdenticalScheduleAlreadyCreated Code = 214
	ScheduleExpired                 Code = 297
)

var names = map[Code]string{
	Ok:                              "OK",
	InvalidTransaction:              "INVALID_TRANSACTION",
	PayerAccountNotFound:            "PAYER_ACCOUNT_NOT_FOUND",
	InvalidNodeAccount:              "INVALID_NODE_ACCOUNT",
	TransactionExpired:              "TRANSACTION_EXPIRED",
	InvalidTransactionStart:         "INVALID_TRANSACTION_START",
	InvalidTransactionDuration:      "INVALID_TRANSACTION_DURATION",
	InvalidSignature:                "INVALID_SIGNATURE",
	MemoTooLong:                     "MEMO_TOO_LONG",
	InsufficientTxFee:               "INSUFFICIENT_TX_FEE",
	InsufficientPayerBalance:        "INSUFFICIENT_PAYER_BALANCE",
	DuplicateTransaction:            "DUPLICATE_TRANSACTION",
	Busy:                            "BUSY",
	NotSupported:                    "NOT_SUPPORTED",
	InvalidFileID:                   "INVALID_FILE_ID",
	InvalidAccountID:                "INVALID_ACCOUNT_ID",
	InvalidTransactionID:            "INVALID_TRANSACTION_ID",
	ReceiptNotFound:                 "RECEIPT_NOT_FOUND",
	RecordNotFound:                  "RECORD_NOT_FOUND",
	Unknown:                         "UNKNOWN",
	Success:                         "SUCCESS",
	FailInvalid:                     "FAIL_INVALID",
	FailFee:                         "FAIL_FEE",
	FailBalance:                     "FAIL_BALANCE",
	KeyRequired:                     "KEY_REQUIRED",
	BadEncoding:                     "BAD_ENCODING",
	InsufficientAccountBalance:      "INSUFFICIENT_ACCOUNT_BALANCE",
	InvalidTopicID:                  "INVALID_TOPIC_ID",
	InvalidChunkNumber:              "INVALID_CHUNK_NUMBER",
	InvalidChunkTransactionID:       "INVALID_CHUNK_TRANSACTION_ID",
	InsufficientQueryPayment:        "INSUFFICIENT_QUERY_PAYMENT",
	PlatformTransactionNotCreated:   "PLATFORM_TRANSACTION_NOT_CREATED",
	PlatformNotActive:               "PLATFORM_NOT_ACTIVE",
	TransactionOversize:             "TRANSACTION_OVERSIZE",
	InvalidScheduleID:               "INVALID_SCHEDULE_ID",
	ScheduleIsImmutable:             "SCHEDULE_IS_IMMUTABLE",
	ScheduleAlreadyDeleted:          "SCHEDULE_ALREADY_DELETED",
	ScheduleAlreadyExecuted:         "SCHEDULE_ALREADY_EXECUTED",
	NoNewValidSignatures:            "NO_NEW_VALID_SIGNATURES",
	InvalidScheduleAccountID:        "INVALID_SCHEDULE_ACCOUNT_ID",
	IdenticalScheduleAlreadyCreated: "IDENTICAL_SCHEDULE_ALREADY_CREATED",
	ScheduleExpired:                 "SCHEDULE_EXPIRED",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("STATUS_%d", int32(c))
}

// Class is the executor's view of a precheck status.
type Class uint8

const (
	ClassSuccess Class = iota
	ClassRetryable
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Classify maps a precheck status returned by a node on submission or query.
// Busy and platform codes mean the node is transiently unable to accept work.
func (c Code) Classify() Class {
	switch c {
	case Ok, Success:
		return ClassSuccess
	case Busy, PlatformTransactionNotCreated, PlatformNotActive:
		return ClassRetryable
	default:
		return ClassFatal
	}
}

// IsStillProcessing reports whether a receipt with this status is not yet final.
func (c Code) IsStillProcessing() bool {
	switch c {
	case Unknown, Ok, Busy, ReceiptNotFound, RecordNotFound, PlatformNotActive:
		return true
	}
	return false
}

// IsTerminal reports whether a receipt with this status is final.
func (c Code) IsTerminal() bool {
	return !c.IsStillProcessing()
}
