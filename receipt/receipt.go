package receipt

import (
	"time"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/status"
)

// Receipt is the minimal finalized outcome of a transaction.
type Receipt struct {
	Status                 status.Code
	AccountID              *ids.AccountID
	FileID                 *ids.FileID
	TopicID                *ids.TopicID
	TopicSequenceNumber    uint64
	ScheduleID             *ids.ScheduleID
	ScheduledTransactionID *ids.TransactionID
}

// Record is the detailed finalized outcome of a transaction.
type Record struct {
	Receipt            Receipt
	TransactionHash    []byte
	ConsensusTimestamp time.Time
	TransactionID      ids.TransactionID
	Memo               string
	TransactionFee     uint64
	Transfers          []body.AccountAmount
	ScheduleRef        *ids.ScheduleID
}

// Balance is the account balance answer.
type Balance struct {
	AccountID ids.AccountID
	Tinybars  uint64
}
