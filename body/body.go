// Package body holds the closed set of transaction body variants that share one execution
// pipeline. Each variant knows its node route, its default fee and how to validate itself,
// chunkable variants additionally expose the payload that is split across chunks.
package body

import (
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
)

// Tinybars per hbar, fees are expressed in tinybars.
const Hbar int64 = 100_000_000

var (
	ErrNoTransfers          = errors.New("transfer list is empty")
	ErrUnbalancedTransfers  = errors.New("transfers do not sum to zero")
	ErrMissingKey           = errors.New("key is required")
	ErrNegativeBalance      = errors.New("initial balance cannot be negative")
	ErrEmptyPayload         = errors.New("payload is empty")
	ErrMissingEntity        = errors.New("target entity id is required")
	ErrMissingScheduledBody = errors.New("scheduled transaction body is required")
	ErrNestedSchedule       = errors.New("schedule create cannot be scheduled")
)

// Kind tags a body variant.
type Kind uint8

const (
	KindCryptoTransfer Kind = iota + 1
	KindAccountCreate
	KindTopicMessageSubmit
	KindFileAppend
	KindScheduleCreate
	KindScheduleSign
	KindScheduleDelete
)

var kindNames = map[Kind]string{
	KindCryptoTransfer:     "CryptoTransfer",
	KindAccountCreate:      "AccountCreate",
	KindTopicMessageSubmit: "TopicMessageSubmit",
	KindFileAppend:         "FileAppend",
	KindScheduleCreate:     "ScheduleCreate",
	KindScheduleSign:       "ScheduleSign",
	KindScheduleDelete:     "ScheduleDelete",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Header carries the fields common to every transaction body.
type Header struct {
	TransactionID  ids.TransactionID
	NodeAccountID  ids.AccountID
	TransactionFee uint64
	ValidDuration  time.Duration
	Memo           string
}

// Data is implemented only by the variants of this package.
type Data interface {
	Kind() Kind
	// Method is the node RPC route the body is submitted to.
	Method() string
	DefaultMaxFee() int64
	Validate() error
	isData()
}

// Chunkable is a body whose variable length payload may be split across chunks.
type Chunkable interface {
	Data
	Payload() []byte
	Chunk() *ChunkInfo
	// WithChunk returns a copy carrying the payload slice and chunk linkage.
	WithChunk(payload []byte, info *ChunkInfo) Chunkable
}

// Schedulable is a body that can be wrapped by ScheduleCreate.
type Schedulable interface {
	Data
	isSchedulable()
}

// ChunkInfo links chunk Number of Total to the initial transaction of the group.
type ChunkInfo struct {
	InitialTransactionID ids.TransactionID
	Total                int32
	Number               int32
}

// AccountAmount is one leg of a transfer.
type AccountAmount struct {
	AccountID ids.AccountID
	Amount    int64
}

// CryptoTransfer moves tinybars between accounts.
type CryptoTransfer struct {
	Transfers []AccountAmount
}

// NewTransfer creates a transfer of amount from one account to another.
func NewTransfer(from, to ids.AccountID, amount int64) *CryptoTransfer {
	return &CryptoTransfer{Transfers: []AccountAmount{
		{AccountID: from, Amount: -amount},
		{AccountID: to, Amount: amount},
	}}
}

func (*CryptoTransfer) Kind() Kind           { return KindCryptoTransfer }
func (*CryptoTransfer) Method() string       { return "/proto.CryptoService/cryptoTransfer" }
func (*CryptoTransfer) DefaultMaxFee() int64 { return Hbar }
func (*CryptoTransfer) isData()              {}
func (*CryptoTransfer) isSchedulable()       {}

func (b *CryptoTransfer) Validate() error {
	if len(b.Transfers) == 0 {
		return ErrNoTransfers
	}
	var sum int64
	for _, t := range b.Transfers {
		sum += t.Amount
	}
	if sum != 0 {
		return errors.Join(ErrUnbalancedTransfers, fmt.Errorf("sum is %d", sum))
	}
	return nil
}

// AccountCreate creates an account guarded by Key.
type AccountCreate struct {
	Key             keys.Key
	InitialBalance  int64
	AutoRenewPeriod time.Duration
	AccountMemo     string
}

func (*AccountCreate) Kind() Kind           { return KindAccountCreate }
func (*AccountCreate) Method() string       { return "/proto.CryptoService/createAccount" }
func (*AccountCreate) DefaultMaxFee() int64 { return 5 * Hbar }
func (*AccountCreate) isData()              {}
func (*AccountCreate) isSchedulable()       {}

func (b *AccountCreate) Validate() error {
	if b.Key == nil {
		return ErrMissingKey
	}
	if kl, ok := b.Key.(*keys.KeyList); ok {
		if err := kl.Validate(); err != nil {
			return err
		}
	}
	if b.InitialBalance < 0 {
		return ErrNegativeBalance
	}
	return nil
}

// TopicMessageSubmit submits a message to a consensus topic.
type TopicMessageSubmit struct {
	TopicID   ids.TopicID
	Message   []byte
	ChunkInfo *ChunkInfo
}

func (*TopicMessageSubmit) Kind() Kind           { return KindTopicMessageSubmit }
func (*TopicMessageSubmit) Method() string       { return "/proto.ConsensusService/submitMessage" }
func (*TopicMessageSubmit) DefaultMaxFee() int64 { return 2 * Hbar }
func (*TopicMessageSubmit) isData()              {}
func (*TopicMessageSubmit) isSchedulable()       {}
func (b *TopicMessageSubmit) Payload() []byte    { return b.Message }
func (b *TopicMessageSubmit) Chunk() *ChunkInfo  { return b.ChunkInfo }

func (b *TopicMessageSubmit) WithChunk(payload []byte, info *ChunkInfo) Chunkable {
	c := *b
	c.Message = payload
	c.ChunkInfo = info
	return &c
}

func (b *TopicMessageSubmit) Validate() error {
	if b.TopicID == (ids.TopicID{}) {
		return ErrMissingEntity
	}
	if len(b.Message) == 0 {
		return ErrEmptyPayload
	}
	return nil
}

// FileAppend appends contents to a file.
type FileAppend struct {
	FileID    ids.FileID
	Contents  []byte
	ChunkInfo *ChunkInfo
}

func (*FileAppend) Kind() Kind           { return KindFileAppend }
func (*FileAppend) Method() string       { return "/proto.FileService/appendContent" }
func (*FileAppend) DefaultMaxFee() int64 { return 5 * Hbar }
func (*FileAppend) isData()              {}
func (*FileAppend) isSchedulable()       {}
func (b *FileAppend) Payload() []byte    { return b.Contents }
func (b *FileAppend) Chunk() *ChunkInfo  { return b.ChunkInfo }

func (b *FileAppend) WithChunk(payload []byte, info *ChunkInfo) Chunkable {
	c := *b
	c.Contents = payload
	c.ChunkInfo = info
	return &c
}

func (b *FileAppend) Validate() error {
	if b.FileID == (ids.FileID{}) {
		return ErrMissingEntity
	}
	if len(b.Contents) == 0 {
		return ErrEmptyPayload
	}
	return nil
}

// SchedulableBody is the inner transaction of a schedule, without id and node binding.
type SchedulableBody struct {
	TransactionFee uint64
	Memo           string
	Data           Schedulable
}

// ScheduleCreate wraps a schedulable body for deferred execution once its signature
// requirement is met or it expires.
type ScheduleCreate struct {
	Scheduled      SchedulableBody
	ScheduleMemo   string
	AdminKey       keys.Key
	PayerAccountID *ids.AccountID
	ExpirationTime time.Time
	WaitForExpiry  bool
}

func (*ScheduleCreate) Kind() Kind           { return KindScheduleCreate }
func (*ScheduleCreate) Method() string       { return "/proto.ScheduleService/createSchedule" }
func (*ScheduleCreate) DefaultMaxFee() int64 { return 5 * Hbar }
func (*ScheduleCreate) isData()              {}

func (b *ScheduleCreate) Validate() error {
	if b.Scheduled.Data == nil {
		return ErrMissingScheduledBody
	}
	if b.Scheduled.Data.Kind() == KindScheduleCreate {
		return ErrNestedSchedule
	}
	return b.Scheduled.Data.Validate()
}

// ScheduleSign adds the transaction signatures to an existing schedule.
type ScheduleSign struct {
	ScheduleID ids.ScheduleID
}

func (*ScheduleSign) Kind() Kind           { return KindScheduleSign }
func (*ScheduleSign) Method() string       { return "/proto.ScheduleService/signSchedule" }
func (*ScheduleSign) DefaultMaxFee() int64 { return 5 * Hbar }
func (*ScheduleSign) isData()              {}

func (b *ScheduleSign) Validate() error {
	if b.ScheduleID.IsZero() {
		return ErrMissingEntity
	}
	return nil
}

// ScheduleDelete marks a schedule deleted, requires the admin key.
type ScheduleDelete struct {
	ScheduleID ids.ScheduleID
}

func (*ScheduleDelete) Kind() Kind           { return KindScheduleDelete }
func (*ScheduleDelete) Method() string       { return "/proto.ScheduleService/deleteSchedule" }
func (*ScheduleDelete) DefaultMaxFee() int64 { return 5 * Hbar }
func (*ScheduleDelete) isData()              {}
func (*ScheduleDelete) isSchedulable()       {}

func (b *ScheduleDelete) Validate() error {
	if b.ScheduleID.IsZero() {
		return ErrMissingEntity
	}
	return nil
}
