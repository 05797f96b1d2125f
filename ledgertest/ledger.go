// Package ledgertest simulates consensus nodes in memory for tests.
//
// A Ledger holds accounts, topics, files and schedules. Every node of the simulated network
// answers the same RPC routes as a real node: it prechecks a submission, applies the body and
// makes the receipt and record available to queries after a configurable number of polls.
package ledgertest

import (
	"bytes"
	"crypto/sha512"
	"fmt"
	"sync"
	"time"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/codec"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/query"
	"github.com/bartossh/Ledgerlink/receipt"
	"github.com/bartossh/Ledgerlink/status"
)

const (
	// Fee is charged to the payer of every accepted transaction.
	Fee int64 = 100_000
	// RecordCost is the price of a record query.
	RecordCost uint64 = 10_000
	firstEntity       = 1001
)

type account struct {
	key     keys.Key
	balance int64
}

type entry struct {
	pending int
	record  receipt.Record
}

type schedule struct {
	id            ids.ScheduleID
	scheduledID   ids.TransactionID
	payer         ids.AccountID
	admin         keys.Key
	inner         body.SchedulableBody
	innerBytes    []byte
	memo          string
	expiration    time.Time
	waitForExpiry bool
	signers       []keys.PublicKey
	executed      bool
	deleted       bool
}

// Ledger is the shared state of a simulated network. It is safe for concurrent use.
type Ledger struct {
	mux          sync.Mutex
	now          func() time.Time
	next         int64
	nodes        map[ids.AccountID]struct{}
	accounts     map[ids.AccountID]*account
	topics       map[ids.TopicID][][]byte
	files        map[ids.FileID][]byte
	schedules    map[ids.ScheduleID]*schedule
	entries      map[string]*entry
	scripts      map[ids.AccountID][]status.Code
	calls        map[ids.AccountID]int
	receiptDelay int
}

// NewLedger creates a ledger served by the given nodes.
func NewLedger(nodes ...ids.AccountID) *Ledger {
	l := &Ledger{
		now:       time.Now,
		next:      firstEntity,
		nodes:     make(map[ids.AccountID]struct{}, len(nodes)),
		accounts:  make(map[ids.AccountID]*account),
		topics:    make(map[ids.TopicID][][]byte),
		files:     make(map[ids.FileID][]byte),
		schedules: make(map[ids.ScheduleID]*schedule),
		entries:   make(map[string]*entry),
		scripts:   make(map[ids.AccountID][]status.Code),
		calls:     make(map[ids.AccountID]int),
	}
	for _, n := range nodes {
		l.nodes[n] = struct{}{}
	}
	return l
}

// SetClock replaces the ledger clock used for transaction and schedule expiry.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.now = now
}

// SetReceiptDelay makes the first n receipt queries of every transaction answer UNKNOWN.
func (l *Ledger) SetReceiptDelay(n int) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.receiptDelay = n
}

// Script makes the node answer the next calls with these precheck statuses before
// handling requests normally.
func (l *Ledger) Script(node ids.AccountID, codes ...status.Code) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.scripts[node] = append(l.scripts[node], codes...)
}

// Calls returns how many requests reached the node.
func (l *Ledger) Calls(node ids.AccountID) int {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.calls[node]
}

// CreateAccount adds an account guarded by key.
func (l *Ledger) CreateAccount(key keys.Key, balance int64) ids.AccountID {
	l.mux.Lock()
	defer l.mux.Unlock()
	id := ids.Account(l.entity())
	l.accounts[id] = &account{key: key, balance: balance}
	return id
}

// Balance returns the account balance, false if the account does not exist.
func (l *Ledger) Balance(id ids.AccountID) (int64, bool) {
	l.mux.Lock()
	defer l.mux.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return 0, false
	}
	return a.balance, true
}

// CreateTopic adds an empty topic.
func (l *Ledger) CreateTopic() ids.TopicID {
	l.mux.Lock()
	defer l.mux.Unlock()
	id := ids.TopicID{Num: l.entity()}
	l.topics[id] = nil
	return id
}

// TopicMessages returns the messages submitted to the topic in consensus order.
func (l *Ledger) TopicMessages(id ids.TopicID) [][]byte {
	l.mux.Lock()
	defer l.mux.Unlock()
	return append([][]byte(nil), l.topics[id]...)
}

// CreateFile adds a file with the contents.
func (l *Ledger) CreateFile(contents []byte) ids.FileID {
	l.mux.Lock()
	defer l.mux.Unlock()
	id := ids.FileID{Num: l.entity()}
	l.files[id] = bytes.Clone(contents)
	return id
}

// FileContents returns the file contents.
func (l *Ledger) FileContents(id ids.FileID) []byte {
	l.mux.Lock()
	defer l.mux.Unlock()
	return bytes.Clone(l.files[id])
}

// ScheduleExecuted reports whether the schedule ran its inner transaction.
func (l *Ledger) ScheduleExecuted(id ids.ScheduleID) bool {
	l.mux.Lock()
	defer l.mux.Unlock()
	s, ok := l.schedules[id]
	return ok && s.executed
}

func (l *Ledger) entity() int64 {
	n := l.next
	l.next++
	return n
}

// Handle answers one RPC call addressed to node.
func (l *Ledger) Handle(node ids.AccountID, method string, req []byte) ([]byte, error) {
	l.mux.Lock()
	defer l.mux.Unlock()

	if _, ok := l.nodes[node]; !ok {
		return nil, fmt.Errorf("node [ %s ] is not part of the ledger", node)
	}
	l.calls[node]++

	switch method {
	case query.MethodReceipt, query.MethodRecord, query.MethodBalance:
		return l.answer(node, req)
	}
	if script := l.scripts[node]; len(script) > 0 {
		l.scripts[node] = script[1:]
		return codec.EncodeTransactionResponse(script[0], 0), nil
	}
	return codec.EncodeTransactionResponse(l.submit(node, method, req), 0), nil
}

func verify(st codec.SignedTransaction) (func(keys.PublicKey) bool, []keys.PublicKey, bool) {
	signers := make([]keys.PublicKey, 0, len(st.SigMap))
	for _, p := range st.SigMap {
		if !p.PublicKey.Verify(st.BodyBytes, p.Signature) {
			return nil, nil, false
		}
		signers = append(signers, p.PublicKey)
	}
	return keys.SignedBy(signers...), signers, true
}

func (l *Ledger) submit(node ids.AccountID, method string, req []byte) status.Code {
	st, err := codec.DecodeTransaction(req)
	if err != nil {
		return status.InvalidTransaction
	}
	h, data, err := codec.DecodeTransactionBody(st.BodyBytes)
	if err != nil {
		return status.InvalidTransaction
	}
	if data.Method() != method {
		return status.NotSupported
	}
	if h.NodeAccountID != node {
		return status.InvalidNodeAccount
	}
	now := l.now()
	if now.After(h.TransactionID.ValidStart.Add(h.ValidDuration)) {
		return status.TransactionExpired
	}
	if h.TransactionID.ValidStart.After(now) {
		return status.InvalidTransactionStart
	}
	signed, signers, ok := verify(st)
	if !ok {
		return status.InvalidSignature
	}
	payer, ok := l.accounts[h.TransactionID.AccountID]
	if !ok {
		return status.PayerAccountNotFound
	}
	if !payer.key.IsSatisfied(signed) {
		return status.InvalidSignature
	}
	if h.TransactionFee < uint64(Fee) {
		return status.InsufficientTxFee
	}
	if payer.balance < Fee {
		return status.InsufficientPayerBalance
	}
	if _, ok := l.entries[h.TransactionID.Key()]; ok {
		return status.DuplicateTransaction
	}

	payer.balance -= Fee
	raw, err := codec.EncodeSignedTransaction(st)
	if err != nil {
		return status.InvalidTransaction
	}
	hash := sha512.Sum384(raw)
	rc, transfers := l.apply(h.TransactionID, data, signed, signers)
	l.entries[h.TransactionID.Key()] = &entry{
		pending: l.receiptDelay,
		record: receipt.Record{
			Receipt:            rc,
			TransactionHash:    hash[:],
			ConsensusTimestamp: now.UTC(),
			TransactionID:      h.TransactionID,
			Memo:               h.Memo,
			TransactionFee:     uint64(Fee),
			Transfers:          transfers,
		},
	}
	return status.Ok
}

func (l *Ledger) apply(txID ids.TransactionID, data body.Data, signed func(keys.PublicKey) bool, signers []keys.PublicKey) (receipt.Receipt, []body.AccountAmount) {
	switch d := data.(type) {
	case *body.CryptoTransfer:
		code := l.transfer(d.Transfers, signed)
		if code != status.Success {
			return receipt.Receipt{Status: code}, nil
		}
		return receipt.Receipt{Status: code}, d.Transfers
	case *body.AccountCreate:
		payer := l.accounts[txID.AccountID]
		if payer.balance < d.InitialBalance {
			return receipt.Receipt{Status: status.InsufficientPayerBalance}, nil
		}
		payer.balance -= d.InitialBalance
		id := ids.Account(l.entity())
		l.accounts[id] = &account{key: d.Key, balance: d.InitialBalance}
		return receipt.Receipt{Status: status.Success, AccountID: &id}, []body.AccountAmount{
			{AccountID: txID.AccountID, Amount: -d.InitialBalance},
			{AccountID: id, Amount: d.InitialBalance},
		}
	case *body.TopicMessageSubmit:
		msgs, ok := l.topics[d.TopicID]
		if !ok {
			return receipt.Receipt{Status: status.InvalidTopicID}, nil
		}
		if code := checkChunk(txID, d.ChunkInfo); code != status.Success {
			return receipt.Receipt{Status: code}, nil
		}
		l.topics[d.TopicID] = append(msgs, bytes.Clone(d.Message))
		return receipt.Receipt{Status: status.Success, TopicSequenceNumber: uint64(len(msgs) + 1)}, nil
	case *body.FileAppend:
		contents, ok := l.files[d.FileID]
		if !ok {
			return receipt.Receipt{Status: status.InvalidFileID}, nil
		}
		if code := checkChunk(txID, d.ChunkInfo); code != status.Success {
			return receipt.Receipt{Status: code}, nil
		}
		l.files[d.FileID] = append(contents, d.Contents...)
		return receipt.Receipt{Status: status.Success}, nil
	case *body.ScheduleCreate:
		return l.createSchedule(txID, d, signers), nil
	case *body.ScheduleSign:
		return l.signSchedule(d.ScheduleID, signers), nil
	case *body.ScheduleDelete:
		return l.deleteSchedule(d.ScheduleID, signed), nil
	default:
		return receipt.Receipt{Status: status.NotSupported}, nil
	}
}

func (l *Ledger) transfer(transfers []body.AccountAmount, signed func(keys.PublicKey) bool) status.Code {
	for _, t := range transfers {
		a, ok := l.accounts[t.AccountID]
		if !ok {
			return status.InvalidAccountID
		}
		if t.Amount < 0 && !a.key.IsSatisfied(signed) {
			return status.InvalidSignature
		}
		if a.balance+t.Amount < 0 {
			return status.InsufficientAccountBalance
		}
	}
	for _, t := range transfers {
		l.accounts[t.AccountID].balance += t.Amount
	}
	return status.Success
}

func checkChunk(txID ids.TransactionID, info *body.ChunkInfo) status.Code {
	if info == nil {
		return status.Success
	}
	if info.Number < 1 || info.Number > info.Total {
		return status.InvalidChunkNumber
	}
	if info.InitialTransactionID.AccountID != txID.AccountID {
		return status.InvalidChunkTransactionID
	}
	if info.Number == 1 && !info.InitialTransactionID.Equal(txID) {
		return status.InvalidChunkTransactionID
	}
	return status.Success
}

func (l *Ledger) answer(node ids.AccountID, req []byte) ([]byte, error) {
	q, err := codec.DecodeQuery(req)
	if err != nil {
		return nil, err
	}
	resp := codec.Response{Kind: q.Kind, ResponseType: q.ResponseType}
	if script := l.scripts[node]; len(script) > 0 {
		l.scripts[node] = script[1:]
		resp.Status = script[0]
		return codec.EncodeResponse(resp)
	}

	switch q.Kind {
	case codec.QueryReceipt:
		e, ok := l.entries[q.TransactionID.Key()]
		switch {
		case !ok:
			resp.Status = status.ReceiptNotFound
		case e.pending > 0:
			e.pending--
			resp.Receipt = &receipt.Receipt{Status: status.Unknown}
		default:
			rc := e.record.Receipt
			resp.Receipt = &rc
		}
	case codec.QueryRecord:
		if q.ResponseType == codec.CostAnswer {
			resp.Cost = RecordCost
			break
		}
		if code := l.checkPayment(node, q.Payment); code != status.Ok {
			resp.Status = code
			break
		}
		e, ok := l.entries[q.TransactionID.Key()]
		if !ok || e.pending > 0 {
			resp.Status = status.RecordNotFound
			break
		}
		rec := e.record
		resp.Record = &rec
	case codec.QueryBalance:
		a, ok := l.accounts[q.AccountID]
		if !ok {
			resp.Status = status.InvalidAccountID
			break
		}
		resp.Balance = &receipt.Balance{AccountID: q.AccountID, Tinybars: uint64(a.balance)}
	}
	return codec.EncodeResponse(resp)
}

// checkPayment accepts a signed transfer of at least RecordCost to the node.
func (l *Ledger) checkPayment(node ids.AccountID, raw []byte) status.Code {
	if len(raw) == 0 {
		return status.InsufficientQueryPayment
	}
	st, err := codec.DecodeTransaction(raw)
	if err != nil {
		return status.InvalidTransaction
	}
	h, data, err := codec.DecodeTransactionBody(st.BodyBytes)
	if err != nil {
		return status.InvalidTransaction
	}
	t, ok := data.(*body.CryptoTransfer)
	if !ok || h.NodeAccountID != node {
		return status.InsufficientQueryPayment
	}
	signed, _, ok := verify(st)
	if !ok {
		return status.InvalidSignature
	}
	payer, ok := l.accounts[h.TransactionID.AccountID]
	if !ok {
		return status.PayerAccountNotFound
	}
	if !payer.key.IsSatisfied(signed) {
		return status.InvalidSignature
	}
	var paid int64
	for _, aa := range t.Transfers {
		if aa.AccountID == node {
			paid += aa.Amount
		}
	}
	if paid < int64(RecordCost) {
		return status.InsufficientQueryPayment
	}
	if payer.balance < paid {
		return status.InsufficientPayerBalance
	}
	payer.balance -= paid
	return status.Ok
}
