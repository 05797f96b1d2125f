package ledgertest

import (
	"bytes"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/codec"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/receipt"
	"github.com/bartossh/Ledgerlink/status"
)

func (l *Ledger) createSchedule(txID ids.TransactionID, d *body.ScheduleCreate, signers []keys.PublicKey) receipt.Receipt {
	payer := txID.AccountID
	if d.PayerAccountID != nil {
		payer = *d.PayerAccountID
	}
	if _, ok := l.accounts[payer]; !ok {
		return receipt.Receipt{Status: status.InvalidScheduleAccountID}
	}
	inner, err := codec.EncodeSchedulableBody(d.Scheduled)
	if err != nil {
		return receipt.Receipt{Status: status.InvalidTransaction}
	}
	for _, s := range l.schedules {
		if s.executed || s.deleted || s.payer != payer || !bytes.Equal(s.innerBytes, inner) {
			continue
		}
		id, sid := s.id, s.scheduledID
		return receipt.Receipt{Status: status.IdenticalScheduleAlreadyCreated, ScheduleID: &id, ScheduledTransactionID: &sid}
	}

	s := &schedule{
		id:            ids.ScheduleID{Num: l.entity()},
		scheduledID:   txID.AsScheduled(),
		payer:         payer,
		admin:         d.AdminKey,
		inner:         d.Scheduled,
		innerBytes:    inner,
		memo:          d.ScheduleMemo,
		expiration:    d.ExpirationTime,
		waitForExpiry: d.WaitForExpiry,
		signers:       append([]keys.PublicKey(nil), signers...),
	}
	l.schedules[s.id] = s
	l.tryExecute(s)

	id, sid := s.id, s.scheduledID
	return receipt.Receipt{Status: status.Success, ScheduleID: &id, ScheduledTransactionID: &sid}
}

func (l *Ledger) signSchedule(id ids.ScheduleID, signers []keys.PublicKey) receipt.Receipt {
	s, code := l.liveSchedule(id)
	if code != status.Success {
		return receipt.Receipt{Status: code}
	}
	known := keys.SignedBy(s.signers...)
	var added bool
	for _, p := range signers {
		if !known(p) {
			s.signers = append(s.signers, p)
			added = true
		}
	}
	if !added {
		return receipt.Receipt{Status: status.NoNewValidSignatures}
	}
	l.tryExecute(s)
	sid := s.scheduledID
	return receipt.Receipt{Status: status.Success, ScheduledTransactionID: &sid}
}

func (l *Ledger) deleteSchedule(id ids.ScheduleID, signed func(keys.PublicKey) bool) receipt.Receipt {
	s, code := l.liveSchedule(id)
	if code != status.Success {
		return receipt.Receipt{Status: code}
	}
	if s.admin == nil {
		return receipt.Receipt{Status: status.ScheduleIsImmutable}
	}
	if !s.admin.IsSatisfied(signed) {
		return receipt.Receipt{Status: status.InvalidSignature}
	}
	s.deleted = true
	return receipt.Receipt{Status: status.Success}
}

func (l *Ledger) liveSchedule(id ids.ScheduleID) (*schedule, status.Code) {
	s, ok := l.schedules[id]
	switch {
	case !ok:
		return nil, status.InvalidScheduleID
	case s.executed:
		return nil, status.ScheduleAlreadyExecuted
	case s.deleted:
		return nil, status.ScheduleAlreadyDeleted
	case !s.expiration.IsZero() && l.now().After(s.expiration):
		l.expire(s)
		if s.executed {
			return nil, status.ScheduleAlreadyExecuted
		}
		return nil, status.ScheduleExpired
	}
	return s, status.Success
}

// satisfied reports whether the collected signatures meet every key the inner body needs.
func (l *Ledger) satisfied(s *schedule) bool {
	signed := keys.SignedBy(s.signers...)
	if !l.accounts[s.payer].key.IsSatisfied(signed) {
		return false
	}
	if t, ok := s.inner.Data.(*body.CryptoTransfer); ok {
		for _, aa := range t.Transfers {
			a, ok := l.accounts[aa.AccountID]
			if ok && aa.Amount < 0 && !a.key.IsSatisfied(signed) {
				return false
			}
		}
	}
	return true
}

func (l *Ledger) tryExecute(s *schedule) {
	if s.waitForExpiry || !l.satisfied(s) {
		return
	}
	l.execute(s)
}

// expire runs a wait-for-expiry schedule that collected enough signatures, any other
// schedule past its expiration is dropped.
func (l *Ledger) expire(s *schedule) {
	if s.waitForExpiry && l.satisfied(s) {
		l.execute(s)
		return
	}
	s.deleted = true
}

func (l *Ledger) execute(s *schedule) {
	s.executed = true
	payer := l.accounts[s.payer]
	var rc receipt.Receipt
	var transfers []body.AccountAmount
	if payer.balance < Fee {
		rc = receipt.Receipt{Status: status.InsufficientPayerBalance}
	} else {
		payer.balance -= Fee
		rc, transfers = l.apply(s.scheduledID, s.inner.Data, keys.SignedBy(s.signers...), s.signers)
	}
	id := s.id
	l.entries[s.scheduledID.Key()] = &entry{
		pending: l.receiptDelay,
		record: receipt.Record{
			Receipt:            rc,
			ConsensusTimestamp: l.now().UTC(),
			TransactionID:      s.scheduledID,
			Memo:               s.inner.Memo,
			TransactionFee:     uint64(Fee),
			Transfers:          transfers,
			ScheduleRef:        &id,
		},
	}
}
