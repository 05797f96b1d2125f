package ids

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrMalformedEntityID      = errors.New("malformed entity id, expected shard.realm.num")
	ErrMalformedTransactionID = errors.New("malformed transaction id, expected shard.realm.num@seconds.nanos")
)

// AccountID identifies an account on the ledger, including node accounts.
type AccountID struct {
	Shard int64 `yaml:"shard" json:"shard"`
	Realm int64 `yaml:"realm" json:"realm"`
	Num   int64 `yaml:"num"   json:"num"`
}

// FileID identifies a file entity.
type FileID struct {
	Shard int64
	Realm int64
	Num   int64
}

// TopicID identifies a consensus topic.
type TopicID struct {
	Shard int64
	Realm int64
	Num   int64
}

// ScheduleID identifies a scheduled transaction entity.
type ScheduleID struct {
	Shard int64
	Realm int64
	Num   int64
}

// Account is a shorthand for AccountID in shard 0 realm 0.
func Account(num int64) AccountID {
	return AccountID{Num: num}
}

// IsZero reports whether the id is unset.
func (a AccountID) IsZero() bool { return a == AccountID{} }

func (a AccountID) String() string { return format(a.Shard, a.Realm, a.Num) }

func (f FileID) String() string { return format(f.Shard, f.Realm, f.Num) }

func (t TopicID) String() string { return format(t.Shard, t.Realm, t.Num) }

func (s ScheduleID) String() string { return format(s.Shard, s.Realm, s.Num) }

// IsZero reports whether the id is unset.
func (s ScheduleID) IsZero() bool { return s == ScheduleID{} }

// ParseAccountID parses "shard.realm.num".
func ParseAccountID(s string) (AccountID, error) {
	shard, realm, num, err := parse(s)
	return AccountID{Shard: shard, Realm: realm, Num: num}, err
}

// ParseFileID parses "shard.realm.num".
func ParseFileID(s string) (FileID, error) {
	shard, realm, num, err := parse(s)
	return FileID{Shard: shard, Realm: realm, Num: num}, err
}

// ParseTopicID parses "shard.realm.num".
func ParseTopicID(s string) (TopicID, error) {
	shard, realm, num, err := parse(s)
	return TopicID{Shard: shard, Realm: realm, Num: num}, err
}

// ParseScheduleID parses "shard.realm.num".
func ParseScheduleID(s string) (ScheduleID, error) {
	shard, realm, num, err := parse(s)
	return ScheduleID{Shard: shard, Realm: realm, Num: num}, err
}

// UnmarshalYAML allows account ids to be written as "0.0.3" in configuration files.
func (a *AccountID) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	id, err := ParseAccountID(s)
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// MarshalYAML writes the account id in its "shard.realm.num" form.
func (a AccountID) MarshalYAML() (any, error) {
	return a.String(), nil
}

func format(shard, realm, num int64) string {
	return fmt.Sprintf("%d.%d.%d", shard, realm, num)
}

func parse(s string) (shard, realm, num int64, err error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return 0, 0, 0, errors.Join(ErrMalformedEntityID, fmt.Errorf("got %q", s))
	}
	values := make([]int64, 3)
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return 0, 0, 0, errors.Join(ErrMalformedEntityID, fmt.Errorf("got %q", s))
		}
		values[i] = v
	}
	return values[0], values[1], values[2], nil
}

// TransactionID uniquely identifies one logical transaction.
// Nonce links derived transactions (chunks 2..n) to the initial one.
type TransactionID struct {
	AccountID  AccountID
	ValidStart time.Time
	Scheduled  bool
	Nonce      int32
}

// backdate keeps valid start slightly in the past so node clocks lagging the client
// do not reject the transaction as starting in the future.
const backdate = 10 * time.Second

var (
	lastStartMux sync.Mutex
	lastStart    time.Time
)

// NewTransactionID generates a transaction id for the payer.
// Valid start times are strictly increasing within the process so two ids generated
// back to back never collide inside the node duplicate detection window.
func NewTransactionID(payer AccountID) TransactionID {
	lastStartMux.Lock()
	defer lastStartMux.Unlock()

	start := time.Now().UTC().Add(-backdate)
	if !start.After(lastStart) {
		start = lastStart.Add(time.Nanosecond)
	}
	lastStart = start

	return TransactionID{AccountID: payer, ValidStart: start}
}

// NewTransactionIDWithValidStart builds an id with an explicit valid start.
func NewTransactionIDWithValidStart(payer AccountID, validStart time.Time) TransactionID {
	return TransactionID{AccountID: payer, ValidStart: validStart}
}

// IsZero reports whether the id is unset.
func (t TransactionID) IsZero() bool {
	return t.AccountID.IsZero() && t.ValidStart.IsZero()
}

// WithNonce returns a copy of the id carrying the nonce.
func (t TransactionID) WithNonce(nonce int32) TransactionID {
	t.Nonce = nonce
	return t
}

// AsScheduled returns the id the network assigns to the inner transaction of a schedule.
func (t TransactionID) AsScheduled() TransactionID {
	t.Scheduled = true
	return t
}

// Equal compares ids by value, time instants are compared with time.Equal.
func (t TransactionID) Equal(o TransactionID) bool {
	return t.AccountID == o.AccountID &&
		t.ValidStart.Equal(o.ValidStart) &&
		t.Scheduled == o.Scheduled &&
		t.Nonce == o.Nonce
}

// String formats the id as "shard.realm.num@seconds.nanos[?scheduled][/nonce]".
func (t TransactionID) String() string {
	var b strings.Builder
	b.WriteString(t.AccountID.String())
	b.WriteString("@")
	b.WriteString(strconv.FormatInt(t.ValidStart.Unix(), 10))
	b.WriteString(".")
	b.WriteString(fmt.Sprintf("%09d", t.ValidStart.Nanosecond()))
	if t.Scheduled {
		b.WriteString("?scheduled")
	}
	if t.Nonce != 0 {
		b.WriteString("/")
		b.WriteString(strconv.FormatInt(int64(t.Nonce), 10))
	}
	return b.String()
}

// Key is a stable map key for the id.
func (t TransactionID) Key() string {
	return t.String()
}

// ParseTransactionID parses the form produced by TransactionID.String.
func ParseTransactionID(s string) (TransactionID, error) {
	var id TransactionID
	rest := s
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		n, err := strconv.ParseInt(rest[i+1:], 10, 32)
		if err != nil {
			return id, errors.Join(ErrMalformedTransactionID, err)
		}
		id.Nonce = int32(n)
		rest = rest[:i]
	}
	if strings.HasSuffix(rest, "?scheduled") {
		id.Scheduled = true
		rest = strings.TrimSuffix(rest, "?scheduled")
	}
	account, start, ok := strings.Cut(rest, "@")
	if !ok {
		return id, ErrMalformedTransactionID
	}
	acc, err := ParseAccountID(account)
	if err != nil {
		return id, errors.Join(ErrMalformedTransactionID, err)
	}
	secs, nanos, ok := strings.Cut(start, ".")
	if !ok {
		return id, ErrMalformedTransactionID
	}
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return id, errors.Join(ErrMalformedTransactionID, err)
	}
	nsec, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil || nsec < 0 || nsec >= int64(time.Second) {
		return id, errors.Join(ErrMalformedTransactionID, fmt.Errorf("nanos %q", nanos))
	}
	id.AccountID = acc
	id.ValidStart = time.Unix(sec, nsec).UTC()
	return id, nil
}
