package executor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/logging"
	"github.com/bartossh/Ledgerlink/network"
	"github.com/bartossh/Ledgerlink/status"
)

type reply struct {
	code status.Code
	err  error
}

type scriptedChannel struct {
	mux     sync.Mutex
	replies []reply
	calls   int
}

func (s *scriptedChannel) Invoke(_ context.Context, _ string, _ []byte) ([]byte, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	r := s.replies[len(s.replies)-1]
	if s.calls < len(s.replies) {
		r = s.replies[s.calls]
	}
	s.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte{byte(r.code)}, nil
}

func (s *scriptedChannel) Close() error { return nil }

func (s *scriptedChannel) Calls() int {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.calls
}

// statusRequest decodes the single response byte as the status code.
type statusRequest struct {
	anyStatusSucceeds bool
}

func (statusRequest) Nodes() []ids.AccountID { return []ids.AccountID{ids.Account(3)} }

func (statusRequest) TransactionID() ids.TransactionID {
	return ids.NewTransactionIDWithValidStart(ids.Account(1001), time.Unix(1700000000, 0).UTC())
}

func (statusRequest) Method() string { return "/proto.CryptoService/cryptoTransfer" }

func (statusRequest) Encode(ids.AccountID) ([]byte, error) { return []byte{0}, nil }

func (statusRequest) Decode(_ ids.AccountID, raw []byte) (status.Code, status.Code, error) {
	if len(raw) != 1 {
		return 0, 0, errors.New("bad reply")
	}
	return status.Code(raw[0]), status.Code(raw[0]), nil
}

type pollRequest struct {
	statusRequest
}

func (pollRequest) Classify(code status.Code) status.Class { return status.ClassSuccess }

type sleepRecorder struct {
	mux    sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

func newTestExecutor(t *testing.T, ch network.Channel, policy Policy, opts ...Option) *Executor {
	log := logging.New(func(error) {}, func(error) {}, io.Discard)
	net, err := network.New(
		network.Config{Nodes: map[string]ids.AccountID{"node3:50211": ids.Account(3)}},
		log,
		network.WithDialer(func(string) (network.Channel, error) { return ch, nil }),
	)
	assert.Nil(t, err)
	e, err := New(net, policy, log, opts...)
	assert.Nil(t, err)
	return e
}

func TestExecuteRetriesBusyWithNonDecreasingDelays(t *testing.T) {
	ch := &scriptedChannel{replies: []reply{{code: status.Busy}, {code: status.Busy}, {code: status.Ok}}}
	rec := &sleepRecorder{}
	e := newTestExecutor(t, ch, Policy{}, WithSleep(rec.sleep))

	res, err := Execute[status.Code](context.Background(), e, statusRequest{})
	assert.Nil(t, err)
	assert.Equal(t, status.Ok, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, ids.Account(3), res.NodeID)
	assert.Equal(t, 3, ch.Calls())

	assert.Len(t, rec.sleeps, 2)
	assert.Greater(t, rec.sleeps[0], time.Duration(0))
	assert.GreaterOrEqual(t, rec.sleeps[1], rec.sleeps[0])
}

func TestExecuteFatalStatusStopsImmediately(t *testing.T) {
	ch := &scriptedChannel{replies: []reply{{code: status.InvalidSignature}, {code: status.Ok}}}
	rec := &sleepRecorder{}
	e := newTestExecutor(t, ch, Policy{}, WithSleep(rec.sleep))

	_, err := Execute[status.Code](context.Background(), e, statusRequest{})
	assert.ErrorIs(t, err, ErrFatal)

	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, status.InvalidSignature, se.Status)
	assert.Equal(t, ids.Account(3), se.NodeID)
	assert.Equal(t, statusRequest{}.TransactionID(), se.TransactionID)
	assert.Equal(t, 1, ch.Calls())
	assert.Empty(t, rec.sleeps)
}

func TestExecuteRetriesTransientTransportError(t *testing.T) {
	ch := &scriptedChannel{replies: []reply{
		{err: grpcstatus.Error(codes.Unavailable, "node restarting")},
		{code: status.Ok},
	}}
	rec := &sleepRecorder{}
	e := newTestExecutor(t, ch, Policy{}, WithSleep(rec.sleep))

	res, err := Execute[status.Code](context.Background(), e, statusRequest{})
	assert.Nil(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, rec.sleeps, 1)
}

func TestExecuteNonTransientTransportErrorIsFatal(t *testing.T) {
	ch := &scriptedChannel{replies: []reply{{err: grpcstatus.Error(codes.Unimplemented, "no such method")}}}
	e := newTestExecutor(t, ch, Policy{}, WithSleep((&sleepRecorder{}).sleep))

	_, err := Execute[status.Code](context.Background(), e, statusRequest{})
	assert.ErrorIs(t, err, ErrFatal)
	assert.Equal(t, 1, ch.Calls())
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	ch := &scriptedChannel{replies: []reply{{code: status.Busy}}}
	e := newTestExecutor(t, ch, Policy{MaxAttempts: 4}, WithSleep((&sleepRecorder{}).sleep))

	_, err := Execute[status.Code](context.Background(), e, statusRequest{})
	assert.ErrorIs(t, err, ErrTimeout)

	var te *TimeoutError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 4, te.Attempts)
	assert.Equal(t, status.Busy, te.LastStatus)
	assert.Equal(t, ids.Account(3), te.NodeID)
	assert.Equal(t, 4, ch.Calls())
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ch := &scriptedChannel{replies: []reply{{code: status.Busy}}}
	e := newTestExecutor(t, ch, Policy{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := Execute[status.Code](ctx, e, statusRequest{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteNotifiesObserver(t *testing.T) {
	ch := &scriptedChannel{replies: []reply{{code: status.Busy}, {code: status.Ok}}}
	var kinds []EventKind
	e := newTestExecutor(t, ch, Policy{},
		WithSleep((&sleepRecorder{}).sleep),
		WithObserver(ObserverFunc(func(ev Event) { kinds = append(kinds, ev.Kind) })),
	)

	_, err := Execute[status.Code](context.Background(), e, statusRequest{})
	assert.Nil(t, err)
	assert.Equal(t, []EventKind{EventAttempt, EventBackoff, EventWait, EventAttempt}, kinds)
}

func TestPollReturnsOnFourthQuery(t *testing.T) {
	ch := &scriptedChannel{replies: []reply{
		{code: status.Unknown}, {code: status.Unknown}, {code: status.Unknown}, {code: status.Success},
	}}
	rec := &sleepRecorder{}
	e := newTestExecutor(t, ch, Policy{PollInterval: 250 * time.Millisecond}, WithSleep(rec.sleep))

	res, err := Poll[status.Code](context.Background(), e, pollRequest{}, func(c status.Code) status.Code { return c })
	assert.Nil(t, err)
	assert.Equal(t, status.Success, res.Value)
	assert.Equal(t, 4, ch.Calls())
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}, rec.sleeps)
}

func TestPollReportsFinalFailure(t *testing.T) {
	ch := &scriptedChannel{replies: []reply{{code: status.ReceiptNotFound}, {code: status.InsufficientPayerBalance}}}
	e := newTestExecutor(t, ch, Policy{}, WithSleep((&sleepRecorder{}).sleep))

	res, err := Poll[status.Code](context.Background(), e, pollRequest{}, func(c status.Code) status.Code { return c })
	assert.ErrorIs(t, err, ErrReceiptStatus)
	assert.ErrorIs(t, err, ErrFatal)
	assert.Equal(t, status.InsufficientPayerBalance, res.Value)

	var rse *ReceiptStatusError
	assert.True(t, errors.As(err, &rse))
	assert.Equal(t, status.InsufficientPayerBalance, rse.Status)
}

func TestPollTimesOutWhileStillProcessing(t *testing.T) {
	ch := &scriptedChannel{replies: []reply{{code: status.Unknown}}}
	e := newTestExecutor(t, ch, Policy{PollInterval: 5 * time.Millisecond, PollTimeout: 60 * time.Millisecond})

	_, err := Poll[status.Code](context.Background(), e, pollRequest{}, func(c status.Code) status.Code { return c })
	assert.ErrorIs(t, err, ErrPollTimeout)

	var pte *PollTimeoutError
	assert.True(t, errors.As(err, &pte))
	assert.Equal(t, status.Unknown, pte.LastStatus)
	assert.Greater(t, pte.Polls, 1)
}
