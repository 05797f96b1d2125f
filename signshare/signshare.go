// Package signshare passes frozen transactions to independent signers over NATS and collects
// their signatures.
//
// A Collector publishes the transaction bytes with a reply inbox. Every Signer subscribed to
// the subject decides whether to sign, signs each body and replies with its public key and
// signatures. The Collector verifies and attaches the replies until the required key is met.
package signshare

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bartossh/Ledgerlink/codec"
	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/logger"
	"github.com/bartossh/Ledgerlink/transaction"
)

const (
	SubjectSignRequest string = "ledgerlink.sign_request"

	fieldKey       protowire.Number = 1
	fieldSignature protowire.Number = 2
	fieldRefused   protowire.Number = 3
)

var (
	ErrMalformedReply = errors.New("malformed signature reply")
	ErrRefused        = errors.New("signer refused the transaction")
	ErrNotSatisfied   = errors.New("collected signatures do not satisfy the key")
)

// Config contains all arguments required to connect to the nats service.
type Config struct {
	Address string `yaml:"server_address"`
	Name    string `yaml:"client_name"`
	Token   string `yaml:"token"`
	Subject string `yaml:"subject"`
}

type socket struct {
	conn    *nats.Conn
	subject string
}

func connect(cfg Config) (*socket, error) {
	if _, err := url.Parse(cfg.Address); err != nil {
		return nil, err
	}
	conn, err := nats.Connect(cfg.Address, nats.Name(cfg.Name), nats.Token(cfg.Token))
	if err != nil {
		return nil, err
	}
	subject := cfg.Subject
	if subject == "" {
		subject = SubjectSignRequest
	}
	return &socket{conn: conn, subject: subject}, nil
}

// Disconnect drains the subscriptions and pending publications, then closes the connection.
func (s *socket) Disconnect() error {
	return s.conn.Drain()
}

// Reply is the answer of one signer.
type Reply struct {
	PublicKey  keys.PublicKey
	Signatures [][]byte
	Refused    bool
}

// EncodeReply encodes the reply.
func EncodeReply(r Reply) ([]byte, error) {
	var b []byte
	if !r.PublicKey.IsZero() {
		k, err := codec.EncodeKey(r.PublicKey)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
		b = protowire.AppendBytes(b, k)
	}
	for _, sig := range r.Signatures {
		b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, sig)
	}
	if r.Refused {
		b = protowire.AppendTag(b, fieldRefused, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

// DecodeReply decodes the reply.
func DecodeReply(b []byte) (Reply, error) {
	var r Reply
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, errors.Join(ErrMalformedReply, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldKey && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return r, errors.Join(ErrMalformedReply, protowire.ParseError(n))
			}
			k, err := codec.DecodeKey(raw)
			if err != nil {
				return r, errors.Join(ErrMalformedReply, err)
			}
			pub, ok := k.(keys.PublicKey)
			if !ok {
				return r, errors.Join(ErrMalformedReply, errors.New("signer key is not a single public key"))
			}
			r.PublicKey = pub
			b = b[n:]
		case num == fieldSignature && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return r, errors.Join(ErrMalformedReply, protowire.ParseError(n))
			}
			r.Signatures = append(r.Signatures, append([]byte(nil), raw...))
			b = b[n:]
		case num == fieldRefused && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, errors.Join(ErrMalformedReply, protowire.ParseError(n))
			}
			r.Refused = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, errors.Join(ErrMalformedReply, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !r.Refused && r.PublicKey.IsZero() {
		return r, errors.Join(ErrMalformedReply, errors.New("reply has no public key"))
	}
	return r, nil
}

// Sign answers a sign request. approve may be nil, then every request is signed.
func Sign(raw []byte, key keys.PrivateKey, approve func(tx *transaction.Transaction) bool) (Reply, error) {
	tx, err := transaction.FromBytes(raw)
	if err != nil {
		return Reply{}, err
	}
	if approve != nil && !approve(tx) {
		return Reply{Refused: true}, nil
	}
	bodies := tx.Bodies()
	sigs := make([][]byte, 0, len(bodies))
	for _, b := range bodies {
		sig, err := key.Sign(b)
		if err != nil {
			return Reply{}, errors.Join(transaction.ErrSigning, err)
		}
		sigs = append(sigs, sig)
	}
	return Reply{PublicKey: key.PublicKey(), Signatures: sigs}, nil
}

// Attach verifies the reply and attaches its signatures to tx.
func Attach(tx *transaction.Transaction, r Reply) error {
	if r.Refused {
		return ErrRefused
	}
	return tx.AddSignature(r.PublicKey, r.Signatures)
}

// Signer answers sign requests with a single key.
type Signer struct {
	*socket
	key     keys.PrivateKey
	approve func(tx *transaction.Transaction) bool
	log     logger.Logger
}

// SignerConnect connects the signer to the pub/sub queue using provided config.
func SignerConnect(cfg Config, key keys.PrivateKey, approve func(tx *transaction.Transaction) bool, log logger.Logger) (*Signer, error) {
	s, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Signer{socket: s, key: key, approve: approve, log: log}, nil
}

// Serve answers sign requests until ctx is done, then drains the connection.
func (s *Signer) Serve(ctx context.Context) error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		r, err := Sign(msg.Data, s.key, s.approve)
		if err != nil {
			s.log.Warn(fmt.Sprintf("sign request on [ %s ] rejected, %s", msg.Subject, err))
			return
		}
		data, err := EncodeReply(r)
		if err != nil {
			s.log.Error(fmt.Sprintf("cannot encode sign reply, %s", err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.log.Error(fmt.Sprintf("cannot respond to sign request, %s", err))
		}
	})
	if err != nil {
		return err
	}
	s.log.Info(fmt.Sprintf("signer [ %s ] listening on [ %s ]", s.key.PublicKey().Base58(), s.subject))
	<-ctx.Done()
	return errors.Join(sub.Unsubscribe(), s.Disconnect())
}

// Collector requests signatures from the signers.
type Collector struct {
	*socket
	log logger.Logger
}

// CollectorConnect connects the collector to the pub/sub queue using provided config.
func CollectorConnect(cfg Config, log logger.Logger) (*Collector, error) {
	s, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Collector{socket: s, log: log}, nil
}

// Collect publishes tx and attaches signer replies until the signatures satisfy key or ctx
// is done. Replies that do not verify are skipped. On ctx expiry the signatures collected so
// far stay attached and ErrNotSatisfied is returned.
func (c *Collector) Collect(ctx context.Context, tx *transaction.Transaction, key keys.Key) error {
	if tx.IsFullySigned(key) {
		return nil
	}
	raw, err := tx.ToBytes()
	if err != nil {
		return err
	}

	inbox := c.conn.NewRespInbox()
	replies := make(chan *nats.Msg, 64)
	sub, err := c.conn.ChanSubscribe(inbox, replies)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	if err := c.conn.PublishRequest(c.subject, inbox, raw); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return errors.Join(ErrNotSatisfied, ctx.Err())
		case msg := <-replies:
			r, err := DecodeReply(msg.Data)
			if err != nil {
				c.log.Warn(fmt.Sprintf("sign reply for [ %s ] skipped, %s", tx.TransactionID(), err))
				continue
			}
			if err := Attach(tx, r); err != nil {
				c.log.Warn(fmt.Sprintf("sign reply for [ %s ] skipped, %s", tx.TransactionID(), err))
				continue
			}
			c.log.Debug(fmt.Sprintf("transaction [ %s ] signed by [ %s ]", tx.TransactionID(), r.PublicKey.Base58()))
			if tx.IsFullySigned(key) {
				return nil
			}
		}
	}
}

// CollectWithin is Collect bounded by timeout.
func (c *Collector) CollectWithin(tx *transaction.Transaction, key keys.Key, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Collect(ctx, tx, key)
}
