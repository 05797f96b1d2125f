// Package mirror reads historical ledger state from the REST API of a mirror node.
package mirror

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/bartossh/Ledgerlink/ids"
)

const apiPrefix = "api/v1"

var (
	ErrStatusCodeMismatch  = errors.New("status code mismatch")
	ErrContentTypeMismatch = errors.New("content type mismatch")
	ErrNotFound            = errors.New("mirror node has no such entity")
	ErrMalformedAnswer     = errors.New("mirror node returned malformed data")
)

// Rest is a client of the mirror node REST API.
type Rest struct {
	apiRoot string
	timeout time.Duration
}

// NewRest creates a new mirror rest client. The api root is the scheme and host of the mirror
// node, a bare host:port is reached over https.
func NewRest(apiRoot string, timeout time.Duration) *Rest {
	if !strings.Contains(apiRoot, "://") {
		apiRoot = "https://" + apiRoot
	}
	return &Rest{apiRoot: strings.TrimSuffix(apiRoot, "/"), timeout: timeout}
}

// Rate is the price of hbars in cents.
type Rate struct {
	CentEquivalent int64 `json:"cent_equivalent"`
	HbarEquivalent int64 `json:"hbar_equivalent"`
	ExpirationTime int64 `json:"expiration_time"`
}

// ExchangeRate is the current and the next exchange rate of the network.
type ExchangeRate struct {
	Current   Rate   `json:"current_rate"`
	Next      Rate   `json:"next_rate"`
	Timestamp string `json:"timestamp"`
}

// ExchangeRate reads the exchange rate.
func (r *Rest) ExchangeRate() (ExchangeRate, error) {
	var rate ExchangeRate
	if err := r.makeGet("network/exchangerate", nil, &rate); err != nil {
		return ExchangeRate{}, err
	}
	return rate, nil
}

type balancesResponse struct {
	Balances []struct {
		Account string `json:"account"`
		Balance int64  `json:"balance"`
	} `json:"balances"`
	Timestamp string `json:"timestamp"`
}

// AccountBalance reads the last balance of the account known to the mirror node.
func (r *Rest) AccountBalance(account ids.AccountID) (int64, error) {
	var res balancesResponse
	if err := r.makeGet("balances", url.Values{"account.id": {account.String()}}, &res); err != nil {
		return 0, err
	}
	for _, b := range res.Balances {
		if b.Account == account.String() {
			return b.Balance, nil
		}
	}
	return 0, errors.Join(ErrNotFound, fmt.Errorf("account [ %s ]", account))
}

// Transfer is one leg of a transaction transfer list.
type Transfer struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Transaction is the mirror node view of a transaction that reached consensus.
type Transaction struct {
	TransactionID      string     `json:"transaction_id"`
	Name               string     `json:"name"`
	Result             string     `json:"result"`
	ConsensusTimestamp string     `json:"consensus_timestamp"`
	ChargedTxFee       int64      `json:"charged_tx_fee"`
	MemoBase64         string     `json:"memo_base64"`
	Node               string     `json:"node"`
	Scheduled          bool       `json:"scheduled"`
	Nonce              int32      `json:"nonce"`
	Transfers          []Transfer `json:"transfers"`
}

// Memo decodes the base64 memo.
func (t Transaction) Memo() (string, error) {
	raw, err := base64.StdEncoding.DecodeString(t.MemoBase64)
	if err != nil {
		return "", errors.Join(ErrMalformedAnswer, err)
	}
	return string(raw), nil
}

type transactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// Transactions reads every transaction sharing the id, the original transaction first and the
// child and scheduled transactions after it.
func (r *Rest) Transactions(id ids.TransactionID) ([]Transaction, error) {
	var res transactionsResponse
	if err := r.makeGet("transactions/"+TransactionID(id), nil, &res); err != nil {
		return nil, err
	}
	if len(res.Transactions) == 0 {
		return nil, errors.Join(ErrNotFound, fmt.Errorf("transaction [ %s ]", id))
	}
	return res.Transactions, nil
}

// Endpoint is a service endpoint of a consensus node.
type Endpoint struct {
	IPAddressV4 string `json:"ip_address_v4"`
	DomainName  string `json:"domain_name"`
	Port        int    `json:"port"`
}

// Node is one entry of the network address book.
type Node struct {
	NodeAccountID    string     `json:"node_account_id"`
	Description      string     `json:"description"`
	ServiceEndpoints []Endpoint `json:"service_endpoints"`
}

type nodesResponse struct {
	Nodes []Node `json:"nodes"`
}

// AddressBook reads the consensus nodes and returns them keyed by address in the form
// network.Config expects.
func (r *Rest) AddressBook() (map[string]ids.AccountID, error) {
	var res nodesResponse
	if err := r.makeGet("network/nodes", nil, &res); err != nil {
		return nil, err
	}
	book := make(map[string]ids.AccountID, len(res.Nodes))
	for _, n := range res.Nodes {
		account, err := ids.ParseAccountID(n.NodeAccountID)
		if err != nil {
			return nil, errors.Join(ErrMalformedAnswer, err)
		}
		for _, ep := range n.ServiceEndpoints {
			host := ep.DomainName
			if host == "" {
				host = ep.IPAddressV4
			}
			if host == "" || ep.Port == 0 {
				continue
			}
			book[host+":"+strconv.Itoa(ep.Port)] = account
		}
	}
	return book, nil
}

// TransactionID formats the id the way mirror node paths expect, shard.realm.num-seconds-nanos.
func TransactionID(id ids.TransactionID) string {
	return fmt.Sprintf("%s-%d-%09d", id.AccountID, id.ValidStart.Unix(), id.ValidStart.Nanosecond())
}

func (r *Rest) makeGet(path string, query url.Values, out any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	uri := fmt.Sprintf("%s/%s/%s", r.apiRoot, apiPrefix, path)
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := fasthttp.DoTimeout(req, resp, r.timeout); err != nil {
		return err
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNotFound:
		return errors.Join(ErrNotFound, fmt.Errorf("%s", path))
	default:
		return errors.Join(
			ErrStatusCodeMismatch,
			fmt.Errorf("expected status code %d but got %d", fasthttp.StatusOK, resp.StatusCode()))
	}

	contentType := resp.Header.Peek("Content-Type")
	if bytes.Index(contentType, []byte("application/json")) != 0 {
		return errors.Join(
			ErrContentTypeMismatch,
			fmt.Errorf("expected content type application/json but got %s", contentType))
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Join(ErrMalformedAnswer, err)
	}
	return nil
}
