// Package nessie is a client for the Capital One Nessie banking sandbox,
// the remote ledger behind the API-backed transfer variant.
package nessie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/kabili207/flume-pay/pkg/models"
)

const (
	DefaultBaseURL = "http://api.nessieisreal.com"

	balanceCacheTTL = 5 * time.Minute
	requestTimeout  = 10 * time.Second

	// Starting balance given to newly provisioned demo accounts.
	initialAccountBalance = 1000
)

var ErrRequestFailed = errors.New("sandbox API request failed")

// Customer mirrors the sandbox customer record.
type Customer struct {
	ID        string  `json:"_id"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Address   Address `json:"address"`
}

type Address struct {
	StreetNumber string `json:"street_number"`
	StreetName   string `json:"street_name"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          string `json:"zip"`
}

// Account mirrors the sandbox account record.
type Account struct {
	ID         string  `json:"_id"`
	Type       string  `json:"type"`
	Nickname   string  `json:"nickname"`
	Rewards    int     `json:"rewards"`
	Balance    float64 `json:"balance"`
	CustomerID string  `json:"customer_id"`
}

// Transfer mirrors the sandbox transfer record.
type Transfer struct {
	ID          string  `json:"_id,omitempty"`
	Medium      string  `json:"medium"`
	PayeeID     string  `json:"payee_id"`
	PayerID     string  `json:"payer_id"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
}

// Client talks to the sandbox REST API. Account balance reads are cached
// with a short TTL; transfers invalidate the affected entries.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	log      *slog.Logger
	balances *ttlcache.Cache[string, models.Amount]
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, models.Amount](balanceCacheTTL),
	)
	go cache.Start()

	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: requestTimeout},
		log:      slog.With("component", "nessie"),
		balances: cache,
	}
}

// GetCustomers lists every sandbox customer.
func (c *Client) GetCustomers(ctx context.Context) ([]Customer, error) {
	var out []Customer
	err := c.do(ctx, http.MethodGet, "/customers", nil, &out)
	return out, err
}

// GetCustomer fetches one customer by ID.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(customerID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCustomer provisions a sandbox customer. The sandbox requires a
// postal address; a fixed placeholder is used.
func (c *Client) CreateCustomer(ctx context.Context, firstName, lastName string) (*Customer, error) {
	req := Customer{
		FirstName: firstName,
		LastName:  lastName,
		Address: Address{
			StreetNumber: "123",
			StreetName:   "Main St",
			City:         "Boston",
			State:        "MA",
			Zip:          "02110",
		},
	}

	var resp struct {
		ObjectCreated Customer `json:"objectCreated"`
	}
	if err := c.do(ctx, http.MethodPost, "/customers", req, &resp); err != nil {
		return nil, err
	}
	return &resp.ObjectCreated, nil
}

// GetAccounts lists a customer's accounts.
func (c *Client) GetAccounts(ctx context.Context, customerID string) ([]Account, error) {
	var out []Account
	err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(customerID)+"/accounts", nil, &out)
	return out, err
}

// CreateAccount opens an account for a customer with the demo starting
// balance.
func (c *Client) CreateAccount(ctx context.Context, customerID, accountType string) (*Account, error) {
	if accountType == "" {
		accountType = "Checking"
	}
	req := Account{
		Type:     accountType,
		Nickname: accountType + " Account",
		Balance:  initialAccountBalance,
	}

	var resp struct {
		ObjectCreated Account `json:"objectCreated"`
	}
	if err := c.do(ctx, http.MethodPost, "/customers/"+url.PathEscape(customerID)+"/accounts", req, &resp); err != nil {
		return nil, err
	}
	return &resp.ObjectCreated, nil
}

// GetAccountBalance returns an account's balance in cents, served from the
// TTL cache when fresh.
func (c *Client) GetAccountBalance(ctx context.Context, accountID string) (models.Amount, error) {
	if item := c.balances.Get(accountID); item != nil {
		return item.Value(), nil
	}
	c.log.Debug("balance cache miss", "account", accountID)

	var acct Account
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(accountID), nil, &acct); err != nil {
		return 0, err
	}

	amt, err := models.AmountFromDollars(acct.Balance)
	if err != nil {
		return 0, fmt.Errorf("%w: bad balance value %v", ErrRequestFailed, acct.Balance)
	}
	c.balances.Set(accountID, amt, ttlcache.DefaultTTL)
	return amt, nil
}

// CreateTransfer moves money between two sandbox accounts. Cached balances
// for both sides are invalidated. Satisfies the reconciler's Ledger
// interface.
func (c *Client) CreateTransfer(ctx context.Context, payerID, payeeID string, amount models.Amount, description string) error {
	req := Transfer{
		Medium:      "balance",
		PayerID:     payerID,
		PayeeID:     payeeID,
		Amount:      amount.Dollars(),
		Description: description,
	}

	if err := c.do(ctx, http.MethodPost, "/transfers", req, nil); err != nil {
		return err
	}

	c.balances.Delete(payerID)
	c.balances.Delete(payeeID)
	return nil
}

// GetTransfers lists transfers involving an account.
func (c *Client) GetTransfers(ctx context.Context, accountID string) ([]Transfer, error) {
	var out []Transfer
	err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(accountID)+"/transfers", nil, &out)
	return out, err
}

// do performs one API call, attaching the key, encoding the body and
// decoding the response.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	u := c.baseURL + path + "?key=" + url.QueryEscape(c.apiKey)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s %s: status %d: %s",
			ErrRequestFailed, method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrRequestFailed, err)
	}
	return nil
}

// Close stops the balance cache's janitor.
func (c *Client) Close() {
	c.balances.Stop()
}
