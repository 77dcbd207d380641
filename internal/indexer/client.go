// client.go - HTTP client for the indexer oracle and the label-list gateway.
//
// Proof-relevant reads bypass any staleness-tolerant cache: every request
// carries no-cache headers and the client never memoizes responses.

package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client queries an indexer's REST surface. It implements Oracle and
// LabelFetcher.
type Client struct {
	baseURL    string
	gatewayURL string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates an indexer client. gatewayURL is the content-addressed
// storage gateway used to resolve ASP label lists.
func NewClient(baseURL, gatewayURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("component", "indexer").Logger(),
	}
}

// bigString decodes decimal-encoded field elements from indexer JSON.
type bigString big.Int

func (b *bigString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid decimal field element %q", s)
	}
	*b = bigString(*v)
	return nil
}

func (b *bigString) Int() *big.Int {
	return (*big.Int)(b)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("indexer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var errNotFound = fmt.Errorf("indexer: not found")

// StateTreeLeaves fetches one page of commitment leaves, leaf index ascending.
func (c *Client) StateTreeLeaves(ctx context.Context, poolAddress, cursor string) (*LeafPage, error) {
	u := fmt.Sprintf("%s/pools/%s/state-tree/leaves", c.baseURL, url.PathEscape(poolAddress))
	if cursor != "" {
		u += "?cursor=" + url.QueryEscape(cursor)
	}
	var payload struct {
		Leaves     []bigString `json:"leaves"`
		NextCursor string      `json:"nextCursor"`
	}
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}
	page := &LeafPage{NextCursor: payload.NextCursor}
	for i := range payload.Leaves {
		page.Leaves = append(page.Leaves, payload.Leaves[i].Int())
	}
	return page, nil
}

// DepositByPrecommitment looks up a deposit by its precommitment hash.
func (c *Client) DepositByPrecommitment(ctx context.Context, poolAddress string, precommitment *big.Int) (*Deposit, error) {
	u := fmt.Sprintf("%s/pools/%s/deposits/%s", c.baseURL, url.PathEscape(poolAddress), precommitment.String())
	var payload struct {
		Precommitment   bigString `json:"precommitment"`
		Label           bigString `json:"label"`
		Amount          bigString `json:"amount"`
		TransactionHash string    `json:"transactionHash"`
		BlockNumber     uint64    `json:"blockNumber"`
		Timestamp       int64     `json:"timestamp"`
	}
	err := c.getJSON(ctx, u, &payload)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Deposit{
		Precommitment:   payload.Precommitment.Int(),
		Label:           payload.Label.Int(),
		Amount:          payload.Amount.Int(),
		TransactionHash: payload.TransactionHash,
		BlockNumber:     payload.BlockNumber,
		Timestamp:       payload.Timestamp,
	}, nil
}

// SpentNullifier looks up a spend event by nullifier hash.
func (c *Client) SpentNullifier(ctx context.Context, poolAddress string, nullifierHash *big.Int) (*SpendRecord, error) {
	u := fmt.Sprintf("%s/pools/%s/nullifiers/%s", c.baseURL, url.PathEscape(poolAddress), nullifierHash.String())
	var payload struct {
		NullifierHash   bigString `json:"nullifierHash"`
		RemainingAmount bigString `json:"remainingAmount"`
		TransactionHash string    `json:"transactionHash"`
		BlockNumber     uint64    `json:"blockNumber"`
		Timestamp       int64     `json:"timestamp"`
	}
	err := c.getJSON(ctx, u, &payload)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &SpendRecord{
		NullifierHash:   payload.NullifierHash.Int(),
		RemainingAmount: payload.RemainingAmount.Int(),
		TransactionHash: payload.TransactionHash,
		BlockNumber:     payload.BlockNumber,
		Timestamp:       payload.Timestamp,
	}, nil
}

// ASPRoot fetches the latest approved-label-set root and content id.
func (c *Client) ASPRoot(ctx context.Context) (*ASPRootInfo, error) {
	var payload struct {
		Root      bigString `json:"root"`
		ContentID string    `json:"contentId"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/asp/root", &payload); err != nil {
		return nil, err
	}
	return &ASPRootInfo{Root: payload.Root.Int(), ContentID: payload.ContentID}, nil
}

// PoolScope reads the pool contract's scope scalar.
func (c *Client) PoolScope(ctx context.Context, poolAddress string) (*big.Int, error) {
	u := fmt.Sprintf("%s/pools/%s/scope", c.baseURL, url.PathEscape(poolAddress))
	var payload struct {
		Scope bigString `json:"scope"`
	}
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}
	return payload.Scope.Int(), nil
}

// Labels resolves the ASP-approved label array behind a content identifier.
// The response shape is validated before the labels are trusted as tree
// input: the document must carry an array field, decimal-encoded.
func (c *Client) Labels(ctx context.Context, contentID string) ([]*big.Int, error) {
	u := fmt.Sprintf("%s/%s", c.gatewayURL, url.PathEscape(contentID))
	var payload struct {
		Labels *[]bigString `json:"labels"`
	}
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}
	if payload.Labels == nil {
		return nil, fmt.Errorf("label list %s has no labels array", contentID)
	}
	labels := make([]*big.Int, 0, len(*payload.Labels))
	for i := range *payload.Labels {
		labels = append(labels, (*payload.Labels)[i].Int())
	}
	c.log.Debug().Str("cid", contentID).Int("labels", len(labels)).Msg("fetched approved label list")
	return labels, nil
}
