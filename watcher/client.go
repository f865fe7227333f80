package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BurnEvent is one confirmed-or-pending item burn reported by the chain node.
type BurnEvent struct {
	Sequence   uint64 `json:"sequence"`
	InstanceID string `json:"instanceId"`
	Player     string `json:"player"`
	TxHash     string `json:"txHash"`
	Height     uint64 `json:"height"`
}

// NodeClient is the slice of the chain node's API the watcher depends on.
type NodeClient interface {
	LatestHeight(ctx context.Context) (uint64, error)
	FetchBurnEvents(ctx context.Context, after uint64, limit int) ([]BurnEvent, error)
}

// HTTPNodeClient talks JSON-RPC to a chain node over HTTP.
type HTTPNodeClient struct {
	url    string
	client *http.Client
}

// NewHTTPNodeClient constructs a client for the node at url.
func NewHTTPNodeClient(url string) (*HTTPNodeClient, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, fmt.Errorf("watcher: node url required")
	}
	return &HTTPNodeClient{
		url:    trimmed,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type nodeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type nodeResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// LatestHeight returns the node's current chain height.
func (c *HTTPNodeClient) LatestHeight(ctx context.Context) (uint64, error) {
	var result struct {
		Height uint64 `json:"height"`
	}
	if err := c.call(ctx, "chain_latestHeight", nil, &result); err != nil {
		return 0, err
	}
	return result.Height, nil
}

// FetchBurnEvents returns up to limit burn events with sequence > after, in
// sequence order.
func (c *HTTPNodeClient) FetchBurnEvents(ctx context.Context, after uint64, limit int) ([]BurnEvent, error) {
	params := []interface{}{map[string]interface{}{"after": after, "limit": limit}}
	var result struct {
		Events []BurnEvent `json:"events"`
	}
	if err := c.call(ctx, "chain_getBurnEvents", params, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

func (c *HTTPNodeClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(nodeRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("watcher: encode %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("watcher: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("watcher: call %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("watcher: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("watcher: %s returned status %d", method, resp.StatusCode)
	}
	var envelope nodeResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("watcher: decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("watcher: %s failed: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("watcher: decode %s result: %w", method, err)
		}
	}
	return nil
}
