package possync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// CentralClient is the edge's view of the central node.
type CentralClient interface {
	PushChanges(ctx context.Context, token string, changes []SyncChange) (ReceiveChangesResponse, error)
	FetchEntity(ctx context.Context, token, entityName, entityUuid, establishmentId string) (json.RawMessage, error)
	ListForEstablishment(ctx context.Context, token, entityName, establishmentId string) ([]json.RawMessage, error)
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient builds a client whose every call is bounded by timeout and
// paced to ratePerSecond requests (unlimited when <= 0).
func NewHTTPClient(baseURL string, timeout time.Duration, ratePerSecond int) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrCentralNotConfigured
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = ratePerSecond
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

func (c *HTTPClient) PushChanges(ctx context.Context, token string, changes []SyncChange) (ReceiveChangesResponse, error) {
	body, err := json.Marshal(ReceiveChangesRequest{Changes: changes})
	if err != nil {
		return ReceiveChangesResponse{}, err
	}
	var out ReceiveChangesResponse
	if err := c.do(ctx, "push changes", http.MethodPost, "/sync/receive-changes", nil, token, body, &out); err != nil {
		return ReceiveChangesResponse{}, err
	}
	return out, nil
}

func (c *HTTPClient) FetchEntity(ctx context.Context, token, entityName, entityUuid, establishmentId string) (json.RawMessage, error) {
	params := url.Values{}
	if establishmentId != "" {
		params.Set("establishmentId", establishmentId)
	}
	path := "/sync/data/" + url.PathEscape(entityName) + "/" + url.PathEscape(entityUuid)
	var out json.RawMessage
	if err := c.do(ctx, "fetch entity", http.MethodGet, path, params, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListForEstablishment lists all rows of an entity; an empty establishmentId is the unscoped (global) listing.
func (c *HTTPClient) ListForEstablishment(ctx context.Context, token, entityName, establishmentId string) ([]json.RawMessage, error) {
	params := url.Values{}
	if establishmentId != "" {
		params.Set("establishmentId", establishmentId)
	}
	path := "/sync/all-for-establishment/" + url.PathEscape(entityName)
	var out []json.RawMessage
	if err := c.do(ctx, "list entities", http.MethodGet, path, params, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, params url.Values, token string, body []byte, out any) error {
	if strings.TrimSpace(token) == "" {
		return ErrCredentialMissing
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransportError(op, err)
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(op, err)
	}
	if err := classifyStatus(op, resp.StatusCode, strings.TrimSpace(string(respBody))); err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
