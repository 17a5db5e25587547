// Package transport implements the wire contract against an HTTP control
// plane. One request per polling cycle; the poll loop owns retry pacing.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"rcsync/internal/types"
)

const (
	configEndpointPath = "/v0.7/config"
	apiKeyHeader       = "DD-API-KEY"
	defaultTimeout     = 15 * time.Second
)

var zdec, _ = zstd.NewReader(nil)

// HTTPError is a non-2xx control-plane reply.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// HTTP posts fetch requests to <endpoint>/v0.7/config. Responses may be
// zstd- or gzip-encoded; both are handled here so the fetcher only ever sees
// decoded JSON.
type HTTP struct {
	baseURL string
	apiKey  string
	cli     *http.Client
}

// NewHTTP builds a transport for the given endpoint. A nil client gets a
// bounded default timeout.
func NewHTTP(endpoint types.Endpoint, cli *http.Client) *HTTP {
	if cli == nil {
		cli = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTP{
		baseURL: strings.TrimRight(strings.TrimSpace(endpoint.URL), "/"),
		apiKey:  endpoint.APIKey,
		cli:     cli,
	}
}

func (t *HTTP) Fetch(ctx context.Context, req *types.FetchRequest) (*types.FetchResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+configEndpointPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", "zstd, gzip")
	if t.apiKey != "" {
		httpReq.Header.Set(apiKeyHeader, t.apiKey)
	}

	resp, err := t.cli.Do(httpReq)
	if err != nil {
		return nil, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: errMessage(body)}
	}

	body, err = decodeEncoding(resp.Header.Get("Content-Encoding"), body)
	if err != nil {
		return nil, err
	}
	var out types.FetchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, types.Err(types.ErrBadResponse, err, "")
	}
	return &out, nil
}

func decodeEncoding(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "":
		return body, nil
	case "zstd":
		return zdec.DecodeAll(body, nil)
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = zr.Close()
		}()
		return io.ReadAll(zr)
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

func errMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	if payload.Message != "" {
		return payload.Message
	}
	if payload.Error != "" {
		return payload.Error
	}
	// Plain-text bodies are kept short in logs.
	s := strings.TrimSpace(string(body))
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
