package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxPayloadBytes    = 1 << 20
	contentTypeJSON    = "application/json"
)

var errMissingBaseURL = errors.New("storage: base url is required")

// StatusError reports an unexpected HTTP status from a remote log server.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("storage: %s %s: unexpected status %d", e.Method, e.URL, e.Code)
}

// HTTPBackendConfig describes how to reach a remote log server.
type HTTPBackendConfig struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

// HTTPBackend reads and writes log entries through another instance's
// /logs/:address/:index endpoints.
type HTTPBackend struct {
	baseURL *url.URL
	timeout time.Duration
	client  *http.Client
}

// NewHTTPBackend validates cfg and constructs an HTTPBackend.
func NewHTTPBackend(cfg HTTPBackendConfig) (*HTTPBackend, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("storage: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBackend{baseURL: parsed, timeout: timeout, client: client}, nil
}

// FindUpdate fetches the entry at (address, index). A 404 is the end-of-log signal.
func (backend *HTTPBackend) FindUpdate(ctx context.Context, address string, index int) (feed.Update, error) {
	if err := validateIndex(index); err != nil {
		return nil, err
	}
	requestCtx, cancel := context.WithTimeout(ctx, backend.timeout)
	defer cancel()

	endpoint := backend.entryURL(address, index)
	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	response, err := backend.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case response.StatusCode != http.StatusOK:
		return nil, &StatusError{Method: http.MethodGet, URL: endpoint, Code: response.StatusCode}
	}
	payload, err := io.ReadAll(io.LimitReader(response.Body, maxPayloadBytes))
	if err != nil {
		return nil, err
	}
	return feed.DecodeUpdate(payload), nil
}

// AddUpdate uploads update to (identity.Address, index).
func (backend *HTTPBackend) AddUpdate(ctx context.Context, identity feed.Identity, index int, update feed.Update) error {
	if err := validateIndex(index); err != nil {
		return err
	}
	payload, err := feed.EncodeUpdate(update)
	if err != nil {
		return err
	}
	requestCtx, cancel := context.WithTimeout(ctx, backend.timeout)
	defer cancel()

	endpoint := backend.entryURL(identity.Address, index)
	request, err := http.NewRequestWithContext(requestCtx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", contentTypeJSON)
	response, err := backend.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	switch {
	case response.StatusCode == http.StatusConflict:
		return ErrIndexTaken
	case response.StatusCode < 200 || response.StatusCode > 299:
		return &StatusError{Method: http.MethodPut, URL: endpoint, Code: response.StatusCode}
	}
	return nil
}

func (backend *HTTPBackend) entryURL(address string, index int) string {
	return backend.baseURL.JoinPath("logs", address, strconv.Itoa(index)).String()
}
