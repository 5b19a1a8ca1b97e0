// Package httpclient is a small JSON-aware HTTP helper shared by the remote
// service clients.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a request when neither the caller's context nor the
// RequestParam sets a deadline.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response body ends up in the error.
const maxErrorBody = 4 << 10

// IClient performs one request described by a RequestParam.
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam describes a request and where its JSON response goes.
//
// Body may be nil, an io.Reader or []byte (sent as is), or any other value,
// which is JSON encoded. Response, when non-nil, receives the decoded JSON
// body of a successful response.
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	Timeout time.Duration
}

// StatusError is returned for responses with a status code of 400 or above.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP request failed with status %d: %s", e.StatusCode, e.Body)
}

// HTTPClient implements IClient on top of net/http. The underlying
// http.Client has no timeout of its own; every request is bounded by its
// context instead.
type HTTPClient struct {
	client         *http.Client
	defaultTimeout time.Duration
}

// NewHTTPClient returns a client that falls back to DefaultTimeout.
func NewHTTPClient() IClient {
	return &HTTPClient{client: &http.Client{}, defaultTimeout: DefaultTimeout}
}

// DoHTTPRequest sends the request and decodes the response into
// requestParam.Response.
func (c *HTTPClient) DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error {
	if requestParam == nil {
		return errors.New("request param is nil")
	}

	timeout := requestParam.Timeout
	if timeout <= 0 {
		if _, ok := ctx.Deadline(); !ok {
			timeout = c.defaultTimeout
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, isJSON, err := encodeBody(requestParam.Body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, requestParam.Method, requestParam.RequestURI, body)
	if err != nil {
		return err
	}
	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range requestParam.Header {
		req.Header.Set(k, v)
	}
	if requestParam.Response != nil && req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	if requestParam.Response == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(requestParam.Response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func encodeBody(body interface{}) (io.Reader, bool, error) {
	switch b := body.(type) {
	case nil:
		return nil, false, nil
	case io.Reader:
		return b, false, nil
	case []byte:
		return bytes.NewReader(b), false, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, false, err
		}
		return bytes.NewReader(data), true, nil
	}
}
