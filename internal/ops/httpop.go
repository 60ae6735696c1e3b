package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rgthelen/alp/pkg/schema"
)

// HTTPOps returns the sandboxed HTTP pack. The gate is consulted before
// any socket is opened; non-2xx statuses are surfaced, not raised.
func HTTPOps() []Op {
	return []Op{
		NewHandler("http", "perform an HTTP request to an allow-listed host", opHTTP),
	}
}

func opHTTP(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	rawURL, ok := a["url"].(string)
	if !ok || rawURL == "" {
		return nil, schema.NewError(schema.ErrOp, "http requires 'url'")
	}
	if err := rt.Gate.AllowHTTP(rawURL); err != nil {
		return nil, err
	}

	method := strings.ToUpper(stringParam(a, "method", "GET"))

	var body io.Reader
	var contentType string
	if jsonBody, present := a["json"]; present && jsonBody != nil {
		payload, err := json.Marshal(jsonBody)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrOp, "http: cannot marshal json body: %v", err).WithCause(err)
		}
		body = strings.NewReader(string(payload))
		contentType = "application/json"
	} else if data, present := a["data"]; present && data != nil {
		body = strings.NewReader(stringify(data))
	}

	timeout := rt.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrHTTP, "http: cannot build request: %v", err).WithCause(err)
	}
	if headers, ok := a["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, stringify(v))
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, classifyHTTPError(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	maxBytes := rt.HTTPMaxBytes
	if maxBytes <= 0 {
		maxBytes = 1_000_000
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, classifyHTTPError(ctx, reqCtx, err)
	}

	return map[string]any{
		"status": float64(resp.StatusCode),
		"text":   string(bodyBytes),
	}, nil
}

func classifyHTTPError(ctx, reqCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return schema.NewError(schema.ErrCancelled, "http request cancelled").WithCause(err)
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		return schema.NewError(schema.ErrTimeout, "http request timed out").WithCause(err)
	}
	return schema.NewErrorf(schema.ErrHTTP, "http request failed: %v", err).WithCause(err)
}
