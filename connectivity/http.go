package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxBody caps request and response bodies (10 MiB).
const maxBody int64 = 10 << 20

type httpRouteConfig struct {
	TimeoutMs   int64  `json:"timeout_ms"`
	ContentType string `json:"content_type"`
}

// HTTPFactory builds handlers that POST the payload to the route endpoint
// and return the response body. The route config may set timeout_ms
// (default 30s) and content_type (default application/json).
func HTTPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("connectivity/http: endpoint: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, nil, fmt.Errorf("connectivity/http: unsupported scheme %q", u.Scheme)
		}

		var cfg httpRouteConfig
		if len(config) > 0 {
			_ = json.Unmarshal(config, &cfg)
		}
		timeout := 30 * time.Second
		if cfg.TimeoutMs > 0 {
			timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}
		contentType := cfg.ContentType
		if contentType == "" {
			contentType = "application/json"
		}

		client := &http.Client{Timeout: timeout}
		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: request: %w", err)
			}
			req.Header.Set("Content-Type", contentType)

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: do: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: read: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, &ErrRemoteStatus{
					Endpoint: endpoint,
					Status:   resp.StatusCode,
					Body:     strings.TrimSpace(string(body)),
				}
			}
			return body, nil
		}
		return handler, client.CloseIdleConnections, nil
	}
}

// ServeHTTP exposes the router to HTTP routes of other processes: the
// request body is the payload of the service named by the last path
// segment. Mount it under a prefix, e.g. /rpc/.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	service := req.URL.Path
	if i := strings.LastIndex(service, "/"); i >= 0 {
		service = service[i+1:]
	}
	if service == "" {
		http.Error(w, "missing service", http.StatusNotFound)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(req.Body, maxBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	resp, err := r.Call(req.Context(), service, payload)
	if err != nil {
		var nf *ErrServiceNotFound
		status := http.StatusBadGateway
		if errors.As(err, &nf) {
			status = http.StatusNotFound
		}
		r.logger.WarnContext(req.Context(), "connectivity: http call failed", "service", service, "error", err)
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}
