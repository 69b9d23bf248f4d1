package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/replicheck/replicheck"
)

// HTTPClient runs transactions against a node exposing a POST /txn
// endpoint. The request body is the bare ordered micro-op list; the reply
// is {"type":"ok","value":[mops]} with reads resolved, or "fail"/"info"
// with an error string.
type HTTPClient struct {
	port int
	node string
	http *http.Client
}

var _ replicheck.Client = (*HTTPClient)(nil)

func NewHTTPClient(port int, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		port: port,
		http: &http.Client{Timeout: timeout},
	}
}

// txnEnvelope is the server's reply shape.
type txnEnvelope struct {
	Type  string           `json:"type"`
	Value []replicheck.Mop `json:"value,omitempty"`
	Error string           `json:"error,omitempty"`
}

func (c *HTTPClient) Open(ctx context.Context, node string) error {
	c.node = node
	return nil
}

func (c *HTTPClient) Invoke(ctx context.Context, txn *replicheck.Txn) replicheck.Result {
	body, err := json.Marshal(txn.Mops)
	if err != nil {
		return replicheck.Fail(errors.Wrap(err, "encode txn"))
	}
	url := fmt.Sprintf("http://%s:%d/txn", c.node, c.port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return replicheck.Fail(errors.Wrap(err, "build request"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return replicheck.Info(err)
		}
		return classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	// A 4xx is the server rejecting the request before applying it. A 5xx
	// means the server started work and something broke mid-flight.
	if resp.StatusCode >= 500 {
		return replicheck.Info(errors.Errorf("server error: %s", resp.Status))
	}
	if resp.StatusCode >= 400 {
		return replicheck.Fail(errors.Errorf("rejected: %s", resp.Status))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return replicheck.Info(errors.Wrap(err, "read reply"))
	}
	var env txnEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return replicheck.Info(errors.Wrap(err, "decode reply"))
	}
	switch env.Type {
	case "ok":
		return replicheck.OK(replicheck.Txn{Mops: env.Value})
	case "fail":
		return replicheck.Fail(errors.New(env.Error))
	case "info":
		return replicheck.Info(errors.New(env.Error))
	}
	return replicheck.Info(errors.Errorf("unknown reply type %q", env.Type))
}

func (c *HTTPClient) Teardown() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) Close() error { return c.Teardown() }
