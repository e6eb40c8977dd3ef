// Package client calls a polis-rpc server over its Unix domain socket.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/polisai/polis-rpc/pkg/domain"
)

// DefaultTimeout bounds a call when the context carries no deadline.
const DefaultTimeout = 2 * time.Second

// Client sends requests to a single socket path. Each call uses its own
// connection because the server answers once and closes.
type Client struct {
	socket  string
	timeout time.Duration
	dialer  net.Dialer
	nextID  atomic.Int64
}

// New returns a client for socket. A non-positive timeout selects DefaultTimeout.
func New(socket string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{socket: socket, timeout: timeout}
}

// Call invokes method with params and returns the decoded response. A
// response carrying an error body is returned with a nil error; use
// Response.Err to inspect it. paramTypes may be nil.
func (c *Client) Call(ctx context.Context, method string, params []any, paramTypes []string) (domain.Response, error) {
	id := c.nextID.Add(1)
	req := domain.Request{
		Method:     method,
		Params:     params,
		ParamTypes: paramTypes,
		ID:         json.RawMessage(strconv.FormatInt(id, 10)),
	}
	if req.Params == nil {
		req.Params = []any{}
	}
	return c.Do(ctx, req)
}

// Do sends a prepared request.
func (c *Client) Do(ctx context.Context, req domain.Request) (domain.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return domain.Response{}, fmt.Errorf("dial %s: %w", c.socket, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return domain.Response{}, fmt.Errorf("send request: %w", err)
	}

	// The server closes the connection after writing its response.
	data, err := io.ReadAll(conn)
	if err != nil {
		return domain.Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp domain.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Invoke calls method and decodes its result into out. Error bodies are
// returned as errors matching the domain sentinels.
func (c *Client) Invoke(ctx context.Context, method string, out any, params ...any) error {
	resp, err := c.Call(ctx, method, params, nil)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}
