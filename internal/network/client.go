package network

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"krill/internal/protocol"
)

// DefaultDialTimeout bounds how long a client waits to establish the TCP
// connection.
const DefaultDialTimeout = 100 * time.Millisecond

// ErrNoResponse means the server closed the connection before answering.
var ErrNoResponse = errors.New("no response from server")

// ServerError is a failure response surfaced by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// UnexpectedResponseError means the server answered with a response shape
// the request cannot have produced.
type UnexpectedResponseError struct {
	Response protocol.Response
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response %s", e.Response.String())
}

// Client is one connection to the server. Each call writes a single
// request and reads exactly one response.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to addr with the default timeout.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, DefaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Get fetches the value for key. The second return is false on a miss.
func (c *Client) Get(key string) (string, bool, error) {
	resp, err := c.roundTrip(protocol.Request{Op: protocol.OpGet, Key: key})
	if err != nil {
		return "", false, err
	}
	if !resp.HasValue {
		return "", false, nil
	}
	return resp.Value, true, nil
}

// Set stores value under key.
func (c *Client) Set(key, value string) error {
	resp, err := c.roundTrip(protocol.Request{Op: protocol.OpSet, Key: key, Value: value})
	if err != nil {
		return err
	}
	if resp.HasValue {
		return &UnexpectedResponseError{Response: resp}
	}
	return nil
}

// Rm removes key. A miss surfaces as a ServerError carrying the server's
// message.
func (c *Client) Rm(key string) error {
	resp, err := c.roundTrip(protocol.Request{Op: protocol.OpRemove, Key: key})
	if err != nil {
		return err
	}
	if resp.HasValue {
		return &UnexpectedResponseError{Response: resp}
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(req protocol.Request) (protocol.Response, error) {
	if err := protocol.WriteRequest(c.conn, req); err != nil {
		return protocol.Response{}, fmt.Errorf("send request: %w", err)
	}
	resp, ok, err := protocol.ReadResponse(c.r)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("read response: %w", err)
	}
	if !ok {
		return protocol.Response{}, ErrNoResponse
	}
	if resp.Status == protocol.StatusFailure {
		return protocol.Response{}, &ServerError{Message: resp.Message}
	}
	return resp, nil
}
