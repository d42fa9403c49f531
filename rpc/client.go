// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"net"

	"github.com/kortschak/jsonrpc2"
)

// Client is a JSON RPC 2 connection to a flipbook server bound to a
// single session.
type Client struct {
	session string
	conn    *jsonrpc2.Connection
}

// Dial returns a new client communicating on the provided network with the
// server at the given address. If session is empty, a new session is
// created and the client is bound to it.
func Dial(ctx context.Context, network, addr, session string, dialer net.Dialer) (*Client, error) {
	c := Client{session: session}
	var err error
	c.conn, err = jsonrpc2.Dial(ctx, jsonrpc2.NetDialer(network, addr, dialer), jsonrpc2.ConnectionOptions{})
	if err != nil {
		return nil, err
	}
	if c.session != "" {
		return &c, nil
	}
	var resp Message[map[string]any]
	err = c.conn.Call(ctx, NewSession, NewMessage("", None{})).Await(ctx, &resp)
	if err != nil {
		c.conn.Close()
		return nil, err
	}
	c.session = resp.Session
	return &c, nil
}

// Session returns the client's session ID.
func (c *Client) Session() string {
	return c.session
}

// Call invokes the target method with body in a message addressed to
// the client's session and waits for the response, storing the body of
// the response message in result if it is not nil.
// See [jsonrpc2.Connection.Call].
func Call[T, R any](ctx context.Context, c *Client, method string, body T, result *R) error {
	var resp Message[R]
	err := c.conn.Call(ctx, method, NewMessage(c.session, body)).Await(ctx, &resp)
	if err != nil {
		return err
	}
	if result != nil {
		*result = resp.Body
	}
	return nil
}

// Close sends a "close_session" call to the server, stops listening to
// requests and closes its connection.
// See [jsonrpc2.Connection.Close].
func (c *Client) Close() error {
	var ok string
	Call(context.Background(), c, CloseSession, None{}, &ok)
	return c.conn.Close()
}
