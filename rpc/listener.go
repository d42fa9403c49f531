// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/flipbook/internal/xdg"
)

// RuntimeDir is the path within XDG_RUNTIME_DIR that unix sockets
// are created in if the unix network is used without an address.
const RuntimeDir = "flipbook"

// socketPath returns a path for a new unix socket in the flipbook runtime
// directory, creating the directory if necessary.
func socketPath() (string, error) {
	dir, err := xdg.Runtime(RuntimeDir)
	if err != nil {
		if !errors.Is(err, syscall.ENOENT) {
			return "", err
		}
		var ok bool
		dir, ok = xdg.RuntimeDir()
		if !ok {
			return "", errors.New("no xdg runtime directory")
		}
		dir = filepath.Join(dir, RuntimeDir)
		err = os.MkdirAll(dir, 0o700)
		if err != nil {
			return "", fmt.Errorf("failed to create runtime directory: %w", err)
		}
	}
	return filepath.Join(dir, fmt.Sprintf("rpc-%d.sock", os.Getpid())), nil
}

// newNetListener returns a new Listener that listens on a socket using the
// net package. An empty address is replaced with an ephemeral localhost port
// for tcp and a socket in the runtime directory for unix.
func newNetListener(ctx context.Context, network, address string, options jsonrpc2.NetListenOptions) (*netListener, error) {
	if address == "" {
		switch network {
		case "unix":
			var err error
			address, err = socketPath()
			if err != nil {
				return nil, err
			}
		case "tcp":
			address = "localhost:0"
		}
	}
	ln, err := options.NetListenConfig.Listen(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return &netListener{net: ln}, nil
}

// netListener is the implementation of jsonrpc2.Listener for connections made using the net package.
type netListener struct {
	net net.Listener
}

// Addr returns the NetListener's network address.
func (l *netListener) Addr() net.Addr {
	return l.net.Addr()
}

// Accept blocks waiting for an incoming connection to the listener.
func (l *netListener) Accept(context.Context) (io.ReadWriteCloser, error) {
	return l.net.Accept()
}

// Close will cause the listener to stop listening and removes any unix
// socket. It will not close any connections that have already been accepted.
func (l *netListener) Close() error {
	addr := l.net.Addr()
	err := l.net.Close()
	if addr.Network() == "unix" {
		rerr := os.Remove(addr.String())
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
			err = rerr
		}
	}
	return err
}

// Dialer returns a nil jsonrpc2.Dialer.
func (l *netListener) Dialer() jsonrpc2.Dialer {
	return nil
}
