// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package xform provides optional wire transforms applied to the control
// socket after the HELLO/WELCOME handshake has settled what both ends
// agreed to. Nothing in this package may run ahead of that negotiation: an
// agent and broker started with mismatched, unchecked --compress flags
// must still interoperate, which rules out wrapping the socket purely off
// a local CLI flag before any bytes cross the wire.
package xform

import (
	"net"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// CompConn upgrades an already-negotiated net.Conn to snappy framing. Every
// Write is flushed immediately so a frame never sits buffered waiting for
// more application data, matching the control socket's one-write-per-frame
// usage.
type CompConn struct {
	raw    net.Conn
	writer *snappy.Writer
	reader *snappy.Reader
}

// Upgrade switches conn to snappy-compressed reads and writes. Call it only
// after both ends of the control socket have agreed, over WELCOME, that
// compression is in effect from this point forward.
func Upgrade(conn net.Conn) *CompConn {
	return &CompConn{
		raw:    conn,
		writer: snappy.NewBufferedWriter(conn),
		reader: snappy.NewReader(conn),
	}
}

func (c *CompConn) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	return n, err
}

func (c *CompConn) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	if err != nil {
		return n, errors.WithStack(err)
	}
	if err := c.writer.Flush(); err != nil {
		return n, errors.WithStack(err)
	}
	return n, nil
}

func (c *CompConn) Close() error                       { return c.raw.Close() }
func (c *CompConn) LocalAddr() net.Addr                { return c.raw.LocalAddr() }
func (c *CompConn) RemoteAddr() net.Addr               { return c.raw.RemoteAddr() }
func (c *CompConn) SetDeadline(t time.Time) error      { return c.raw.SetDeadline(t) }
func (c *CompConn) SetReadDeadline(t time.Time) error  { return c.raw.SetReadDeadline(t) }
func (c *CompConn) SetWriteDeadline(t time.Time) error { return c.raw.SetWriteDeadline(t) }

// IfEnabled upgrades conn when enabled is true, otherwise returns conn
// unchanged. The caller supplies the already-negotiated decision — never a
// raw, unchecked CLI flag — so both ends of a connection end up agreeing on
// whether compression is in effect.
func IfEnabled(conn net.Conn, enabled bool) net.Conn {
	if !enabled {
		return conn
	}
	return Upgrade(conn)
}
