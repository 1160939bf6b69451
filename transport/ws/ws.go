// Package ws adapts gorilla/websocket to the listener core's connection
// lifecycle: it decodes the accept-URI, upgrades or dials the socket, and
// pumps frames between it and a listener.Listener.
package ws

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn wraps one gorilla/websocket connection and makes its blocking
// read/write calls respect a context deadline or cancellation, which the
// library's own API doesn't offer directly.
type Conn struct {
	c *websocket.Conn
}

// UpgraderOptions exposes a small set of websocket upgrader controls.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// Upgrade upgrades an inbound HTTP request into a websocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Conn, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// DialOptions provides optional headers and dialer overrides for an
// outbound mesh link to an upstream broker or a peer node.
type DialOptions struct {
	Header http.Header
	Dialer *websocket.Dialer
}

// Dial opens an outbound websocket connection, used to establish the link to
// an upstream broker (PROPAGATE/ESCALATE's destination) or a peer mesh node.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*Conn, *http.Response, error) {
	d := websocket.Dialer{}
	if opts.Dialer != nil {
		d = *opts.Dialer
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); d.HandshakeTimeout == 0 || d.HandshakeTimeout > until {
			d.HandshakeTimeout = until
		}
	}
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if err != nil {
		return nil, resp, err
	}
	return &Conn{c: c}, resp, nil
}

// SetReadLimit forwards the read limit to the underlying websocket.
func (c *Conn) SetReadLimit(n int64) { c.c.SetReadLimit(n) }

// watchDeadline arms setDeadline from ctx's deadline (if any) and, while
// armed, wakes a blocked read or write early on ctx cancellation by forcing
// the deadline to now. The returned func disarms the watch; callers defer it
// immediately after the blocking call returns.
func watchDeadline(ctx context.Context, setDeadline func(time.Time) error) (time.Time, bool, func()) {
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = setDeadline(deadline)
	} else {
		_ = setDeadline(time.Time{})
	}
	if ctx.Done() == nil {
		return deadline, hasDeadline, func() {}
	}
	var active atomic.Bool
	active.Store(true)
	stop := context.AfterFunc(ctx, func() {
		if active.Load() {
			_ = setDeadline(time.Now())
		}
	})
	return deadline, hasDeadline, func() { active.Store(false); stop() }
}

// resolveTimeout maps a net.Error timeout raised by watchDeadline's forced
// deadline back to ctx.Err(), or to context.DeadlineExceeded once a real
// ctx.Deadline() has actually elapsed, so callers see a stable error contract
// regardless of which path tripped the underlying I/O timeout.
func resolveTimeout(err error, ctx context.Context, deadline time.Time, hasDeadline bool) error {
	ne, ok := err.(net.Error)
	if !ok || !ne.Timeout() {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if hasDeadline && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}

// ReadMessage reads one websocket frame, honoring ctx's deadline and cancellation.
func (c *Conn) ReadMessage(ctx context.Context) (messageType int, data []byte, err error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	deadline, hasDeadline, disarm := watchDeadline(ctx, c.c.SetReadDeadline)
	defer disarm()

	mt, b, err := c.c.ReadMessage()
	if err != nil {
		return 0, nil, resolveTimeout(err, ctx, deadline, hasDeadline)
	}
	return mt, b, nil
}

// WriteMessage writes one websocket frame, honoring ctx's deadline and cancellation.
func (c *Conn) WriteMessage(ctx context.Context, messageType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline, disarm := watchDeadline(ctx, c.c.SetWriteDeadline)
	defer disarm()

	if err := c.c.WriteMessage(messageType, data); err != nil {
		return resolveTimeout(err, ctx, deadline, hasDeadline)
	}
	return nil
}

// Ping sends a control-frame ping, which lets a caller detect a dead
// connection before its next ordinary write.
func (c *Conn) Ping(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	return c.c.WriteControl(websocket.PingMessage, nil, deadline)
}

// Close closes the websocket connection without a close frame.
func (c *Conn) Close() error { return c.c.Close() }

// CloseWithStatus sends a close control frame before closing.
func (c *Conn) CloseWithStatus(code int, text string) error {
	_ = c.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(2*time.Second))
	return c.c.Close()
}

// Underlying exposes the raw gorilla/websocket connection.
func (c *Conn) Underlying() *websocket.Conn { return c.c }
