package ws

import (
	"context"
	"net/http"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/jarbas-hive/hivemind-go/hivelog"
	"github.com/jarbas-hive/hivemind-go/listener"
	"github.com/jarbas-hive/hivemind-go/observability"
)

// Server upgrades inbound HTTP connections into listener sessions: it
// decodes the accept-URI, performs the origin check, and drives each
// connection's read loop until the socket closes.
type Server struct {
	Listener        *listener.Listener
	AllowedOrigins  []string
	AllowNoOrigin   bool
	ReadBufferSize  int
	WriteBufferSize int
	MaxFrameBytes   int64
	IdleTimeout     time.Duration // Zero disables read deadlines.
	Log             *hivelog.Logger
}

// AuthorizationParam is the query parameter carrying the base64 accept-URI
// token when a client can't set a custom header (browser WebSocket clients).
// The same token in an Authorization header is accepted as an alternative.
const AuthorizationParam = "authorization"

func (s *Server) log() *hivelog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return hivelog.Default()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get(AuthorizationParam)
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	useragent, apiKey, err := listener.DecodeAcceptURI(token)
	if err != nil {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	c, err := Upgrade(w, r, UpgraderOptions{
		ReadBufferSize:  s.ReadBufferSize,
		WriteBufferSize: s.WriteBufferSize,
		CheckOrigin:     NewOriginChecker(s.AllowedOrigins, s.AllowNoOrigin),
	})
	if err != nil {
		s.log().Warnf("websocket upgrade failed: %v", err)
		return
	}
	if s.MaxFrameBytes > 0 {
		c.SetReadLimit(s.MaxFrameBytes)
	}

	sess, err := s.Listener.Accept(useragent, apiKey, &sender{c: c})
	if err != nil {
		s.log().Warnf("accept rejected for %s: %v", useragent, err)
		_ = c.CloseWithStatus(gws.ClosePolicyViolation, "rejected")
		return
	}
	s.readLoop(sess, c)
}

// readLoop feeds inbound frames to the listener until the socket errors or
// closes, then tells the listener to drop the session.
func (s *Server) readLoop(sess listener.SessionHandle, c *Conn) {
	for {
		mt, data, err := s.readOne(c)
		if err != nil {
			break
		}
		s.Listener.HandleFrame(sess, data, mt == gws.BinaryMessage)
	}
	s.Listener.Disconnect(sess, observability.CloseReasonTransport)
}

func (s *Server) readOne(c *Conn) (int, []byte, error) {
	ctx := context.Background()
	if s.IdleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.IdleTimeout)
		defer cancel()
	}
	return c.ReadMessage(ctx)
}
