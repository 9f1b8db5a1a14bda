package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/automoto/cubes-mp/shared/messages"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/automoto/cubes-mp/shared/protocol"
	"github.com/coder/websocket"
)

const (
	maxFrameSize     = 1 << 20
	handshakeTimeout = 5 * time.Second
	inboxSize        = 1024
	outboxSize       = 256
	eventBufferSize  = 64
)

var errSendQueueFull = errors.New("send queue full")

// ErrConnectRejected is returned by DialWebsocket when the server refuses the
// handshake. The server's reason follows it in the message.
var ErrConnectRejected = errors.New("connect rejected")

// wsConn is one websocket connection with its own writer goroutine.
type wsConn struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, out: make(chan []byte, outboxSize), done: make(chan struct{})}
}

func (c *wsConn) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionLost
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return errSendQueueFull
	}
}

func (c *wsConn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case data := <-c.out:
			if err := c.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
				c.shutdown(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *wsConn) shutdown(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}

// WebsocketServer accepts client connections over websockets. Each client
// must open with a ConnectRequest carrying a valid identity token.
type WebsocketServer struct {
	identity Identity
	tickRate int
	logger   *log.Logger

	mu    sync.Mutex
	conns map[netconfig.ClientID]*wsConn

	inbox  chan Datagram
	events chan PeerEvent

	listener net.Listener
	httpSrv  *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
}

// ListenWebsocket starts serving websocket connections on addr.
func ListenWebsocket(addr string, identity Identity, tickRate int, logger *log.Logger) (*WebsocketServer, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if _, err := identity.Token(0); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &WebsocketServer{
		identity: identity,
		tickRate: tickRate,
		logger:   logger,
		conns:    make(map[netconfig.ClientID]*wsConn),
		inbox:    make(chan Datagram, inboxSize),
		events:   make(chan PeerEvent, eventBufferSize),
		listener: ln,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.httpSrv = &http.Server{Handler: s, ReadHeaderTimeout: handshakeTimeout}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("[network] websocket server stopped: %v", err)
		}
	}()
	return s, nil
}

// Addr returns the address the server listens on.
func (s *WebsocketServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *WebsocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Printf("[network] accept: %v", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	id, err := s.handshake(conn)
	if err != nil {
		s.logger.Printf("[network] rejected %s: %v", r.RemoteAddr, err)
		s.reject(conn, err.Error(), "connection refused")
		return
	}

	c := newWSConn(conn)
	s.mu.Lock()
	if _, dup := s.conns[id]; dup {
		s.mu.Unlock()
		s.logger.Printf("[network] rejected %s: client %d already connected", r.RemoteAddr, id)
		s.reject(conn, fmt.Sprintf("client %d already connected", id), "client id already connected")
		return
	}
	s.conns[id] = c
	s.mu.Unlock()

	frame, err := protocol.EncodeMessage(messages.ConnectAccepted{ClientID: id, TickRate: s.tickRate})
	if err == nil {
		err = conn.Write(s.ctx, websocket.MessageBinary, frame)
	}
	if err != nil {
		s.lost(id, c, fmt.Errorf("send accept: %w", err))
		return
	}

	s.logger.Printf("[network] client %d connected from %s", id, r.RemoteAddr)
	s.events <- PeerEvent{Peer: id, Kind: PeerConnected}
	go c.writeLoop(s.ctx)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			s.lost(id, c, err)
			return
		}
		select {
		case s.inbox <- Datagram{From: id, Data: data}:
		default:
			// Inbox full; the reliable layer retransmits what matters.
		}
	}
}

// reject tells the peer why it was refused, then closes the connection.
func (s *WebsocketServer) reject(conn *websocket.Conn, reason, status string) {
	if frame, err := protocol.EncodeMessage(messages.ConnectRejected{Reason: reason}); err == nil {
		_ = conn.Write(s.ctx, websocket.MessageBinary, frame)
	}
	_ = conn.Close(websocket.StatusPolicyViolation, status)
}

func (s *WebsocketServer) handshake(conn *websocket.Conn) (netconfig.ClientID, error) {
	ctx, cancel := context.WithTimeout(s.ctx, handshakeTimeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("read connect request: %w", err)
	}
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		return 0, err
	}
	req, ok := msg.(messages.ConnectRequest)
	if !ok {
		return 0, fmt.Errorf("expected connect request, got message type %d", msg.MessageType())
	}
	if req.ClientID == netconfig.ServerID {
		return 0, fmt.Errorf("client id %d is reserved", req.ClientID)
	}
	if err := s.identity.Verify(req.ProtocolID, req.ClientID, req.Token); err != nil {
		return 0, err
	}
	return req.ClientID, nil
}

func (s *WebsocketServer) lost(id netconfig.ClientID, c *wsConn, cause error) {
	s.mu.Lock()
	current, ok := s.conns[id]
	if ok && current == c {
		delete(s.conns, id)
	}
	s.mu.Unlock()

	c.shutdown(websocket.StatusNormalClosure, "")
	if ok && current == c {
		if status := websocket.CloseStatus(cause); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			cause = nil
		}
		s.logger.Printf("[network] client %d disconnected: %v", id, cause)
		s.events <- PeerEvent{Peer: id, Kind: PeerLost, Err: cause}
	}
}

func (s *WebsocketServer) Send(to netconfig.ClientID, data []byte) error {
	s.mu.Lock()
	c, ok := s.conns[to]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("peer %d: %w", to, ErrConnectionLost)
	}
	return c.enqueue(data)
}

func (s *WebsocketServer) Receive() []Datagram {
	return drainChan(s.inbox)
}

func (s *WebsocketServer) Events() []PeerEvent {
	return drainChan(s.events)
}

func (s *WebsocketServer) Disconnect(peer netconfig.ClientID) error {
	s.mu.Lock()
	c, ok := s.conns[peer]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("peer %d: %w", peer, ErrConnectionLost)
	}
	c.shutdown(websocket.StatusNormalClosure, "disconnected by server")
	return nil
}

func (s *WebsocketServer) Close() error {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown(websocket.StatusGoingAway, "server shutting down")
	}
	s.cancel()
	return s.httpSrv.Close()
}

// WebsocketClient is the client side websocket transport. Its only peer is
// the server, addressed as netconfig.ServerID.
type WebsocketClient struct {
	conn     *wsConn
	tickRate int

	inbox  chan Datagram
	events chan PeerEvent
	ctx    context.Context
	cancel context.CancelFunc
}

// DialWebsocket connects to url and completes the identity handshake.
func DialWebsocket(ctx context.Context, url string, client netconfig.ClientID, identity Identity) (*WebsocketClient, error) {
	token, err := identity.Token(client)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	frame, err := protocol.EncodeMessage(messages.ConnectRequest{
		ClientID:   client,
		ProtocolID: identity.ProtocolID,
		Token:      token,
	})
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("failed to serialize connect request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("failed to send connect request: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("read connect reply: %w", err)
	}
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		conn.CloseNow()
		return nil, err
	}

	c := &WebsocketClient{
		conn:   newWSConn(conn),
		inbox:  make(chan Datagram, inboxSize),
		events: make(chan PeerEvent, eventBufferSize),
	}
	switch reply := msg.(type) {
	case messages.ConnectAccepted:
		c.tickRate = reply.TickRate
	case messages.ConnectRejected:
		conn.CloseNow()
		return nil, fmt.Errorf("%w: %s", ErrConnectRejected, reply.Reason)
	default:
		conn.CloseNow()
		return nil, fmt.Errorf("unexpected connect reply type %d", msg.MessageType())
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.events <- PeerEvent{Peer: netconfig.ServerID, Kind: PeerConnected}
	go c.conn.writeLoop(c.ctx)
	go c.readLoop()
	return c, nil
}

// TickRate returns the server tick rate announced in the handshake.
func (c *WebsocketClient) TickRate() int {
	return c.tickRate
}

func (c *WebsocketClient) readLoop() {
	for {
		_, data, err := c.conn.conn.Read(c.ctx)
		if err != nil {
			c.conn.shutdown(websocket.StatusNormalClosure, "")
			c.events <- PeerEvent{Peer: netconfig.ServerID, Kind: PeerLost, Err: err}
			return
		}
		select {
		case c.inbox <- Datagram{From: netconfig.ServerID, Data: data}:
		default:
		}
	}
}

func (c *WebsocketClient) Send(to netconfig.ClientID, data []byte) error {
	if to != netconfig.ServerID {
		return fmt.Errorf("peer %d: %w", to, ErrConnectionLost)
	}
	return c.conn.enqueue(data)
}

func (c *WebsocketClient) Receive() []Datagram {
	return drainChan(c.inbox)
}

func (c *WebsocketClient) Events() []PeerEvent {
	return drainChan(c.events)
}

func (c *WebsocketClient) Disconnect(netconfig.ClientID) error {
	return c.Close()
}

func (c *WebsocketClient) Close() error {
	c.conn.shutdown(websocket.StatusNormalClosure, "client closing")
	c.cancel()
	return nil
}

func drainChan[T any](ch chan T) []T {
	var out []T
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}
