// Package bridge carries messages between the engine and a presentation
// client over WebSocket.
package bridge

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("torii.bridge")

var ErrClosed = errors.New("bridge closed")

// Message is the envelope exchanged with clients.
type Message struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage wraps data under a fresh ID.
func NewMessage(typ string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s: %w", typ, err)
	}
	return Message{ID: uuid.NewString(), Type: typ, Data: raw}, nil
}

// sendBuffer is how many messages a client may fall behind before it is
// disconnected.
const sendBuffer = 64

const writeWait = 10 * time.Second

type subscriber struct {
	id int
	fn func(Message)
}

// client is one connection. Its writer goroutine owns every write after the
// upgrade, so broadcasting never waits on the network.
type client struct {
	conn *websocket.Conn
	send chan Message
}

// Bridge is an http.Handler that accepts WebSocket clients, broadcasts to
// all of them and hands received messages to subscribers. Clients must
// present the bridge token, and browsers may only connect from loopback
// pages.
type Bridge struct {
	mu          sync.Mutex
	clients     map[*client]struct{}
	subscribers []subscriber
	nextID      int
	onConnect   func() []Message
	listener    net.Listener
	closed      bool
	token       string
	upgrader    websocket.Upgrader
}

type Option func(*Bridge)

// WithGreeting sends the messages returned by greet to every new client
// before anything else.
func WithGreeting(greet func() []Message) Option {
	return func(b *Bridge) { b.onConnect = greet }
}

func New(opts ...Option) *Bridge {
	b := &Bridge{
		clients: make(map[*client]struct{}),
		token:   uuid.NewString(),
	}
	b.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Token is the secret clients pass as the token query parameter.
func (b *Bridge) Token() string { return b.token }

// checkOrigin admits clients that are not web pages, and pages served from
// this machine.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		// Editor webviews use their own schemes.
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Listen serves the bridge on addr (":0" picks a free port) and returns the
// WebSocket URL clients should dial, token included.
func (b *Bridge) Listen(addr string) (string, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("could not start listener: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		l.Close()
		return "", ErrClosed
	}
	b.listener = l
	b.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("/ws", b)
	go func() {
		if err := http.Serve(l, mux); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Errorf("bridge server: %v", err)
		}
	}()

	log.Infof("bridge listening on ws://%s/ws", l.Addr())
	return "ws://" + l.Addr().String() + "/ws?token=" + url.QueryEscape(b.token), nil
}

// ServeHTTP upgrades the connection and reads from it until it drops.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(b.token)) != 1 {
		log.Warningf("refusing client from %s: bad token", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("upgrade: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan Message, sendBuffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	// Greeting and registration happen together so no broadcast can slip
	// in between them.
	if b.onConnect != nil {
		for _, msg := range b.onConnect() {
			select {
			case c.send <- msg:
			default:
				log.Warning("greeting does not fit the send buffer")
			}
		}
	}
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	defer b.drop(c)

	go b.writeLoop(c)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				log.Warningf("dropping malformed message: %v", err)
				continue
			}
			return
		}
		b.deliver(msg)
	}
}

func (b *Bridge) writeLoop(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Warningf("write: %v", err)
			b.drop(c)
			return
		}
	}
}

// drop disconnects c once.
func (b *Bridge) drop(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(c)
}

func (b *Bridge) dropLocked(c *client) {
	if _, ok := b.clients[c]; !ok {
		return
	}
	delete(b.clients, c)
	close(c.send)
	c.conn.Close()
}

func (b *Bridge) deliver(msg Message) {
	b.mu.Lock()
	subs := append([]subscriber(nil), b.subscribers...)
	b.mu.Unlock()
	for _, s := range subs {
		s.fn(msg)
	}
}

// Subscribe registers fn for every message received from any client.
func (b *Bridge) Subscribe(fn func(Message)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subscribers = append(b.subscribers, subscriber{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s.id == id {
				b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Send queues msg for every client without waiting for the network.
// Clients too far behind to take it are disconnected.
func (b *Bridge) Send(msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for c := range b.clients {
		select {
		case c.send <- msg:
		default:
			log.Warningf("client %s is too slow, disconnecting", c.conn.RemoteAddr())
			b.dropLocked(c)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (b *Bridge) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close stops listening and disconnects every client.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	l := b.listener
	for c := range b.clients {
		b.dropLocked(c)
	}
	b.subscribers = nil
	b.mu.Unlock()

	if l != nil {
		return l.Close()
	}
	return nil
}
