package network

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/knirvcorp/collabtext/internal/logging"
	"github.com/knirvcorp/collabtext/internal/types"
)

const handshakePrefix = "COLLABTEXT"

// TCPTransport is a line-delimited-JSON-over-TCP Transport: each
// connection starts with a one-line handshake exchanging site ids, then
// carries one JSON-encoded Envelope per line. Adapted from the teacher's
// custom P2P NetworkManager (handshake format, bufio.Scanner read loop,
// mutex-protected connection map), generalized from ProtocolMessage
// broadcast/DHT bookkeeping to Envelope exchange between exactly the
// peers a replica has been told about.
type TCPTransport struct {
	ctx    context.Context
	cancel context.CancelFunc
	site   types.SiteID
	log    *logging.Logger

	listener net.Listener

	mu      sync.RWMutex
	conns   map[types.SiteID]net.Conn
	handler EnvelopeHandler
	closed  bool
}

// NewTCPTransport starts listening on listenAddr ("" or ":0" picks an
// ephemeral port) and returns a transport identified as site.
func NewTCPTransport(ctx context.Context, site types.SiteID, listenAddr string, log *logging.Logger) (*TCPTransport, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("collabtext: listen: %w", err)
	}
	c, cancel := context.WithCancel(ctx)
	t := &TCPTransport{
		ctx:      c,
		cancel:   cancel,
		site:     site,
		log:      log,
		listener: listener,
		conns:    make(map[types.SiteID]net.Conn),
	}
	go t.acceptLoop()
	return t, nil
}

// Addr returns the address this transport is listening on.
func (t *TCPTransport) Addr() string { return t.listener.Addr().String() }

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.ctx.Err() == nil && t.log != nil {
				t.log.Warn("accept error", zap.Error(err))
			}
			return
		}
		go t.serveInbound(conn)
	}
}

// Dial connects to a peer at address and performs the handshake. The
// remote site id learned from the handshake is returned so the caller
// can address Send calls to it.
func (t *TCPTransport) Dial(address string) (types.SiteID, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return "", fmt.Errorf("collabtext: dial %s: %w", address, err)
	}
	if _, err := fmt.Fprintf(conn, "%s:%s\n", handshakePrefix, t.site); err != nil {
		conn.Close()
		return "", err
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		conn.Close()
		return "", fmt.Errorf("collabtext: no handshake response from %s", address)
	}
	peer, err := parseHandshake(scanner.Text())
	if err != nil {
		conn.Close()
		return "", err
	}

	t.mu.Lock()
	t.conns[peer] = conn
	t.mu.Unlock()

	go t.readLoop(peer, conn, scanner)
	return peer, nil
}

func (t *TCPTransport) serveInbound(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		conn.Close()
		return
	}
	peer, err := parseHandshake(scanner.Text())
	if err != nil {
		conn.Close()
		return
	}
	if _, err := fmt.Fprintf(conn, "%s:%s\n", handshakePrefix, t.site); err != nil {
		conn.Close()
		return
	}

	t.mu.Lock()
	t.conns[peer] = conn
	t.mu.Unlock()

	t.readLoop(peer, conn, scanner)
}

func parseHandshake(line string) (types.SiteID, error) {
	parts := strings.SplitN(strings.TrimSpace(line), ":", 2)
	if len(parts) != 2 || parts[0] != handshakePrefix {
		return "", fmt.Errorf("collabtext: malformed handshake %q", line)
	}
	return types.SiteID(parts[1]), nil
}

func (t *TCPTransport) readLoop(peer types.SiteID, conn net.Conn, scanner *bufio.Scanner) {
	defer func() {
		conn.Close()
		t.mu.Lock()
		if t.conns[peer] == conn {
			delete(t.conns, peer)
		}
		t.mu.Unlock()
	}()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env types.Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			if t.log != nil {
				t.log.Warn("discarding malformed envelope", zap.Error(err))
			}
			continue
		}
		t.mu.RLock()
		handler := t.handler
		t.mu.RUnlock()
		if handler != nil {
			handler(peer, env)
		}
	}
}

// Broadcast sends env to every currently connected peer.
func (t *TCPTransport) Broadcast(env types.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	t.mu.RLock()
	conns := make([]net.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	var firstErr error
	for _, c := range conns {
		if _, err := fmt.Fprintf(c, "%s\n", data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Send delivers env to exactly one peer.
func (t *TCPTransport) Send(to types.SiteID, env types.Envelope) error {
	t.mu.RLock()
	conn, ok := t.conns[to]
	t.mu.RUnlock()
	if !ok {
		return types.ErrUnknownPeer
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(conn, "%s\n", data)
	return err
}

// OnReceive registers the callback invoked for every inbound Envelope.
func (t *TCPTransport) OnReceive(handler EnvelopeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Peers returns the site ids currently connected.
func (t *TCPTransport) Peers() []types.SiteID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.SiteID, 0, len(t.conns))
	for s := range t.conns {
		out = append(out, s)
	}
	return out
}

// Close stops accepting connections and closes every peer connection.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.cancel()
	conns := t.conns
	t.conns = make(map[types.SiteID]net.Conn)
	t.mu.Unlock()

	t.listener.Close()
	for _, c := range conns {
		c.Close()
	}
	return nil
}
