package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/mdhvn/rapid/internal/membership"
	"github.com/mdhvn/rapid/pkg/rapiderrors"
)

// MaxFrameSize bounds a single encoded message, matching the conservative
// ceiling the rest of the wire-protocol pack uses for gossip-style frames.
const MaxFrameSize = 1 << 20 // 1 MiB

// Conf holds the TCP sender's timeouts and retry budget. Defaults mirror
// the join/probe deadlines called out in the concurrency model: a short
// deadline for ordinary RPCs and probes, a longer one for the phase-2 join
// round trip, with a bounded retry count shared across call sites.
type Conf struct {
	DialTimeout       time.Duration
	RPCTimeout        time.Duration
	JoinPhase2Timeout time.Duration
	ProbeTimeout      time.Duration
	Retries           int
}

// DefaultConf returns the package's default timeouts and retry budget.
func DefaultConf() Conf {
	return Conf{
		DialTimeout:       2 * time.Second,
		RPCTimeout:        time.Second,
		JoinPhase2Timeout: 5 * time.Second,
		ProbeTimeout:      time.Second,
		Retries:           5,
	}
}

// TCPSender is a Sender backed by raw TCP with length-prefixed gob frames.
// It keeps one pooled connection per remote endpoint, lazily dialed on
// first use and torn down whenever an I/O error suggests the peer is no
// longer reachable on that connection; the next send redials.
type TCPSender struct {
	self membership.Endpoint
	conf Conf

	mu   sync.Mutex
	pool map[membership.Endpoint]net.Conn
}

// NewTCPSender builds a sender that presents as self to every peer.
func NewTCPSender(self membership.Endpoint, conf Conf) *TCPSender {
	return &TCPSender{
		self: self,
		conf: conf,
		pool: make(map[membership.Endpoint]net.Conn),
	}
}

func (s *TCPSender) connFor(to membership.Endpoint) (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, ok := s.pool[to]; ok {
		return conn, nil
	}
	conn, err := net.DialTimeout("tcp", to.String(), s.conf.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", to, rapiderrors.ErrUnavailable)
	}
	s.pool[to] = conn
	return conn, nil
}

// dropConn evicts a pooled connection after an I/O error on it, so the next
// call to connFor redials rather than reusing a dead socket.
func (s *TCPSender) dropConn(to membership.Endpoint, conn net.Conn) {
	s.mu.Lock()
	if s.pool[to] == conn {
		delete(s.pool, to)
	}
	s.mu.Unlock()
	conn.Close()
}

// Send performs one request/response round trip, retrying up to
// conf.Retries times on transient I/O errors before surfacing a failure.
func (s *TCPSender) Send(ctx context.Context, to membership.Endpoint, msg *Message) (*Message, error) {
	var lastErr error
	for attempt := 0; attempt <= s.conf.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		reply, err := s.sendOnce(ctx, to, msg)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("transport: send to %s failed after %d retries: %w", to, s.conf.Retries, lastErr)
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 50 * time.Millisecond
	if d > time.Second {
		d = time.Second
	}
	return d
}

func (s *TCPSender) sendOnce(ctx context.Context, to membership.Endpoint, msg *Message) (*Message, error) {
	conn, err := s.connFor(to)
	if err != nil {
		return nil, err
	}

	deadline := s.conf.RPCTimeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 {
			deadline = remaining
		}
	}
	conn.SetDeadline(time.Now().Add(deadline))

	data, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	if err := writeFrame(conn, data); err != nil {
		s.dropConn(to, conn)
		return nil, fmt.Errorf("transport: write to %s: %w", to, err)
	}

	respData, err := readFrame(conn)
	if err != nil {
		s.dropConn(to, conn)
		return nil, fmt.Errorf("transport: read from %s: %w", to, err)
	}

	reply, err := DecodeMessage(respData)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// SendBestEffort writes msg to to on a background goroutine without waiting
// for a reply, and logs any error instead of returning it; used by the
// broadcast layer for message types whose handler writes no reply.
func (s *TCPSender) SendBestEffort(to membership.Endpoint, msg *Message) {
	go func() {
		data, err := msg.Encode()
		if err == nil {
			var conn net.Conn
			if conn, err = s.connFor(to); err == nil {
				conn.SetWriteDeadline(time.Now().Add(s.conf.RPCTimeout))
				if err = writeFrame(conn, data); err != nil {
					s.dropConn(to, conn)
				}
			}
		}
		if err != nil {
			log.Printf("transport: best-effort send to %s failed: %v", to, err)
		}
	}()
}

// Close tears down every pooled connection.
func (s *TCPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for to, conn := range s.pool {
		conn.Close()
		delete(s.pool, to)
	}
	return nil
}

// TCPServer accepts inbound connections and dispatches each frame to a
// Handler, writing back whatever reply the handler returns.
type TCPServer struct {
	listener net.Listener
	handler  Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Listen binds addr and begins accepting connections, dispatching every
// decoded frame to handler. The server runs until Stop is called.
func Listen(addr string, handler Handler) (*TCPServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &TCPServer{
		listener: listener,
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the server's bound address.
func (s *TCPServer) Addr() net.Addr { return s.listener.Addr() }

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Printf("transport: accept error: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *TCPServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		data, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("transport: read from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			log.Printf("transport: decode from %s: %v", conn.RemoteAddr(), err)
			continue
		}

		remote, err := membership.ParseEndpoint(conn.RemoteAddr().String())
		if err != nil {
			remote = membership.Endpoint{}
		}

		reply, err := s.handler.HandleMessage(s.ctx, remote, msg)
		if err != nil {
			log.Printf("transport: handler error from %s: %v", conn.RemoteAddr(), err)
			continue
		}
		if reply == nil {
			continue
		}

		replyData, err := reply.Encode()
		if err != nil {
			log.Printf("transport: encode reply to %s: %v", conn.RemoteAddr(), err)
			continue
		}
		if err := writeFrame(conn, replyData); err != nil {
			log.Printf("transport: write reply to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// Stop closes the listener and waits for in-flight connections to drain.
func (s *TCPServer) Stop() error {
	s.cancel()
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func writeFrame(conn net.Conn, data []byte) error {
	if len(data) > MaxFrameSize {
		return rapiderrors.ErrMessageTooLarge
	}
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	_, err := conn.Write(frame)
	return err
}

func readFrame(conn net.Conn) ([]byte, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lengthBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length > MaxFrameSize {
		return nil, rapiderrors.ErrMessageTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(conn, data); err != nil {
		return nil, err
	}
	return data, nil
}

var _ Sender = (*TCPSender)(nil)
