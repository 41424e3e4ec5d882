// Package console serves the operator control surface over TCP.
//
// Each connection gets its own goroutine that reads one line at a time and
// hands it to a line processor (commands.Processor in production). Output is
// CRLF-terminated so plain telnet and netcat clients both render it.
//
// Features:
//   - Optional ziutek/telnet transport that handles option negotiation
//   - Connection cap with a polite "console full" reply
//   - IAC sequences consumed before input reaches the processor
//   - ServeStream for driving the same loop from stdin
package console

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	ztelnet "github.com/ziutek/telnet"
)

// LineProcessor answers one console line. A response of "BYE" ends the
// session.
type LineProcessor interface {
	ProcessCommand(line string) string
}

// Transport names accepted by ServerOptions.
const (
	TransportNative = "native"
	TransportZiutek = "ziutek"
)

const (
	defaultLineLimit = 256
	prompt           = "> "
)

// ServerOptions configures the listener.
type ServerOptions struct {
	// Port 0 picks a free port; see Addr.
	Port           int
	MaxConnections int
	Transport      string
	Name           string
	LineLimit      int
}

// Server accepts console sessions.
type Server struct {
	opts      ServerOptions
	processor LineProcessor

	listener net.Listener
	shutdown chan struct{}
	once     sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	sessions map[net.Conn]struct{}
}

// NewServer builds an idle server; call Start to listen.
func NewServer(opts ServerOptions, processor LineProcessor) *Server {
	if opts.LineLimit <= 0 {
		opts.LineLimit = defaultLineLimit
	}
	if opts.Name == "" {
		opts.Name = "tricorder"
	}
	return &Server{
		opts:      opts,
		processor: processor,
		shutdown:  make(chan struct{}),
		sessions:  make(map[net.Conn]struct{}),
	}
}

// Start begins listening and accepting in the background.
func (s *Server) Start() error {
	listener, err := listenWithReuse(fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("console: listen: %w", err)
	}
	s.listener = listener
	log.Printf("Console: listening on %s (%s transport)", listener.Addr(), s.transport())
	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions reports the number of connected operators.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stop closes the listener and every open session, then waits for the
// session goroutines to exit.
func (s *Server) Stop() {
	s.once.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.mu.Lock()
		for conn := range s.sessions {
			_ = conn.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *Server) transport() string {
	if s.opts.Transport == TransportZiutek {
		return TransportZiutek
	}
	return TransportNative
}

// listenWithReuse enables SO_REUSEADDR so a restart can rebind at once.
func listenWithReuse(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) { sockErr = setReuseAddr(fd) }); err != nil {
				return err
			}
			return sockErr
		},
	}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return net.Listen("tcp", addr)
	}
	return listener, nil
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Console: accept error: %v", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}

		switch s.admit(conn) {
		case admitClosing:
			_ = conn.Close()
			return
		case admitFull:
			_, _ = conn.Write([]byte("Console full. Try again later.\r\n"))
			_ = conn.Close()
			log.Printf("Console: rejected %s, max connections reached (%d)", conn.RemoteAddr(), s.opts.MaxConnections)
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(2 * time.Minute)
		}

		s.wg.Add(1)
		go s.handleClient(conn)
	}
}

type admission int

const (
	admitOK admission = iota
	admitFull
	admitClosing
)

// admit registers conn unless the server is stopping or the session cap is
// reached. Stop closes shutdown before it takes mu to close sessions, so a
// conn registered here is either refused or closed by Stop.
func (s *Server) admit(conn net.Conn) admission {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
		return admitClosing
	default:
	}
	if s.opts.MaxConnections > 0 && len(s.sessions) >= s.opts.MaxConnections {
		return admitFull
	}
	s.sessions[conn] = struct{}{}
	return admitOK
}

func (s *Server) handleClient(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	address := conn.RemoteAddr().String()
	log.Printf("Console: operator connected from %s", address)

	rw := net.Conn(conn)
	if s.opts.Transport == TransportZiutek {
		tconn, err := ztelnet.NewConn(conn)
		if err != nil {
			log.Printf("Console: failed to wrap connection from %s: %v", address, err)
			return
		}
		rw = tconn
	}

	sess := &session{
		reader:    bufio.NewReader(rw),
		writer:    bufio.NewWriter(rw),
		crlf:      true,
		lineLimit: s.opts.LineLimit,
	}
	reason := sess.serve(s.processor, fmt.Sprintf("%s operator console. Type HELP for commands.", s.opts.Name))
	log.Printf("Console: %s disconnected (%s)", address, reason)
}
