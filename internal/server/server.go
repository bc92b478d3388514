// Package server runs the HTTP listener and drains it on shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/celerix-dev/tether/internal/log"
)

const (
	defaultMaxConns = 512
	defaultDrain    = 10 * time.Second
)

// Options tunes the listener. Zero values use the defaults.
type Options struct {
	Addr            string
	MaxConns        int
	ShutdownTimeout time.Duration
}

type Server struct {
	opts Options
	srv  *http.Server
	cert *tls.Certificate

	mu       sync.Mutex
	listener net.Listener
}

func New(h http.Handler, opts Options) *Server {
	if opts.MaxConns <= 0 {
		opts.MaxConns = defaultMaxConns
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultDrain
	}
	return &Server{
		opts: opts,
		srv: &http.Server{
			Addr:              opts.Addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// report generation can take most of the OpenAI timeout
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  2 * time.Minute,
		},
	}
}

// SetCertificate serves TLS with cert. Without one the server speaks plain
// HTTP and expects a terminating proxy in front.
func (s *Server) SetCertificate(cert tls.Certificate) {
	s.cert = &cert
}

// Addr returns the bound address once listening, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run serves until ctx is cancelled, then stops accepting and waits up to
// ShutdownTimeout for in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	if s.cert != nil {
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{*s.cert}, MinVersion: tls.VersionTLS12})
	}
	ln = limitListener(ln, s.opts.MaxConns)

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger := log.WithComponent("server")
	logger.Info().Str("addr", ln.Addr().String()).Int("max_conns", s.opts.MaxConns).Msg("Listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", s.opts.ShutdownTimeout).Msg("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("Drain incomplete, closing connections")
		_ = s.srv.Close()
		return err
	}
	<-errCh
	logger.Info().Msg("Server stopped")
	return nil
}

// limitListener blocks Accept while max connections are open.
func limitListener(l net.Listener, max int) net.Listener {
	return &limitedListener{Listener: l, sem: make(chan struct{}, max)}
}

type limitedListener struct {
	net.Listener
	sem chan struct{}
}

func (l *limitedListener) Accept() (net.Conn, error) {
	l.sem <- struct{}{}
	c, err := l.Listener.Accept()
	if err != nil {
		<-l.sem
		return nil, err
	}
	return &limitedConn{Conn: c, release: func() { <-l.sem }}, nil
}

type limitedConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *limitedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}
