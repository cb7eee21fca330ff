package rotatingproxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"deepagg/internal/support"
)

const DefaultForwardTimeout = 30 * time.Second

type Options struct {
	Host      string
	Port      int
	Transport support.ListenTransport
	Picker    Picker
	Reporter  FailureReporter
	Timeout   time.Duration
}

// Server is the forward proxy listener. CONNECT and absolute-URI requests
// are routed through a pool proxy, or directly while the pool is empty.
type Server struct {
	opts        Options
	handler     *proxyHandler
	listener    net.Listener
	httpServer  *http.Server
	http3Server *http3.Server
	closeOnce   sync.Once
}

func NewServer(opts Options) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultForwardTimeout
	}
	if opts.Transport == "" {
		opts.Transport = support.ListenTCP
	}
	return &Server{
		opts: opts,
		handler: &proxyHandler{
			picker:   opts.Picker,
			reporter: opts.Reporter,
			timeout:  opts.Timeout,
		},
	}
}

// Start binds the tcp listener and, for quic or http3 transports, an
// HTTP/3 listener on the same port number.
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return err
	}
	if s.opts.Transport.ServesHTTP3() {
		if err := s.startHTTP3Server(); err != nil {
			s.Stop()
			return err
		}
	}
	log.Info("forward proxy started", "addr", s.Addr(), "transport", s.opts.Transport)
	return nil
}

// Addr is the bound tcp address, useful when Port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) startHTTPServer() error {
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	s.listener = listener
	s.httpServer = server

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("forward proxy: serve error", "addr", address, "error", err)
		}
	}()

	return nil
}

func (s *Server) startHTTP3Server() error {
	port := s.opts.Port
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok && port == 0 {
		port = tcp.Port
	}
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(port))
	tlsConfig, err := forwardTLSConfig(s.opts.Host, time.Now())
	if err != nil {
		return err
	}

	enableDatagrams := s.opts.Transport.Datagrams()
	httpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodConnect {
			http.Error(w, "CONNECT is not supported over HTTP/3", http.StatusMethodNotAllowed)
			return
		}
		s.handler.ServeHTTP(w, r)
	})

	server := &http3.Server{
		Addr:            address,
		Handler:         httpHandler,
		TLSConfig:       tlsConfig,
		QUICConfig:      &quic.Config{EnableDatagrams: enableDatagrams},
		EnableDatagrams: enableDatagrams,
		IdleTimeout:     30 * time.Second,
		MaxHeaderBytes:  http.DefaultMaxHeaderBytes,
	}

	s.http3Server = server

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("forward proxy: http3 serve error", "addr", address, "error", err)
		}
	}()

	return nil
}

func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				log.Error("forward proxy shutdown", "error", err)
			}
		}
		if s.http3Server != nil {
			if err := s.http3Server.Close(); err != nil {
				log.Error("forward proxy http3 close", "error", err)
			}
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}
