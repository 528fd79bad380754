// Package server assembles feng's components into one running
// process: config, logging, the RTSP client registry, acceptor, worker
// pool and session timeout checker, the NATS ingest bridge, Prometheus
// metrics, and the read-only operational monitor. Startup builds every
// component, then Start opens the listeners and blocks; Shutdown stops
// everything in dependency order via a cancelled context and a
// sync.WaitGroup.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wenjiegit/feng/internal/auth"
	"github.com/wenjiegit/feng/internal/config"
	"github.com/wenjiegit/feng/internal/ingest"
	"github.com/wenjiegit/feng/internal/logging"
	"github.com/wenjiegit/feng/internal/metrics"
	"github.com/wenjiegit/feng/internal/monitor"
	"github.com/wenjiegit/feng/pkg/registry"
	"github.com/wenjiegit/feng/pkg/rtsp"
)

// nullRTCP is the RTCPSender used when no real RTCP stack is wired in;
// it logs rather than sends, since RTCP packet construction is out of
// scope here.
type nullRTCP struct{ logger *log.Logger }

func (n nullRTCP) SendByeNotice(s *rtsp.RTPSession) error {
	if n.logger != nil {
		n.logger.Printf("rtcp: would send BYE for session %s", s.ID())
	}
	return nil
}

// Server owns every long-lived component and their shutdown ordering.
type Server struct {
	cfg *config.Config

	logger     *log.Logger
	metrics    *metrics.EnhancedMetrics
	registry   *registry.Registry[*rtsp.Client]
	vhost      *rtsp.VirtualHost
	jwtManager *auth.JWTManager
	pool       *rtsp.WorkerPool
	timeout    *rtsp.TimeoutChecker
	monitorHub *monitor.Hub
	ingest     *ingest.Bridge

	rtspListener net.Listener
	acceptor     *rtsp.Acceptor
	sctpListener net.Listener
	sctpAcceptor *rtsp.Acceptor
	httpServer   *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Server from cfg. It connects the ingest bridge to NATS
// but opens no listeners; those are opened in Start.
func New(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	logger := logging.New("server")
	m := metrics.NewEnhancedMetrics(metrics.NewMetrics())

	vhost := &rtsp.VirtualHost{
		Name:         "default",
		AuthRequired: cfg.Auth.RequireAuth,
		JWTSecret:    cfg.Auth.JWTSecret,
	}

	var jwtManager *auth.JWTManager
	if cfg.Auth.RequireAuth {
		jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenExpirationSeconds)*time.Second)
	}

	reg := registry.New[*rtsp.Client]()
	pool := rtsp.NewWorkerPool(cfg.WorkerPool.Size)
	monitorHub := monitor.NewHub(logging.New("monitor"))

	timeoutChecker := rtsp.NewTimeoutChecker(nullRTCP{logger: logging.New("rtcp")}, cfg.LiveStreamByeTimeout(), cfg.StreamTimeout(), logging.New("timeout"))

	ingestBridge, err := ingest.NewBridge(ingest.Config{
		URL:             cfg.Ingest.NATSURL,
		MaxReconnects:   cfg.Ingest.MaxReconnects,
		ReconnectWait:   time.Duration(cfg.Ingest.ReconnectWaitMillis) * time.Millisecond,
		ReconnectJitter: time.Duration(cfg.Ingest.ReconnectJitterMillis) * time.Millisecond,
		MaxPingsOut:     cfg.Ingest.MaxPingsOut,
		PingInterval:    time.Duration(cfg.Ingest.PingIntervalMillis) * time.Millisecond,
	}, m, logging.New("ingest"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("server: creating ingest bridge: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		registry:   reg,
		vhost:      vhost,
		jwtManager: jwtManager,
		pool:       pool,
		timeout:    timeoutChecker,
		monitorHub: monitorHub,
		ingest:     ingestBridge,
		ctx:        ctx,
		cancel:     cancel,
	}

	s.setupHTTPServer()
	return s, nil
}

func (s *Server) setupHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/monitor/ws", func(w http.ResponseWriter, r *http.Request) {
		monitor.ServeWS(s.monitorHub, s.logger, w, r)
	})
	if s.cfg.Metrics.EnablePrometheus {
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/metrics/system", s.handleSystemStats)
	}
	if s.jwtManager != nil {
		mux.HandleFunc("/auth/token", s.handleGenerateToken)
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.MonitorPort),
		Handler: mux,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"rtsp": map[string]interface{}{
			"activeClients": s.registry.Len(),
			"connections":   s.vhost.ConnectionCount(),
		},
		"ingest": map[string]interface{}{
			"connected": s.ingest.IsConnected(),
		},
		"system": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSystemStats exposes EnhancedMetrics' gopsutil/runtime.metrics-backed
// stats dump, separate from the Prometheus /metrics scrape target.
func (s *Server) handleSystemStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.metrics.GetAccurateStats())
}

func (s *Server) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token, err := s.jwtManager.GenerateTestToken()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// Start opens the RTSP listener and the HTTP monitor/health listener,
// launches every background component, and blocks until a termination
// signal triggers Shutdown.
func (s *Server) Start() error {
	s.logger.Printf("starting feng RTSP server...")

	ln, err := rtsp.CreateOptimizedListener(fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.RTSPPort), s.cfg.Server.MaxAcceptBacklog)
	if err != nil {
		return fmt.Errorf("server: listening for RTSP: %w", err)
	}
	s.rtspListener = ln

	onAccepted := func(c *rtsp.Client) {
		s.metrics.AddConnection(c.ID, c.RemoteAddr())
		s.monitorHub.Publish(monitor.Event{Type: monitor.EventClientConnected, Timestamp: time.Now().UnixMilli(), ClientID: c.ID})
	}
	runClient := func(c *rtsp.Client) {
		c.Run(s.registry, s.cfg.StreamTimeout(), s.timeout.Check)
		s.metrics.RemoveConnection(c.ID)
		s.monitorHub.Publish(monitor.Event{Type: monitor.EventClientDisconnected, Timestamp: time.Now().UnixMilli(), ClientID: c.ID})
	}

	s.acceptor = &rtsp.Acceptor{
		Listener:   ln,
		VHost:      s.vhost,
		Pool:       s.pool,
		Registry:   s.registry,
		Logger:     logging.New("acceptor"),
		JWTManager: s.jwtManager,
		OnAccepted: onAccepted,
	}

	if s.cfg.Transport.EnableSCTP {
		sctpLn, err := rtsp.CreateOptimizedSCTPListener(fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.RTSPPort), s.cfg.Server.MaxAcceptBacklog)
		if err != nil {
			s.logger.Printf("sctp: listener unavailable, continuing TCP-only: %v", err)
		} else {
			s.sctpListener = sctpLn
			s.sctpAcceptor = &rtsp.Acceptor{
				Listener:   sctpLn,
				VHost:      s.vhost,
				Pool:       s.pool,
				Registry:   s.registry,
				Logger:     logging.New("acceptor-sctp"),
				JWTManager: s.jwtManager,
				OnAccepted: onAccepted,
			}
		}
	}

	s.metrics.StartCollection()
	s.pool.Start(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitorHub.Run()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptor.Serve(runClient); err != nil {
			s.logger.Printf("acceptor: stopped: %v", err)
		}
	}()

	if s.sctpAcceptor != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.sctpAcceptor.Serve(runClient); err != nil {
				s.logger.Printf("acceptor-sctp: stopped: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("monitor/health HTTP listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("http server error: %v", err)
		}
	}()

	s.waitForShutdown()
	return nil
}

func (s *Server) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	s.logger.Printf("received signal %v, shutting down", sig)
	s.Shutdown()
}

// Shutdown stops every component in dependency order: stop accepting
// new connections first, then unloop every registered client and stop
// the worker pool (which waits for each client's loop to finish), then
// the supporting services.
func (s *Server) Shutdown() {
	s.cancel()

	if s.rtspListener != nil {
		s.rtspListener.Close()
	}
	if s.sctpListener != nil {
		s.sctpListener.Close()
	}

	ctx, cancelHTTP := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelHTTP()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Printf("http server shutdown error: %v", err)
	}

	s.registry.ForEach(func(c *rtsp.Client) { c.Unloop() })
	s.pool.Stop()
	s.monitorHub.Shutdown()
	if err := s.ingest.Close(); err != nil {
		s.logger.Printf("ingest close error: %v", err)
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		s.logger.Printf("shutdown complete")
	case <-ctx.Done():
		s.logger.Printf("shutdown timed out")
	}
}
