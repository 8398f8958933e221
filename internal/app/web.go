package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdobak/go-xerrors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/gps_receiver/internal/config"
	"github.com/relabs-tech/gps_receiver/internal/gps"
	"github.com/relabs-tech/gps_receiver/internal/logging"
	"github.com/relabs-tech/gps_receiver/internal/metrics"
	"github.com/relabs-tech/gps_receiver/internal/publish"
	"github.com/relabs-tech/gps_receiver/internal/state"
	"github.com/relabs-tech/gps_receiver/internal/tracestore"
)

// maxUploadBytes caps trace uploads.
const maxUploadBytes = 32 << 20

type WebOptions struct {
	StaticDir    string
	PushInterval time.Duration
	// Gatherer backs /metrics; the route is omitted when nil.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// Done ends open live streams on shutdown.
	Done <-chan struct{}
}

type server struct {
	engine *Engine
	opts   WebOptions
	log    *slog.Logger
}

// NewHandler returns the HTTP surface over e.
func NewHandler(e *Engine, opts WebOptions) http.Handler {
	if opts.PushInterval <= 0 {
		opts.PushInterval = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{engine: e, opts: opts, log: logger.With(slog.String("component", "web"))}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/live", s.handleLive)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("POST /api/connect", s.handleConnect)
	mux.HandleFunc("POST /api/disconnect", s.handleDisconnect)
	mux.HandleFunc("GET /api/recording", s.handleRecording)
	mux.HandleFunc("POST /api/recording/start", s.handleStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleStop)
	mux.HandleFunc("POST /api/recording/retry", s.handleRetry)
	mux.HandleFunc("GET /api/traces", s.handleListTraces)
	mux.HandleFunc("GET /api/traces/{id}", s.handleGetTrace)
	mux.HandleFunc("POST /api/traces/upload", s.handleUpload)
	mux.HandleFunc("GET /ws/live", s.handleLiveWS)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(opts.StaticDir)))
	}
	return mux
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("web: json encode error", slog.Any("error", err))
	}
}

// writeError maps engine errors to HTTP status codes.
func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, tracestore.ErrInvalidID):
		status = http.StatusBadRequest
	case errors.Is(err, state.ErrInvalidTransition),
		errors.Is(err, ErrAlreadyConnected),
		errors.Is(err, ErrTooManyDevices):
		status = http.StatusConflict
	case errors.Is(err, tracestore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gps.ErrConnection):
		status = http.StatusBadGateway
	case errors.Is(err, ErrUnsaved):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		s.log.Error("web: request failed", slog.Any("error", xerrors.New(err)))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *server) handleLive(w http.ResponseWriter, _ *http.Request) {
	noCache(w)
	s.writeJSON(w, http.StatusOK, s.engine.LiveState())
}

func (s *server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	noCache(w)
	s.writeJSON(w, http.StatusOK, map[string]any{"devices": s.engine.Devices()})
}

type connectRequest struct {
	Device  string `json:"device"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if err := s.engine.Connect(r.Context(), req.Device, req.Address, req.Port); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "device": req.Device})
}

func (s *server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.engine.DisconnectAll(ctx); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *server) handleRecording(w http.ResponseWriter, _ *http.Request) {
	noCache(w)
	s.writeJSON(w, http.StatusOK, s.engine.Recording())
}

func (s *server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.StartRecording(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Recording())
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, err := s.engine.StopRecording(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(state.Idle), "trace": id})
}

func (s *server) handleRetry(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.RetryUnsaved(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"traces": ids})
}

func (s *server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.ListTraces(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"traces": ids})
}

func (s *server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.GetTrace(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	defer file.Close()

	view, err := s.engine.ImportTrace(r.Context(), header.Filename, file)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, view)
}

// RunWeb serves the receiver UI and API until SIGINT/SIGTERM.
func RunWeb() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := tracestore.FromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("web: trace store ready", slog.String("driver", string(store.Driver())))

	var (
		col      *metrics.Collectors
		gatherer prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if col, err = metrics.New(reg); err != nil {
			return err
		}
		gatherer = reg
	}

	var sink FixSink
	if cfg.MQTTBroker != "" {
		client, err := publish.Connect(cfg.MQTTBroker, cfg.MQTTClientIDReceiver)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		pub := publish.New(client, cfg.TopicGPSPrefix, publish.DefaultQueueSize, logger)
		go func() { _ = pub.Run(ctx) }()
		sink = pub
		logger.Info("web: publishing fixes", slog.String("broker", cfg.MQTTBroker), slog.String("topic", publish.SubscribeFilter(cfg.TopicGPSPrefix)))
	}

	loc, err := time.LoadLocation(cfg.TraceTimezone)
	if err != nil {
		logger.Warn("web: unknown TRACE_TIMEZONE, using UTC", slog.String("tz", cfg.TraceTimezone))
		loc = time.UTC
	}

	engine, err := NewEngine(store, EngineConfig{
		MaxDevices:   cfg.MaxDevices,
		ReadTimeout:  time.Duration(cfg.GPSReadTimeout) * time.Millisecond,
		MaxLineBytes: cfg.GPSMaxLineBytes,
		DefaultBaud:  cfg.GPSSerialBaudRate,
		Location:     loc,
		Dial:         gps.Dialer{Timeout: time.Duration(cfg.GPSDialTimeout) * time.Millisecond}.Dial,
		Sink:         sink,
		Metrics:      col,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: NewHandler(engine, WebOptions{
			StaticDir:    cfg.WebStaticDir,
			PushInterval: time.Duration(cfg.LivePushInterval) * time.Millisecond,
			Gatherer:     gatherer,
			Logger:       logger,
			Done:         ctx.Done(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("web: server listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("web: shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = engine.DisconnectAll(shutdownCtx)
	if rec := engine.Recording(); rec.Status == state.Active {
		if id, err := engine.StopRecording(shutdownCtx); err == nil {
			logger.Info("web: saved active recording", slog.String("trace", id))
		}
	}
	if engine.Unsaved() > 0 {
		spillHeld(shutdownCtx, engine, cfg.TraceDir, logger)
	}
	return srv.Shutdown(shutdownCtx)
}

// spillHeld writes recordings the trace store refused to dir before exit.
func spillHeld(ctx context.Context, engine *Engine, dir string, logger *slog.Logger) {
	spill, err := tracestore.NewDirStore(dir)
	if err != nil {
		logger.Error("web: unsaved recordings lost", slog.Int("unsaved", engine.Unsaved()), slog.Any("error", xerrors.New(err)))
		return
	}
	ids, err := engine.SpillUnsaved(ctx, spill)
	for _, id := range ids {
		logger.Warn("web: spilled unsaved recording", slog.String("dir", dir), slog.String("trace", id))
	}
	if err != nil {
		logger.Error("web: unsaved recordings lost", slog.Int("unsaved", engine.Unsaved()), slog.Any("error", xerrors.New(err)))
	}
}
