package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"taskflow-realtime/config"
	"taskflow-realtime/domain"
	"taskflow-realtime/hub"
	"taskflow-realtime/ingress"
	"taskflow-realtime/pgnotify"
	"taskflow-realtime/protocol"
	ws "taskflow-realtime/websocket"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg.LogLevel)

	broadcaster := hub.New(hub.WithFailureThreshold(cfg.FailureThreshold))
	publisher := ingress.New(broadcaster)
	handler := protocol.NewHandler(broadcaster, protocol.WithPresence(cfg.PresenceNotifications))
	sockets := ws.NewServer(broadcaster, handler, socketOptions(cfg), cfg.AllowedOrigins)

	listenCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()
	if cfg.DatabaseURL != "" {
		startListener(listenCtx, cfg, publisher)
	}

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: newRouter(broadcaster, sockets, ingress.NewHandler(publisher, cfg.IngressToken)),
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	stopListener()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := broadcaster.Shutdown(ctx); err != nil {
		slog.Error("hub shutdown error", "error", err)
	}
}

func setupLogger(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func socketOptions(cfg config.Config) ws.Options {
	return ws.Options{
		SendBuffer:     cfg.SendBuffer,
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		MaxMessageSize: cfg.MaxMessageSize,
		RateBurst:      cfg.RateLimit.Burst,
		RateInterval:   cfg.RateLimit.Interval,
	}
}

// startListener runs the database event source in the background. The hub
// keeps serving sockets and HTTP ingress when the database is unreachable.
func startListener(ctx context.Context, cfg config.Config, publisher domain.Publisher) {
	pool, err := pgnotify.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database event source disabled", "error", err)
		return
	}
	listener := pgnotify.New(pool, cfg.NotifyChannel, publisher)
	go func() {
		defer pool.Close()
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("database event source stopped", "error", err)
		}
	}()
}

func newRouter(b domain.Broadcaster, sockets, events http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", sockets).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", statsHandler(b)).Methods(http.MethodGet)
	r.Handle("/api/v1/events", events)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statsHandler(b domain.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, clients := b.Stats()
		writeJSON(w, http.StatusOK, map[string]int{"rooms": rooms, "clients": clients})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}
