package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/broadcomms/meeting-ledger/internal/config"
	"github.com/broadcomms/meeting-ledger/internal/logging"
	"github.com/broadcomms/meeting-ledger/internal/relay"
	"github.com/broadcomms/meeting-ledger/internal/server"
	"github.com/broadcomms/meeting-ledger/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var opts config.ServerOptions
	flag.StringVar(&opts.ConfigFile, "config", "", "config file")
	flag.StringVar(&opts.Addr, "addr", "", "listen address (default :8080)")
	flag.StringVar(&opts.DataDir, "data", "", "badger directory; empty keeps meetings in memory")
	flag.StringVar(&opts.MeetingsFile, "meetings", "", "TOML file of meetings to seed")
	flag.Parse()

	logging.Init(slog.LevelInfo)

	if err := run(opts); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(opts config.ServerOptions) error {
	cfg, err := config.LoadServer(opts)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	seeds, err := config.LoadMeetingSeeds(cfg.MeetingsFile)
	if err != nil {
		return err
	}
	added, err := server.Seed(st, seeds)
	if err != nil {
		return err
	}
	if added > 0 {
		slog.Info("seeded meetings", "count", added)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub(nil)
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(hub, st, nil).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting signaling server", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(cfg *config.ServerConfig) (store.Store, error) {
	if cfg.DataDir == "" {
		slog.Info("keeping meetings in memory")
		return store.NewInmemStore(), nil
	}
	slog.Info("opening meeting store", "dir", cfg.DataDir)
	return store.NewBadgerStore(cfg.DataDir, nil)
}
