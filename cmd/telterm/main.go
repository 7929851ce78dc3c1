package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/telterm/internal/api"
	"github.com/user/telterm/internal/bookmarks"
	"github.com/user/telterm/internal/config"
	"github.com/user/telterm/internal/db"
	"github.com/user/telterm/internal/deeplink"
	"github.com/user/telterm/internal/hub"
	"github.com/user/telterm/internal/metrics"
	"github.com/user/telterm/internal/pty"
	"github.com/user/telterm/internal/server"
	"github.com/user/telterm/internal/session"
)

const sessionShutdownTimeout = 3 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("telterm failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	links := deeplink.FromArgs(cfg.Links)

	ln, err := net.Listen("tcp", server.ListenAddr(cfg.Port))
	if err != nil {
		// Another instance owns the port: hand it our links and leave.
		if len(links) > 0 {
			fwdErr := forwardLinks(ctx, "http://"+server.ListenAddr(cfg.Port), cfg.Token, cfg.Links)
			if fwdErr == nil {
				slog.Info("forwarded telnet links to running instance", "count", len(links))
				return nil
			}
			slog.Warn("failed to forward telnet links", "error", fwdErr)
		}
		return fmt.Errorf("listen: %w", err)
	}

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer database.Close()
	slog.Info("history database ready", "path", database.Path())

	history := db.NewSessionLogRepo(database.SQL())
	if n, err := history.MarkRunningAsAbandoned(ctx); err != nil {
		slog.Warn("failed to close abandoned history rows", "error", err)
	} else if n > 0 {
		slog.Info("closed abandoned history rows", "count", n)
	}

	store, err := bookmarks.NewStore(cfg.BookmarksDir)
	if err != nil {
		_ = ln.Close()
		return err
	}

	queue := deeplink.NewQueue()
	queue.Push(links...)

	m := metrics.New()

	mgr, err := pty.NewManager(pty.Options{
		Command:     cfg.TelnetCommand,
		DefaultCols: cfg.DefaultCols,
		DefaultRows: cfg.DefaultRows,
	})
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer mgr.Close()

	svc := session.New(mgr, history, m, session.Options{AutoReap: cfg.AutoReap})
	h := hub.New(cfg.Token, hub.Options{Metrics: m})
	h.SetController(svc)
	h.SetActionQueue(queue)
	svc.SetBroadcaster(h)
	mgr.SetEventHandler(svc.HandleEvent)
	go h.Run(ctx)

	srv := server.New(cfg, server.Handlers{
		WebSocket: h.HandleWebSocket,
		API:       api.NewRouter(svc, store, queue, h, cfg.Token),
		Metrics:   m.Handler(),
	})

	if cfg.PrintToken {
		fmt.Printf("\ntelterm running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)
	} else {
		fmt.Printf("\ntelterm running at http://localhost:%d (token in %s)\n\n", cfg.Port, cfg.ConfigPath)
	}

	serveErr := srv.Serve(ctx, ln)

	// Record every live session as killed while the database is still
	// open; the deferred mgr.Close and database.Close run after this.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), sessionShutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("sessions did not close in time", "error", err)
	}
	return serveErr
}
