package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/progitto/TelegramMediaDownload/internal/config"
	"github.com/progitto/TelegramMediaDownload/internal/gate"
	"github.com/progitto/TelegramMediaDownload/internal/inbound"
	"github.com/progitto/TelegramMediaDownload/internal/logging"
	"github.com/progitto/TelegramMediaDownload/internal/observer"
	"github.com/progitto/TelegramMediaDownload/internal/pipeline"
	"github.com/progitto/TelegramMediaDownload/internal/state"
	"github.com/progitto/TelegramMediaDownload/internal/stats"
	"github.com/progitto/TelegramMediaDownload/internal/statsdb"
	"github.com/progitto/TelegramMediaDownload/internal/telegram"
)

const logo = `
  _____    _
 |_   _|__| |___ __ _ _ _ __ _ _ __
   | |/ -_) / -_) _' | '_/ _' | '  \
   |_|\___|_\___\__, |_| \__,_|_|_|_|
                |___/  ~~ media downloader ~~`

func newRunCmd(configPath *string, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Listen to the target chat and download media",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(*configPath, version, cmd.OutOrStdout())
		},
	}
}

func run(configPath, version string, stdout io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		var cerr *config.Error
		if errors.As(err, &cerr) {
			fmt.Fprintf(os.Stderr, "❌ configuration error: %v\n", cerr)
		}
		return err
	}

	logFile, err := logging.OpenDailyFile(cfg.LogDir)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := logging.New(logging.ParseLevel(cfg.LogLevel), stdout, logFile)

	fmt.Fprintln(stdout, logo)
	logger.Info("starting telegram media downloader", "version", version)
	if bi, ok := debug.ReadBuildInfo(); ok {
		var buildAttrs []any
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs", "vcs.revision", "vcs.time", "vcs.modified":
				buildAttrs = append(buildAttrs, s.Key, s.Value)
			}
		}
		if len(buildAttrs) > 0 {
			logger.Info("build info", buildAttrs...)
		}
	}
	logger.Info("download folder verified", "path", cfg.DownloadPath)

	counters := stats.Load(cfg.StatsFile, logger)
	rec := counters.Snapshot()
	logger.Info("statistics loaded", "file", cfg.StatsFile,
		"downloads", rec.Downloads, "success", rec.Success, "failed", rec.Failed)

	journal, err := statsdb.Open(cfg.HistoryDB, logger)
	if err != nil {
		logger.Error("failed to open transfer history", "path", cfg.HistoryDB, "err", err)
		return err
	}
	defer journal.Close()
	if n, err := journal.MarkInterrupted(context.Background(), time.Now()); err != nil {
		logger.Warn("failed to check for interrupted transfers", "err", err)
	} else if n > 0 {
		logger.Warn("transfers interrupted by a previous run", "count", n)
	}
	if err := journal.SetDaemonStartTime(time.Now()); err != nil {
		logger.Warn("failed to record start time", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bot, err := telegram.NewBot(cfg.Telegram.Token(), telegram.Options{
		APIURL:   cfg.Telegram.APIURL,
		ProxyURL: cfg.Telegram.Proxy,
		Logger:   logging.WithFloor(logger, slog.LevelWarn),
	})
	if err != nil {
		return err
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		logger.Error("failed to authenticate with telegram", "err", err)
		return fmt.Errorf("telegram login: %w", err)
	}
	logger.Info("logged in to telegram", "bot", "@"+me.Username)

	chat, err := bot.GetChat(ctx, cfg.Telegram.TargetChatID)
	if err != nil {
		logger.Error("could not access target chat", "chat_id", cfg.Telegram.TargetChatID, "err", err)
		return fmt.Errorf("chat access: %w", err)
	}
	title := chat.Title
	if title == "" {
		title = fmt.Sprint(chat.ID)
	}
	logger.Info("connected to chat", "title", title)

	if obs := cfg.ObservabilityHTTP; obs.Addr != "" {
		serveObservability(obs, logger)
	}

	st := state.New(time.Now())
	messenger := telegram.NewChatMessenger(bot, cfg.Telegram.TargetChatID)
	pipe := pipeline.New(cfg.DownloadPath, st, counters, journal,
		telegram.NewMediaSource(bot), messenger, logger)
	obs := observer.New(observer.Deps{
		Gate:            gate.New(cfg.Telegram.TargetChatID, cfg.Telegram.AllowedUser, logger),
		State:           st,
		Counters:        counters,
		History:         journal,
		Downloader:      pipe,
		Chat:            messenger,
		Menu:            bot,
		DownloadPath:    cfg.DownloadPath,
		DiskWarnPercent: cfg.DiskWarnPercent,
		LogPath:         logFile.Path,
	}, logger)

	logger.Info("listening for new media", "chat_id", cfg.Telegram.TargetChatID)
	logger.Info("downloads authorized only from user", "user", cfg.Telegram.AllowedUser)
	logger.Info("download path", "path", cfg.DownloadPath)
	logger.Info("log file", "path", logFile.Path())

	if err := bot.SendMessageTo(ctx, cfg.Telegram.TargetChatID, "🚀 Bot started, send media to download it."); err != nil {
		logger.Warn("failed to announce startup in chat", "err", err)
	}

	events := make(chan inbound.Event)
	go telegram.NewPoller(bot, logging.WithFloor(logger, slog.LevelWarn)).Run(ctx, events)
	obs.Run(ctx, events)

	logger.Info("shutting down")
	return nil
}

func serveObservability(obs config.ObservabilityHTTPConfig, logger *slog.Logger) {
	mux := http.NewServeMux()
	if obs.Pprof {
		// net/http/pprof registers on DefaultServeMux.
		mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
	}
	if obs.Metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	go func() {
		logger.Info("starting observability server", "addr", obs.Addr, "pprof", obs.Pprof, "metrics", obs.Metrics)
		if err := http.ListenAndServe(obs.Addr, mux); err != nil {
			logger.Error("observability server failed", "err", err)
		}
	}()
}
