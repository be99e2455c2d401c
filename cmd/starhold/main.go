// Command starhold runs the simulation engine: a sqlite-backed world, a
// websocket notify hub, the stuck-mission rescue watcher and one player
// session ticking in real time.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"starhold/pkg/balance"
	"starhold/pkg/mission"
	"starhold/pkg/notify"
	"starhold/pkg/observability"
	"starhold/pkg/session"
	"starhold/pkg/store"
	"starhold/pkg/types"
)

var (
	flagDB       string
	flagBalance  string
	flagListen   string
	flagLogFmt   string
	flagLogLevel string
	flagProfile  string
	flagName     string
	flagTick     time.Duration
)

func main() {
	root := &cobra.Command{
		Use:          "starhold",
		Short:        "starhold space-empire simulation engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagLogFmt, "log-format", "console", "log format: console or json")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "run the engine for one player profile",
		RunE:  runServe,
	}
	serve.Flags().StringVar(&flagDB, "db", "data/starhold.db", "sqlite database path")
	serve.Flags().StringVar(&flagBalance, "balance", "", "optional YAML balance override file")
	serve.Flags().StringVar(&flagListen, "listen", ":8420", "websocket listen address")
	serve.Flags().StringVar(&flagProfile, "profile", "commander", "player profile id")
	serve.Flags().StringVar(&flagName, "name", "Commander", "player name for a fresh profile")
	serve.Flags().DurationVar(&flagTick, "tick", time.Second, "tick interval")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	log, err := observability.NewLogger(flagLogFmt, flagLogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := balance.Load(flagBalance)
	if err != nil {
		return err
	}

	if flagDB != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(flagDB), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := store.OpenSQLite(flagDB)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub(log)
	go hub.Run()
	defer hub.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	srv := &http.Server{Addr: flagListen, Handler: mux}
	go func() {
		log.Info("websocket hub listening", zap.String("addr", flagListen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", zap.Error(err))
		}
	}()

	sink := notify.Fanout{notify.Logger{Log: log}, hub}
	proc := mission.NewProcessor(db, cfg, log, sink)
	go proc.RunRescueWatcher(ctx, cfg.RescueGrace/4)

	if err := ensureProfile(ctx, db, log); err != nil {
		return err
	}

	sess, err := session.Open(ctx, db, cfg, log, sink, proc, flagProfile, time.Now())
	if err != nil {
		return err
	}
	log.Info("session open",
		zap.String("profile", flagProfile),
		zap.Float64("game_speed", cfg.GameSpeed),
		zap.Duration("tick", flagTick))

	sess.Run(ctx, flagTick)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("engine stopped")
	return nil
}

// ensureProfile creates a fresh homestead on first boot.
func ensureProfile(ctx context.Context, db store.RecordStore, log *zap.Logger) error {
	_, _, err := db.Profile(ctx, flagProfile)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	home := types.Coords{Galaxy: 1, System: 1, Position: 4}
	p := types.NewProfile(flagProfile, flagName, home)
	if err := db.CreateProfile(ctx, p); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	log.Info("new homestead founded",
		zap.String("profile", flagProfile), zap.String("coords", home.String()))
	return nil
}
