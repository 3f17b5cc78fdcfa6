package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/gridfill/internal/assistant"
	"github.com/JonMunkholm/gridfill/internal/audit"
	"github.com/JonMunkholm/gridfill/internal/browser"
	"github.com/JonMunkholm/gridfill/internal/config"
	"github.com/JonMunkholm/gridfill/internal/core"
	"github.com/JonMunkholm/gridfill/internal/grid"
	"github.com/JonMunkholm/gridfill/internal/logging"
	"github.com/JonMunkholm/gridfill/internal/watch"
	"github.com/JonMunkholm/gridfill/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gridfill exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	profile, err := config.LoadProfile(cfg.Grid.Profile)
	if err != nil {
		return err
	}
	slog.Info("grid profile loaded", "name", profile.Name, "path", cfg.Grid.Profile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataset := core.NewDataset()
	engine, err := core.NewEngine(engineConfig(profile, cfg.Grid), dataset)
	if err != nil {
		return err
	}
	if cfg.Data.LoadOnStart {
		res, err := dataset.Load(cfg.Data.File)
		if err != nil {
			return err
		}
		slog.Info("dataset loaded", "path", res.Path, "records", res.Records, "skipped", len(res.Skipped))
	}

	recorder, err := audit.Open(ctx, cfg.Audit)
	if err != nil {
		return err
	}
	defer recorder.Close()

	var page grid.Page
	if cfg.Browser.Enabled {
		bp, err := browser.Open(ctx, cfg.Browser, profile.Grid.Selectors.CellEditor)
		if err != nil {
			return err
		}
		defer bp.Close()
		page = bp
		slog.Info("browser started", "headless", cfg.Browser.Headless)
	} else {
		slog.Info("browser disabled, grid endpoints report disconnected")
	}

	gridCfg, err := grid.ConfigFromProfile(profile, cfg.Grid, cfg.Browser)
	if err != nil {
		return err
	}
	session := grid.NewSession(page, gridCfg, recorder, engine)

	server := web.NewServer(web.Deps{
		Engine:   engine,
		Session:  session,
		Recorder: recorder,
		Advisor:  assistant.New(cfg.Assistant),
		Server:   cfg.Server,
		Data:     cfg.Data,
		Security: cfg.Security,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Grid.WatchProfile && cfg.Grid.Profile != "" {
		watcher, err := watch.NewProfileWatcher(cfg.Grid.Profile, func(ctx context.Context, p *config.Profile) error {
			return applyProfile(ctx, p, cfg, engine, session, recorder)
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// A batch stops after its current item; wait for that item to land.
		session.CancelBatch()
		cursor := session.Executor().Cursor()
		if cursor.Busy() {
			slog.Info("waiting for grid operation to finish", "holder", cursor.Status().Holder)
			if err := cursor.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("grid operation did not finish in time", "error", err)
			}
		}
		session.Close()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		res, err := dataset.Save(cfg.Data.File, core.SaveOptions{
			Backup:    cfg.Data.BackupEnabled,
			BackupDir: cfg.Data.BackupDir,
		})
		if err != nil {
			slog.Error("dataset save failed", "error", err)
			return nil
		}
		slog.Info("dataset saved", "path", res.Path, "records", res.Records)
		return nil
	})

	return g.Wait()
}

func engineConfig(p *config.Profile, g config.GridConfig) core.EngineConfig {
	ec := core.EngineConfigFromProfile(p)
	if g.DuplicateThreshold > 0 {
		ec.Threshold = g.DuplicateThreshold
	}
	return ec
}

// applyProfile swaps a changed profile into the engine and the grid session.
// An invalid profile leaves both on the previous one.
func applyProfile(ctx context.Context, p *config.Profile, cfg *config.Config, engine *core.Engine, session *grid.Session, recorder audit.Recorder) error {
	entry := audit.Entry{Action: audit.ActionProfileReload, Identifier: p.Name}
	gridCfg, err := grid.ConfigFromProfile(p, cfg.Grid, cfg.Browser)
	if err == nil {
		err = engine.Reload(engineConfig(p, cfg.Grid))
	}
	if err == nil {
		session.Reconfigure(gridCfg)
		entry.Success = true
	} else {
		entry.Error = err.Error()
	}
	if rerr := recorder.Record(ctx, entry); rerr != nil {
		slog.Warn("audit record failed", "error", rerr)
	}
	return err
}
