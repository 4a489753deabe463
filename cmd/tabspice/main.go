package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dixieflatline76/TabSpice/config"
	"github.com/dixieflatline76/TabSpice/pkg/provider"
	"github.com/dixieflatline76/TabSpice/pkg/store"
	"github.com/dixieflatline76/TabSpice/pkg/wallpaper"
	"github.com/dixieflatline76/TabSpice/pkg/wallpaper/providers/bing"

	// Register the built-in provider adapters.
	_ "github.com/dixieflatline76/TabSpice/pkg/wallpaper/providers/pexels"
	_ "github.com/dixieflatline76/TabSpice/pkg/wallpaper/providers/randompic"
	_ "github.com/dixieflatline76/TabSpice/pkg/wallpaper/providers/wallhaven"
)

// version is set at build time using -ldflags
var version = "dev"

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	config.AppVersion = version
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ex ExitCoder
		if errors.As(err, &ex) {
			os.Exit(ex.ExitCode())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	newApp := func() (*app, error) {
		return openApp(configPath)
	}

	cmd := &cobra.Command{
		Use:           "tabspice",
		Short:         "New tab wallpaper daemon with weighted providers and a local relay",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.tabspice/config.yaml)")

	cmd.AddCommand(newServeCmd(newApp))
	cmd.AddCommand(newResolveCmd(newApp))
	cmd.AddCommand(newRefreshCmd(newApp))
	cmd.AddCommand(newDefaultCmd(newApp))
	cmd.AddCommand(newProviderCmd(newApp))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newConfigCmd(newApp))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// app is the wired resolution stack shared by the commands.
type app struct {
	configPath  string
	cfg         config.Config
	db          *store.DB
	cache       *wallpaper.PicCache
	engine      *wallpaper.Engine
	coordinator *wallpaper.Coordinator
	watcher     *config.Watcher
}

func openApp(configPath string) (*app, error) {
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Ensure(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	db, err := store.Open(store.Options{Path: cfg.StorePath})
	if err != nil {
		return nil, err
	}

	client := provider.NewHTTPClient(config.AppName + "/" + version)
	cache := wallpaper.NewPicCache(db.Table(wallpaper.PictureTable))
	engine := wallpaper.NewEngine(
		wallpaper.NewDefaultRegistry(client),
		cache,
		bing.New(client, cfg.BingEndpoint),
		cfg.Providers,
	)
	a := &app{
		configPath:  configPath,
		cfg:         cfg,
		db:          db,
		cache:       cache,
		engine:      engine,
		coordinator: wallpaper.NewCoordinator(engine, cache),
		watcher:     config.NewWatcher(configPath),
	}
	a.watcher.Subscribe(func(cfg config.Config) {
		a.cfg = cfg
		a.engine.Reload(cfg.Providers)
	})
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// saveConfig validates and writes cfg back to the file the app was opened with.
func (a *app) saveConfig(cfg config.Config) error {
	return a.watcher.Save(cfg)
}

func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func printJSON(cmd *cobra.Command, payload any) error {
	blob, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(blob))
	return nil
}
