package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/dixieflatline76/TabSpice/config"
	"github.com/dixieflatline76/TabSpice/pkg/api"
	"github.com/dixieflatline76/TabSpice/pkg/provider"
	"github.com/dixieflatline76/TabSpice/pkg/wallpaper"
	"github.com/dixieflatline76/TabSpice/util"
	"github.com/dixieflatline76/TabSpice/util/log"
)

const (
	resolveTimeout  = 30 * time.Second
	checkTimeout    = 10 * time.Second
	refreshTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

func newServeCmd(newApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background daemon: HTTP API, message relay and cache refresher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acquired, err := acquireLock()
			if err != nil {
				return err
			}
			if !acquired {
				return &exitError{code: 2, msg: "another " + config.AppName + " daemon is already running"}
			}
			defer releaseLock()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			srv := api.NewServer(a.cfg.RelayAddr, a.engine, a.coordinator, api.NewRelay())
			srv.SetPreferBing(a.cfg.PreferBing)

			a.watcher.Subscribe(func(cfg config.Config) {
				srv.SetPreferBing(cfg.PreferBing)
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Stop(shutdownCtx)
			})
			g.Go(func() error {
				return a.coordinator.Run(ctx, a.cfg.RefreshEvery.Std())
			})
			g.Go(func() error {
				return reloadOnHangup(ctx, a.watcher)
			})

			log.Printf("%s %s serving on %s", config.AppName, version, a.cfg.RelayAddr)
			return g.Wait()
		},
	}
}

// reloadOnHangup re-reads the config file on SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, watcher *config.Watcher) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if _, err := watcher.Reload(); err != nil {
				log.Printf("Failed to reload config: %v", err)
				continue
			}
			log.Print("Config reloaded")
		}
	}
}

type resolveOutput struct {
	Stage      string `json:"stage"`
	SourceType string `json:"sourceType,omitempty"`
	Address    string `json:"sourceAddress,omitempty"`
	Name       string `json:"name,omitempty"`
	Message    string `json:"message,omitempty"`
	Format     string `json:"format,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Bytes      int    `json:"bytes"`
	Output     string `json:"output,omitempty"`
}

func newResolveCmd(newApp func() (*app, error)) *cobra.Command {
	var useCache, preferBing, skipDefault, jsonOutput bool
	var output string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve one wallpaper through the fallback chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("prefer-bing") {
				preferBing = a.cfg.PreferBing
			}
			ctx, cancel := commandContext(cmd, resolveTimeout)
			defer cancel()

			img, stage := a.engine.ResolveWithStage(ctx, wallpaper.ResolveOptions{
				UseCache:        useCache,
				PreferBing:      preferBing,
				SkipUserDefault: skipDefault,
			})
			if img == nil {
				return &exitError{code: 3, msg: "no wallpaper available from any source"}
			}
			if output != "" {
				if err := os.WriteFile(output, img.Pic, 0644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
			}

			out := resolveOutput{
				Stage:      stage.String(),
				SourceType: string(img.SourceType),
				Address:    img.SourceAddress,
				Name:       img.Name,
				Message:    img.Message,
				Format:     img.Format,
				Width:      img.Width,
				Height:     img.Height,
				Bytes:      len(img.Pic),
				Output:     output,
			}
			if jsonOutput {
				return printJSON(cmd, out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s via %s (%s)\n", out.SourceType, out.Stage, out.Message)
			fmt.Fprintf(w, "  %s %dx%d, %d bytes\n", out.Format, out.Width, out.Height, out.Bytes)
			if output != "" {
				fmt.Fprintf(w, "  written to %s\n", output)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useCache, "cache", false, "check cachedPic before the providers")
	cmd.Flags().BoolVar(&preferBing, "prefer-bing", false, "keep a cached fallback image over defaultPic (default from config)")
	cmd.Flags().BoolVar(&skipDefault, "no-default", false, "do not fall back to the user default picture")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the picture to this file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output JSON")
	return cmd
}

func newRefreshCmd(newApp func() (*app, error)) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-warm cachedPic, through the running daemon unless --local",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, refreshTimeout)
			defer cancel()

			if local {
				switch err := a.coordinator.Refresh(ctx); {
				case errors.Is(err, wallpaper.ErrRefreshSkipped):
					fmt.Fprintln(cmd.OutOrStdout(), "refresh skipped: another refresh is in progress")
					return nil
				case err != nil:
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cachedPic refreshed")
				return nil
			}

			refreshed, err := requestRefresh(ctx, "http://"+a.cfg.RelayAddr)
			if err != nil {
				return fmt.Errorf("%w (is the daemon running? try --local)", err)
			}
			if refreshed {
				fmt.Fprintln(cmd.OutOrStdout(), "cachedPic refreshed")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "refresh not started: one is already running or nothing resolved")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "refresh in this process instead of asking the daemon")
	return cmd
}

// requestRefresh emits on the refresh channel and waits for the broadcast answering it.
func requestRefresh(ctx context.Context, baseURL string) (bool, error) {
	client, err := api.Dial(ctx, baseURL, api.ChannelRefresh)
	if err != nil {
		return false, err
	}
	defer client.Close()

	answer := make(chan json.RawMessage, 1)
	client.Listen(func(msg api.Message) {
		if msg.Origin != client.ID() {
			return
		}
		select {
		case answer <- msg.Data:
		default:
		}
	})
	if err := client.Emit(ctx, nil); err != nil {
		return false, err
	}

	select {
	case data := <-answer:
		var ok bool
		if err := json.Unmarshal(data, &ok); err != nil {
			return false, fmt.Errorf("unexpected refresh answer %s: %w", data, err)
		}
		return ok, nil
	case <-client.Done():
		return false, api.ErrClientClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func newDefaultCmd(newApp func() (*app, error)) *cobra.Command {
	defaultCmd := &cobra.Command{Use: "default", Short: "Manage the user default picture"}

	var message string
	setCmd := &cobra.Command{
		Use:   "set <file>",
		Short: "Store a picture as defaultPic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			img := &provider.ImageResult{
				Pic:        data,
				Name:       args[0],
				Message:    message,
				SourceType: provider.SourceUserDefault,
				FetchedAt:  time.Now(),
			}
			if err := img.Inspect(); err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := commandContext(cmd, resolveTimeout)
			defer cancel()
			if _, err := a.cache.Set(ctx, string(wallpaper.SlotDefault), img); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "defaultPic set: %s %dx%d\n", img.Format, img.Width, img.Height)
			return nil
		},
	}
	setCmd.Flags().StringVar(&message, "message", "", "caption shown with the picture")

	clearCmd := &cobra.Command{
		Use:     "clear",
		Aliases: []string{"rm", "remove"},
		Short:   "Remove defaultPic",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := commandContext(cmd, resolveTimeout)
			defer cancel()
			removed, err := a.cache.Remove(ctx, string(wallpaper.SlotDefault))
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintln(cmd.OutOrStdout(), "no defaultPic stored")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "defaultPic removed")
			return nil
		},
	}

	defaultCmd.AddCommand(setCmd, clearCmd)
	return defaultCmd
}

func newProviderCmd(newApp func() (*app, error)) *cobra.Command {
	providerCmd := &cobra.Command{Use: "provider", Aliases: []string{"providers"}, Short: "Manage configured providers"}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List configured providers and their share of picks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			instances := a.engine.Instances()
			if len(a.cfg.Providers) == 0 {
				fmt.Fprintln(w, "no providers configured")
				return nil
			}
			weights := make([]int, len(instances))
			for i, inst := range instances {
				weights[i] = inst.Weight
			}
			total := wallpaper.TotalWeight(weights)
			usable := make(map[string]bool, len(instances))
			for _, inst := range instances {
				usable[inst.Address] = true
			}
			for _, p := range a.cfg.Providers {
				share := "unknown type"
				if usable[p.Address] {
					share = "never picked"
					if pw := p.EffectiveWeight(); total > 0 && pw > 0 {
						share = fmt.Sprintf("%.1f%%", float64(pw)*100/float64(total))
					}
				}
				fmt.Fprintf(w, "- %s (%s) weight=%d %s\n", p.Address, p.Type, p.EffectiveWeight(), share)
			}
			fmt.Fprintf(w, "registered types: %s\n", strings.Join(wallpaper.GetRegisteredAdapters(), ", "))
			return nil
		},
	}

	var weight int
	var settings []string
	addCmd := &cobra.Command{
		Use:   "add <type> <address>",
		Short: "Add or replace a provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseSettings(settings)
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			p := config.ProviderConfig{Type: args[0], Address: args[1], Settings: parsed}
			if cmd.Flags().Changed("weight") {
				p.Weight = config.WeightOf(weight)
			}
			cfg := a.cfg
			cfg.Providers = append([]config.ProviderConfig(nil), cfg.Providers...)
			replaced := false
			for i := range cfg.Providers {
				if cfg.Providers[i].Address == p.Address {
					cfg.Providers[i] = p
					replaced = true
				}
			}
			if !replaced {
				cfg.Providers = append(cfg.Providers, p)
			}
			if err := a.saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provider %s (%s) saved; send SIGHUP to a running daemon to apply\n", p.Address, p.Type)
			return nil
		},
	}
	addCmd.Flags().IntVar(&weight, "weight", config.DefaultWeight, "selection weight, 0 disables the provider")
	addCmd.Flags().StringArrayVar(&settings, "set", nil, "adapter setting key=value; repeat a key for a list")

	removeCmd := &cobra.Command{
		Use:     "remove <address>",
		Aliases: []string{"rm"},
		Short:   "Remove a provider",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.cfg
			kept := make([]config.ProviderConfig, 0, len(cfg.Providers))
			for _, p := range cfg.Providers {
				if p.Address != args[0] {
					kept = append(kept, p)
				}
			}
			if len(kept) == len(cfg.Providers) {
				return fmt.Errorf("no provider with address %s", args[0])
			}
			cfg.Providers = kept
			if err := a.saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provider %s removed\n", args[0])
			return nil
		},
	}

	providerCmd.AddCommand(listCmd, addCmd, removeCmd)
	return providerCmd
}

// parseSettings turns repeated key=value pairs into adapter settings.
// Integers and booleans keep their type; a key given twice becomes a list.
func parseSettings(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid setting %q, want key=value", pair)
		}
		var value any = raw
		if n, err := strconv.Atoi(raw); err == nil {
			value = n
		} else if b, err := strconv.ParseBool(raw); err == nil {
			value = b
		}
		switch prev := out[key].(type) {
		case nil:
			out[key] = value
		case []any:
			out[key] = append(prev, value)
		default:
			out[key] = []any{prev, value}
		}
	}
	return out, nil
}

var secretNames = map[string]string{
	"wallhaven": config.WallhavenAPIKey,
	"pexels":    config.PexelsAPIKey,
}

func newKeyCmd() *cobra.Command {
	keyCmd := &cobra.Command{Use: "key", Short: "Manage provider API keys in the system keyring"}

	names := make([]string, 0, len(secretNames))
	for name := range secretNames {
		names = append(names, name)
	}
	sort.Strings(names)

	setCmd := &cobra.Command{
		Use:       "set <" + strings.Join(names, "|") + "> [key]",
		Short:     "Store an API key; an empty key removes it",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, ok := secretNames[args[0]]
			if !ok {
				return fmt.Errorf("unknown provider %q, want one of %s", args[0], strings.Join(names, ", "))
			}
			value := ""
			if len(args) == 2 {
				value = strings.TrimSpace(args[1])
			}
			if err := config.SetSecret(secret, value); err != nil {
				return err
			}
			if value == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s key removed\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s key stored\n", args[0])
			}
			return nil
		},
	}

	keyCmd.AddCommand(setCmd)
	return keyCmd
}

func newConfigCmd(newApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			blob, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", a.configPath, blob)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version, optionally checking GitHub for a newer release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s\n", config.AppName, version)
			if !check {
				return nil
			}
			ctx, cancel := commandContext(cmd, checkTimeout)
			defer cancel()
			result, err := util.NewUpdateChecker(nil).CheckForUpdates(ctx)
			if err != nil {
				return err
			}
			if result.UpdateAvailable {
				fmt.Fprintf(w, "update available: %s %s\n", result.LatestVersion, result.ReleaseURL)
			} else {
				fmt.Fprintln(w, "up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "check for a newer release")
	return cmd
}
