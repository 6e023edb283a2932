// Command basestation runs the BLE base station: it scans for the clock
// peripheral, bonds with it, discovers its counter characteristic and polls
// it once per period.
//
// Usage:
//
//	basestation [--config path] run [--erase-bonds] [--scan-mode none|whitelist|fast]
//	basestation [--config path] bonds [--delete addr]
//	basestation init-config
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/chaz8081/basestation/internal/ble"
	"github.com/chaz8081/basestation/internal/bond"
	"github.com/chaz8081/basestation/internal/central"
	"github.com/chaz8081/basestation/internal/config"
	"github.com/chaz8081/basestation/internal/indicator"
)

const version = "0.1.0"

// eventQueueSize bounds the events waiting for the central.
const eventQueueSize = 64

func main() {
	app := cli.NewApp()
	app.Name = "basestation"
	app.Usage = "BLE central that bonds with the clock peripheral and polls its counter"
	app.Version = version
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/basestation/config.yaml)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Scan, connect and poll until interrupted",
			Action: runCommand,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "erase-bonds", Usage: "delete all stored bonds before starting"},
				cli.StringFlag{Name: "scan-mode", Usage: "override scan.mode (none, whitelist, fast)"},
			},
		},
		{
			Name:   "bonds",
			Usage:  "List stored bonds",
			Action: bondsCommand,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "delete, d", Usage: "delete the bond for this address"},
			},
		},
		{
			Name:   "init-config",
			Usage:  "Write the default config file if none exists",
			Action: initConfigCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("basestation failed", "error", err)
		os.Exit(1)
	}
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Bool("erase-bonds") {
		cfg.Bond.EraseOnStart = true
	}
	if mode := c.String("scan-mode"); mode != "" {
		cfg.Scan.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	setupLogging(cfg.LogLevel)
	printBanner(cfg)
	return run(cfg)
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	events := make(chan central.Event, eventQueueSize)

	secret, err := cfg.BondSecret()
	if err != nil {
		return err
	}
	store, err := bond.Open(cfg.Bond.Path, secret, func(err error) {
		select {
		case events <- central.StorageEvent{Err: err}:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("opening bond store: %w", err)
	}
	defer func() {
		cancel()
		store.Wait()
	}()
	if cfg.Bond.EraseOnStart {
		store.Erase()
	}

	opts, err := cfg.CentralOptions()
	if err != nil {
		return err
	}
	valueColor := color.New(color.FgGreen, color.Bold)
	opts.OnValue = func(v central.Value) {
		valueColor.Printf("%s  %d\n", time.Now().Format("15:04:05.000"), v.Uint32())
	}

	adapter := ble.NewTinyGoAdapter(opts.Service)
	if err := adapter.Enable(); err != nil {
		return err
	}
	slog.Info("[BLE] adapter enabled")

	stack := ble.NewStack(adapter, events, ctx.Done(), store, cfg.SecurityParams())
	station, err := central.New(opts, central.Deps{
		Radio:      stack,
		Security:   stack,
		Discoverer: stack,
		Bonds:      store,
		Indicator:  indicator.NewLog(nil, nil),
	})
	if err != nil {
		return err
	}

	go central.RunTicker(ctx, cfg.Poll.Period, events)
	go forwardBypass(ctx, events)

	slog.Info("Ready! Ctrl+C to quit.", "bypass", bypassHint)
	if err := station.Run(ctx, events); err != nil {
		return err
	}
	slog.Info("Goodbye!")
	return nil
}

func bondsCommand(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	secret, err := cfg.BondSecret()
	if err != nil {
		return err
	}
	store, err := bond.Open(cfg.Bond.Path, secret, nil)
	if err != nil {
		return fmt.Errorf("opening bond store: %w", err)
	}
	defer store.Wait()

	if addr := c.String("delete"); addr != "" {
		if !store.Delete(addr) {
			return fmt.Errorf("no bond for %s", addr)
		}
		fmt.Printf("Deleted bond for %s\n", addr)
		return nil
	}

	records := store.List()
	if len(records) == 0 {
		fmt.Println("No bonds stored in", cfg.Bond.Path)
		return nil
	}
	header := color.New(color.FgCyan, color.Bold)
	header.Printf("%-17s  %-16s  %3s  %-4s  %s\n", "ADDRESS", "NAME", "KEY", "MITM", "BONDED")
	for _, r := range records {
		fmt.Printf("%-17s  %-16s  %3d  %-4v  %s\n", r.Address, r.Name, r.KeySize, r.MITM, r.Created.Format(time.RFC3339))
	}
	return nil
}

func initConfigCommand(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println("Config already exists at", config.DefaultConfigPath())
		return nil
	}
	fmt.Println("Wrote default config to", path)
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("Config loaded", "path", defaultPath)
		return cfg, nil
	}

	slog.Info("No config file found, using defaults")
	return config.Default(), nil
}

func setupLogging(level string) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(level)})
	slog.SetDefault(slog.New(handler))
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	title := color.New(color.FgCyan, color.Bold)
	title.Println("=== basestation ===")
	fmt.Printf("  Scan:     %s (interval %v, window %v)\n", cfg.Scan.Mode, cfg.Scan.Interval, cfg.Scan.Window)
	fmt.Printf("  Target:   service 0x%04X, read 0x%04X, write 0x%04X\n", uint16(cfg.Target.Service), uint16(cfg.Target.ReadChar), uint16(cfg.Target.WriteChar))
	fmt.Printf("  Base:     %s\n", cfg.Target.BaseUUID)
	fmt.Printf("  Poll:     every %v\n", cfg.Poll.Period)
	fmt.Printf("  Bonds:    %s\n", cfg.Bond.Path)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	title.Println("===================")
}
