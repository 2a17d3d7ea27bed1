// Command actikey is a stand-in for a host application embedding the
// activation core. It exposes the manager's operations as subcommands so
// the whole flow can be exercised from a terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"actikey/internal/config"
	"actikey/internal/fingerprint"
	"actikey/internal/license"
	"actikey/internal/securetime"
)

func main() {
	configFile := flag.String("config", "", "path to an optional YAML config file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	if err := cfg.EnsureDataDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	mgr, err := buildManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	switch cmd := flag.Arg(0); cmd {
	case "status":
		runStatus(ctx, mgr)
	case "activate":
		runActivate(ctx, mgr, flag.Args()[1:])
	case "deactivate":
		runDeactivate(ctx, mgr)
	case "device":
		runDevice(mgr)
	case "reset-timecheck":
		if err := mgr.ResetTimeCheckpoint(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Time checkpoint cleared.")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: actikey [-config FILE] COMMAND

Commands:
  status                 show the current activation state
  activate CODE          activate with a code (-remember=false to skip persisting the code string)
  deactivate             remove the stored activation
  device                 show this machine's device identity
  reset-timecheck        clear the clock tamper checkpoint after a legitimate clock fix
`)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func buildManager(cfg *config.Config) (*license.Manager, error) {
	pub, err := license.LoadPublicKey(cfg.Paths.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification key: %w", err)
	}

	devices := fingerprint.NewManager()

	source := securetime.NewNetworkTimeSource(cfg.Time.Sources, cfg.Time.SourceTimeout)
	guard := securetime.NewGuard(cfg.Paths.CheckpointFile, cfg.Time.BackwardTolerance, cfg.Time.MaxForwardGap)
	timeProvider := securetime.NewProvider(source, guard, cfg.Time.OverallTimeout)

	store := license.NewStore(cfg.Paths.RecordFile, cfg.Paths.KeyFile)
	validator := license.NewValidator(pub, devices, timeProvider, cfg.Activation.ExpiryWarningDays)

	return license.NewManager(store, validator, devices, timeProvider,
		license.WithAttemptLimit(cfg.Activation.AttemptRPS, cfg.Activation.AttemptBurst),
	), nil
}

func runStatus(ctx context.Context, mgr *license.Manager) {
	res := mgr.Initialize(ctx)
	info := mgr.GetActivationInfo()

	fmt.Printf("State:        %s\n", info.State)
	if info.State != license.StateActivated {
		if !res.Success && mgr.LastError() != nil {
			fmt.Printf("Reason:       %v\n", mgr.LastError())
		}
		return
	}

	fmt.Printf("Code:         %s\n", info.CodeID)
	fmt.Printf("Devices:      %d of %d\n", info.DeviceCount, info.MaxDevices)
	fmt.Printf("Validity:     %s\n", info.Validity)
	fmt.Printf("Activated at: %s\n", info.ActivatedAt.Format("2006-01-02 15:04 MST"))
	if info.ExpireAt != nil {
		fmt.Printf("Expires at:   %s\n", info.ExpireAt.Format("2006-01-02 15:04 MST"))
	}
}

func runActivate(ctx context.Context, mgr *license.Manager, args []string) {
	fs := flag.NewFlagSet("activate", flag.ExitOnError)
	remember := fs.Bool("remember", true, "keep the code string in the local record")
	_ = fs.Parse(args)

	raw := strings.TrimSpace(fs.Arg(0))
	if raw == "" {
		fmt.Fprintln(os.Stderr, "Error: an activation code is required")
		os.Exit(2)
	}

	// Surface expiry warnings raised during activation.
	unsubscribe := mgr.Subscribe(func(e license.Event) {
		if e.Type == license.EventExpiring {
			fmt.Printf("Warning: this activation expires in %d day(s).\n", e.DaysLeft)
		}
	})
	defer unsubscribe()

	res := mgr.Activate(ctx, raw, *remember)
	if !res.Success {
		fmt.Fprintf(os.Stderr, "Activation failed: %v\n", res.Err)
		os.Exit(1)
	}

	info := mgr.GetActivationInfo()
	fmt.Printf("Activated. Devices in use: %d of %d (%s).\n",
		info.DeviceCount, info.MaxDevices, info.Validity)
}

func runDeactivate(ctx context.Context, mgr *license.Manager) {
	if res := mgr.Deactivate(ctx); !res.Success {
		fmt.Fprintf(os.Stderr, "Deactivation failed: %v\n", res.Err)
		os.Exit(1)
	}
	fmt.Println("Activation removed.")
}

func runDevice(mgr *license.Manager) {
	dev, err := mgr.GetDeviceInfo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read device identity: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Device ID: %s\n", dev.ID)
	fmt.Printf("Source:    %s\n", dev.Source)
	fmt.Printf("Hostname:  %s\n", dev.Hostname)
	fmt.Printf("Arch:      %s (%d CPUs)\n", dev.Arch, dev.NumCPU)
	if len(dev.MACs) > 0 {
		fmt.Printf("MACs:      %s\n", strings.Join(dev.MACs, ", "))
	}
}
