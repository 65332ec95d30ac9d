package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/hopwatch/hopwatch/internal/config"
	"github.com/hopwatch/hopwatch/internal/logging"
	"github.com/hopwatch/hopwatch/internal/mtrengine"
	"github.com/hopwatch/hopwatch/internal/output"
	"github.com/hopwatch/hopwatch/internal/resolve"
	"github.com/hopwatch/hopwatch/internal/tui"
	"github.com/spf13/cobra"
)

var (
	// Trace parameters
	maxHops int

	noEnrich bool
	noRDNS   bool
	noASN    bool
	noGeoIP  bool
	noColor  bool
	tuiMode  bool

	// Continuous probe session flags
	mtrCount         int
	mtrInterval      float64
	mtrNumeric       bool
	mtrReport        bool
	mtrFields        string
	mtrShowAll       bool
	mtrSimulate      bool
	mtrForceSimulate bool
	nameserver       string

	// Config file
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hopwatch [flags] <target>",
	Short: "Continuous, per-hop network path diagnostics",
	Long: `hopwatch is a continuous network path diagnostic tool, in the
tradition of mtr: it probes every hop to a target once per round and keeps
rolling loss and latency statistics per hop instead of printing a single
one-shot trace.

Features:
  • Continuous per-round ICMP probing with rolling per-hop stats
  • Live table or interactive TUI, or a bounded --report run
  • ASN and GeoIP enrichment, reverse DNS with caching
  • Configuration file support (~/.config/hopwatch/config.yaml)

Examples:
  hopwatch google.com               Live table, runs until interrupted
  hopwatch --tui google.com         Interactive TUI
  hopwatch --report -c 10 host      10 rounds, then one report
  hopwatch --simulate host          Use the built-in Sim transport
  hopwatch config --init            Create default config file
  hopwatch                          Interactive mode (prompts for target)`,
	Args:              cobra.MaximumNArgs(1),
	PersistentPreRunE: loadConfig,
	RunE:              runTrace,
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.config/hopwatch/config.yaml)")

	// Trace parameters
	rootCmd.Flags().IntVarP(&maxHops, "max-hops", "m", 0, "Maximum number of hops")

	// Output flags
	rootCmd.Flags().BoolVarP(&tuiMode, "tui", "t", false, "Interactive TUI mode")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	// Enrichment flags
	rootCmd.Flags().BoolVar(&noEnrich, "no-enrich", false, "Disable all enrichment")
	rootCmd.Flags().BoolVar(&noRDNS, "no-rdns", false, "Disable reverse DNS lookups")
	rootCmd.Flags().BoolVar(&noASN, "no-asn", false, "Disable ASN lookups")
	rootCmd.Flags().BoolVar(&noGeoIP, "no-geoip", false, "Disable GeoIP lookups")
	rootCmd.Flags().StringVar(&nameserver, "nameserver", "", "DNS server to query directly instead of the system resolver")

	// Continuous probe session flags
	rootCmd.Flags().IntVarP(&mtrCount, "count", "c", 0, "Rounds before exit (0 = run until cancelled)")
	rootCmd.Flags().Float64Var(&mtrInterval, "interval", 0, "Seconds between rounds")
	rootCmd.Flags().BoolVar(&mtrNumeric, "numeric", false, "Disable reverse DNS in continuous mode")
	rootCmd.Flags().BoolVar(&mtrReport, "report", false, "Run count rounds, print a report, and exit")
	rootCmd.Flags().StringVar(&mtrFields, "fields", "", "Comma-separated ordered column set (hop,host,loss,sent,last,avg,ema,jitter,jitter-avg,best,worst,paths,graph)")
	rootCmd.Flags().BoolVar(&mtrShowAll, "show-all", false, "Show every observable column")
	rootCmd.Flags().BoolVar(&mtrSimulate, "simulate", false, "Use the Sim transport instead of raw sockets")
	rootCmd.Flags().BoolVar(&mtrForceSimulate, "force-simulate", false, "Use the Sim transport even when raw privileges are available")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig loads configuration from file and applies defaults.
// When no config file exists, config.Load supplies the built-in defaults and
// no file is written. When a default-location file exists but fails to load,
// the failure is logged and the built-in defaults are used instead.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error

	configLog := logging.New(logging.NSConfig)

	if cfgFile != "" {
		// Custom config file specified
		cfg, err = config.LoadFrom(cfgFile)
		if err != nil {
			configLog.Error("failed to load %s: %v", cfgFile, err)
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		// Try to load from default locations
		cfg, err = config.Load()
		if err != nil {
			configLog.Warn("no usable config file found, falling back to defaults: %v", err)
			// An existing file failed to load; fall back to the built-in defaults
			cfg = config.DefaultConfig()

			// Write a default config only where none exists yet, so the file that
			// failed to load is never overwritten (ignore errors - might not have
			// write permission)
			if _, statErr := os.Stat(config.GetConfigPath()); os.IsNotExist(statErr) {
				if saveErr := cfg.Save(); saveErr == nil {
					fmt.Fprintf(os.Stderr, "Created default config: %s\n", config.GetConfigPath())
					fmt.Fprintf(os.Stderr, "Edit this file to customize defaults (e.g., set tui: true)\n\n")
				}
			}
		}
	}

	// Apply config defaults if flags not explicitly set
	applyConfigDefaults(cmd)

	return nil
}

// applyConfigDefaults applies config file values for unset flags
func applyConfigDefaults(cmd *cobra.Command) {
	if cfg == nil {
		return
	}

	defaults := cfg.Defaults

	// Output mode from config (if no flag set)
	if !cmd.Flags().Changed("tui") && defaults.TUI {
		tuiMode = true
	}
	if !cmd.Flags().Changed("no-color") {
		if defaults.NoColor || !output.StdoutIsTTY() {
			noColor = true
		}
	}

	// Trace parameters from config
	if !cmd.Flags().Changed("max-hops") {
		if defaults.MaxHops > 0 {
			maxHops = defaults.MaxHops
		} else {
			maxHops = 30
		}
	}

	// Enrichment from config
	if !defaults.Enrichment.Enabled {
		noEnrich = true
	}
	if !cmd.Flags().Changed("no-rdns") && !defaults.Enrichment.RDNS {
		noRDNS = true
	}
	if !cmd.Flags().Changed("no-asn") && !defaults.Enrichment.ASN {
		noASN = true
	}
	if !cmd.Flags().Changed("no-geoip") && !defaults.Enrichment.GeoIP {
		noGeoIP = true
	}

	// Continuous mode from config
	if !cmd.Flags().Changed("interval") {
		if defaults.Interval > 0 {
			mtrInterval = defaults.Interval
		} else {
			mtrInterval = 1.0
		}
	}
	if !cmd.Flags().Changed("count") && defaults.Count > 0 {
		mtrCount = defaults.Count
	}
	if !cmd.Flags().Changed("numeric") && defaults.Numeric {
		mtrNumeric = true
	}
	if !cmd.Flags().Changed("report") && defaults.Report {
		mtrReport = true
	}
	if !cmd.Flags().Changed("fields") && len(defaults.Fields) > 0 {
		mtrFields = strings.Join(defaults.Fields, ",")
	}
	if !cmd.Flags().Changed("show-all") && defaults.ShowAll {
		mtrShowAll = true
	}
	if !cmd.Flags().Changed("simulate") && defaults.Simulate {
		mtrSimulate = true
	}
	if !cmd.Flags().Changed("force-simulate") && defaults.ForceSimulate {
		mtrForceSimulate = true
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hopwatch %s\n", version)
		fmt.Printf("  Commit: %s\n", commit)
		fmt.Printf("  Built:  %s\n", date)
		fmt.Printf("  Config: %s\n", config.GetConfigPath())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage hopwatch configuration file.

Commands:
  hopwatch config --init     Create default config file
  hopwatch config --show     Show current configuration
  hopwatch config --path     Show config file path`,
	RunE: runConfig,
}

var (
	configInit bool
	configShow bool
	configPath bool
)

func init() {
	configCmd.Flags().BoolVar(&configInit, "init", false, "Create default config file")
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show current configuration")
	configCmd.Flags().BoolVar(&configPath, "path", false, "Show config file path")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configPath {
		fmt.Println(config.GetConfigPath())
		return nil
	}

	if configInit {
		path := config.GetConfigPath()

		// Check if file already exists
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}

		// Create default config
		cfg := config.DefaultConfig()
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to create config: %w", err)
		}

		fmt.Printf("Created config file: %s\n", path)
		fmt.Println("\nEdit this file to customize defaults.")
		fmt.Println("Example: Set 'tui: true' under 'defaults:' to always use TUI mode.")
		return nil
	}

	if configShow {
		fmt.Println(config.GenerateExample())
		return nil
	}

	// No flag specified, show help
	return cmd.Help()
}

func runTrace(cmd *cobra.Command, args []string) error {
	var target string

	// If no target provided, prompt for it interactively
	if len(args) == 0 {
		var err error
		target, err = promptForTarget()
		if err != nil {
			return err
		}
	} else {
		target = args[0]
	}

	// Check for aliases
	if cfg != nil && cfg.Aliases != nil {
		if alias, ok := cfg.Aliases[target]; ok {
			target = alias
		}
	}

	return runMTR(cmd, target)
}

// promptForTarget displays an interactive prompt for the user to enter a target
func promptForTarget() (string, error) {
	// Title
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("╔═══════════════════════════════════════════════════════════╗")
	cyan.Println("║         hopwatch - Continuous Network Path Diagnostics    ║")
	cyan.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	// Show some examples
	fmt.Println("  Examples:")
	yellow.Println("    • google.com      - Trace to Google")
	yellow.Println("    • 8.8.8.8         - Trace to Google DNS")
	yellow.Println("    • cloudflare.com  - Trace to Cloudflare")
	fmt.Println()

	// Show aliases if any
	if cfg != nil && len(cfg.Aliases) > 0 {
		fmt.Println("  Aliases:")
		for alias, target := range cfg.Aliases {
			yellow.Printf("    • %s → %s\n", alias, target)
		}
		fmt.Println()
	}

	// Prompt
	reader := bufio.NewReader(os.Stdin)

	for {
		green.Print("  Enter target (IP or hostname): ")
		os.Stdout.Sync() // Flush stdout

		input, err := reader.ReadString('\n')
		if err != nil {
			// Check for EOF (Ctrl+D or piped input ended)
			if err.Error() == "EOF" {
				return "", fmt.Errorf("no input provided")
			}
			return "", fmt.Errorf("failed to read input: %w", err)
		}

		// Clean input
		target := strings.TrimSpace(input)

		// Validate
		if target == "" {
			color.Red("  ✗ Target cannot be empty. Please try again.")
			fmt.Println()
			continue
		}

		// Check for quit commands
		if target == "q" || target == "quit" || target == "exit" {
			fmt.Println("  Goodbye!")
			os.Exit(0)
		}

		fmt.Println()
		return target, nil
	}
}

// runMTR drives the continuous probe session engine: it resolves the
// target, picks a transport, and either hands the session to the live TUI,
// prints one report after count rounds, or streams the table to stdout
// round by round.
func runMTR(cmd *cobra.Command, target string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	packetID := processPacketID()
	transport, err := newMTRTransport(packetID)
	if err != nil {
		return err
	}

	if db, err := setupMaxMind(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: MaxMind initialization failed, falling back to online lookups: %v\n", err)
	} else if db != nil {
		maxMindDB = db
		defer maxMindDB.Close()
	}

	interval := mtrInterval
	if interval <= 0 {
		interval = 1.0
	}

	hops := maxHops
	if hops <= 0 {
		hops = 30
	}

	resolver := resolve.New(nameserver)
	resolveFn := resolver.ResolveTarget
	if mtrNumeric {
		resolveFn = func(c context.Context, t string) (net.IP, error) {
			if ip := net.ParseIP(t); ip != nil {
				return ip, nil
			}
			return resolver.ResolveTarget(c, t)
		}
	}

	// Report mode always runs a bounded number of rounds, even when
	// --count wasn't given.
	count := mtrCount
	if mtrReport && count == 0 {
		count = 10
	}

	session, err := mtrengine.NewSession(ctx, mtrengine.SessionConfig{
		Target:   target,
		Count:    count,
		Interval: time.Duration(interval * float64(time.Second)),
		MaxHops:  hops,
		PacketID: packetID,
		Resolve:  resolveFn,
	}, transport)
	if err != nil {
		transport.Close()
		return err
	}

	fields := parseFields(mtrFields)

	if tuiMode {
		var resolver tui.HostResolver
		if !mtrNumeric {
			hopEnrich := newHopEnricher(!noASN, !noGeoIP)
			defer hopEnrich.Close()
			resolver = hopEnrich
		}
		return tui.RunMTR(ctx, target, session, fields, mtrNumeric, resolver)
	}

	if mtrReport {
		return runMTRReport(ctx, session, target, fields)
	}

	return runMTRLive(ctx, session, target, fields)
}

// runMTRReport runs the session to completion and prints one final table.
func runMTRReport(ctx context.Context, session *mtrengine.Session, target string, fields []string) error {
	obs := &latestSnapshot{}
	session.Subscribe(obs)

	if err := session.Run(ctx); err != nil {
		return err
	}

	outputConfig := output.Config{Colors: !noColor, NoASN: noASN, NoGeoIP: noGeoIP}
	formatter := output.NewMTRFormatter(outputConfig, fields, mtrShowAll, mtrNumeric)
	formatter.SetReportMode(true)
	if !mtrNumeric {
		hopEnrich := newHopEnricher(!noASN, !noGeoIP)
		defer hopEnrich.Close()
		formatter.SetResolver(hopEnrich)
		// A report's final snapshot is already the terminal state; give
		// enrichment lookups a brief window to land before rendering once.
		hopEnrich.warm(ctx, obs.get())
	}
	os.Stdout.Write(formatter.Render(target, obs.get()))
	return nil
}

// runMTRLive streams the table to stdout, redrawing in place, until the
// session stops (count exhausted or the user interrupts).
func runMTRLive(ctx context.Context, session *mtrengine.Session, target string, fields []string) error {
	outputConfig := output.Config{Colors: !noColor, NoASN: noASN, NoGeoIP: noGeoIP}
	formatter := output.NewMTRFormatter(outputConfig, fields, mtrShowAll, mtrNumeric)

	obs := &printingObserver{target: target, formatter: formatter}
	if !mtrNumeric {
		hopEnrich := newHopEnricher(!noASN, !noGeoIP)
		defer hopEnrich.Close()
		formatter.SetResolver(hopEnrich)
	}
	session.Subscribe(obs)

	return session.Run(ctx)
}

// printingObserver redraws the whole table on every snapshot, the
// classic-mtr way of showing a continuously updating view in a plain
// terminal (no Bubble Tea needed for this path).
type printingObserver struct {
	target    string
	formatter *output.MTRFormatter
}

func (p *printingObserver) OnSnapshot(snap mtrengine.Snapshot) {
	fmt.Print("\033[H\033[2J")
	os.Stdout.Write(p.formatter.Render(p.target, snap))
}

// latestSnapshot keeps only the most recent snapshot, for --report mode.
type latestSnapshot struct {
	mu   sync.Mutex
	snap mtrengine.Snapshot
}

func (l *latestSnapshot) OnSnapshot(snap mtrengine.Snapshot) {
	l.mu.Lock()
	l.snap = snap
	l.mu.Unlock()
}

func (l *latestSnapshot) get() mtrengine.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

// processPacketID derives the process-wide 16-bit ICMP identifier: fixed
// for the life of the process, distinguishing this process's probes from
// any other running instance's on the same host.
func processPacketID() uint16 {
	return uint16(os.Getpid() & 0xffff)
}

// newMTRTransport picks Raw or Sim: Sim when requested or forced, Raw
// otherwise. A plain privilege failure on the Raw transport is fatal unless
// the operator explicitly asked for --simulate or --force-simulate.
func newMTRTransport(packetID uint16) (mtrengine.Transport, error) {
	cliLog := logging.New(logging.NSCLI)

	if mtrForceSimulate {
		cliLog.Info("using Sim transport: --force-simulate set")
		return mtrengine.NewSimTransport(simDemoConfig(packetID)), nil
	}
	if mtrSimulate {
		cliLog.Info("using Sim transport: --simulate set")
		return mtrengine.NewSimTransport(simDemoConfig(packetID)), nil
	}

	raw, err := mtrengine.NewRawTransport(packetID)
	if err != nil {
		cliLog.Warn("raw transport unavailable, no fallback requested: %v", err)
		return nil, err
	}
	return raw, nil
}

// simDemoConfig builds the Sim backend's topology: a destination 12 hops
// out and, two hops short of it, a router that answers probes with
// DestinationUnreachable instead of forwarding them, the way a filtering
// firewall does on a real path.
func simDemoConfig(packetID uint16) mtrengine.SimConfig {
	const destinationTTL = 12
	return mtrengine.SimConfig{
		Seed:           int64(packetID),
		DestinationTTL: destinationTTL,
		Unreachable:    map[int]bool{destinationTTL - 2: true},
	}
}

// parseFields splits the --fields flag into the ordered column list.
func parseFields(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			fields = append(fields, p)
		}
	}
	return fields
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets version information for the CLI.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}
