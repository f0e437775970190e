// ABOUTME: Entry point for the hub-relay gateway server.
// ABOUTME: Serves the websocket relay and wires collaborator event handlers.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/hub-relay/internal/config"
	"github.com/2389/hub-relay/internal/dedupe"
	"github.com/2389/hub-relay/internal/gateway"
	"github.com/2389/hub-relay/internal/peer"
	"github.com/2389/hub-relay/internal/relay"
	"github.com/2389/hub-relay/internal/wire"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _           _                        _
 | |__  _   _| |__        _ __ ___   | | __ _ _   _
 | '_ \| | | | '_ \ _____| '__/ _ \  | |/ _' | | | |
 | | | | |_| | |_) |_____| | |  __/  | | (_| | |_| |
 |_| |_|\__,_|_.__/      |_|  \___|  |_|\__,_|\__, |
                                              |___/
`

// systemUpdatesPeer receives forwarded system messages from other satellites.
const systemUpdatesPeer = peer.Identity("SystemUpdates")

// getConfigPath returns the path to the relay config file.
// Priority: HUB_RELAY_CONFIG env var > XDG_CONFIG_HOME/hub-relay/relay.yaml > ~/.config/hub-relay/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HUB_RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "hub-relay", "relay.yaml")
}

// getDataPath returns the path to the hub-relay data directory.
// Priority: XDG_DATA_HOME/hub-relay > ~/.local/share/hub-relay
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "hub-relay")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: hub-relay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the relay gateway")
		fmt.Println("  init    Create a new config file interactively")
		fmt.Println("  health  Check gateway health")
		fmt.Println("  peers   List connected peers")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "peers":
		err = runPeers(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Listen:   %s\n", cfg.Server.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Peers:    %d configured\n", len(cfg.Peers))

	fmt.Println()

	logger.Info("starting hub-relay",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	registerEventHandlers(gw.Engine(), logger.With("component", "events"))

	return gw.Run(ctx)
}

// registerEventHandlers wires the collaborator-facing inbound dispatch.
// System messages from any satellite are forwarded to the SystemUpdates
// peer. Correlated events are acknowledged once, with a seen-key cache so
// satellite retries are not forwarded twice.
func registerEventHandlers(eng *relay.Engine, logger *slog.Logger) {
	seen := dedupe.New(5*time.Minute, 100_000) // TTL 5min, max 100k keys

	forward := func(from peer.Identity, env *wire.Envelope) {
		if env.Data.EventType != "systemMessage" {
			logger.Debug("ignoring inbound event", "peer", from, "sub_kind", env.Data.EventType)
			return
		}
		ok, err := eng.Send(systemUpdatesPeer, wire.KindSend, env.Data.EventData, env.Data.EventType)
		if err != nil {
			logger.Warn("cannot forward system message", "from", from, "error", err)
			return
		}
		if !ok {
			logger.Info("system message not delivered", "from", from)
		}
	}

	eng.OnEvent(wire.KindSend, forward)

	eng.OnEvent(wire.KindRequireReply, func(from peer.Identity, env *wire.Envelope) {
		if env.Key != "" && seen.Seen(env.Key) {
			// Retry of an event already processed; just re-acknowledge.
			_, _ = eng.Reply(from, env.Key, true)
			return
		}

		forward(from, env)

		if env.Key != "" {
			if _, err := eng.Reply(from, env.Key, true); err != nil {
				logger.Warn("cannot acknowledge event", "from", from, "key", env.Key, "error", err)
			}
		}
	})
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.ListenAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runPeers(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.ListenAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("peers check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(string(body))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("hub-relay configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "relay.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	listenAddr := prompt(reader, "Listen address", "localhost:8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Peers
	fmt.Println("\n--- Peer Configuration ---")
	fmt.Println("Each peer needs an identity and a shared secret.")
	peers := map[string]string{}
	for {
		name := prompt(reader, "Peer identity (empty to finish)", "")
		if name == "" {
			break
		}
		secret := prompt(reader, fmt.Sprintf("Secret for %s", name), "")
		if secret == "" {
			fmt.Println("Secret cannot be empty, skipping peer.")
			continue
		}
		peers[name] = secret
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# hub-relay configuration\n")
	cfg.WriteString("# Generated by hub-relay init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  listen_addr: \"%s\"\n", listenAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("peers:\n")
	if len(peers) == 0 {
		cfg.WriteString("  # identity: shared secret, expand from env with ${VAR}\n")
		cfg.WriteString("  # SystemUpdates: \"${SYSTEM_UPDATES_SECRET}\"\n")
	}
	for name, secret := range peers {
		cfg.WriteString(fmt.Sprintf("  %s: \"%s\"\n", name, secret))
	}
	cfg.WriteString("\n")

	cfg.WriteString("relay:\n")
	cfg.WriteString("  ping_interval: \"45s\"\n")
	cfg.WriteString("  heartbeat_timeout: \"90s\"\n")
	cfg.WriteString("  request_timeout: \"20s\"\n")
	cfg.WriteString("  sweep_interval: \"20s\"\n")
	cfg.WriteString("  redelivery_interval: \"20s\"\n")
	cfg.WriteString("  pending_max_age: \"168h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  hub-relay serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	answer, err := reader.ReadString('\n')
	if err != nil {
		return defaultVal
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return defaultVal
	}
	return answer
}
