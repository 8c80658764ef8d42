// ABOUTME: Entry point for the helmsman coordination server
// ABOUTME: Tracks agent registrations and routes messages between agents

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
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

	"github.com/helmsman-ai/helmsman/internal/config"
	"github.com/helmsman-ai/helmsman/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _          _
 | |__   ___| |_ __ ___  ___ _ __ ___   __ _ _ __
 | '_ \ / _ \ | '_ ' _ \/ __| '_ ' _ \ / _' | '_ \
 | | | |  __/ | | | | | \__ \ | | | | | (_| | | | |
 |_| |_|\___|_|_| |_| |_|___/_| |_| |_|\__,_|_| |_|
`

// getConfigPath returns the path to the helmsman config file.
// Priority: HELMSMAN_CONFIG env var > XDG_CONFIG_HOME/helmsman/helmsman.yaml > ~/.config/helmsman/helmsman.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HELMSMAN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "helmsman.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "helmsman", "helmsman.yaml")
}

// getDataPath returns the path to the helmsman data directory.
// Priority: XDG_DATA_HOME/helmsman > ~/.local/share/helmsman
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "helmsman")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: helmsman <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                      Start the coordination server")
		fmt.Println("  init                       Create a new config file interactively")
		fmt.Println("  health                     Check server health")
		fmt.Println("  agents                     List registered agents")
		fmt.Println("  send --agent ID MESSAGE    Send a message and wait for the reply")
		fmt.Println("  broadcast MESSAGE          Send a message to every ready agent")
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
	case "agents":
		err = runAgents(ctx)
	case "send":
		err = runSend(ctx)
	case "broadcast":
		err = runBroadcast(ctx)
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
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Registry:  %s\n", cfg.Registry.Path)
	if cfg.Database.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("History:   %s\n", cfg.Database.Path)
	}

	fmt.Println()

	logger.Info("starting helmsman",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"registry", cfg.Registry.Path,
	)

	// Create and run server
	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
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
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
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

func runAgents(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/agents", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing agents failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Agents []struct {
			AgentID       string    `json:"agent_id"`
			State         string    `json:"state"`
			Host          string    `json:"host"`
			Port          int       `json:"port"`
			LastHeartbeat time.Time `json:"last_heartbeat"`
			Capabilities  []string  `json:"capabilities"`
		} `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if len(body.Agents) == 0 {
		fmt.Println("no agents registered")
		return nil
	}

	for _, a := range body.Agents {
		stateColor := color.New(color.FgYellow)
		switch a.State {
		case "READY":
			stateColor = color.New(color.FgGreen)
		case "FAILED", "STOPPED":
			stateColor = color.New(color.FgRed)
		}
		fmt.Printf("%-20s %s  %s:%d  last seen %s  %s\n",
			a.AgentID,
			stateColor.Sprintf("%-9s", a.State),
			a.Host, a.Port,
			a.LastHeartbeat.Format("15:04:05"),
			strings.Join(a.Capabilities, ","),
		)
	}
	return nil
}

// runSend queues a message for one agent and waits for its reply.
func runSend(ctx context.Context) error {
	var agentID string
	var parts []string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--agent" || arg == "-a":
			if i+1 >= len(args) {
				return fmt.Errorf("--agent requires a value")
			}
			agentID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--agent="):
			agentID = strings.TrimPrefix(arg, "--agent=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			parts = append(parts, arg)
		}
	}

	if agentID == "" {
		return fmt.Errorf("--agent flag is required")
	}
	message := strings.TrimSpace(strings.Join(parts, " "))
	if message == "" {
		return fmt.Errorf("message is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sendBody, err := json.Marshal(map[string]string{"agent_id": agentID, "content": message})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/send", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(sendBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send rejected: %s", strings.TrimSpace(string(body)))
	}

	var accepted struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	collectURL := fmt.Sprintf("http://%s/api/collect/%s?timeout=30s", cfg.Server.HTTPAddr, accepted.MessageID)
	collectReq, err := http.NewRequestWithContext(ctx, http.MethodGet, collectURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	collectResp, err := http.DefaultClient.Do(collectReq)
	if err != nil {
		return fmt.Errorf("collect failed: %w", err)
	}
	defer collectResp.Body.Close()

	var result struct {
		Success  bool   `json:"success"`
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(collectResp.Body).Decode(&result); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if collectResp.StatusCode != http.StatusOK {
		return fmt.Errorf("no reply from %s: %s", agentID, result.Error)
	}
	if !result.Success {
		return fmt.Errorf("delivery to %s failed: %s", agentID, result.Error)
	}

	fmt.Println(result.Response)
	return nil
}

// runBroadcast sends a message to every ready agent and prints the replies.
func runBroadcast(ctx context.Context) error {
	message := strings.TrimSpace(strings.Join(os.Args[2:], " "))
	if message == "" {
		return fmt.Errorf("message is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sendBody, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/broadcast", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(sendBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("broadcast failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("broadcast rejected: %s", strings.TrimSpace(string(body)))
	}

	var accepted struct {
		Handles map[string]string `json:"handles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	collectBody, err := json.Marshal(map[string]any{
		"handles": accepted.Handles,
		"timeout": "30s",
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	collectURL := fmt.Sprintf("http://%s/api/broadcast/collect", cfg.Server.HTTPAddr)
	collectReq, err := http.NewRequestWithContext(ctx, http.MethodPost, collectURL, bytes.NewReader(collectBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	collectReq.Header.Set("Content-Type", "application/json")

	collectResp, err := http.DefaultClient.Do(collectReq)
	if err != nil {
		return fmt.Errorf("collect failed: %w", err)
	}
	defer collectResp.Body.Close()

	var result struct {
		Recipients int `json:"recipients"`
		Responses  int `json:"responses"`
		Results    map[string]struct {
			Success  bool   `json:"success"`
			Response string `json:"response"`
			Error    string `json:"error"`
		} `json:"results"`
	}
	if err := json.NewDecoder(collectResp.Body).Decode(&result); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	for agentID, res := range result.Results {
		if res.Success {
			green.Printf("%s: ", agentID)
			fmt.Println(res.Response)
		} else {
			red.Printf("%s: ", agentID)
			fmt.Println(res.Error)
		}
	}
	if missing := result.Recipients - result.Responses; missing > 0 {
		color.New(color.FgHiBlack).Printf("(%d agent(s) did not respond)\n", missing)
	}
	return nil
}

// runInit interactively writes a starter config file.
func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("helmsman configuration setup")
	fmt.Println("============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultRegistryPath := filepath.Join(defaultDataPath, "registry.json")
	defaultDbPath := filepath.Join(defaultDataPath, "history.db")

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
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// Storage
	fmt.Println("\n--- Storage Configuration ---")
	registryPath := prompt(reader, "Registry document path", defaultRegistryPath)
	dbPath := prompt(reader, "Delivery history database path (empty to disable)", defaultDbPath)

	// Timing
	fmt.Println("\n--- Agent Timing ---")
	heartbeatInterval := prompt(reader, "Heartbeat interval", "30s")
	heartbeatTimeout := prompt(reader, "Heartbeat timeout", "90s")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# helmsman configuration\n")
	cfg.WriteString("# Generated by helmsman init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("registry:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", registryPath))
	cfg.WriteString("\n")

	if dbPath != "" {
		cfg.WriteString("database:\n")
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
		cfg.WriteString("\n")
	}

	cfg.WriteString("agents:\n")
	cfg.WriteString(fmt.Sprintf("  heartbeat_interval: \"%s\"\n", heartbeatInterval))
	cfg.WriteString(fmt.Sprintf("  heartbeat_timeout: \"%s\"\n", heartbeatTimeout))
	cfg.WriteString("  dispatch_interval: \"500ms\"\n")
	cfg.WriteString("  response_timeout: \"10s\"\n")
	cfg.WriteString("  entry_max_age: \"1h\"\n")
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
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(defaultDataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  helmsman serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
