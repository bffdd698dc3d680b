// ABOUTME: Entry point for browserid-gateway
// ABOUTME: Serves BrowserID logins and offers verify/users/audit/health maintenance commands

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/browserid-gateway/internal/config"
	"github.com/2389/browserid-gateway/internal/gateway"
)

// version is overridden with -ldflags "-X main.version=..." in release builds.
var version = "dev"

const banner = `
 _                                  _     _
| |__  _ __ _____      _____  ___ _(_) __| |
| '_ \| '__/ _ \ \ /\ / / __|/ _ \ '__| |/ _' |
| |_) | | | (_) \ V  V /\__ \  __/ |  | | (_| |
|_.__/|_|  \___/ \_/\_/ |___/\___|_|  |_|\__,_|
`

// getConfigPath returns the path to the gateway config file.
// Priority: BROWSERID_CONFIG env var > XDG_CONFIG_HOME/browserid/gateway.yaml > ~/.config/browserid/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BROWSERID_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "browserid", "gateway.yaml")
}

// getDataPath returns the path to the browserid data directory.
// Priority: XDG_DATA_HOME/browserid > ~/.local/share/browserid
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "browserid")
}

func usage() {
	fmt.Println("Usage: browserid-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the gateway server")
	fmt.Println("  init                                Create a new config file interactively")
	fmt.Println("  verify [--audience URL] ASSERTION   Check an assertion with the configured verifier")
	fmt.Println("  users [list|show|enable|disable]    Inspect and manage user accounts")
	fmt.Println("  audit [--action A] [--limit N]      Show recent authentication events")
	fmt.Println("  health                              Check gateway health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "verify":
		err = runVerify(ctx, args)
	case "users":
		err = runUsers(ctx, args)
	case "audit":
		err = runAudit(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Verifier:  %s", cfg.BrowserID.Verifier)
	switch cfg.BrowserID.Verifier {
	case config.VerifierRemote:
		gray.Printf(" (%s)", cfg.BrowserID.VerificationURL)
	case config.VerifierMock:
		yellow.Print(" [every assertion accepted]")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Audiences: %s\n", strings.Join(cfg.BrowserID.Audiences, ", "))
	if !cfg.BrowserID.CreateUser {
		green.Print("    ▶ ")
		gray.Println("Account creation disabled")
	}

	fmt.Println()

	logger.Info("starting browserid-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"verifier", cfg.BrowserID.Verifier,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
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

// initFile is the subset of the config that init asks about. Everything
// else keeps the defaults from config.Default when the file is loaded.
type initFile struct {
	Server struct {
		HTTPAddr string `yaml:"http_addr"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	BrowserID initBrowserID `yaml:"browserid"`
	Logging   struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

type initBrowserID struct {
	Verifier        string            `yaml:"verifier"`
	VerificationURL string            `yaml:"verification_url,omitempty"`
	HTTPTimeout     string            `yaml:"http_timeout"`
	Audiences       []string          `yaml:"audiences"`
	CreateUser      bool              `yaml:"create_user"`
	Local           *initLocal        `yaml:"local,omitempty"`
	Mock            map[string]string `yaml:"mock,omitempty"`
}

type initLocal struct {
	TrustedIssuers map[string]string `yaml:"trusted_issuers"`
	ReplayWindow   string            `yaml:"replay_window"`
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	color.New(color.FgCyan).Println("browserid-gateway setup")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var f initFile
	f.Server.HTTPAddr = prompt(reader, "Listen address", "127.0.0.1:8000")
	f.Database.Path = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "browserid.db"))

	b := &f.BrowserID
	b.Audiences = []string{prompt(reader, "Site origin (audience)", "http://"+f.Server.HTTPAddr)}
	b.Verifier = prompt(reader, "Verifier (remote/local/mock)", config.VerifierRemote)
	b.HTTPTimeout = "5s"
	switch b.Verifier {
	case config.VerifierRemote:
		b.VerificationURL = prompt(reader, "Verification URL", config.Default().BrowserID.VerificationURL)
	case config.VerifierLocal:
		issuer := prompt(reader, "Trusted issuer domain", "login.persona.org")
		key := prompt(reader, "Issuer public key (PEM file)", "")
		b.Local = &initLocal{
			TrustedIssuers: map[string]string{issuer: key},
			ReplayWindow:   "2m",
		}
	case config.VerifierMock:
		b.Mock = map[string]string{"email": prompt(reader, "Email the mock verifier accepts", "dev@example.com")}
	}
	b.CreateUser = isYes(prompt(reader, "Create accounts on first login?", "yes"))

	f.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", "info")
	f.Logging.Format = prompt(reader, "Log format (text/json)", "text")

	body, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	header := "# browserid-gateway configuration, written by `browserid-gateway init`\n\n"
	if err := os.WriteFile(outputFile, append([]byte(header), body...), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(f.Database.Path)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	green := color.New(color.FgGreen)
	fmt.Println()
	green.Printf("  ✓ Config written to %s\n", outputFile)
	fmt.Printf("    Data directory: %s\n", dataDir)
	fmt.Println("    Start the server with: browserid-gateway serve")
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
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
