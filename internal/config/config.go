package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/user/telterm/internal/pty"
)

type Config struct {
	Port          int
	Token         string
	TelnetCommand string
	DBPath        string
	BookmarksDir  string
	DefaultCols   int
	DefaultRows   int
	AutoReap      bool
	LogLevel      string
	ConfigPath    string
	PrintToken    bool

	// Links holds the positional arguments, normally telnet:// URLs.
	Links []string
}

func defaults(homeDir string) *Config {
	base := filepath.Join(homeDir, ".config", "telterm")
	return &Config{
		Port:          8766,
		TelnetCommand: pty.DefaultCommand,
		DBPath:        filepath.Join(base, "telterm.db"),
		BookmarksDir:  filepath.Join(base, "bookmarks"),
		DefaultCols:   pty.DefaultCols,
		DefaultRows:   pty.DefaultRows,
		LogLevel:      "info",
		ConfigPath:    filepath.Join(base, "config"),
	}
}

// Load reads the config file, then applies flags from args (os.Args[1:]
// in production). A token is generated and saved when none is set.
func Load(args []string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	cfg := defaults(homeDir)

	// The config path itself may come from a flag, so look for it first.
	if path := configPathFromArgs(args); path != "" {
		cfg.ConfigPath = path
	}
	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	fs := flag.NewFlagSet("telterm", flag.ContinueOnError)
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "config file path")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	fs.StringVar(&cfg.TelnetCommand, "telnet", cfg.TelnetCommand, "telnet client command line")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "session history database path")
	fs.StringVar(&cfg.BookmarksDir, "bookmarks", cfg.BookmarksDir, "bookmarks directory")
	fs.IntVar(&cfg.DefaultCols, "cols", cfg.DefaultCols, "default terminal columns")
	fs.IntVar(&cfg.DefaultRows, "rows", cfg.DefaultRows, "default terminal rows")
	fs.BoolVar(&cfg.AutoReap, "auto-reap", cfg.AutoReap, "remove sessions once their client exits")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Links = fs.Args()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

func configPathFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			return ""
		}
		for _, prefix := range []string{"-config=", "--config="} {
			if strings.HasPrefix(arg, prefix) {
				return strings.TrimPrefix(arg, prefix)
			}
		}
		if (arg == "-config" || arg == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if c.DefaultCols < 1 || c.DefaultCols > 65535 || c.DefaultRows < 1 || c.DefaultRows > 65535 {
		return fmt.Errorf("invalid default size %dx%d", c.DefaultCols, c.DefaultRows)
	}
	if strings.TrimSpace(c.TelnetCommand) == "" {
		return errors.New("telnet command must not be empty")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("db path must not be empty")
	}
	if strings.TrimSpace(c.BookmarksDir) == "" {
		return errors.New("bookmarks dir must not be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := c.set(key, value); err != nil {
			return fmt.Errorf("line %d: %w", n+1, err)
		}
	}
	return nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "Token":
		c.Token = value
	case "Port":
		return parseInt(key, value, &c.Port)
	case "TelnetCommand":
		c.TelnetCommand = value
	case "DBPath":
		c.DBPath = value
	case "BookmarksDir":
		c.BookmarksDir = value
	case "DefaultCols":
		return parseInt(key, value, &c.DefaultCols)
	case "DefaultRows":
		return parseInt(key, value, &c.DefaultRows)
	case "AutoReap":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", key, value, err)
		}
		c.AutoReap = b
	case "LogLevel":
		c.LogLevel = value
	}
	return nil
}

func parseInt(key, value string, dst *int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	*dst = n
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Port=%d\n", c.Port)
	fmt.Fprintf(&b, "Token=%s\n", c.Token)
	fmt.Fprintf(&b, "TelnetCommand=%s\n", c.TelnetCommand)
	fmt.Fprintf(&b, "DBPath=%s\n", c.DBPath)
	fmt.Fprintf(&b, "BookmarksDir=%s\n", c.BookmarksDir)
	fmt.Fprintf(&b, "DefaultCols=%d\n", c.DefaultCols)
	fmt.Fprintf(&b, "DefaultRows=%d\n", c.DefaultRows)
	fmt.Fprintf(&b, "AutoReap=%t\n", c.AutoReap)
	fmt.Fprintf(&b, "LogLevel=%s\n", c.LogLevel)
	return os.WriteFile(c.ConfigPath, []byte(b.String()), 0600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
