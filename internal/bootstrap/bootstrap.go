// Package bootstrap scaffolds the config files a fresh subsplit checkout
// needs before the daemon can start.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subsplit/subsplit/internal/config"
)

// InitOptions configures config file generation.
type InitOptions struct {
	Root        string
	Environment string
	ListenAddr  string
	DatabaseDSN string
	RedisAddr   string
	Force       bool
}

// Init scaffolds config/setting.ini plus the environment override file.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := os.MkdirAll(filepath.Join(opts.Root, "config", opts.Environment), 0o755); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	envPath := filepath.Join(opts.Root, "config", opts.Environment, "subsplit.ini")
	return writeFile(envPath, envTemplate(opts), opts.Force)
}

// Validate checks options without touching the filesystem.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	if strings.ContainsAny(opts.Environment, "/\\ ") {
		return errors.New("environment must be a plain directory name")
	}
	if !strings.HasPrefix(opts.ListenAddr, ":") && !strings.Contains(opts.ListenAddr, ":") {
		return errors.New("listen address must include a port")
	}
	return nil
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.ListenAddr) == "" {
		opts.ListenAddr = ":8090"
	}
	if strings.TrimSpace(opts.DatabaseDSN) == "" {
		opts.DatabaseDSN = config.DefaultDatabasePath()
	}
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Subsplit settings
environment=%s
`, opts.Environment)
}

func envTemplate(opts InitOptions) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Environment specific overrides for %s\n", opts.Environment)
	fmt.Fprintf(&sb, "listen_addr=%s\n", opts.ListenAddr)
	fmt.Fprintf(&sb, "database_dsn=%s\n", opts.DatabaseDSN)
	if opts.RedisAddr != "" {
		fmt.Fprintf(&sb, "redis_addr=%s\n", opts.RedisAddr)
	} else {
		sb.WriteString("# redis_addr=localhost:6379\n")
	}
	sb.WriteString(`log_level=info
# Separate log files (CLI and daemon). Dash '-' disables file output.
log_file_cli=logs/subsplit-cli.log
log_file_daemon=logs/subsplitd.log
sweep_interval=1m
session_duration=1h
`)
	return sb.String()
}
