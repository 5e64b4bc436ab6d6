package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/bootstrap"
	"github.com/subsplit/subsplit/internal/client"
	"github.com/subsplit/subsplit/internal/config"
	"github.com/subsplit/subsplit/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		if err := runInit(os.Args[2:]); err != nil {
			log.Fatalf("init failed: %v", err)
		}
		fmt.Println("subsplit config initialised")
	case "help", "--help", "-h":
		printUsage()
	default:
		if err := runCommand(os.Args[1], os.Args[2:]); err != nil {
			log.Fatalf("%s failed: %v", os.Args[1], err)
		}
	}
}

func printUsage() {
	fmt.Print(`Subsplit CLI

Usage:
  subsplit init [flags]                Generate config/setting.ini and environment overrides
  subsplit health                      Check daemon health
  subsplit generate [flags]            Create a virtual card
  subsplit validate -number N -cvv C   Validate card credentials
  subsplit browse [flags]              List cards for sale
  subsplit purchase -card ID           Buy a listed card (-hours N)
  subsplit multiplier -platform P      Show the live demand multiplier
  subsplit usage [-limit N]            Show recent metered requests

Common flags:
  --addr string    daemon base URL (default http://localhost:8090, or SUBSPLIT_API)
  --user string    acting user ID (or SUBSPLIT_USER_ID)

Flags for init:
  --root string         output directory (default '.')
  --env string          environment name (default 'dev')
  --listen string       daemon bind address (default ':8090')
  --database string     database path or postgres:// DSN
  --redis string        redis address for distributed rate limiting
  --force               overwrite existing files
`)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	root := fs.String("root", ".", "config root")
	env := fs.String("env", "dev", "environment name")
	listen := fs.String("listen", ":8090", "daemon bind address")
	database := fs.String("database", "", "database path or DSN")
	redis := fs.String("redis", "", "redis address")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts := bootstrap.InitOptions{
		Root:        *root,
		Environment: *env,
		ListenAddr:  *listen,
		DatabaseDSN: *database,
		RedisAddr:   *redis,
		Force:       *force,
	}
	if err := bootstrap.Validate(opts); err != nil {
		return err
	}
	return bootstrap.Init(opts)
}

// cli carries the shared state every API subcommand needs.
type cli struct {
	api    *client.Client
	logger *log.Logger
}

func runCommand(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("addr", "", "daemon base URL")
	user := fs.String("user", "", "acting user ID")

	// Per-command flags registered up front so one parse pass covers all.
	number := fs.String("number", "", "card number")
	cvv := fs.String("cvv", "", "card CVV")
	platformName := fs.String("platform", "", "platform name")
	accountID := fs.String("account", "", "platform account ID")
	balance := fs.Float64("balance", 0, "initial card balance")
	price := fs.Float64("price", 0, "price per hour")
	expiry := fs.Int("expiry", 0, "card lifetime in hours")
	maxPrice := fs.Float64("max-price", 0, "maximum listing price")
	cardID := fs.String("card", "", "card ID")
	hours := fs.Int("hours", 1, "access duration in hours")
	limit := fs.Int("limit", 20, "result limit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOutput := io.Writer(os.Stderr)
	if target := strings.TrimSpace(cfg.LogFileCLI); target != "" {
		out, closeLogs, err := logging.Setup(target)
		if err != nil {
			return fmt.Errorf("init cli log: %w", err)
		}
		defer closeLogs()
		logOutput = out
	}
	logger := log.New(logOutput, "[subsplit] ", log.LstdFlags)

	baseURL := firstNonEmpty(*addr, os.Getenv("SUBSPLIT_API"), "http://localhost"+cfg.ListenAddr)
	userID := uuid.Nil
	if raw := firstNonEmpty(*user, os.Getenv("SUBSPLIT_USER_ID")); raw != "" {
		userID, err = uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid user ID %q: %w", raw, err)
		}
	}

	api, err := client.New(baseURL, userID, nil)
	if err != nil {
		return err
	}
	c := &cli{api: api, logger: logger}
	ctx := context.Background()

	switch name {
	case "health":
		if err := c.api.Health(ctx); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	case "generate":
		acct, err := uuid.Parse(*accountID)
		if err != nil {
			return fmt.Errorf("invalid --account: %w", err)
		}
		issued, err := c.api.GenerateCard(ctx, client.GenerateCardParams{
			PlatformAccountID: acct,
			Platform:          *platformName,
			InitialBalance:    *balance,
			PricePerHour:      *price,
			ExpiryHours:       *expiry,
		})
		if err != nil {
			return err
		}
		c.logger.Printf("card %s issued on %s", issued.Card.ID, issued.Card.Platform)
		return printJSON(issued)
	case "validate":
		v, err := c.api.ValidateCard(ctx, *number, *cvv)
		if err != nil {
			return err
		}
		return printJSON(v)
	case "browse":
		listings, err := c.api.Browse(ctx, *platformName, *maxPrice)
		if err != nil {
			return err
		}
		return printJSON(listings)
	case "purchase":
		id, err := uuid.Parse(*cardID)
		if err != nil {
			return fmt.Errorf("invalid --card: %w", err)
		}
		result, err := c.api.Purchase(ctx, id, *hours)
		if err != nil {
			return err
		}
		c.logger.Printf("card %s purchased for %.2f", result.Card.ID, result.Transaction.Amount)
		return printJSON(result)
	case "multiplier":
		if *platformName == "" {
			return fmt.Errorf("--platform is required")
		}
		mult, err := c.api.Multiplier(ctx, *platformName)
		if err != nil {
			return err
		}
		fmt.Printf("%.4f\n", mult)
		return nil
	case "usage":
		entries, err := c.api.Usage(ctx, *limit)
		if err != nil {
			return err
		}
		return printJSON(entries)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", name)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
