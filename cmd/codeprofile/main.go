// Command codeprofile aggregates competitive-programming profiles.
//
// Usage:
//
//	codeprofile -user u1 fetch leetcode=alice codeforces=alice_cf
//	codeprofile -user u1 stats
//	codeprofile -user u1 disconnect codeforces
//	codeprofile -roster roster.json watch
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/codeGROOVE-dev/codeprofile/pkg/activity"
	"github.com/codeGROOVE-dev/codeprofile/pkg/aggregate"
	"github.com/codeGROOVE-dev/codeprofile/pkg/codeprofile"
	"github.com/codeGROOVE-dev/codeprofile/pkg/config"
	"github.com/codeGROOVE-dev/codeprofile/pkg/refresh"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	verbose := flag.Bool("v", false, "verbose logging (same as -debug)")
	envFile := flag.String("env", "", "load settings from this .env file (default: ./.env if present)")
	userID := flag.String("user", "", "user id records are stored under")
	noBrowser := flag.Bool("no-browser", false, "disable the headless browser strategy")
	browserCookies := flag.Bool("browser-cookies", false, "read platform cookies from local browser stores")
	dbDriver := flag.String("db-driver", "", "store backend: sqlite or postgres (overrides CODEPROFILE_DB_DRIVER)")
	dbDSN := flag.String("db-dsn", "", "store DSN or file path (overrides CODEPROFILE_DB_DSN)")
	roster := flag.String("roster", "", "roster file for watch (overrides CODEPROFILE_ROSTER)")
	every := flag.Duration("every", 0, "refresh interval for watch (overrides CODEPROFILE_REFRESH_EVERY)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *debug || *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	var cfg config.Config
	if *envFile != "" {
		cfg = config.Load(*envFile)
	} else {
		cfg = config.Load()
	}
	if *dbDriver != "" && *dbDriver != cfg.DBDriver {
		cfg.DBDriver = *dbDriver
		cfg.DBDSN = config.DefaultDSN(*dbDriver)
	}
	if *dbDSN != "" {
		cfg.DBDSN = *dbDSN
	}
	if *roster != "" {
		cfg.RosterPath = *roster
	}
	if *every > 0 {
		cfg.RefreshEvery = *every
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []codeprofile.Option{codeprofile.WithConfig(cfg), codeprofile.WithLogger(logger)}
	if *noBrowser {
		opts = append(opts, codeprofile.WithoutBrowser())
	}
	if *browserCookies {
		opts = append(opts, codeprofile.WithBrowserCookies())
	}

	client, err := codeprofile.New(ctx, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1) //nolint:gocritic // exitAfterDefer is acceptable in main
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close client", "error", err)
		}
	}()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := run(ctx, client, cfg, cmd, *userID, args, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, client *codeprofile.Client, cfg config.Config, cmd, userID string, args []string, logger *slog.Logger) error {
	needUser := func() error {
		if userID == "" {
			return errors.New(cmd + " requires -user")
		}
		return nil
	}

	switch cmd {
	case "fetch":
		if err := needUser(); err != nil {
			return err
		}
		handles, err := parseHandles(args)
		if err != nil {
			return err
		}
		res, err := client.Aggregate(ctx, userID, handles)
		if err != nil {
			return err
		}
		return outputJSON(res)

	case "stats":
		if err := needUser(); err != nil {
			return err
		}
		agg, err := client.Activity(ctx, userID)
		if err != nil {
			return err
		}
		records, err := client.Stored(ctx, userID)
		if err != nil {
			return err
		}
		solved := make(map[string]int, len(records))
		total := 0
		for _, r := range records {
			solved[string(r.Platform)] = r.Data.TotalSolved
			total += r.Data.TotalSolved
		}
		return outputJSON(struct {
			Solved      map[string]int      `json:"solved"`
			Heatmap     []activity.Cell     `json:"heatmap"`
			Activity    activity.Aggregated `json:"activity"`
			TotalSolved int                 `json:"total_solved"`
		}{Solved: solved, TotalSolved: total, Activity: agg, Heatmap: activity.Heatmap(agg)})

	case "disconnect":
		if err := needUser(); err != nil {
			return err
		}
		if len(args) == 0 {
			return errors.New("disconnect requires at least one platform")
		}
		for _, p := range args {
			if err := client.Disconnect(ctx, userID, p); err != nil {
				return err
			}
		}
		return nil

	case "watch":
		r, err := refresh.New(client.Service(), refresh.FileRoster(cfg.RosterPath), cfg.RefreshEvery,
			refresh.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := r.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		logger.Info("shutting down")
		return r.Stop()

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// parseHandles reads platform=username arguments.
func parseHandles(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("fetch requires platform=username arguments")
	}
	handles := make(map[string]string, len(args))
	for _, a := range args {
		platform, username, ok := strings.Cut(a, "=")
		if !ok || platform == "" {
			return nil, fmt.Errorf("malformed handle %q, want platform=username", a)
		}
		if _, dup := handles[platform]; dup {
			return nil, fmt.Errorf("platform %q given twice", platform)
		}
		handles[platform] = username
	}
	return handles, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: codeprofile [options] <command> [args]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	fmt.Fprintln(os.Stderr, "  fetch platform=username ...   fetch, store and print profiles (needs -user)")
	fmt.Fprintln(os.Stderr, "  stats                         print stored activity stats (needs -user)")
	fmt.Fprintln(os.Stderr, "  disconnect platform ...       delete stored profiles (needs -user)")
	fmt.Fprintln(os.Stderr, "  watch                         refresh every roster user periodically")
	fmt.Fprintln(os.Stderr, "\nOptions:")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "\nPlatforms: leetcode, codeforces, codechef, hackerrank, hackerearth, code360 (codestudio), geeksforgeeks (gfg)")
	fmt.Fprintf(os.Stderr, "Timeouts default to %v, or %v for browser-backed platforms.\n",
		aggregate.DefaultTimeout, aggregate.DefaultSlowTimeout)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
