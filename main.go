package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/repoexplorer/githubapi"
	"github.com/briangreenhill/repoexplorer/internal/config"
	"github.com/briangreenhill/repoexplorer/internal/store"
	"github.com/briangreenhill/repoexplorer/repos"
)

const version = "v0.1.0"

func main() {
	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	args := os.Args[1:]

	if len(args) == 0 || isHelp(args[0]) {
		printUsage(os.Stdout)
		return
	}
	if isVersion(args[0]) {
		fmt.Println("repoexplorer " + version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("invalid config")
	}
	logger := cfg.Logger(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	h, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open cache store")
	}
	svc := store.NewService(cfg, h, logger)

	runErr := run(ctx, svc, cfg.Orgs, args, os.Stdout)
	if err := h.Close(); err != nil {
		logger.Error().Err(err).Msg("close cache store")
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "Error: "+describe(runErr, time.Now()))
		os.Exit(1)
	}
}

type command struct {
	usage string
	run   func(ctx context.Context, svc *repos.Service, defaultOrgs, args []string, w io.Writer) error

	// positional arg bounds; maxArgs < 0 means unbounded
	minArgs, maxArgs int
}

var commands = map[string]command{
	"repos": {
		usage:   "repos [org...]",
		minArgs: 0,
		maxArgs: -1,
		run:     runRepos,
	},
	"repo": {
		usage:   "repo <owner> <name>",
		minArgs: 2,
		maxArgs: 2,
		run: func(ctx context.Context, svc *repos.Service, _, args []string, w io.Writer) error {
			r, err := svc.Repository(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		},
	},
	"readme": {
		usage:   "readme <owner> <name>",
		minArgs: 2,
		maxArgs: 2,
		run: func(ctx context.Context, svc *repos.Service, _, args []string, w io.Writer) error {
			md, ok, err := svc.ReadmeMarkdown(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				_, err = fmt.Fprintf(w, "%s/%s has no downloadable README\n", args[0], args[1])
				return err
			}
			_, err = io.WriteString(w, md)
			return err
		},
	},
	"clear": {
		usage:   "clear",
		minArgs: 0,
		maxArgs: 0,
		run: func(ctx context.Context, svc *repos.Service, _, _ []string, w io.Writer) error {
			if err := svc.ClearCache(ctx); err != nil {
				return err
			}
			_, err := fmt.Fprintln(w, "cache cleared")
			return err
		},
	},
}

// run dispatches one CLI command against svc
func run(ctx context.Context, svc *repos.Service, defaultOrgs, args []string, w io.Writer) error {
	if len(args) == 0 {
		printUsage(w)
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	rest := args[1:]
	if len(rest) < cmd.minArgs || (cmd.maxArgs >= 0 && len(rest) > cmd.maxArgs) {
		return fmt.Errorf("usage: repoexplorer %s", cmd.usage)
	}
	return cmd.run(ctx, svc, defaultOrgs, rest, w)
}

func runRepos(ctx context.Context, svc *repos.Service, defaultOrgs, args []string, w io.Writer) error {
	orgs := args
	if len(orgs) == 0 {
		orgs = defaultOrgs
	}
	if len(orgs) == 0 {
		return fmt.Errorf("no organizations given and EXPLORER_ORGS is empty")
	}

	list, err := svc.Organizations(ctx, orgs...)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tSTARS\tUPDATED\tDESCRIPTION")
	for _, r := range list {
		updated := "-"
		if ts := r.GetUpdatedAt(); !ts.IsZero() {
			updated = ts.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.GetFullName(), r.GetStargazersCount(), updated, oneLine(r.GetDescription()))
	}
	return tw.Flush()
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

// describe renders API failures with the detail a terminal user needs
func describe(err error, now time.Time) string {
	apiErr, ok := githubapi.AsAPIError(err)
	if !ok {
		return err.Error()
	}
	if apiErr.RateLimited() {
		if reset, ok := apiErr.RateLimit.ResetAt(); ok {
			return fmt.Sprintf("GitHub rate limit exhausted, resets in %s (set GITHUB_TOKEN for a higher limit)",
				reset.Sub(now).Round(time.Second))
		}
		return "GitHub rate limit exhausted (set GITHUB_TOKEN for a higher limit)"
	}
	if apiErr.StatusCode == 0 {
		return apiErr.Error()
	}
	return fmt.Sprintf("%s (HTTP %d)", apiErr.Message, apiErr.StatusCode)
}

func isHelp(a string) bool {
	return a == "help" || a == "--help" || a == "-h"
}

func isVersion(a string) bool {
	return a == "version" || a == "--version" || a == "-v"
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Usage: repoexplorer <command> [args]")
	fmt.Fprintln(w, "Commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  GITHUB_TOKEN     API token (optional, raises the rate limit)")
	fmt.Fprintln(w, "  EXPLORER_ORGS    default orgs for `repos` (comma separated)")
	fmt.Fprintln(w, "  CACHE_BACKEND    file, memory, redis or postgres")
	fmt.Fprintln(w, "  CACHE_DIR        file cache directory (default ~/.repoexplorer_cache)")
}
