package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/convoy"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/search"
	"github.com/urfave/cli/v2"
)

func configPath(c *cli.Context) string {
	if p := c.String("config"); p != "" {
		return p
	}
	return convoy.DefaultConfigPath()
}

func loadConfig(c *cli.Context) (*convoy.Config, error) {
	var opts []convoy.ConfigOption
	if dir := c.String("data-dir"); dir != "" {
		opts = append(opts, convoy.WithDataDir(dir))
	}
	return convoy.LoadConfig(configPath(c), opts...)
}

func openArchive(c *cli.Context, mutate ...func(*convoy.Config)) (*convoy.Archive, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	for _, fn := range mutate {
		fn(cfg)
	}
	archive, err := convoy.Open(cfg, convoy.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return archive, nil
}

// signalContext is canceled on interrupt or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func requireArg(c *cli.Context, name string) (string, error) {
	arg := strings.TrimSpace(c.Args().First())
	if arg == "" {
		return "", cli.Exit(fmt.Sprintf("%s is required", name), 2)
	}
	return arg, nil
}

func initCommand(c *cli.Context) error {
	path := configPath(c)
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return cli.Exit(fmt.Sprintf("%s already exists (use --force to overwrite)", path), 1)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	cfg := convoy.DefaultConfig()
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}

func accountAddCommand(c *cli.Context) error {
	id, err := requireArg(c, "account id")
	if err != nil {
		return err
	}
	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	account := &core.Account{
		ID:         id,
		ProviderID: c.String("provider"),
		Email:      c.String("email"),
		Name:       c.String("name"),
		Source:     c.String("source"),
	}
	if err := archive.AddAccount(c.Context, account); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "added %s\n", account.Key())
	return nil
}

func accountListCommand(c *cli.Context) error {
	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	accounts, err := archive.ListAccounts(c.Context)
	if err != nil {
		return err
	}
	renderAccounts(c.App.Writer, accounts)
	return nil
}

func accountRemoveCommand(c *cli.Context) error {
	id, err := requireArg(c, "account id")
	if err != nil {
		return err
	}
	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	return archive.RemoveAccount(c.Context, c.String("provider"), id)
}

func pullCommand(c *cli.Context) error {
	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	result, err := archive.Pull(ctx, convoy.PullParams{
		NewOnly:         c.Bool("new-only"),
		Provider:        c.String("provider"),
		ChannelCapacity: c.Int("capacity"),
		EmbedWorkers:    c.Int("workers"),
		FetchWorkers:    c.Int("fetch-workers"),
		MediaWorkers:    c.Int("media-workers"),
	})
	if result != nil {
		renderPullResult(c.App.Writer, result)
	}
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d conversations failed", result.Failed), 1)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return cli.Exit("query is required", 2)
	}
	mode, err := search.ParseMode(c.String("mode"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	level, err := core.ParseLevel(c.String("level"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	q := search.NewQuery(text, c.Int("limit"))
	q.Mode = mode
	q.Level = level
	results, err := archive.Search(c.Context, q)
	if err != nil {
		return err
	}
	renderSearchResults(c.App.Writer, results)
	return nil
}

func listCommand(c *cli.Context) error {
	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	convs, err := archive.ListConversations(c.Context, c.String("provider"), c.Int("limit"))
	if err != nil {
		return err
	}
	renderConversationList(c.App.Writer, convs)
	return nil
}

func showCommand(c *cli.Context) error {
	id, err := requireArg(c, "conversation id")
	if err != nil {
		return err
	}
	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	conv, attachments, err := archive.Conversation(c.Context, c.String("provider"), id)
	if err != nil {
		return err
	}
	renderConversation(c.App.Writer, conv, attachments)
	return nil
}

func statsCommand(c *cli.Context) error {
	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	stats, err := archive.Stats(c.Context)
	if err != nil {
		return err
	}
	renderStats(c.App.Writer, stats)
	return nil
}

func historyCommand(c *cli.Context) error {
	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	pulls, err := archive.RecentPulls(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	renderHistory(c.App.Writer, pulls)
	return nil
}

func compactCommand(c *cli.Context) error {
	archive, err := openArchive(c)
	if err != nil {
		return err
	}
	defer archive.Close()

	if c.Bool("status") {
		status, err := archive.CompactionStatus(c.Context)
		if err != nil {
			return err
		}
		renderCompactionStatus(c.App.Writer, status)
		return nil
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	results, err := archive.Compact(ctx)
	if err != nil {
		return err
	}
	renderCompactionResults(c.App.Writer, results)
	return nil
}

func reembedCommand(c *cli.Context) error {
	archive, err := openArchive(c, func(cfg *convoy.Config) {
		if n := c.Int("batch-size"); n > 0 {
			cfg.Reembed.BatchSize = n
		}
		if n := c.Int("report-interval"); n > 0 {
			cfg.Reembed.ReportInterval = n
		}
	})
	if err != nil {
		return err
	}
	defer archive.Close()

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	slog.Info("starting reembed", "model", archive.Config().AI.EmbeddingModel)
	result, err := archive.Reembed(ctx, c.String("provider"), c.App.ErrWriter)
	if result != nil {
		fmt.Fprintf(c.App.Writer, "reembedded %d conversations (%d chunks, %d records) in %s\n",
			result.Conversations, result.Chunks, result.Records, result.Duration.Round(time.Millisecond))
	}
	return err
}
