package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relist-ops/relist/internal/browser"
	"github.com/relist-ops/relist/internal/config"
	"github.com/relist-ops/relist/internal/history"
	"github.com/relist-ops/relist/internal/inbox"
	"github.com/relist-ops/relist/internal/pipeline"
	"github.com/relist-ops/relist/internal/template"
	"github.com/relist-ops/relist/internal/web"
)

var cfgFile string

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "relist",
		Short: "Relist - work through listing change requests in batches",
		Long: `Relist reads listing change requests from a mailbox, classifies each one
(end and relist, price revision, title edit, bulk instruction, review) and
hands them to you in small batches. Nothing is recorded as done until you
confirm the batch with --done.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.relist/config.yaml)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(undoCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(instructionsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(explainCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long:  "Create a new configuration file with your mailbox and batch settings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func batchCmd() *cobra.Command {
	var (
		done      bool
		size      int
		testMode  bool
		openPages bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Show the current batch of change requests",
		Long: `Fetch unread change requests and show the next batch grouped by category.

Without --done nothing is marked complete; run it again to see the same batch.
With --done the previously shown items are committed first, their messages are
marked read, and the next batch is shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			persist := cmd.Flags().Changed("batch")
			return runBatch(cmd.Context(), done, size, persist, testMode, openPages)
		},
	}

	cmd.Flags().BoolVar(&done, "done", false, "Commit the previously shown batch, then show the next one")
	cmd.Flags().IntVar(&size, "batch", 0, "Set the batch size for this and later runs")
	cmd.Flags().BoolVar(&testMode, "test", false, "Cap the batch at the test size (default 2)")
	cmd.Flags().BoolVar(&openPages, "open", true, "Open the listing pages in Chrome")

	return cmd
}

func undoCmd() *cobra.Command {
	var reopen bool

	cmd := &cobra.Command{
		Use:   "undo ID [ID...]",
		Short: "Remove listing ids from the completed ledger",
		Long: `Remove listing ids from the completed ledger so they can be processed again.

Undo alone does not bring entries back; they return once their messages are
unread. Use --reopen to mark the source messages unread as well.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUndo(cmd.Context(), args, reopen)
		},
	}

	cmd.Flags().BoolVar(&reopen, "reopen", false, "Also mark the source messages unread")

	return cmd
}

func statsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show processing statistics",
		Long:  "Display today, this week and all-time counts with a per-day breakdown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Number of days in the breakdown")

	return cmd
}

func instructionsCmd() *cobra.Command {
	var openPages bool

	cmd := &cobra.Command{
		Use:   "instructions",
		Short: "Show bulk instruction emails and their Seller Hub searches",
		Long:  "List unread instructions that target listings by search term instead of by id. State is not changed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstructions(cmd.Context(), openPages)
		},
	}

	cmd.Flags().BoolVar(&openPages, "open", true, "Open the Seller Hub searches in Chrome")

	return cmd
}

func serveCmd() *cobra.Command {
	var (
		port int
		open bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local dashboard",
		Long: `Start a local web server with the pending batch, statistics and the
same fetch / done actions as the batch command.

The server listens on 127.0.0.1 only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, open)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from config, 8088)")
	cmd.Flags().BoolVar(&open, "open", true, "Open the dashboard in the default browser")

	return cmd
}

func explainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain FILE.eml",
		Short: "Show how a saved message is classified",
		Long:  "Parse a saved message and print its normalized body, extracted fields and the rule that fired. State is not touched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(args[0])
		},
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Relist Configuration Setup")
	fmt.Println("==========================")
	fmt.Println()

	cfg := config.Default()

	fmt.Println("Mailbox")
	cfg.Inbox.Provider = promptDefault(reader, "Provider (gmail/outlook/imap/maildir)", "gmail")
	if cfg.Inbox.Provider == "maildir" {
		cfg.Inbox.Maildir = prompt(reader, "  Maildir path: ")
	} else {
		if cfg.Inbox.Provider == "imap" {
			cfg.Inbox.Server = prompt(reader, "  IMAP server: ")
		}
		cfg.Inbox.Email = prompt(reader, "  Email address: ")
		cfg.Inbox.Password = prompt(reader, "  App password: ")
	}
	cfg.Inbox.Folder = promptDefault(reader, "  Folder with change requests", "INBOX")
	cfg.Inbox.ProcessedFolder = prompt(reader, "  Move committed messages to folder (optional): ")

	fmt.Println()
	fmt.Println("Batches")
	if n, err := strconv.Atoi(promptDefault(reader, "  Items per batch", strconv.Itoa(cfg.Batch.Size))); err == nil && n > 0 {
		cfg.Batch.Size = n
	}
	cfg.State.Backend = promptDefault(reader, "  State backend (file/sqlite)", cfg.State.Backend)

	configPath := resolveConfigPath()
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	// Load fills provider servers such as imap.gmail.com.
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}

	fmt.Println()
	fmt.Printf("Configuration saved to: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Run 'relist batch --test' to see a small first batch")
	fmt.Println("  2. Process the items, then run 'relist batch --done'")
	fmt.Println("  3. Run 'relist stats' to see progress")

	return nil
}

func runBatch(ctx context.Context, done bool, size int, persist, testMode, openPages bool) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if persist {
		if size <= 0 {
			return fmt.Errorf("--batch must be positive")
		}
		cfg.Batch.Size = size
		if err := config.Save(resolveConfigPath(), cfg); err != nil {
			return fmt.Errorf("failed to save batch size: %w", err)
		}
	}
	batchSize := cfg.Batch.Size
	if testMode {
		batchSize = cfg.Batch.TestSize
	}

	engine, err := template.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	src, closeSrc, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	p := pipeline.New(src, store, pipelineOptions(cfg, batchSize))

	if done {
		report, err := p.Done(ctx)
		switch {
		case errors.Is(err, pipeline.ErrNothingShown):
			fmt.Fprintln(os.Stderr, err)
		case err != nil:
			return err
		default:
			out, err := engine.Commit(report)
			if err != nil {
				return err
			}
			fmt.Println(out)
			fmt.Println()
		}
	}

	view, err := p.Next(ctx)
	if err != nil {
		return err
	}
	out, err := engine.Batch(view)
	if err != nil {
		return err
	}
	fmt.Println(out)

	if openPages && cfg.Browser.Enabled && !view.Empty() {
		return openInBrowser(ctx, cfg, browser.PagesFor(view.Entries()))
	}
	return nil
}

func runUndo(ctx context.Context, ids []string, reopen bool) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	engine, err := template.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// The mailbox is only needed to reopen messages.
	var src pipeline.Source
	if reopen {
		s, closeSrc, err := openSource(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeSrc()
		src = s
	}

	report, err := pipeline.New(src, store, pipelineOptions(cfg, cfg.Batch.Size)).Undo(ctx, ids, reopen)
	if err != nil {
		return err
	}
	out, err := engine.Undo(report)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runStats(days int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	engine, err := template.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	printWarnings(store.Warnings())

	out, err := engine.Stats(store.Statistics(days))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runInstructions(ctx context.Context, openPages bool) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	engine, err := template.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}

	src, closeSrc, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	msgs, err := src.FetchUnread(ctx, cfg.Inbox.Folder)
	if err != nil {
		return &pipeline.UnavailableError{Resource: "mail folder " + cfg.Inbox.Folder, Err: err}
	}

	var entries []history.Entry
	for _, msg := range msgs {
		c := inbox.Classify(msg)
		if c.Category != inbox.CategoryBulkInstruction {
			continue
		}
		entries = append(entries, history.Entry{
			Key:            history.KeyFor(c, msg.ID),
			MessageID:      msg.ID,
			Subject:        msg.Subject,
			ReceivedAt:     msg.ReceivedAt,
			Classification: c,
		})
	}

	out, err := engine.Instructions(entries)
	if err != nil {
		return err
	}
	fmt.Println(out)

	if openPages && cfg.Browser.Enabled && len(entries) > 0 {
		return openInBrowser(ctx, cfg, browser.PagesFor(entries))
	}
	return nil
}

func runServe(ctx context.Context, port int, open bool) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Web.Port
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	src, closeSrc, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	server, err := web.NewServer(port, pipeline.New(src, store, pipelineOptions(cfg, cfg.Batch.Size)))
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	return server.Start(open)
}

func runExplain(path string) error {
	engine, err := template.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}

	msg, err := inbox.ReadMessageFile(path)
	if err != nil {
		return err
	}
	body := msg.Body
	if body == "" {
		body = msg.HTMLBody
	}
	c := inbox.Classify(*msg)

	out, err := engine.Explain(template.ExplainData{
		Message:        *msg,
		Normalized:     inbox.Normalize(msg.Subject, body),
		Classification: c,
		Key:            history.KeyFor(c, msg.ID),
	})
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func openInBrowser(ctx context.Context, cfg *config.Config, pages []browser.Page) error {
	if len(pages) == 0 {
		return nil
	}

	bc := browser.FromConfig(cfg.Browser)
	bc.WaitCallback = func() error {
		fmt.Println()
		fmt.Println("Pages are open. Press ENTER to close the browser...")
		_, err := bufio.NewReader(os.Stdin).ReadString('\n')
		return err
	}

	b, err := browser.New(bc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v; open the pages listed above by hand\n", err)
		return nil
	}
	defer b.Close()

	for _, res := range b.OpenTabs(ctx, pages) {
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", res.Err)
		}
	}
	return b.Wait()
}

func prompt(reader *bufio.Reader, message string) string {
	fmt.Print(message)
	input, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(input)
}

func promptDefault(reader *bufio.Reader, message, def string) string {
	if v := prompt(reader, fmt.Sprintf("%s [%s]: ", message, def)); v != "" {
		return v
	}
	return def
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}
}
