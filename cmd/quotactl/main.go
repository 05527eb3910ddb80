// Command quotactl inspects and adjusts quota state from the shell. It reads
// the same environment as the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/DukeRupert/shoplocal/internal"
	"github.com/DukeRupert/shoplocal/internal/backend"
	"github.com/DukeRupert/shoplocal/internal/catalog"
	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/DukeRupert/shoplocal/internal/jobs"
	"github.com/DukeRupert/shoplocal/internal/service"
	"github.com/DukeRupert/shoplocal/internal/storage"
	"github.com/DukeRupert/shoplocal/internal/store"
	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// CLI is the command tree.
type CLI struct {
	Catalog  CatalogCmd  `cmd:"" help:"Print the quota catalog."`
	Check    CheckCmd    `cmd:"" help:"Show a user's quota decision without changing it."`
	Consume  ConsumeCmd  `cmd:"" help:"Record usage against a quota."`
	Reserve  ReserveCmd  `cmd:"" help:"Record usage only if it fits within the limit."`
	Reset    ResetCmd    `cmd:"" help:"Zero a user's usage and start a new period."`
	SetLevel SetLevelCmd `cmd:"" name:"set-level" help:"Set a user's subscription level."`
	Record   RecordCmd   `cmd:"" help:"Add to a user's daily usage statistic."`
	Sweep    SweepCmd    `cmd:"" help:"Roll over every record whose period has elapsed."`
	Export   ExportCmd   `cmd:"" help:"Export usage statistics for one or more days."`
	Exports  ExportsCmd  `cmd:"" help:"List stored usage exports."`

	CatalogPath string `name:"catalog" help:"Quota catalog file (defaults to QUOTA_CATALOG_PATH, then the built-in catalog)." type:"path"`
	LogLevel    string `name:"log-level" help:"Log level (debug, info, warn, error)." default:"warn"`
}

// stdout receives command output.
var stdout io.Writer = os.Stdout

// app holds what the data commands need.
type app struct {
	cfg     *internal.Config
	logger  *slog.Logger
	stores  *backend.Backend
	quota   service.QuotaService
	subs    service.SubscriptionService
	stats   service.UsageStatsService
	catalog *catalog.Catalog
}

func (c *CLI) logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: internal.ParseLogLevel(c.LogLevel)}))
}

func (c *CLI) loadCatalog() (*catalog.Catalog, error) {
	path := c.CatalogPath
	if path == "" {
		path = os.Getenv("QUOTA_CATALOG_PATH")
	}
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

func (c *CLI) open(ctx context.Context) (*app, error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, err
	}
	logger := c.logger()

	cat, err := c.loadCatalog()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	stores, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	subs := service.NewSubscriptionService(stores.Subscriptions, logger)
	return &app{
		cfg:     cfg,
		logger:  logger,
		stores:  stores,
		subs:    subs,
		quota:   service.NewQuotaService(stores.Usage, subs, cat, logger, service.WithLocation(cfg.QuotaTimezone)),
		stats:   service.NewUsageStatsService(stores.Stats, cfg.QuotaTimezone, logger),
		catalog: cat,
	}, nil
}

func (a *app) storage() (storage.Storage, error) {
	return storage.New(storage.Config{
		Provider: a.cfg.StorageProvider,
		Local:    storage.LocalConfig{BasePath: a.cfg.LocalStoragePath, BaseURL: a.cfg.LocalStorageURL},
		R2: storage.R2Config{
			AccountID:       a.cfg.R2AccountID,
			AccessKeyID:     a.cfg.R2AccessKeyID,
			SecretAccessKey: a.cfg.R2SecretAccessKey,
			BucketName:      a.cfg.R2BucketName,
			PublicURL:       a.cfg.R2PublicURL,
			Endpoint:        a.cfg.R2Endpoint,
		},
	}, a.logger)
}

func (c *CLI) printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// Quota commands
// =============================================================================

// QuotaArgs are the positional arguments shared by the per-quota commands.
type QuotaArgs struct {
	User uuid.UUID `arg:"" help:"User ID."`
	Type string    `arg:"" help:"Quota type (chat, trending, products, ads, stores)."`
}

func (q QuotaArgs) quotaType() (domain.QuotaType, error) {
	qt, ok := domain.ParseQuotaType(q.Type)
	if !ok {
		return "", fmt.Errorf("unknown quota type %q", q.Type)
	}
	return qt, nil
}

type CatalogCmd struct {
	JSON bool `help:"Print as JSON."`
}

func (c *CatalogCmd) Run(cli *CLI) error {
	cat, err := cli.loadCatalog()
	if err != nil {
		return err
	}
	rows := cat.Entries()
	if c.JSON {
		return cli.printJSON(rows)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "catalog version %d\n", cat.Version())
	fmt.Fprintln(tw, "LEVEL\tQUOTA\tLIMIT\tRESET")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Level, r.QuotaType, r.Entry.MaxLimit, r.Entry.ResetCadence)
	}
	return tw.Flush()
}

type CheckCmd struct {
	User uuid.UUID `arg:"" help:"User ID."`
	Type string    `arg:"" optional:"" help:"Quota type; every type when omitted."`
}

func (c *CheckCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.stores.Close()

	if c.Type == "" {
		all, err := a.quota.GetAllQuotas(ctx, c.User)
		if err != nil {
			return err
		}
		return cli.printJSON(all)
	}
	qt, err := QuotaArgs{User: c.User, Type: c.Type}.quotaType()
	if err != nil {
		return err
	}
	result, err := a.quota.CanPerform(ctx, c.User, qt)
	if err != nil {
		return err
	}
	return cli.printJSON(result)
}

type ConsumeCmd struct {
	QuotaArgs
	Amount int `short:"n" help:"Units to record." default:"1"`
}

func (c *ConsumeCmd) Run(ctx context.Context, cli *CLI) error {
	qt, err := c.quotaType()
	if err != nil {
		return err
	}
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.stores.Close()

	recorded, err := a.quota.Consume(ctx, c.User, qt, c.Amount)
	if err != nil {
		return err
	}
	decision, err := a.quota.Check(ctx, c.User, qt)
	if err != nil {
		return err
	}
	return cli.printJSON(map[string]any{"recorded": recorded, "quota": decision})
}

type ReserveCmd struct {
	QuotaArgs
	Amount int `short:"n" help:"Units to reserve." default:"1"`
}

func (c *ReserveCmd) Run(ctx context.Context, cli *CLI) error {
	qt, err := c.quotaType()
	if err != nil {
		return err
	}
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.stores.Close()

	decision, reserved, err := a.quota.TryConsume(ctx, c.User, qt, c.Amount)
	if err != nil {
		return err
	}
	return cli.printJSON(map[string]any{"reserved": reserved, "quota": decision})
}

type ResetCmd struct {
	QuotaArgs
}

func (c *ResetCmd) Run(ctx context.Context, cli *CLI) error {
	qt, err := c.quotaType()
	if err != nil {
		return err
	}
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.stores.Close()

	decision, err := a.quota.ResetUsage(ctx, c.User, qt)
	if err != nil {
		return err
	}
	return cli.printJSON(decision)
}

type SetLevelCmd struct {
	User  uuid.UUID `arg:"" help:"User ID."`
	Email string    `arg:"" help:"User email."`
	Level string    `arg:"" help:"Subscription level (free, essential, premium, business, business_premium)."`
}

func (c *SetLevelCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.stores.Close()

	if err := a.subs.SetLevel(ctx, service.SetLevelParams{UserID: c.User, Email: c.Email, Level: c.Level}); err != nil {
		return err
	}
	all, err := a.quota.GetAllQuotas(ctx, c.User)
	if err != nil {
		return err
	}
	return cli.printJSON(all)
}

// =============================================================================
// Statistics and maintenance commands
// =============================================================================

type RecordCmd struct {
	User    uuid.UUID `arg:"" help:"User ID."`
	Feature string    `arg:"" help:"Feature name."`
	Count   int       `short:"n" help:"Count to add." default:"1"`
}

func (c *RecordCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.stores.Close()

	recorded, err := a.stats.RecordUsage(ctx, service.RecordUsageParams{UserID: c.User, Feature: c.Feature, Count: c.Count})
	if err != nil {
		return err
	}
	return cli.printJSON(map[string]bool{"recorded": recorded})
}

type SweepCmd struct {
	BatchSize int `name:"batch-size" help:"Records per pass." default:"500"`
}

func (c *SweepCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.stores.Close()

	total := 0
	for {
		rolled, err := a.quota.SweepStale(ctx, c.BatchSize)
		total += rolled
		if err != nil {
			return fmt.Errorf("sweep stopped after %d records: %w", total, err)
		}
		if rolled < c.BatchSize {
			break
		}
	}
	fmt.Fprintf(stdout, "rolled over %d records\n", total)
	return nil
}

type ExportCmd struct {
	From     string `help:"First day to export (YYYY-MM-DD); yesterday when omitted."`
	To       string `help:"Last day to export (YYYY-MM-DD); defaults to --from."`
	Parallel int    `help:"Days exported concurrently." default:"4"`
}

func (c *ExportCmd) days(now time.Time, loc *time.Location) ([]time.Time, error) {
	yesterday := store.Day(now, loc).AddDate(0, 0, -1)
	from, to := yesterday, yesterday
	var err error
	if c.From != "" {
		if from, err = time.Parse(time.DateOnly, c.From); err != nil {
			return nil, fmt.Errorf("invalid --from: %w", err)
		}
		to = from
	}
	if c.To != "" {
		if to, err = time.Parse(time.DateOnly, c.To); err != nil {
			return nil, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if to.Before(from) {
		return nil, fmt.Errorf("--to must not be before --from")
	}
	if to.Sub(from) > service.MaxUsageRange {
		return nil, fmt.Errorf("range must not exceed one year")
	}

	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

func (c *ExportCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.stores.Close()

	days, err := c.days(time.Now(), a.cfg.QuotaTimezone)
	if err != nil {
		return err
	}
	exports, err := a.storage()
	if err != nil {
		return err
	}

	keys := make([]string, len(days))
	rows := make([]int, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Parallel, 1))
	for i, day := range days {
		g.Go(func() error {
			key, n, err := jobs.ExportDay(gctx, a.stats, exports, day)
			if err != nil {
				return fmt.Errorf("export %s: %w", day.Format(time.DateOnly), err)
			}
			keys[i], rows[i] = key, n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range days {
		fmt.Fprintf(stdout, "%s\t%d rows\n", keys[i], rows[i])
	}
	return nil
}

type ExportsCmd struct {
	Month string `help:"Only list one month (YYYY-MM)."`
}

func (c *ExportsCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.stores.Close()

	prefix := storage.UsageExportPrefix
	if c.Month != "" {
		m, err := time.Parse("2006-01", c.Month)
		if err != nil {
			return fmt.Errorf("invalid --month: %w", err)
		}
		prefix += m.Format("2006/01/")
	}
	exports, err := a.storage()
	if err != nil {
		return err
	}
	objects, err := exports.List(ctx, prefix)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
	for _, o := range objects {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.Format(time.RFC3339))
	}
	return tw.Flush()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("quotactl"),
		kong.Description("Inspect and adjust shoplocal quotas."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
