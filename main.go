package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"fundingarb/config"
	"fundingarb/internal/channel"
	"fundingarb/internal/coordinator"
	"fundingarb/internal/dashboard"
	"fundingarb/internal/metrics"
	"fundingarb/internal/models"
	"fundingarb/internal/positions"
	"fundingarb/internal/writer"
	"fundingarb/logger"
)

const defaultConfigPath = "config/config.yml"

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the selected mode and returns the process exit code so that
// deferred cleanup runs before exit.
func execute(args []string) int {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	fs := flag.NewFlagSet("fundingarb", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	mode := fs.String("mode", "scan", "scan, run, open, close or positions")
	asset := fs.String("asset", "", "Base currency to open (open mode, defaults to the best candidate)")
	notional := fs.Float64("notional", 0, "Quote notional per leg (open mode, defaults to trading.target_notional)")
	legsFlag := fs.String("legs", "", "Legs to flatten as venue:symbol:id,venue:symbol:id (close mode)")
	positionID := fs.String("position", "", "Stored position id to flatten (close mode, needs storage.redis)")
	asJSON := fs.Bool("json", false, "Print results as JSON")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	path := config.ResolvePath(*configPath, defaultConfigPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 1
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"config":      path,
		"mode":        *mode,
		"dry_run":     cfg.Trading.DryRun,
	}).Info("starting fundingarb")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch)

	a, err := newApp(cfg)
	if err != nil {
		log.WithError(err).Error("Failed to build venues")
		return 1
	}

	book, err := openBook(ctx, cfg.Storage.Redis)
	if err != nil {
		log.WithError(err).Error("Failed to connect position store")
		return 1
	}
	if book != nil {
		defer book.Close()
	}

	out := output{w: os.Stdout, json: *asJSON}
	switch *mode {
	case "scan":
		err = scan(ctx, a, out)
	case "run":
		err = run(ctx, a)
	case "open":
		err = open(ctx, a, book, out, *asset, *notional)
	case "close":
		err = closeLegs(ctx, a, book, out, *legsFlag, *positionID)
	case "positions":
		err = listPositions(ctx, book, out)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		log.WithError(err).Error("fundingarb failed")
		return 1
	}
	log.Info("fundingarb stopped")
	return 0
}

func scan(ctx context.Context, a *app, out output) error {
	report, err := a.poller(nil).Cycle(ctx)
	if err != nil {
		return err
	}
	return out.candidates(report)
}

func open(ctx context.Context, a *app, book *positions.Store, out output, asset string, notional float64) error {
	report, err := a.poller(nil).Cycle(ctx)
	if err != nil {
		return err
	}
	cand, err := pickCandidate(report.Candidates, asset)
	if err != nil {
		return err
	}

	if book != nil {
		unlock, err := book.Lock(ctx, cand.BaseCurrency, a.cfg.Storage.Redis.LockTTL)
		if err != nil {
			return err
		}
		defer unlock()
	}

	results, err := a.coordinator.Open(ctx, cand, notional)
	var partial *coordinator.PartialExecutionError
	if errors.As(err, &partial) {
		_ = out.orders(partial.Placed)
		if id := recordPosition(ctx, book, cand, partial.Placed, a.coordinator.DryRun(), true); id != "" {
			return fmt.Errorf("%w; flatten with -mode close -position %s", err, id)
		}
		return fmt.Errorf("%w; flatten with -mode close -legs %s", err, legsString(partial.Placed))
	}
	if err != nil {
		return err
	}
	if err := out.orders(results); err != nil {
		return err
	}
	if id := recordPosition(ctx, book, cand, results, a.coordinator.DryRun(), false); id != "" {
		fmt.Fprintf(out.w, "position: %s\n", id)
	}
	return nil
}

// recordPosition stores the placed legs and returns the position id, or ""
// when there is no store or the write failed.
func recordPosition(ctx context.Context, book *positions.Store, cand models.ArbitrageCandidate, placed []models.OrderResult, dryRun, partial bool) string {
	if book == nil || len(placed) == 0 {
		return ""
	}
	p := positions.NewPosition(cand, placed, dryRun, partial, time.Now())
	if err := book.Save(context.WithoutCancel(ctx), p); err != nil {
		logger.GetLogger().WithComponent("main").WithError(err).
			WithField("legs", legsString(placed)).Error("failed to record position")
		return ""
	}
	return p.ID
}

func closeLegs(ctx context.Context, a *app, book *positions.Store, out output, raw, positionID string) error {
	var (
		legs     []models.Leg
		position positions.Position
		err      error
	)
	switch {
	case positionID != "" && raw != "":
		return fmt.Errorf("use either -legs or -position, not both")
	case positionID != "":
		if book == nil {
			return fmt.Errorf("-position needs storage.redis enabled")
		}
		if position, err = book.Get(ctx, positionID); err != nil {
			return err
		}
		legs = position.Legs
		for i := range legs {
			if legs[i].BaseCurrency == "" {
				legs[i].BaseCurrency = position.BaseCurrency
			}
		}
	default:
		if legs, err = parseLegs(raw); err != nil {
			return err
		}
	}

	results, err := a.coordinator.Close(ctx, legs)
	var partial *coordinator.PartialExecutionError
	if errors.As(err, &partial) {
		_ = out.orders(partial.Placed)
		if positionID == "" {
			return fmt.Errorf("%w; retry the rest with -mode close -legs %s", err, joinLegs(partial.Remaining))
		}
		if serr := keepRemaining(context.WithoutCancel(ctx), book, position, partial.Remaining); serr != nil {
			return fmt.Errorf("%w; position %s not updated (%v), retry only -legs %s", err, positionID, serr, joinLegs(partial.Remaining))
		}
		return fmt.Errorf("%w; position %s now holds the unflattened legs, retry with -mode close -position %s", err, positionID, positionID)
	}
	if err != nil {
		return err
	}
	if positionID != "" {
		if err := book.Remove(ctx, positionID); err != nil {
			return err
		}
	}
	return out.orders(results)
}

// keepRemaining rewrites p so that it only holds the legs a partial close
// left open.
func keepRemaining(ctx context.Context, book *positions.Store, p positions.Position, remaining []models.Leg) error {
	if len(remaining) == 0 {
		return book.Remove(ctx, p.ID)
	}
	p.Legs = remaining
	p.Partial = true
	return book.Save(ctx, p)
}

func listPositions(ctx context.Context, book *positions.Store, out output) error {
	if book == nil {
		return fmt.Errorf("positions mode needs storage.redis enabled")
	}
	list, err := book.List(ctx)
	if err != nil {
		return err
	}
	return out.positions(list)
}

// run polls until a shutdown signal, fanning every report out to the
// configured writers and the dashboard.
func run(ctx context.Context, a *app) error {
	log := logger.GetLogger()
	cfg := a.cfg

	channels := channel.NewChannels(cfg.Channels.ReportBuffer)
	channels.StartMetricsReporting(ctx, 30*time.Second)

	var archive *writer.QuoteArchive
	if cfg.Storage.S3.Enabled {
		client, err := writer.NewS3Client(ctx, cfg.Storage.S3)
		if err != nil {
			return err
		}
		archive, err = writer.NewQuoteArchive(cfg.Storage.S3, cfg.App.Version, channels.Subscribe("quote_archive"), client)
		if err != nil {
			return err
		}
		if err := archive.Start(ctx); err != nil {
			return err
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping quote archive")
	}

	var publisher *writer.CandidatePublisher
	if cfg.Storage.Kafka.Enabled {
		kw, err := writer.NewKafkaWriter(cfg.Storage.Kafka)
		if err != nil {
			return err
		}
		publisher, err = writer.NewCandidatePublisher(channels.Subscribe("kafka"), kw)
		if err != nil {
			return err
		}
		if err := publisher.Start(ctx); err != nil {
			return err
		}
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, log)
	if err != nil {
		return err
	}
	if dash != nil {
		dash.Consume(ctx, channels.Subscribe("dashboard"))
		go func() {
			if err := dash.Run(ctx, cfg.App.Name); err != nil {
				log.WithError(err).Error("dashboard stopped")
			}
		}()
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.PrometheusAddr); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	log.Info("all components started successfully")
	err = a.poller(channels).Run(ctx)

	log.Info("starting graceful shutdown")
	channels.Close()
	if archive != nil {
		log.Info("stopping quote archive")
		archive.Stop()
	}
	if publisher != nil {
		log.Info("stopping candidate publisher")
		publisher.Stop()
	}
	return err
}

type output struct {
	w    io.Writer
	json bool
}

func (o output) encode(v interface{}) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o output) candidates(report models.CycleReport) error {
	if o.json {
		return o.encode(report)
	}
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tASSET\tAPR\tLONG\tLONG APR\tSHORT\tSHORT APR\tSPREAD BPS")
	for i, c := range report.Candidates {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%s\t%.2f\t%s\t%.2f\t%s\n",
			i+1, c.BaseCurrency, c.ResultingAPR,
			c.LongMatch.Venue+":"+c.LongMatch.Symbol, *c.LongAPR,
			c.ShortMatch.Venue+":"+c.ShortMatch.Symbol, *c.ShortAPR,
			c.PriceSpread)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	d := report.Diagnostics
	if len(d.Excluded)+len(d.FailedVenues)+len(d.EnrichFailures) > 0 {
		fmt.Fprintf(o.w, "\nexcluded symbols: %d, failed venues: %d, enrich failures: %d\n",
			len(d.Excluded), len(d.FailedVenues), len(d.EnrichFailures))
	}
	return nil
}

func (o output) positions(list []positions.Position) error {
	if o.json {
		return o.encode(list)
	}
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tASSET\tAPR\tLONG\tSHORT\tOPENED\tFLAGS\tLEGS")
	for _, p := range list {
		var flags []string
		if p.DryRun {
			flags = append(flags, "dry-run")
		}
		if p.Partial {
			flags = append(flags, "partial")
		}
		legs := make([]string, 0, len(p.Legs))
		for _, l := range p.Legs {
			legs = append(legs, l.String())
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.BaseCurrency, p.ResultingAPR, p.LongVenue, p.ShortVenue,
			p.OpenedAt.Format(time.RFC3339), strings.Join(flags, ","), strings.Join(legs, ","))
	}
	return tw.Flush()
}

func (o output) orders(results []models.OrderResult) error {
	if o.json {
		return o.encode(results)
	}
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VENUE\tSYMBOL\tSIDE\tPRICE\tSIZE\tORDER ID")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Venue, r.Symbol, r.Intent.Side, r.Intent.Price, r.Intent.Size, r.ExternalOrderID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(results) > 0 {
		fmt.Fprintf(o.w, "\nlegs: %s\n", legsString(results))
	}
	return nil
}
