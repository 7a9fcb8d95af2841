package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/riskscan/scan-worker/internal/config"
	"github.com/riskscan/scan-worker/internal/intake"
	"github.com/riskscan/scan-worker/internal/persistence"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/store"
)

type submitOptions struct {
	scanID         string
	companyName    string
	domain         string
	originalDomain string
	tags           []string
}

var submitOpts submitOptions

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a scan of a domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		defer setupLogger(cfg)()

		job := scan.Job{
			ScanID:         submitOpts.scanID,
			CompanyName:    submitOpts.companyName,
			Domain:         submitOpts.domain,
			OriginalDomain: submitOpts.originalDomain,
			Tags:           submitOpts.tags,
			CreatedAt:      time.Now().UTC(),
		}
		if job.ScanID == "" {
			job.ScanID = uuid.NewString()
		}
		if job.OriginalDomain == "" {
			job.OriginalDomain = job.Domain
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		queue, closeQueue, err := newQueue(ctx, cfg, s)
		if err != nil {
			return err
		}
		defer closeQueue()

		submitted, err := intake.NewSubmitter(persistence.NewStoreGateway(s), queue).Submit(ctx, job)
		if err != nil {
			return err
		}
		if submitted {
			fmt.Fprintf(cmd.OutOrStdout(), "scan %s queued for %s\n", job.ScanID, job.Domain)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "scan %s already submitted\n", job.ScanID)
		}
		return nil
	},
}

func newQueue(ctx context.Context, cfg *config.Config, s store.Store) (intake.Queue, func(), error) {
	switch cfg.Queue.Driver {
	case "river":
		pool, err := store.NewPgxPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		client, err := intake.NewRiverClient(pool, nil, riverOptions(cfg))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return intake.NewRiverQueue(client, s.RiverJob()), pool.Close, nil
	case "kafka":
		producer, err := newKafkaProducer(cfg)
		if err != nil {
			return nil, nil, err
		}
		queue := intake.NewKafkaQueue(producer, cfg.Queue.InboundTopic)
		return queue, func() { _ = queue.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

func init() {
	addSubmitFlags(submitCmd.Flags(), &submitOpts)
	_ = submitCmd.MarkFlagRequired("domain")
}

func addSubmitFlags(flags *pflag.FlagSet, opts *submitOptions) {
	flags.StringVar(&opts.scanID, "scan-id", "", "Scan id, generated when empty")
	flags.StringVar(&opts.companyName, "company", "", "Name of the company owning the domain")
	flags.StringVar(&opts.domain, "domain", "", "Domain to scan")
	flags.StringVar(&opts.originalDomain, "original-domain", "", "Domain as entered by the requester")
	flags.StringSliceVar(&opts.tags, "tag", nil, "Tag attached to the scan, repeatable")
}
