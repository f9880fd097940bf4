package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dusterbloom/nanobot/internal/channels"
	"github.com/dusterbloom/nanobot/internal/config"
	"github.com/dusterbloom/nanobot/internal/cron"
	"github.com/dusterbloom/nanobot/internal/dependency"
)

var gatewayVerbose bool

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the nanobot gateway server",
	RunE:  runGateway,
}

func init() {
	gatewayCmd.Flags().BoolVarP(&gatewayVerbose, "verbose", "v", false, "Verbose logging")
}

func runGateway(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	container, err := dependency.New(cfg)
	if err != nil {
		return err
	}

	loop := container.AgentLoop()
	msgBus := container.MessageBus()
	cronSvc := container.CronService()

	fmt.Printf("%s Starting nanobot gateway...\n", logo)

	// Cron firing path: run the job's message as an agent turn in the
	// "cron:<job-id>" session; delivery to a chat goes through the bus.
	cronSvc.SetOnJob(func(ctx context.Context, job cron.CronJob) (string, error) {
		var deliverChannel, deliverTo string
		if job.Payload.Channel != nil {
			deliverChannel = *job.Payload.Channel
		}
		if job.Payload.To != nil {
			deliverTo = *job.Payload.To
		}
		return loop.ProcessJob(ctx, job.Payload.Message, job.ID, job.Payload.Deliver, deliverChannel, deliverTo), nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channelMgr := channels.NewManager(cfg, msgBus, true)
	if enabled := channelMgr.EnabledChannels(); len(enabled) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", strings.Join(enabled, ", "))
	} else {
		fmt.Println("Warning: no channels enabled")
	}
	fmt.Printf("✓ Cron: %d scheduled jobs\n", len(cronSvc.ListJobs(false)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return cronSvc.Start(gctx) })
	g.Go(func() error { return channelMgr.StartAll(gctx) })

	fmt.Printf("%s Gateway running. Press Ctrl+C to stop.\n", logo)

	if err := g.Wait(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "gateway error: %v\n", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	if ctx.Err() != nil {
		os.Exit(130)
	}
	return nil
}
