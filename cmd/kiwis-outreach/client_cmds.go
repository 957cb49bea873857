package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vipul43/kiwis-outreach/internal/client"
	"github.com/vipul43/kiwis-outreach/internal/models"
	"github.com/vipul43/kiwis-outreach/internal/service"
)

const defaultAPIURL = "http://localhost:8080"

// clientFlags are shared by the commands that talk to a running server
type clientFlags struct {
	apiURL string
	userID string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	def := os.Getenv("KIWIS_API_URL")
	if def == "" {
		def = defaultAPIURL
	}
	cmd.Flags().StringVar(&f.apiURL, "api", def, "base URL of the outreach API")
	cmd.Flags().StringVar(&f.userID, "user", "", "user ID")
	_ = cmd.MarkFlagRequired("user")
}

func (f *clientFlags) api() *client.API {
	return client.NewAPI(f.apiURL)
}

func newUploadCmd() *cobra.Command {
	var flags clientFlags
	var follow bool
	cmd := &cobra.Command{
		Use:   "upload <connections.csv>",
		Short: "Upload a LinkedIn connections export and follow its enrichment job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open export: %w", err)
			}
			defer f.Close()

			ctx, cancel := signalContext()
			defer cancel()

			api := flags.api()
			result, err := api.Upload(ctx, flags.userID, filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created %d contacts, skipped %d, job %s\n", result.ContactsCreated, result.ContactsSkipped, result.JobID)
			if !follow {
				return nil
			}
			return followJob(ctx, out, api, flags.userID, *result)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&follow, "follow", true, "poll the enrichment job until it finishes")
	return cmd
}

func newTrackCmd() *cobra.Command {
	var flags clientFlags
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "track <job-id>",
		Short: "Follow an enrichment job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			api := flags.api()
			current, err := api.JobStatus(ctx, flags.userID, args[0])
			if err != nil {
				return err
			}
			upload := service.UploadResult{ContactsCreated: current.TotalContacts, JobID: current.JobID}
			return followJobEvery(ctx, cmd.OutOrStdout(), api, flags.userID, upload, interval)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "poll interval")
	return cmd
}

func followJob(ctx context.Context, out io.Writer, api *client.API, userID string, upload service.UploadResult) error {
	return followJobEvery(ctx, out, api, userID, upload, client.DefaultPollInterval)
}

func followJobEvery(ctx context.Context, out io.Writer, api *client.API, userID string, upload service.UploadResult, interval time.Duration) error {
	tracking := client.NewJobPoller(api, nil, interval).Track(ctx, userID, upload)
	defer tracking.Stop()

	for {
		select {
		case p := <-tracking.Updates():
			printProgress(out, p)
		case <-tracking.Done():
			result, err := tracking.Result()
			if result != nil {
				printProgress(out, *result)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func printProgress(out io.Writer, p service.JobProgress) {
	fmt.Fprintf(out, "%-9s %3d%%  processed %d/%d  failed %d\n", p.Status, p.Progress, p.ProcessedCount, p.TotalContacts, p.FailedCount)
}

func newSendCmd() *cobra.Command {
	var flags clientFlags
	var contactID, message, tag string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Record a drafted message as sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			outcome, err := client.NewSender(flags.api()).Send(ctx, service.SendRequest{
				UserID:      flags.userID,
				ContactID:   contactID,
				MessageBody: message,
				StrategyTag: models.StrategyTag(strings.ToUpper(tag)),
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outcome.AlreadySent {
				fmt.Fprintf(out, "contact %s was already sent\n", contactID)
				return nil
			}
			fmt.Fprintf(out, "sent %s, feedback due %s\n", outcome.OutreachID, outcome.FeedbackDueAt.Local().Format(time.RFC1123))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&contactID, "contact", "", "contact ID")
	cmd.Flags().StringVar(&message, "message", "", "message body as sent")
	cmd.Flags().StringVar(&tag, "tag", "", "strategy tag, e.g. PAIN_POINT or DIRECT_PITCH")
	_ = cmd.MarkFlagRequired("contact")
	_ = cmd.MarkFlagRequired("message")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func newLoopCmd() *cobra.Command {
	var flags clientFlags
	var autoDetect bool
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Show attempts awaiting feedback",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			out := cmd.OutOrStdout()
			queue := client.NewFeedbackQueue(flags.api(), flags.userID)
			if autoDetect {
				result, err := queue.AutoDetect(ctx)
				if err != nil {
					return err
				}
				for _, d := range result.Detected {
					fmt.Fprintf(out, "reply detected: %s (%s)\n", d.FullName, d.CompanyName)
				}
			} else if err := queue.Load(ctx); err != nil {
				return err
			}

			items := queue.Items()
			if len(items) == 0 {
				fmt.Fprintln(out, "nothing awaiting feedback")
				return nil
			}
			for _, item := range items {
				fmt.Fprintf(out, "%s  %-24s %-20s %-10s due %s\n", item.OutreachID, item.FullName, item.CompanyName, item.StrategyTag, item.FeedbackDueAt.Local().Format("2006-01-02"))
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&autoDetect, "auto-detect", false, "scan the connected mailbox for replies first")
	return cmd
}

func newSwipeCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "swipe <outreach-id> <REPLIED|GHOSTED|BOUNCED>",
		Short: "Record the outcome of an attempt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			queue := client.NewFeedbackQueue(flags.api(), flags.userID)
			if err := queue.Load(ctx); err != nil {
				return err
			}
			outcome := models.Outcome(strings.ToUpper(args[1]))
			if err := queue.Swipe(ctx, args[0], outcome); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s, %d left in queue\n", outcome, len(queue.Items()))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
