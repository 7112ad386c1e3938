// Command alertctl sends operator alerts and inspects dispatch jobs through
// the admin API.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

type globalOptions struct {
	server  string
	apiKey  string
	retries int
	timeout time.Duration

	baseDelay time.Duration
}

type alertOptions struct {
	message      string
	file         string
	alertType    string
	priority     string
	recipients   []string
	area         string
	instructions string
	requestID    string
}

// retryBaseDelay is the wait before the second attempt.
var retryBaseDelay = time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{baseDelay: retryBaseDelay}

	root := &cobra.Command{
		Use:          "alertctl",
		Short:        "alertctl - operator alerts for the health triage service",
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	defaultServer := os.Getenv("ALERTCTL_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.server, "server", defaultServer, "Base URL of the triage service")
	pf.StringVar(&opts.apiKey, "api-key", os.Getenv("ADMIN_API_KEY"), "Admin API key (defaults to $ADMIN_API_KEY)")
	pf.IntVar(&opts.retries, "retries", 3, "Attempts per request")
	pf.DurationVar(&opts.timeout, "timeout", 120*time.Second, "Timeout of a single attempt")

	root.AddCommand(
		newAlertCmd(opts, "send", "Send an alert of any type", "/admin/alerts", ""),
		newAlertCmd(opts, "emergency", "Send an emergency alert (critical, with SMS)", "/admin/emergency", models.AlertEmergency),
		newAlertCmd(opts, "health-tip", "Send a health tip", "/admin/health-tip", models.AlertHealthTip),
		newDraftCmd(opts),
		newJobsCmd(opts),
	)
	return root
}

func (o *globalOptions) client(progress io.Writer) (*adminClient, error) {
	if o.apiKey == "" {
		return nil, fmt.Errorf("admin API key not set. Pass --api-key or set ADMIN_API_KEY")
	}
	if _, err := url.ParseRequestURI(o.server); err != nil {
		return nil, fmt.Errorf("invalid --server: %w", err)
	}
	return &adminClient{
		server:    o.server,
		apiKey:    o.apiKey,
		http:      &http.Client{Timeout: o.timeout},
		retries:   o.retries,
		baseDelay: o.baseDelay,
		progress:  progress,
	}, nil
}

func newAlertCmd(opts *globalOptions, use, short, path string, fixed models.AlertType) *cobra.Command {
	ao := &alertOptions{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAlert(cmd, opts, ao, path, fixed)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&ao.message, "message", "m", "", "Alert text")
	f.StringVarP(&ao.file, "file", "f", "", "Read the alert text from a file (- for stdin)")
	if fixed == "" {
		f.StringVar(&ao.alertType, "type", string(models.AlertBroadcast), "broadcast, emergency or health_tip")
	}
	f.StringVar(&ao.priority, "priority", "", "normal, high or critical")
	f.StringSliceVar(&ao.recipients, "to", nil, "Recipient numbers (default: the server's broadcast list)")
	f.StringVar(&ao.area, "area", "", "Affected area")
	f.StringVar(&ao.instructions, "instructions", "", "Instructions appended to the alert")
	f.StringVar(&ao.requestID, "request-id", "", "Idempotency key (generated when empty)")
	return cmd
}

func runAlert(cmd *cobra.Command, opts *globalOptions, ao *alertOptions, path string, fixed models.AlertType) error {
	message, err := alertText(cmd.InOrStdin(), ao)
	if err != nil {
		return err
	}
	client, err := opts.client(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	req := models.AlertRequest{
		Message:      message,
		AlertType:    models.AlertType(ao.alertType),
		Priority:     models.AlertPriority(ao.priority),
		Recipients:   ao.recipients,
		RequestID:    ao.requestID,
		AffectedArea: ao.area,
		Instructions: ao.instructions,
	}
	if fixed != "" {
		req.AlertType = fixed
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if err := req.Normalize(); err != nil {
		return err
	}

	var res models.AlertResult
	if err := client.do(cmd.Context(), http.MethodPost, path, req.RequestID, req, &res); err != nil {
		return fmt.Errorf("alert %s: %w", req.RequestID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Alert %s accepted for %d recipients, %d jobs\n", res.RequestID, res.Recipients, len(res.Jobs))
	printJobs(out, res.Jobs)
	return nil
}

func alertText(stdin io.Reader, ao *alertOptions) (string, error) {
	switch {
	case ao.message != "" && ao.file != "":
		return "", fmt.Errorf("use either --message or --file")
	case ao.message != "":
		return ao.message, nil
	case ao.file == "-":
		data, err := io.ReadAll(stdin)
		return strings.TrimSpace(string(data)), err
	case ao.file != "":
		data, err := os.ReadFile(ao.file)
		if err != nil {
			return "", fmt.Errorf("read alert text: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("alert text required: pass --message or --file")
	}
}

func newDraftCmd(opts *globalOptions) *cobra.Command {
	var req models.TipDraftRequest
	cmd := &cobra.Command{
		Use:   "draft-tip <topic>",
		Short: "Ask the server to draft a health tip for review",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			req.Topic = strings.Join(args, " ")
			var draft models.TipDraft
			if err := client.do(cmd.Context(), http.MethodPost, "/admin/health-tips/draft", "", req, &draft); err != nil {
				return fmt.Errorf("draft: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, draft.Text)
			fmt.Fprintf(out, "\n(%s, %s) send with: alertctl health-tip -f <file>\n", draft.Model, draft.Language)
			return nil
		},
	}
	var lang string
	cmd.Flags().StringVar(&lang, "language", "en", "Language code of the tip")
	cmd.Flags().StringVar(&req.Audience, "audience", "", "Intended audience, e.g. parents of young children")
	cmd.PreRunE = func(*cobra.Command, []string) error {
		l, ok := models.ParseLanguage(lang)
		if !ok {
			return fmt.Errorf("unsupported language %q", lang)
		}
		req.Language = l
		return nil
	}
	return cmd
}

func newJobsCmd(opts *globalOptions) *cobra.Command {
	var (
		status string
		limit  int
		resume bool
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List dispatch jobs, or re-drive pending ones with --resume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resume {
				var body struct {
					Resumed int `json:"resumed"`
				}
				if err := client.do(cmd.Context(), http.MethodPost, "/admin/jobs/resume", "", nil, &body); err != nil {
					return err
				}
				fmt.Fprintf(out, "Resumed %d jobs\n", body.Resumed)
				return nil
			}

			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			q.Set("limit", strconv.Itoa(limit))
			var body struct {
				Jobs []*models.DispatchJob `json:"jobs"`
			}
			if err := client.do(cmd.Context(), http.MethodGet, "/admin/jobs?"+q.Encode(), "", nil, &body); err != nil {
				return err
			}
			printJobs(out, body.Jobs)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, sent, failed or exhausted")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs")
	cmd.Flags().BoolVar(&resume, "resume", false, "Re-drive pending and failed jobs")
	return cmd
}

func printJobs(out io.Writer, jobs []*models.DispatchJob) {
	if len(jobs) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tCHANNEL\tSTATUS\tURGENCY\tATTEMPTS\tUPDATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			j.IdempotenceKey, j.Channel, j.Status, j.Urgency, j.AttemptCount,
			j.UpdatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
}
