package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"pii-redactor/internal/audit"
	"pii-redactor/internal/document"
	"pii-redactor/internal/ocr"
	"pii-redactor/internal/pii"
	"pii-redactor/internal/server"
	"pii-redactor/internal/stream"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the management API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			printBanner(a.cfg)

			var lister server.AuditLister
			var rec audit.Recorder
			if store := a.openAudit(); store != nil {
				defer store.Close()
				lister, rec = store, store
			}

			api := server.NewAPI(a.cfg, a.processor(), a.pipeline, ocr.Poppler{}, rec, a.metrics, a.log.Module("api"))
			mgmt := server.NewManagement(a.cfg, a.registry, a.metrics, lister, a.log.Module("management"))

			// Either server failing takes the other one down.
			errc := make(chan error, 2)
			go func() { errc <- mgmt.Serve(ctx) }()
			go func() { errc <- api.Serve(ctx) }()
			var first error
			for range 2 {
				if err := <-errc; err != nil && first == nil {
					first = err
					stop()
				}
			}
			return first
		},
	}
}

func redactCmd() *cobra.Command {
	var tierFlag, outDir string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "redact FILE",
		Short: "Redact a scanned document or PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			tier, err := a.tier(tierFlag)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = a.cfg.OutputDir
			}

			var rec audit.Recorder = audit.Nop{}
			if store := a.openAudit(); store != nil {
				defer store.Close()
				rec = store
			}
			return runRedact(cmd.Context(), a, a.processor(), rec, args[0], tier, outDir, asJSON, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&tierFlag, "tier", "", "sensitivity tier: basic, intermediate or critical")
	cmd.Flags().StringVar(&outDir, "out", "", "directory for redacted page images (default outputDir)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func runRedact(ctx context.Context, a *app, proc *document.Processor, rec audit.Recorder,
	path string, tier pii.Tier, outDir string, asJSON bool, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	pages, format, err := ocr.DecodePages(ctx, data, ocr.Poppler{})
	if err != nil {
		a.metrics.DocumentsRejected.Add(1)
		return fmt.Errorf("%s: %w", path, err)
	}

	res := proc.Process(ctx, pages, tier)
	files, err := res.WritePages(outDir)
	if err != nil {
		return fmt.Errorf("write pages: %w", err)
	}

	if err := rec.RecordDocument(ctx, audit.DocumentOf(res, filepath.Base(path), format)); err != nil {
		a.log.Warnf("audit", "doc=%s: %v", res.ID, err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(out, "Document %s (%s, %d page(s), tier %s)\n", res.ID, format, len(res.Pages), tier)
	if res.Degraded {
		fmt.Fprintln(out, "  warning: semantic analyzer unavailable, pattern rules only")
	}
	for _, p := range res.Pages {
		if p.Failed() {
			fmt.Fprintf(out, "  page %d failed: %s\n", p.Index+1, p.Error)
		}
	}
	writeEntities(out, res.Entities)
	for _, f := range files {
		fmt.Fprintf(out, "  wrote %s\n", filepath.Join(outDir, f))
	}
	fmt.Fprintf(out, "\n%s\n", res.RedactedText)
	return nil
}

func scanCmd() *cobra.Command {
	var tierFlag string

	cmd := &cobra.Command{
		Use:   "scan TEXT...",
		Short: "Detect and redact PII in a piece of text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			tier, err := a.tier(tierFlag)
			if err != nil {
				return err
			}
			return runScan(cmd.Context(), a, strings.Join(args, " "), tier, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&tierFlag, "tier", "", "sensitivity tier: basic, intermediate or critical")
	return cmd
}

func runScan(ctx context.Context, a *app, text string, tier pii.Tier, out io.Writer) error {
	list, err := a.pipeline.Run(ctx, text, tier)
	if err != nil {
		if !errors.Is(err, pii.ErrDetectionUnavailable) {
			return err
		}
		fmt.Fprintln(out, "warning: semantic analyzer unavailable, pattern rules only")
	}
	redacted, err := pii.Redact(text, list, a.cfg.Placeholder)
	if err != nil {
		return err
	}
	writeEntities(out, list)
	fmt.Fprintln(out, redacted)
	return nil
}

func writeEntities(out io.Writer, l pii.List) {
	if len(l) == 0 {
		fmt.Fprintln(out, "  no PII found")
		return
	}
	for _, e := range l {
		fmt.Fprintf(out, "  %-20s %-8s %.2f  %q\n", e.Type, e.Source, e.Confidence, e.Text)
	}
}

func listenCmd() *cobra.Command {
	var tierFlag string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run a live session over transcript lines read from stdin",
		Long: `Each stdin line is one transcribed chunk. An empty line is speech the
recognizer could not make out; "/stop" ends the session. Events are
printed as JSON lines. Closed stdin counts as silence, so the session
ends once the silence budget runs out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			tier, err := a.tier(tierFlag)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var rec audit.Recorder = audit.Nop{}
			if store := a.openAudit(); store != nil {
				defer store.Close()
				rec = store
			}

			sess, err := runListen(ctx, a, tier, cmd.InOrStdin(), cmd.OutOrStdout())
			s := sess.Summary()
			if rerr := rec.RecordSession(context.Background(), audit.SessionOf(s)); rerr != nil {
				a.log.Warnf("audit", "session=%s: %v", s.ID, rerr)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&tierFlag, "tier", "", "sensitivity tier: basic, intermediate or critical")
	return cmd
}

type eventLine struct {
	Event string       `json:"event"`
	Data  stream.Event `json:"data"`
}

// runListen drives one session to completion and returns it for its summary.
func runListen(ctx context.Context, a *app, tier pii.Tier, in io.Reader, out io.Writer) (*stream.Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed := stream.NewFeed(8)
	defer feed.Close()

	enc := json.NewEncoder(out)
	emit := func(e stream.Event) {
		if err := enc.Encode(eventLine{Event: e.EventType(), Data: e}); err != nil {
			a.log.Warnf("emit", "%v", err)
		}
	}
	sess := stream.NewSession(feed, a.pipeline, emit, stream.Options{
		SilenceBudget: a.cfg.SilenceBudget,
		ListenTimeout: a.cfg.ListenTimeout(),
		Tier:          tier,
	}, a.metrics, a.log.Module("stream"))

	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			switch line := strings.TrimSpace(sc.Text()); line {
			case "":
				feed.PushUnclear()
			case "/stop":
				sess.Stop()
				cancel()
				return
			default:
				feed.Push(line)
			}
		}
	}()

	_, err := sess.Run(ctx)
	return sess, err
}
