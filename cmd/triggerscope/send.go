package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/client"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/config"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/httputil"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/monitoring"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/serialmux"
)

type sendOptions struct {
	configPath  string
	file        string
	port        string
	server      string
	typed       bool
	wideTimings bool
	pacing      time.Duration
	then        string
	timeout     time.Duration
}

// linkOpener opens the serial link used by send.
type linkOpener func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error)

func parseSendFlags(args []string) (*sendOptions, error) {
	opts := &sendOptions{}
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Service config JSON file (defaults are built in)")
	fs.StringVar(&opts.file, "file", "", "Parameter set JSON file (required)")
	fs.StringVar(&opts.port, "port", "", "Serial device path (overrides config)")
	fs.StringVar(&opts.server, "server", "", "Send through a running service at this base URL instead of a serial port")
	fs.BoolVar(&opts.typed, "typed", false, "Send PARAMETER,<name>,<type>,<value> instead of the short form")
	fs.BoolVar(&opts.wideTimings, "wide-timings", false, "Expect pulse window timings stored at full width")
	fs.DurationVar(&opts.pacing, "pacing", -1, "Delay between parameters (default from config)")
	fs.StringVar(&opts.then, "then", "", "Line to send after the upload, e.g. RASTER_SCAN; waits for \"Scan done\" over serial")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Second, "How long to wait for confirmations and for the scan")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.file == "" {
		return nil, errors.New("--file is required")
	}
	if opts.port != "" && opts.server != "" {
		return nil, errors.New("--port and --server are mutually exclusive")
	}
	if opts.timeout <= 0 {
		return nil, fmt.Errorf("--timeout must be positive, got %s", opts.timeout)
	}
	return opts, nil
}

func (o *sendOptions) uploader(cfg *config.ServiceConfig, s client.Sender) *client.Uploader {
	u := client.NewUploader(s)
	u.Typed = o.typed
	u.WideTimings = o.wideTimings || cfg.GetWidePulseTimings()

	pacing := o.pacing
	if pacing < 0 {
		pacing = cfg.GetParameterPacing()
	}
	if pacing == 0 {
		// the uploader reads zero as "use the default"
		pacing = -1
	}
	u.Pacing = pacing
	return u
}

func runSend(ctx context.Context, opts *sendOptions, out io.Writer, open linkOpener) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	set, err := config.LoadParameterSet(opts.file)
	if err != nil {
		return err
	}

	if opts.server != "" {
		return sendHTTP(ctx, opts, cfg, set, out)
	}
	return sendSerial(ctx, opts, cfg, set, out, open)
}

func sendHTTP(ctx context.Context, opts *sendOptions, cfg *config.ServiceConfig, set *config.ParameterSet, out io.Writer) error {
	sender := client.NewHTTPSender(httputil.NewStandardClient(&http.Client{Timeout: opts.timeout}), opts.server)

	report, err := opts.uploader(cfg, sender).Upload(ctx, set.Parameters)
	if err != nil {
		return err
	}
	if err := printReport(out, report, client.Verify(report, sender.Replies())); err != nil {
		return err
	}

	if opts.then != "" {
		if err := sender.WriteLine(opts.then); err != nil {
			return err
		}
		fmt.Fprintf(out, "Sent %s (not waiting for the scan over HTTP)\n", opts.then)
	}
	return nil
}

func sendSerial(ctx context.Context, opts *sendOptions, cfg *config.ServiceConfig, set *config.ParameterSet, out io.Writer, open linkOpener) error {
	path := opts.port
	if path == "" {
		path = cfg.GetPortPath()
	}
	link, err := open(path, portOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	defer link.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := link.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("serial monitor stopped: %v", err)
		}
	}()

	id, lines := link.SubscribeLossless()
	defer link.Unsubscribe(id)

	if err := link.Initialise(); err != nil {
		return err
	}

	// replies are drained while uploading so Monitor never waits on us
	collectCtx, stopCollect := context.WithCancel(ctx)
	defer stopCollect()
	type collected struct {
		replies []string
		err     error
	}
	results := make(chan collected, 1)
	go func() {
		replies, err := client.Collect(collectCtx, lines, len(set.Parameters))
		results <- collected{replies, err}
	}()

	report, err := opts.uploader(cfg, link).Upload(ctx, set.Parameters)
	if err != nil {
		return err
	}

	timer := time.AfterFunc(opts.timeout, stopCollect)
	res := <-results
	timer.Stop()
	if err := printReport(out, report, client.Verify(report, res.replies)); err != nil {
		return err
	}
	if res.err != nil {
		return res.err
	}

	if opts.then == "" {
		return nil
	}
	if err := link.WriteLine(opts.then); err != nil {
		return err
	}
	scanCtx, scanCancel := context.WithTimeout(ctx, opts.timeout)
	defer scanCancel()
	ids, err := client.WaitScanDone(scanCtx, lines)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Scan done (%d messages)\n", len(ids))
	return nil
}

// printReport lists what was sent and returns an error when any parameter
// was not confirmed as expected.
func printReport(out io.Writer, report client.Report, mismatches []client.Mismatch) error {
	fmt.Fprintf(out, "Sent %d parameters\n", len(report.Sent))
	for _, m := range mismatches {
		fmt.Fprintf(out, "  MISMATCH %s\n", m)
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%d of %d parameters not confirmed", len(mismatches), len(report.Sent))
	}
	fmt.Fprintln(out, "All parameters confirmed")
	return nil
}
