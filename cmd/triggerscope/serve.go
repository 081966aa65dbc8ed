package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/api"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/config"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/db"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/monitoring"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/params"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/protocol"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/serialmux"
)

// mockLineInterval paces the lines fed through the --mock link.
const mockLineInterval = 100 * time.Millisecond

type serveOptions struct {
	configPath    string
	listen        string
	port          string
	dbPath        string
	mock          bool
	mockFile      string
	disableSerial bool
	wideTimings   bool
	noJournal     bool
	restore       bool
}

func parseServeFlags(args []string) (*serveOptions, error) {
	opts := &serveOptions{}
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Service config JSON file (defaults are built in)")
	fs.StringVar(&opts.listen, "listen", "", "HTTP listen address (overrides config)")
	fs.StringVar(&opts.port, "port", "", "Serial device path (overrides config)")
	fs.StringVar(&opts.dbPath, "db", "", "Journal database path (overrides config)")
	fs.BoolVar(&opts.mock, "mock", false, "Use an in-memory serial link instead of a device")
	fs.StringVar(&opts.mockFile, "mock-file", "", "Parameter set replayed over the --mock link")
	fs.BoolVar(&opts.disableSerial, "disable-serial", false, "Run without a serial link (HTTP only)")
	fs.BoolVar(&opts.wideTimings, "wide-timings", false, "Store pulse window timings at full 32-bit width")
	fs.BoolVar(&opts.noJournal, "no-journal", false, "Do not record commands in the journal database")
	fs.BoolVar(&opts.restore, "restore", false, "Reapply the last journalled value of every parameter on start")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.mock && opts.disableSerial {
		return nil, errors.New("--mock and --disable-serial are mutually exclusive")
	}
	if opts.mockFile != "" && !opts.mock {
		return nil, errors.New("--mock-file requires --mock")
	}
	if opts.restore && opts.noJournal {
		return nil, errors.New("--restore needs the journal")
	}
	return opts, nil
}

// serviceConfig loads the config file and applies the command-line overrides.
func (o *serveOptions) serviceConfig() (*config.ServiceConfig, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.listen != "" {
		cfg.Listen = &o.listen
	}
	if o.port != "" {
		cfg.PortPath = &o.port
	}
	if o.dbPath != "" {
		cfg.DBPath = &o.dbPath
	}
	if o.wideTimings {
		wide := true
		cfg.WidePulseTimings = &wide
	}
	return cfg, nil
}

func portOptions(cfg *config.ServiceConfig) serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: cfg.GetBaudRate(),
		DataBits: cfg.GetDataBits(),
		StopBits: cfg.GetStopBits(),
		Parity:   cfg.GetParity(),
	}
}

// openSerialLink opens a real device. A failed open returns a nil interface.
func openSerialLink(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
	m, err := serialmux.NewRealSerialMux(path, opts)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func openMockLink(string, serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
	return serialmux.NewMockSerialMux(mockLineInterval), nil
}

// service is everything serve runs, built but not yet started.
type service struct {
	cfg        *config.ServiceConfig
	registry   *params.Registry
	database   *db.DB
	manager    *api.SerialPortManager
	dispatcher *serialmux.Dispatcher
	handler    http.Handler
}

func buildService(ctx context.Context, opts *serveOptions) (*service, error) {
	cfg, err := opts.serviceConfig()
	if err != nil {
		return nil, err
	}
	s := &service{cfg: cfg}

	var regOpts []params.Option
	if cfg.GetWidePulseTimings() {
		regOpts = append(regOpts, params.WithWideTimings())
	}
	s.registry = params.NewRegistry(regOpts...)

	if !opts.noJournal {
		s.database, err = db.NewDB(cfg.GetDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		monitoring.Logf("journal %s, session %s", cfg.GetDBPath(), s.database.SessionID)
		if opts.restore {
			if err := restoreParameters(ctx, s.database, s.registry); err != nil {
				s.database.Close()
				return nil, err
			}
		}
	}

	link, factory, err := openServiceLink(opts, cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	settings := api.SerialSettings{PortPath: cfg.GetPortPath(), Options: portOptions(cfg)}
	if opts.disableSerial {
		settings = api.SerialSettings{}
	}
	s.manager = api.NewSerialPortManager(link, settings, factory)

	var journal serialmux.Journal
	if s.database != nil {
		journal = s.database
	}
	s.dispatcher = serialmux.NewDispatcher(s.registry, journal)
	s.dispatcher.Parser = protocol.Parser{MaxLineLength: cfg.GetMaxLineLength()}
	s.dispatcher.Echo = cfg.GetEchoReceived()

	mux := api.NewServer(s.manager, s.dispatcher, s.database).ServeMux()
	s.manager.AttachAdminRoutes(mux)
	if s.database != nil {
		s.database.AttachAdminRoutes(mux)
	}
	s.handler = api.LoggingMiddleware(mux)
	return s, nil
}

func openServiceLink(opts *serveOptions, cfg *config.ServiceConfig) (serialmux.SerialMuxInterface, api.SerialMuxFactory, error) {
	switch {
	case opts.disableSerial:
		monitoring.Logf("serial link disabled")
		return serialmux.NewDisabledSerialMux(), nil, nil

	case opts.mock:
		var lines []string
		if opts.mockFile != "" {
			set, err := config.LoadParameterSet(opts.mockFile)
			if err != nil {
				return nil, nil, err
			}
			for _, a := range set.Parameters {
				lines = append(lines, protocol.FormatParameter(a.Name, a.Value))
			}
		}
		monitoring.Logf("using mock serial link (%d scripted lines)", len(lines))
		return serialmux.NewMockSerialMux(mockLineInterval, lines...), openMockLink, nil

	default:
		link, err := openSerialLink(cfg.GetPortPath(), portOptions(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open serial port %s: %w", cfg.GetPortPath(), err)
		}
		monitoring.Logf("opened serial port %s at %d baud", cfg.GetPortPath(), cfg.GetBaudRate())
		return link, openSerialLink, nil
	}
}

// restoreParameters reapplies the last journalled value of each parameter,
// in catalogue order.
func restoreParameters(ctx context.Context, database *db.DB, reg *params.Registry) error {
	latest, err := database.LatestParameters(ctx)
	if err != nil {
		return fmt.Errorf("failed to read journalled parameters: %w", err)
	}
	set := config.ParameterSetFromValues(latest)
	for _, a := range set.Parameters {
		reg.Set(a.Name, a.Value)
	}
	monitoring.Logf("restored %d parameters from the journal", len(set.Parameters))
	return nil
}

func (s *service) close() {
	if s.manager != nil {
		if err := s.manager.Close(); err != nil {
			monitoring.Logf("failed to close serial link: %v", err)
		}
	}
	if s.database != nil {
		s.database.Close()
	}
}

func runServe(ctx context.Context, opts *serveOptions) error {
	s, err := buildService(ctx, opts)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		serveErr  error
		serveOnce sync.Once
	)
	fail := func(err error) {
		serveOnce.Do(func() { serveErr = err })
		cancel()
	}

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.manager.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// apply every line read from the link
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.dispatcher.Run(ctx, s.manager); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("dispatcher stopped: %v", err)
		}
		log.Print("dispatcher routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		server := &http.Server{
			Addr:    s.cfg.GetListen(),
			Handler: s.handler,
		}

		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fail(fmt.Errorf("failed to start server: %w", err))
			}
		}()

		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("failed to shut down HTTP server: %v", err)
		}
		log.Print("HTTP server routine terminated")
	}()

	wg.Wait()
	return serveErr
}
