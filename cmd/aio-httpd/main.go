// Command aio-httpd is an example HTTP server built on httpserver, with
// a cobra CLI, colorized status output, and optional YAML config, per
// SPEC_FULL.md §2/§3's ambient/domain stack.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-aio/aio"
	"github.com/go-aio/aio/httpserver"
	"github.com/go-aio/aio/internal/logging"
)

// fileConfig is the shape of an optional YAML config file passed with
// --config. Flags still win over file values when both are set.
type fileConfig struct {
	Addr    string `yaml:"addr"`
	Verbose bool   `yaml:"verbose"`
}

func main() {
	var (
		addrFlag    string
		verboseFlag bool
		configPath  string
	)

	root := &cobra.Command{
		Use:   "aio-httpd",
		Short: "Example HTTP/1.x server built on the aio module's httpserver package",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, verbose := addrFlag, verboseFlag
			if configPath != "" {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("addr") && cfg.Addr != "" {
					addr = cfg.Addr
				}
				if !cmd.Flags().Changed("verbose") && cfg.Verbose {
					verbose = cfg.Verbose
				}
			}
			return run(addr, verbose)
		},
	}
	root.Flags().StringVar(&addrFlag, "addr", "127.0.0.1:8080", "address to listen on")
	root.Flags().BoolVar(&verboseFlag, "verbose", false, "verbose logging")
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config file")

	if err := root.Execute(); err != nil {
		color.Red("fatal: %v", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func run(addrStr string, verbose bool) error {
	logConfig := logging.DefaultConfig()
	if verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	addr, err := net.ResolveTCPAddr("tcp4", addrStr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addrStr, err)
	}

	loop, err := aio.Create(aio.DefaultConfig())
	if err != nil {
		return fmt.Errorf("creating loop: %w", err)
	}
	defer loop.Destroy()

	mux := httpserver.New()
	mux.Use(loggingMiddleware(logger))
	mux.Handle("GET", "/healthz", func(w *httpserver.ResponseWriter, r *httpserver.Request) {
		w.SetStatus(200)
		w.Write([]byte("ok"))
	})
	mux.Handle("POST", "/upload", func(w *httpserver.ResponseWriter, r *httpserver.Request) {
		if !r.IsMultipart() {
			w.SetStatus(400)
			w.Write([]byte("expected multipart/form-data"))
			return
		}
		parts, err := r.ParseMultipart()
		if err != nil {
			w.SetStatus(400)
			w.Write([]byte(err.Error()))
			return
		}
		w.SetStatus(200)
		fmt.Fprintf(writer{w}, "received %d part(s)", len(parts))
	})

	listener, err := mux.Serve(loop, addr)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	defer listener.Destroy(nil)

	bound, err := listener.GetSockName()
	if err == nil {
		color.Green("aio-httpd listening on %s", bound.String())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		loop.Stop()
	}()

	loop.Run(aio.RunDefault)
	return nil
}

// writer adapts httpserver.ResponseWriter to io.Writer for fmt.Fprintf.
type writer struct{ w *httpserver.ResponseWriter }

func (w writer) Write(b []byte) (int, error) {
	w.w.Write(b)
	return len(b), nil
}

func loggingMiddleware(logger *logging.Logger) httpserver.Middleware {
	return func(next httpserver.Handler) httpserver.Handler {
		return func(w *httpserver.ResponseWriter, r *httpserver.Request) {
			next(w, r)
			logger.Info("request", "method", r.Method, "path", r.Path)
		}
	}
}
