package commands

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/leapstack-labs/malloynb/internal/state"
	"github.com/leapstack-labs/malloynb/internal/ui"
	"github.com/spf13/cobra"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Port      int
	Open      bool
	Watch     bool
	NoHistory bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve models, sources and notebooks over HTTP",
		Long: `Start a local HTTP server exposing the model cache and notebook runner.

Endpoints:
  GET  /api/models                                 model files and cached models
  GET  /api/models/{model}                         compiled model
  GET  /api/models/{model}/sources/{source}        introspected source (?top_values=true)
  GET  /api/models/{model}/sources/{source}/query  run ?q=<query> (or POST {"query": ...})
  GET  /api/notebooks                              notebooks with titles
  GET  /api/notebooks/{id}                         parsed notebook
  GET  /api/run/notebooks/{id}                     run a notebook, streamed as datastar signals
  GET  /api/notebooks/updates                      file change events
  GET  /api/runs, /api/runs/{id}                   run history

Model names holding a slash must be escaped as %2F. Compiled models are
cached for the lifetime of the server.`,
		Example: `  # Serve on the configured port
  malloynb serve

  # Serve on a custom port and open a browser
  malloynb serve --port 3000 --open`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "Port to serve on (default: 8765)")
	cmd.Flags().BoolVar(&opts.Open, "open", false, "Open the API index in a browser")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "Watch for file changes")
	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "Don't record notebook runs")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	uiCfg := cfg.GetUIConfig()
	port := uiCfg.Port
	if opts.Port != 0 {
		port = opts.Port
	}
	watch := uiCfg.Watch
	if cmd.Flags().Changed("watch") {
		watch = opts.Watch
	}

	if err := cfg.ValidateDirectories(); err != nil {
		return err
	}

	rt := cmdCtx.NewRuntime()
	defer func() { _ = rt.Close() }()

	var store state.Store
	if !opts.NoHistory {
		s, err := cmdCtx.OpenStore()
		if err != nil {
			cmdCtx.Logger.Warn("run history disabled", "error", err)
		} else {
			defer func() { _ = s.Close() }()
			store = s
		}
	}

	server := ui.NewServer(ui.Config{
		Cache:        cmdCtx.NewCache(rt),
		Runtime:      rt,
		Store:        store,
		Port:         port,
		Watch:        watch,
		ModelsDir:    cfg.ModelsDir,
		NotebooksDir: cfg.NotebooksDir,
		Concurrency:  cfg.Concurrency,
		Logger:       cmdCtx.Logger,
	})

	url := fmt.Sprintf("http://localhost:%d/api", port)
	if opts.Open {
		go openBrowser(url)
	}

	r.Printf("Serving %s on %s\n", cfg.ModelsDir, url)
	r.Muted("Press Ctrl+C to stop")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	return server.Serve(ctx)
}

// openBrowser opens the default browser to the specified URL.
func openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url) //nolint:noctx
	case "linux":
		cmd = exec.Command("xdg-open", url) //nolint:noctx
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url) //nolint:noctx
	default:
		return
	}

	_ = cmd.Start()
}
