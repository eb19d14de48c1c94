// Command livepick renders generated UI source into a live preview and
// lets an operator pick elements from it.
//
// Usage:
//
//	livepick -src App.jsx -css app.css              # render once, print tree and diagnostics
//	livepick -src App.jsx -pick 'button#save'       # render, pick, print snapshot JSON
//	livepick -src App.jsx -watch -serve :8787       # serve the preview, re-render on change
//	livepick -src App.jsx -mcp                      # MCP tools on stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/livepick/livepreview"
)

func main() {
	configPath := flag.String("config", "", "path to livepick.yaml config file")
	srcPath := flag.String("src", "", "component source file")
	cssPath := flag.String("css", "", "stylesheet file")
	watch := flag.Bool("watch", false, "re-render when -src or -css changes")
	pick := flag.String("pick", "", "CSS selector to pick after rendering")
	serve := flag.String("serve", "", "serve the preview over HTTP on this address (overrides http.addr)")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools on stdin/stdout")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		configPath: *configPath,
		srcPath:    *srcPath,
		cssPath:    *cssPath,
		watch:      *watch,
		pick:       *pick,
		serve:      *serve,
		mcp:        *mcpStdio,
	}
	err := run(ctx, logger, opts)
	stop()
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	case err != nil:
		logger.Error("livepick: fatal", "error", err)
		os.Exit(1)
	}
}

const usage = "usage: livepick -src <file> [-css <file>] [-pick <selector>] [-watch] [-serve <addr>] [-mcp] [-config <file>]"

var errUsage = errors.New("livepick: nothing to do")

type options struct {
	configPath, srcPath, cssPath string
	watch                        bool
	pick, serve                  string
	mcp                          bool
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	if opts.srcPath == "" && opts.serve == "" && !opts.mcp {
		return errUsage
	}

	cfg := livepreview.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = livepreview.LoadConfigFile(opts.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	// Stdout carries the MCP protocol in -mcp mode; events go to stderr.
	eventOut := os.Stdout
	if opts.mcp {
		eventOut = os.Stderr
	}
	s, err := livepreview.Open(cfg, logger, eventOut)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.srcPath != "" {
		if err := renderFiles(ctx, s, opts, eventOut); err != nil {
			return err
		}
	}

	if opts.pick != "" {
		if err := s.SetEditMode(ctx, true); err != nil {
			return err
		}
		snap, err := s.PickSelector(ctx, opts.pick)
		if err != nil {
			return fmt.Errorf("pick %q: %w", opts.pick, err)
		}
		printJSON(eventOut, snap)
	}

	if opts.watch && opts.srcPath != "" {
		go func() {
			if err := watchFiles(ctx, logger, s, opts, eventOut); err != nil {
				logger.Error("livepick: watch", "error", err)
			}
		}()
	}

	addr := opts.serve
	if addr == "" && opts.watch && !opts.mcp {
		addr = cfg.HTTP.Addr
	}

	switch {
	case opts.mcp:
		if addr != "" {
			go serveHTTP(ctx, logger, s, addr)
		}
		srv := mcp.NewServer(&mcp.Implementation{Name: "livepick", Version: "1.0.0"}, nil)
		s.RegisterMCP(srv)
		logger.Info("livepick: MCP on stdio", "session", s.ID())
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	case addr != "":
		return serveHTTP(ctx, logger, s, addr)
	case opts.watch:
		<-ctx.Done()
	}
	return nil
}

func renderFiles(ctx context.Context, s *livepreview.Session, opts options, out *os.File) error {
	code, err := os.ReadFile(opts.srcPath)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	var css []byte
	if opts.cssPath != "" {
		if css, err = os.ReadFile(opts.cssPath); err != nil {
			return fmt.Errorf("read stylesheet: %w", err)
		}
	}
	res, err := s.Render(ctx, livepreview.SourceDocument{RawCode: string(code), Stylesheet: string(css)})
	if err != nil {
		return err
	}
	if opts.pick == "" && opts.serve == "" && !opts.mcp {
		printJSON(out, struct {
			livepreview.RenderResult
			HTML string `json:"html"`
		}{res, s.HTML()})
	}
	return nil
}

// watchFiles watches the parent directories so editors that replace
// files by rename are still seen.
func watchFiles(ctx context.Context, logger *slog.Logger, s *livepreview.Session, opts options, out *os.File) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := map[string]bool{}
	for _, p := range []string{opts.srcPath, opts.cssPath} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}

	// Editors emit bursts of events per save; render once they settle.
	var debounce *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(ev.Name)
			if !targets[abs] || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			logger.Info("livepick: source changed, re-rendering", "src", opts.srcPath)
			if err := renderFiles(ctx, s, opts, out); err != nil {
				logger.Warn("livepick: re-render", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("livepick: watcher", "error", err)
		}
	}
}

func serveHTTP(ctx context.Context, logger *slog.Logger, s *livepreview.Session, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("livepick: HTTP listening", "addr", addr, "session", s.ID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("livepick: shutdown", "error", err)
	}
	return nil
}

func printJSON(out *os.File, v any) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
