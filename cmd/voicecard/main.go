// Command voicecard is the real-time voice-and-text experience capture
// client: it records narration, streams it to a transcription service, runs
// the clarification dialogue against the extraction collaborators, and speaks
// the assistant's replies.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voicecard-io/voicecard/internal/app"
	"github.com/voicecard-io/voicecard/internal/collab"
	"github.com/voicecard-io/voicecard/internal/config"
	"github.com/voicecard-io/voicecard/internal/convo"
	"github.com/voicecard-io/voicecard/internal/health"
	"github.com/voicecard-io/voicecard/internal/observe"
	"github.com/voicecard-io/voicecard/internal/record"
	"github.com/voicecard-io/voicecard/internal/synth"
	"github.com/voicecard-io/voicecard/internal/transcribe"
	"github.com/voicecard-io/voicecard/pkg/audio"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; secrets may come from the real environment.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicecard: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicecard: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicecard starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicecard",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Subsystems ────────────────────────────────────────────────────────────
	client, err := collab.New(cfg.Collaborator.BaseURL,
		collab.WithTimeout(cfg.Collaborator.Timeout.Std()),
		collab.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to create collaborator client", "err", err)
		return 1
	}

	chain, err := buildSynth(cfg.Synthesis, metrics)
	if err != nil {
		slog.Error("failed to configure synthesis", "err", err)
		return 1
	}

	source := &audio.ArecordSource{Device: cfg.Voice.Device}
	dial := func(ctx context.Context) (*transcribe.Conn, error) {
		return transcribe.Dial(ctx, cfg.Transcription.URL, cfg.Transcription.Token)
	}

	warm := record.NewWarmStart(source, dial)
	engineOpts := []record.Option{
		record.WithWarmStart(warm),
		record.WithMetrics(metrics),
	}
	if cfg.Transcription.SilenceWindow > 0 {
		engineOpts = append(engineOpts, record.WithIdleWindow(cfg.Transcription.SilenceWindow.Std()))
	}
	engine := record.NewEngine(source, dial, engineOpts...)

	machine := convo.New(client, convo.WithMetrics(metrics))

	sessionOpts := []app.Option{
		app.WithWarmStart(warm),
		app.WithMetrics(metrics),
		app.WithOnTranscript(func(snapshot string) {
			fmt.Printf("\r… %s", snapshot)
		}),
		app.WithOnReply(func(r *convo.Reply) {
			fmt.Printf("\nassistant> %s\n", r.Text)
		}),
	}
	if cfg.Voice.VoiceFirst {
		sessionOpts = append(sessionOpts, app.WithVoiceFirst())
	}

	session := app.New(machine, engine, chain, &audio.AplayPlayer{}, sessionOpts...)
	defer session.Close()

	if cfg.Voice.Prewarm {
		go func() {
			if err := warm.Prewarm(ctx); err != nil {
				slog.Debug("initial prewarm failed", "err", err)
			}
		}()
	}

	// ── HTTP surface + interactive loop ──────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		srv := newServer(cfg)
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return repl(gctx, stop, session)
	})

	slog.Info("ready — /rec to record, /stop to submit, /quit to exit")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// repl drives the interactive stdin loop. Plain lines are typed turns;
// /rec, /stop, and /quit control the voice path.
func repl(ctx context.Context, quit func(), session *app.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				quit()
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit":
				quit()
				return nil
			case line == "/rec":
				if err := session.StartRecording(ctx); err != nil {
					fmt.Printf("cannot start recording: %v\n", err)
				} else {
					fmt.Println("recording… (/stop to submit)")
				}
			case line == "/stop":
				if _, err := session.StopRecording(ctx); err != nil {
					fmt.Printf("turn failed: %v\n", err)
				}
			default:
				if _, err := session.SubmitText(ctx, line); err != nil {
					fmt.Printf("turn failed: %v\n", err)
				}
			}
		}
	}
}

// buildSynth assembles the remote-first/local-fallback synthesis chain from
// config. Returns nil when no backend is configured (text-only mode).
func buildSynth(cfg config.SynthesisConfig, metrics *observe.Metrics) (*synth.Chain, error) {
	var remote, local synth.Synthesizer
	if cfg.URL != "" {
		r, err := synth.NewRemote(cfg.URL, synth.WithCharCap(cfg.CharCap))
		if err != nil {
			return nil, err
		}
		remote = r
	}
	if cfg.LocalURL != "" {
		l, err := synth.NewLocal(cfg.LocalURL)
		if err != nil {
			return nil, err
		}
		local = l
	}
	chain := synth.NewChain(remote, local, metrics)
	if chain.Empty() {
		slog.Info("no synthesis backend configured, replies stay text-only")
	}
	return chain, nil
}

// newServer builds the local HTTP surface: Prometheus metrics plus
// liveness/readiness probes.
func newServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.Endpoint("collaborator", cfg.Collaborator.BaseURL+"/healthz"),
	).Register(mux)
	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// newLogger builds the process-wide logger honouring the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
