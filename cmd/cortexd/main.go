// Command cortexd runs the assistant orchestration core as a long-lived
// process: store, event bus, session store, workflow registry, executor
// pools, scheduler, and controller, wired to a console frontend until a
// real voice/chat surface is attached.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	cortex "github.com/nevindra/cortex"
	"github.com/nevindra/cortex/code"
	"github.com/nevindra/cortex/ingest"
	"github.com/nevindra/cortex/ingest/pdf"
	"github.com/nevindra/cortex/internal/config"
	"github.com/nevindra/cortex/internal/exec"
	"github.com/nevindra/cortex/observer"
	"github.com/nevindra/cortex/store/postgres"
	"github.com/nevindra/cortex/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to cortex.toml")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("cortexd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg := config.Load(configPath)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability (optional).
	if cfg.Observer.Enabled {
		if cfg.Observer.Endpoint != "" {
			_ = os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observer.Endpoint)
		}
		_, shutdown, err := observer.Init(ctx, nil)
		if err != nil {
			logger.Warn("observer init failed, continuing without export", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(shutdownCtx)
			}()
		}
	}

	// Persistence.
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	// Sandbox for SYSTEM steps.
	runner, err := buildRunner(cfg)
	if err != nil {
		return err
	}
	ingestor := ingest.New(ingest.WithExtractor(pdf.TypePDF, pdf.NewExtractor()))

	actions := cortex.NewActionMux()
	actions.Handle("run_code", cortex.NewSandboxExecutor(runner))
	actions.Handle("read_file", cortex.NewFileReadExecutor(ingestor))

	// The bus is built first so the executor pools can attach to it before
	// the App takes ownership.
	bus := cortex.NewEventBus(cortex.WithEventBusLogger(logger))

	executor := exec.NewExecutor(store, bus, exec.WithExecutorLogger(logger))
	executor.Start(ctx)
	defer executor.Stop()

	monitors := exec.NewMonitorPool(store, bus, monitorFactory(store, bus, logger),
		exec.WithMonitorLogger(logger))
	monitors.Start(ctx)

	registry := cortex.NewRegistry(cortex.CompileDeps{
		Store:    store,
		Executor: actions,
		Monitors: monitors,
		Ingestor: ingestor,
	})

	app := cortex.New(
		cortex.WithStore(store),
		cortex.WithAppLogger(logger),
		cortex.WithAppStateDir(cfg.State.Dir),
		cortex.WithAppBus(bus),
		cortex.WithAppRegistry(registry),
		cortex.WithAppBackground(executor),
		cortex.WithFrontend(newConsoleFrontend(os.Stdin, os.Stdout)),
		cortex.WithProvider(placeholderProvider{}),
	)

	// Built-in file workflows, then any declarative definitions on top.
	if err := cortex.RegisterFileWorkflows(registry, ingestor, actions); err != nil {
		return err
	}
	if defs, err := config.LoadWorkflowDefs(cfg.Workflows.DefinitionsPath); err == nil {
		graphs, gerr := config.LoadStepGraphs(cfg.Workflows.StepsPath)
		if gerr != nil {
			logger.Warn("step graphs unreadable, workflows disabled", "error", gerr)
		} else {
			for workflowType, decl := range defs {
				graph, ok := graphs[workflowType]
				if !ok {
					logger.Warn("workflow has no step graph", "workflow_type", workflowType)
					continue
				}
				if _, err := registry.Compile(workflowType, decl, graph); err != nil {
					logger.Warn("workflow failed to compile", "workflow_type", workflowType, "error", err)
				}
			}
		}
	} else {
		logger.Info("no workflow definitions file, starting with an empty registry", "path", cfg.Workflows.DefinitionsPath)
	}

	// Bring suspended monitors back before user traffic arrives.
	report := monitors.RestoreMonitors(ctx)
	if len(report.Restored)+len(report.Failed) > 0 {
		logger.Info("monitor restore", "restored", len(report.Restored), "failed", len(report.Failed))
	}

	runErr := app.Run(ctx)

	// Suspend monitors so the next process can restore them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sreport := monitors.PrepareShutdown(shutdownCtx)
	logger.Info("monitor shutdown", "suspended", len(sreport.Suspended), "failed_to_stop", len(sreport.FailedToStop))

	if runErr == context.Canceled {
		return nil
	}
	return runErr
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (cortex.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return postgres.New(pool), nil
	default:
		if err := os.MkdirAll(cfg.State.Dir, 0o755); err != nil {
			return nil, err
		}
		return sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger)), nil
	}
}

func buildRunner(cfg config.Config) (cortex.CodeRunner, error) {
	switch cfg.Sandbox.Runtime {
	case "docker":
		return code.NewDockerRunner(code.WithImage(cfg.Sandbox.Image))
	case "http":
		return code.NewHTTPRunner(cfg.Sandbox.Endpoint), nil
	default:
		return code.NewSubprocessRunner(cfg.Sandbox.PythonBin), nil
	}
}

// monitorFactory reconstructs monitor bodies for both fresh submissions and
// post-restart restores. Each known workflow type maps to a check the
// monitor repeats until stopped; unknown types stay SUSPENDED and show up
// in the restore report.
func monitorFactory(store cortex.Store, bus *cortex.EventBus, logger *slog.Logger) exec.MonitorFactory {
	return func(workflowType string, metadata map[string]any) (exec.MonitorFunc, error) {
		switch workflowType {
		case "todo_deadline_watch":
			return func(ctx context.Context, interval time.Duration) {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						overdue, err := store.OverduePendingTodos(ctx, time.Now().Unix())
						if err != nil {
							logger.Warn("todo watch check", "error", err)
							continue // next tick may succeed
						}
						for _, item := range overdue {
							bus.Publish(ctx, cortex.TodoOverdue, map[string]any{
								"todo_id": item.ID,
								"name":    item.Name,
								"stage":   string(cortex.StageAtDeadline),
							}, "todo_deadline_watch")
						}
					}
				}
			}, nil
		default:
			return nil, fmt.Errorf("%w: unknown monitor type %q", cortex.ErrRestoreFailed, workflowType)
		}
	}
}

// consoleFrontend is the reference Frontend: stdin lines in, stdout out.
type consoleFrontend struct {
	in  *bufio.Scanner
	out *os.File
}

func newConsoleFrontend(in *os.File, out *os.File) *consoleFrontend {
	return &consoleFrontend{in: bufio.NewScanner(in), out: out}
}

func (c *consoleFrontend) Poll(ctx context.Context) (<-chan cortex.InboundMessage, error) {
	ch := make(chan cortex.InboundMessage)
	go func() {
		defer close(ch)
		for c.in.Scan() {
			msg := cortex.InboundMessage{ID: cortex.NewID(), ChatID: "console", Text: c.in.Text()}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *consoleFrontend) Send(_ context.Context, _ string, text string) error {
	_, err := fmt.Fprintln(c.out, text)
	return err
}

// placeholderProvider stands in until a real LLM client is wired; it makes
// the reference binary runnable end-to-end without credentials.
type placeholderProvider struct{}

func (placeholderProvider) Complete(_ context.Context, req cortex.ChatRequest) (cortex.ChatResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	return cortex.ChatResponse{Content: "(no LLM configured) you said: " + last.Content}, nil
}

func (placeholderProvider) Stream(context.Context, cortex.ChatRequest) (<-chan cortex.ChatChunk, error) {
	ch := make(chan cortex.ChatChunk)
	close(ch)
	return ch, nil
}
