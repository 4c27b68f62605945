// Command flowrun runs a flow definition file against live endpoints and
// prints every lifecycle event as it happens.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"flow-runner/internal/config"
	"flow-runner/internal/flow"
	"flow-runner/internal/log"
	"flow-runner/internal/models"
	"flow-runner/internal/transport"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("flowrun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "Flow definition file (YAML or JSON)")
	demo := fs.Bool("demo", false, "Run in demo mode")
	asJSON := fs.Bool("json", false, "Print events as JSON lines")
	logLevel := fs.String("log-level", "warn", "Log level")
	vars := variablesFlag{}
	fs.Var(vars, "var", "Run variable as name=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(stderr, "flowrun: -file is required")
		fs.Usage()
		return 2
	}

	if err := log.InitLogger(*logLevel); err != nil {
		fmt.Fprintf(stderr, "flowrun: %v\n", err)
		return 2
	}
	defer log.Sync()
	logger := log.Component("flowrun")

	f, err := loadFlowFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "flowrun: %v\n", err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "flowrun: %v\n", err)
		return 1
	}

	mode := models.ModeAuthenticated
	if *demo {
		mode = models.ModeDemo
	}

	printer := newEventPrinter(stdout, f, *asJSON)
	executor := flow.NewExecutor(transport.NewClient(cfg, nil),
		flow.WithFallbackURL(cfg.FallbackURL),
		flow.WithLogger(logger),
		flow.WithObserver(printer.print),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		if _, ok := <-quit; ok {
			logger.Info("Stop requested, finishing the current block")
			executor.Stop()
		}
	}()

	logger.Debug("Running flow", zap.String("file", *file), zap.Int("blocks", len(f.Blocks)))
	summary := executor.ExecuteWithVariables(context.Background(), *f, mode, vars)
	if !summary.Success {
		return 1
	}
	return 0
}

type eventPrinter struct {
	out    io.Writer
	names  map[string]string
	asJSON bool
}

func newEventPrinter(out io.Writer, f *models.Flow, asJSON bool) *eventPrinter {
	names := make(map[string]string, len(f.Blocks))
	for _, block := range f.Blocks {
		names[block.ID] = block.Name
	}
	return &eventPrinter{out: out, names: names, asJSON: asJSON}
}

func (p *eventPrinter) print(event flow.Event) {
	if p.asJSON {
		_ = json.NewEncoder(p.out).Encode(event)
		return
	}
	fmt.Fprintln(p.out, p.format(event))
}

func (p *eventPrinter) format(event flow.Event) string {
	switch e := event.(type) {
	case flow.FlowStart:
		return "flow started"
	case flow.BlockStart:
		return fmt.Sprintf("> %s", p.names[e.BlockID])
	case flow.BlockEnd:
		if e.Response.Error != nil {
			return fmt.Sprintf("  %s: %s (%dms)", e.Response.Error.ErrorType, e.Response.Error.Message, e.DurationMs)
		}
		return fmt.Sprintf("  %d (%dms)", e.Response.Status, e.DurationMs)
	case flow.BlockError:
		return fmt.Sprintf("  error: %s", e.Error)
	case flow.FlowStopped:
		return fmt.Sprintf("stopped: %s", e.Reason)
	case flow.FlowEnd:
		s := e.Summary
		return fmt.Sprintf("done: %d/%d blocks executed, %d failed, %dms, success=%t",
			s.ExecutedBlocks, s.TotalBlocks, s.FailedBlocks, s.TotalDurationMs, s.Success)
	}
	return string(event.Type())
}
