// Toolchat is a tool-augmented chat service.
//
// It keeps one dialogue per conversation, lets the model call built-in
// tools (a calculator and a US weather lookup), and exposes the result
// over an HTTP API with a small browser UI. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); without one, defaults and the
// OPENAI_API_KEY / ANTHROPIC_API_KEY environment variables are used.
//
// Usage:
//
//	toolchat serve             Start the API server
//	toolchat init [dir]        Write a starter config.yaml
//	toolchat ask <question>    Ask a single question
//	toolchat tools             List the registered tools
//	toolchat ping [model]      Send one completion to check credentials
//	toolchat version           Print version and build information
//	toolchat -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/toolchat/internal/agent"
	"github.com/nugget/toolchat/internal/api"
	"github.com/nugget/toolchat/internal/buildinfo"
	"github.com/nugget/toolchat/internal/config"
	"github.com/nugget/toolchat/internal/events"
	"github.com/nugget/toolchat/internal/llm"
	"github.com/nugget/toolchat/internal/mqtt"
	"github.com/nugget/toolchat/internal/tools"
	"github.com/nugget/toolchat/internal/usage"
	"github.com/nugget/toolchat/internal/web"
)

// main constructs the OS-level environment and delegates to [run] so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; the
// caller prints the returned error. Arguments are parsed by hand so
// that run holds no package-level flag state and can be called from
// parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: toolchat ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "tools":
		return runTools(stdout, stderr, configPath, outputFmt)
	case "ping":
		return runPing(ctx, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Toolchat - tool-augmented chat service")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: toolchat [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Start the API server")
	fmt.Fprintln(w, "  init [dir]     Write a starter config.yaml (default: .)")
	fmt.Fprintln(w, "  ask <text>     Ask a single question")
	fmt.Fprintln(w, "  tools          List the registered tools")
	fmt.Fprintln(w, "  ping [model]   Send one completion to check credentials")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runAsk answers one question with a fresh conversation and prints the
// reply. Usage is not recorded.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string, args []string) error {
	logger := config.NewLogger(stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	loopCfg, err := newLoopConfig(cfg, logger, nil, nil)
	if err != nil {
		return err
	}
	loop, err := agent.NewLoop("cli", loopCfg)
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	if outputFmt != "json" {
		fmt.Fprintln(stdout, loop.Handle(ctx, question))
		return nil
	}

	resp, err := loop.Run(ctx, question)
	out := map[string]any{"conversation": loop.Conversation().Turns()}
	if err != nil {
		out["error"] = agent.UserMessage(err)
	} else {
		out["response"] = resp
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runTools lists the tools the configuration enables.
func runTools(stdout, stderr io.Writer, configPath, outputFmt string) error {
	logger := config.NewLogger(stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	reg, err := newRegistry(cfg, logger, nil)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reg.Specs())
	}
	for _, spec := range reg.Specs() {
		fmt.Fprintf(stdout, "%-14s %s\n", spec.Name, spec.Description)
	}
	return nil
}

// runPing sends a single "Hello, world!" completion to the primary
// model (or the named one) and prints the reply.
func runPing(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	logger := config.NewLogger(stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	model := cfg.Completion.PrimaryModel
	if len(args) > 0 {
		model = args[0]
	}

	client := newLLMClient(cfg, logger)
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := client.Chat(ctx, model, []llm.Message{{Role: llm.RoleUser, Content: "Hello, world!"}}, nil)
	if err != nil {
		return fmt.Errorf("ping %s: %w", model, err)
	}

	fmt.Fprintf(stdout, "Connection to %s (%s) successful\n", model, client.ProviderFor(model))
	fmt.Fprintf(stdout, "Response: %s\n", resp.Message.Content)
	return nil
}

// runServe starts the API server and blocks until ctx is cancelled or
// SIGINT/SIGTERM arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting toolchat", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger = cfg.Logger(stdout)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"primary_model", cfg.Completion.PrimaryModel,
		"fallback_model", cfg.Completion.FallbackModel,
		"model_policy", cfg.Dialogue.ModelPolicy,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	usageStore, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer usageStore.Close()

	bus := events.New()

	loopCfg, err := newLoopConfig(cfg, logger, bus, usageStore)
	if err != nil {
		return err
	}
	sessions := agent.NewSessions(loopCfg, cfg.Dialogue.SessionIdle)

	webServer := web.NewWebServer(web.Config{
		BrandName: "Toolchat",
		Sessions:  sessions.List,
		Usage: func(start, end time.Time) (*usage.Summary, map[string]*usage.Summary, error) {
			total, err := usageStore.Summary(start, end)
			if err != nil {
				return nil, nil, err
			}
			byModel, err := usageStore.SummaryByModel(start, end)
			return total, byModel, err
		},
		Logger: logger,
	})

	server := api.NewServer(api.Config{
		Address:  cfg.Listen.Address,
		Port:     cfg.Listen.Port,
		Sessions: sessions,
		Registry: loopCfg.Registry,
		Usage:    usageStore,
		Events:   bus,
		Web:      webServer,
		Logger:   logger,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go sessions.Run(ctx)

	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, instanceID, bus, mqtt.NewDailyTokens(nil), logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt bridge failed", "error", err)
			}
		}()
		logger.Info("mqtt event bridge enabled", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt event bridge disabled (not configured)")
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if mqttPub != nil {
			if err := mqttPub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("toolchat stopped")
	return nil
}

// loadConfig locates and parses the YAML configuration. An explicit
// path must exist. When discovery finds nothing, defaults are used and
// the returned path is empty.
func loadConfig(explicit string, logger *slog.Logger) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit == "" && errors.Is(err, config.ErrNoConfig) {
			logger.Info("no config file found, using defaults")
			return config.Default(), "", nil
		}
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newLLMClient builds a multi-provider client. Each configured model is
// mapped to its provider; anything else goes to the default provider.
func newLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	multi := llm.NewMultiClient(cfg.Completion.Provider)

	if cfg.OpenAI.Configured() {
		multi.AddProvider(config.ProviderOpenAI, llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger))
		logger.Debug("OpenAI provider configured", "base_url", cfg.OpenAI.BaseURL)
	}
	if cfg.Anthropic.Configured() {
		multi.AddProvider(config.ProviderAnthropic, llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Debug("Anthropic provider configured")
	}
	for _, m := range cfg.Completion.Models {
		multi.AddModel(m.Name, m.Provider)
	}
	return multi
}

// newRegistry builds the tool registry the configuration enables.
// cost_summary is registered only when a usage ledger is open.
func newRegistry(cfg *config.Config, logger *slog.Logger, ledger *usage.Store) (*tools.Registry, error) {
	list := []*tools.Tool{tools.NewCalculatorTool()}
	if !cfg.Weather.Disabled {
		list = append(list, tools.NewWeatherTool(tools.WeatherConfig{
			GeocodeURL:  cfg.Weather.GeocodeURL,
			ForecastURL: cfg.Weather.ForecastURL,
			Logger:      logger,
		}))
	}
	if ledger != nil {
		list = append(list, tools.NewCostSummaryTool(ledger))
	}
	return tools.NewRegistry(list...)
}

// newLoopConfig assembles the dependencies shared by every dialogue.
// bus and ledger may be nil.
func newLoopConfig(cfg *config.Config, logger *slog.Logger, bus *events.Bus, ledger *usage.Store) (agent.Config, error) {
	reg, err := newRegistry(cfg, logger, ledger)
	if err != nil {
		return agent.Config{}, fmt.Errorf("build tool registry: %w", err)
	}

	policy, err := agent.NewModelPolicy(cfg.Dialogue.ModelPolicy, cfg.Completion.PrimaryModel, cfg.Completion.FallbackModel)
	if err != nil {
		return agent.Config{}, err
	}

	client := newLLMClient(cfg, logger)

	return agent.Config{
		Client:          client,
		Registry:        reg,
		PrimaryModel:    cfg.Completion.PrimaryModel,
		FallbackModel:   cfg.Completion.FallbackModel,
		Policy:          policy,
		MaxRounds:       cfg.Dialogue.MaxRounds,
		Budget:          cfg.Dialogue.Budget,
		ConcurrentTools: cfg.Dialogue.ConcurrentTools,
		SystemPrompt:    cfg.Dialogue.SystemPrompt,
		Logger:          logger,
		Events:          bus,
		Pricing:         cfg.Pricing,
		Usage:           usageRecorder(ledger),
		ProviderFor:     client.ProviderFor,
	}, nil
}

// usageRecorder keeps a nil ledger from becoming a non-nil interface.
func usageRecorder(ledger *usage.Store) agent.UsageRecorder {
	if ledger == nil {
		return nil
	}
	return ledger
}
