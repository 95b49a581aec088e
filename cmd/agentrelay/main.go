// Command agentrelay runs the agent orchestration server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/seafield/agentrelay/agent"
	"github.com/seafield/agentrelay/config"
	"github.com/seafield/agentrelay/engine"
	"github.com/seafield/agentrelay/logging"
	"github.com/seafield/agentrelay/reasoner"
	"github.com/seafield/agentrelay/runner"
	"github.com/seafield/agentrelay/server"
	"github.com/seafield/agentrelay/session"
	"github.com/seafield/agentrelay/tool"
	"github.com/seafield/agentrelay/tool/builtin"
)

func main() {
	var (
		configPath = flag.String("config", "agentrelay.yaml", "path to the YAML configuration file")
		addr       = flag.String("addr", "", "listen address override")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn or error")
		logFormat  = flag.String("log-format", "json", "log format: json or text")
	)
	flag.Parse()

	logger := logging.New(os.Stderr, *logLevel, *logFormat)
	if err := run(*configPath, *addr, logger); err != nil {
		logger.Error("fatal", "error", err.Error())
		os.Exit(1)
	}
}

func run(configPath, addrOverride string, logger logging.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addrOverride != "" {
		cfg.Server.Addr = addrOverride
	}

	tools := tool.NewRegistry()
	if err := builtin.Register(tools); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}
	for _, ct := range cfg.ClientTools {
		spec := tool.Spec{Name: ct.Name, Description: ct.Description, Parameters: ct.Parameters, Kind: tool.KindClient}
		if err := tools.Register(spec); err != nil {
			return fmt.Errorf("register client tool: %w", err)
		}
	}

	agents, err := buildAgents(cfg, tools)
	if err != nil {
		return err
	}

	run := runner.New(agents, tools, func(o *runner.Options) {
		o.Engine = engine.Config{
			ClientCallTimeout: cfg.Engine.ClientToolTimeout.Std(),
			ServerCallTimeout: cfg.Engine.ServerToolTimeout.Std(),
			MaxSteps:          cfg.Engine.MaxSteps,
		}
		o.Store = session.NewInMemoryStore()
		o.Logger = logger
	})

	srv := server.New(run, agents, tools, func(o *server.Options) {
		if len(cfg.Auth.Tokens) > 0 {
			o.Auth = server.StaticTokens(cfg.Auth.Tokens)
		}
		o.Logger = logger
	})

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     srv,
		ReadTimeout: cfg.Server.ReadTimeout.Std(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildAgents(cfg config.Config, tools *tool.Registry) (*agent.Registry, error) {
	specs := make([]agent.Spec, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		for _, name := range a.Tools {
			if _, err := tools.Resolve(name); err != nil {
				return nil, fmt.Errorf("agent %s: %w", a.ID, err)
			}
		}
		r, err := reasoner.New(reasoner.Settings{
			Provider:    a.Model.Provider,
			Model:       a.Model.Name,
			Temperature: a.Model.Temperature,
			MaxTokens:   a.Model.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.ID, err)
		}
		specs = append(specs, agent.Spec{
			ID:           a.ID,
			Description:  a.Description,
			Instructions: a.Instructions,
			Tools:        a.Tools,
			Handoffs:     a.Handoffs,
			Reasoner:     r,
		})
	}
	return agent.NewRegistry(cfg.DefaultAgent, specs...)
}
