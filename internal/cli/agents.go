package cli

import (
	"fmt"

	"github.com/AbdelazizMoustafa10m/sq/internal/agent"
	"github.com/AbdelazizMoustafa10m/sq/internal/config"
	"github.com/AbdelazizMoustafa10m/sq/internal/logging"
)

// agentRegistryOpts carries the one piece of per-invocation agent selection
// that can override configuration: a model override for whichever agent was
// selected for this run.
type agentRegistryOpts struct {
	// Agent is the name of the agent this invocation will use; only its
	// config gets the Model override applied.
	Agent string
	// Model overrides the selected agent's configured model when non-empty.
	Model string
}

// charmLogger is the minimal interface satisfied by *charmbracelet/log.Logger.
// It uses interface{} for the message argument, unlike the string-typed
// interfaces required by internal packages.
type charmLogger interface {
	Info(msg interface{}, kv ...interface{})
	Debug(msg interface{}, kv ...interface{})
}

// agentDebugLogger wraps a charmbracelet/log.Logger to satisfy the agent
// package's unexported claudeLogger and codexLogger interfaces, which require
// Debug(msg string, ...).
type agentDebugLogger struct {
	logger charmLogger
}

func (l *agentDebugLogger) Debug(msg string, kv ...interface{}) {
	l.logger.Debug(msg, kv...)
}

// buildAgentRegistry creates an agent registry populated with Claude, Codex,
// and Gemini adapters. Agent configurations are sourced from the resolved
// config (config.AgentConfig) and converted to agent.AgentConfig for the
// agent constructors. If opts.Model is set, it overrides the selected
// agent's configured model.
func buildAgentRegistry(agentCfgs map[string]config.AgentConfig, opts agentRegistryOpts) (*agent.Registry, error) {
	registry := agent.NewRegistry()

	// toAgentCfg converts a config.AgentConfig to agent.AgentConfig.
	// Both types have identical fields; this conversion is required because
	// they are defined in separate packages.
	toAgentCfg := func(c config.AgentConfig) agent.AgentConfig {
		return agent.AgentConfig{
			Command:        c.Command,
			Model:          c.Model,
			Effort:         c.Effort,
			PromptTemplate: c.PromptTemplate,
			AllowedTools:   c.AllowedTools,
		}
	}

	claudeCfg := toAgentCfg(agentCfgs["claude"])
	codexCfg := toAgentCfg(agentCfgs["codex"])
	geminiCfg := toAgentCfg(agentCfgs["gemini"])

	if opts.Model != "" {
		switch opts.Agent {
		case "claude":
			claudeCfg.Model = opts.Model
		case "codex":
			codexCfg.Model = opts.Model
		case "gemini":
			geminiCfg.Model = opts.Model
		}
	}

	if claudeCfg.Command == "" {
		claudeCfg.Command = "claude"
	}
	if codexCfg.Command == "" {
		codexCfg.Command = "codex"
	}

	claudeLog := &agentDebugLogger{logger: logging.New("claude")}
	codexLog := &agentDebugLogger{logger: logging.New("codex")}

	if err := registry.Register(agent.NewClaudeAgent(claudeCfg, claudeLog)); err != nil {
		return nil, fmt.Errorf("registering claude agent: %w", err)
	}
	if err := registry.Register(agent.NewCodexAgent(codexCfg, codexLog)); err != nil {
		return nil, fmt.Errorf("registering codex agent: %w", err)
	}
	if err := registry.Register(agent.NewGeminiAgent(geminiCfg)); err != nil {
		return nil, fmt.Errorf("registering gemini agent: %w", err)
	}

	return registry, nil
}

// firstConfiguredAgentName returns the name of the first agent in priority
// order (claude, codex, gemini) that has a non-empty Command or Model in the
// agent config map. Returns an empty string when no agents are configured.
func firstConfiguredAgentName(agentCfgs map[string]config.AgentConfig) string {
	for _, name := range []string{"claude", "codex", "gemini"} {
		if ac, ok := agentCfgs[name]; ok && (ac.Command != "" || ac.Model != "") {
			return name
		}
	}
	return ""
}
