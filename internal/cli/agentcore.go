package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel-agent/sentinel/internal/agentloop"
	"github.com/sentinel-agent/sentinel/internal/approval"
	"github.com/sentinel-agent/sentinel/internal/budget"
	"github.com/sentinel-agent/sentinel/internal/config"
	"github.com/sentinel-agent/sentinel/internal/dispatch"
	"github.com/sentinel-agent/sentinel/internal/journal"
	"github.com/sentinel-agent/sentinel/internal/llmrouter"
	"github.com/sentinel-agent/sentinel/internal/memory"
	"github.com/sentinel-agent/sentinel/internal/planner"
	"github.com/sentinel-agent/sentinel/internal/safety"
	"github.com/sentinel-agent/sentinel/internal/state"
	"github.com/sentinel-agent/sentinel/internal/tools"
)

// agentCore bundles every long-lived handle the autonomous IterationLoop
// needs, so the `serve` command can start it and cleanly tear it down on
// shutdown.
type agentCore struct {
	Loop     *agentloop.Loop
	Watchdog *agentloop.Watchdog
	Logs     *journal.Journal

	closers []func() error
}

func (a *agentCore) Close() {
	if a.Logs != nil {
		_ = a.Logs.Append(journal.EventWarning, "serve stopped", nil)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// buildAgentCore wires StatePersistor, BudgetStore, VectorMemory,
// SafetyValidator, ToolDispatcher, LLMRouter, and Planner into an
// IterationLoop plus its Watchdog. This is the one place the core
// subsystems are assembled into a runnable whole.
func buildAgentCore(cfg *config.Config, out io.Writer, toolSender tools.ChannelMessageSender) (*agentCore, error) {
	core := &agentCore{}

	db, err := state.OpenDB(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	core.closers = append(core.closers, db.Close)

	persistor := state.NewPersistor(db, nil)
	// Seed the singleton agent_state row up front so every later
	// IsPaused/Heartbeat call finds it, including the loop's very first
	// pause check on a fresh database.
	if _, err := persistor.LoadOrCreate(context.Background()); err != nil {
		return nil, fmt.Errorf("seed agent state: %w", err)
	}

	budgetStore := budget.NewStore(db, decimal.NewFromFloat(cfg.Costs.MonthlyLimit), nil)
	budgetStore.SetDailyCap(decimal.NewFromFloat(cfg.Costs.DailyLimit))
	if err := budgetStore.EnsureConfig(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure budget config: %w", err)
	}

	blobJournal, err := journal.Open(cfg.BlobDir())
	if err != nil {
		return nil, fmt.Errorf("open blob journal: %w", err)
	}

	logsJournal, err := journal.Open(cfg.LogsDir())
	if err != nil {
		return nil, fmt.Errorf("open logs journal: %w", err)
	}
	core.Logs = logsJournal
	_ = logsJournal.Append(journal.EventWarning, "serve started", nil)

	memoryStore, err := memory.New(cfg.MemoryDir())
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	schedulerService := newSchedulerService(cfg, map[string]io.Writer{schedulerChannelID: out})
	if err := schedulerService.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}
	core.closers = append(core.closers, func() error {
		return schedulerService.Stop(context.Background())
	})

	var vectorMemory *memory.VectorMemory
	if embed := memory.ResolveEmbedFunc(cfg); embed != nil {
		vectorMemory, err = memory.Open(cfg.ChromaDir(), embed)
		if err != nil {
			return nil, fmt.Errorf("open vector memory: %w", err)
		}
	}

	router := llmrouter.New(cfg.Router, cfg.LLM, budgetStore, blobJournal, providerFactory)

	registry, err := buildToolRegistry(cfg, out, memoryStore, autoApprover{}, schedulerService, toolSender, budgetStore, router, vectorMemory)
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	// The autonomous loop runs unattended (autoApprover above never
	// prompts), so in strict mode a forward proxy enforcing the domain
	// allowlist at the network layer is the only backstop against a
	// validated-but-misbehaving tool call reaching an unapproved host.
	if cfg.Security.Mode == config.SecurityModeStrict {
		policy, err := safety.LoadDomainPolicy(cfg.AllowedDomainsPath())
		if err != nil {
			return nil, fmt.Errorf("load domain policy: %w", err)
		}
		proxy, err := safety.StartDomainProxy(policy)
		if err != nil {
			return nil, fmt.Errorf("start domain proxy: %w", err)
		}
		core.closers = append(core.closers, proxy.Close)
		for _, envVar := range []string{"HTTP_PROXY", "HTTPS_PROXY"} {
			if err := setProcessEnv(envVar, proxy.Addr()); err != nil {
				return nil, fmt.Errorf("set %s: %w", envVar, err)
			}
		}
	}

	validator := safety.NewValidator(cfg.WorkspaceDir())
	dispatcher := dispatch.New(registry, validator, blobJournal, persistor, cfg.Security.CommandTimeout)

	plan := planner.New(router, blobJournal)

	skillsDir := cfg.SkillsDir()
	deps := agentloop.Deps{
		Directive:  "optimize yourself",
		State:      persistor,
		Planner:    plan,
		Dispatcher: dispatcher,
		Budget:     budgetStore,
		Journal:    blobJournal,
		Tools:      registry,
		Skills:     func() []memory.Skill { skills, _ := memory.ListSkills(skillsDir); return skills },
	}
	// Only set Vector when a real *memory.VectorMemory was built: a nil
	// *memory.VectorMemory assigned into the interface field would be a
	// non-nil "typed nil" interface, breaking the loop's `Vector == nil`
	// checks when no embedding profile is configured.
	if vectorMemory != nil {
		deps.Vector = vectorMemory
	}

	loop := agentloop.New(deps)

	watchdog := agentloop.NewWatchdog(loop, func(ctx context.Context) (time.Time, bool, error) {
		st, err := persistor.LoadOrCreate(ctx)
		if err != nil {
			return time.Time{}, false, err
		}
		return st.LastHeartbeat, st.Paused, nil
	})

	core.Loop = loop
	core.Watchdog = watchdog
	return core, nil
}

func setProcessEnv(key, value string) error {
	return os.Setenv(key, value)
}

// autoApprover approves every outbound-domain and run_command approval
// request without prompting. The autonomous loop has no human operator
// attached to its process; its safety gate is SafetyValidator, not the
// interactive approval prompts internal/approval otherwise drives for
// the one-shot conversational agent.
type autoApprover struct{}

func (autoApprover) RequestApproval(context.Context, approval.ApprovalRequest) (approval.ApprovalDecision, error) {
	return approval.Approved, nil
}
