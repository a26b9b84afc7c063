package cli

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/sentinel-agent/sentinel/internal/approval"
	"github.com/sentinel-agent/sentinel/internal/budget"
	"github.com/sentinel-agent/sentinel/internal/config"
	"github.com/sentinel-agent/sentinel/internal/llmrouter"
	"github.com/sentinel-agent/sentinel/internal/memory"
	"github.com/sentinel-agent/sentinel/internal/scheduler"
	"github.com/sentinel-agent/sentinel/internal/store"
	"github.com/sentinel-agent/sentinel/internal/tools"
)

// schedulerChannelID is the channel key the agent core's own scheduled
// jobs run under, matched against the writer registered in the
// scheduler.Runner's channel map built in buildAgentCore.
const schedulerChannelID = "agent"

// buildToolRegistry assembles the ToolDispatcher's tool set for the
// `serve` autonomous core.
func buildToolRegistry(
	cfg *config.Config,
	out io.Writer,
	memoryStore *memory.Store,
	approver approval.Approver,
	schedulerService *scheduler.Service,
	channelSender tools.ChannelMessageSender,
	budgetStore *budget.Store,
	router *llmrouter.Router,
	vectorMemory *memory.VectorMemory,
) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	httpClient := &http.Client{
		Transport: approval.RoundTripper{
			Checker: approval.Checker{
				AllowedDomainsPath: filepath.Join(cfg.DataDir, store.AllowedDomainsFilePath),
				Approver:           approver,
			},
		},
	}
	coreTools := []tools.Tool{
		tools.ReadFileTool{WorkspaceDir: cfg.WorkspaceDir()},
		tools.ListDirTool{WorkspaceDir: cfg.WorkspaceDir()},
		tools.WriteFileTool{WorkspaceDir: cfg.WorkspaceDir()},
		tools.MemoryAppendTool{Store: memoryStore},
		tools.MemoryTagsTool{Store: memoryStore},
		tools.DailyLogAppendTool{Store: memoryStore},
		tools.SearchLogsTool{Store: memoryStore},
		tools.JobListTool{Service: schedulerService},
		tools.JobCreateTool{Service: schedulerService, ChannelID: schedulerChannelID},
		tools.JobDeleteTool{Service: schedulerService},
		tools.JobRunTool{Service: schedulerService},
		tools.RunCommandTool{
			WorkspaceDir:    cfg.WorkspaceDir(),
			AllowedBinsPath: filepath.Join(cfg.DataDir, store.AllowedBinsFilePath),
			Timeout:         cfg.Security.CommandTimeout,
		},
		tools.SendMessageTool{
			Sender: channelSender,
			Writer: out,
		},
		tools.WebSearchTool{
			Client:   httpClient,
			Provider: cfg.Web.Search.Provider,
			APIKey:   cfg.Web.Search.APIKey,
		},
		tools.HTTPRequestTool{Client: httpClient},
		tools.BudgetStatusTool{Budget: budgetStore, Router: router},
	}
	if vectorMemory != nil {
		coreTools = append(coreTools,
			tools.MemoryListTool{Vector: vectorMemory},
			tools.MemoryMarkPermanentTool{Vector: vectorMemory},
			tools.MemoryFlushTool{Vector: vectorMemory},
		)
	}
	for _, tool := range coreTools {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool %q: %w", tool.Name(), err)
		}
	}
	return registry, nil
}
