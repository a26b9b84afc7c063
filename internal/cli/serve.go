package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/sentinel-agent/sentinel/internal/agentloop"
	"github.com/sentinel-agent/sentinel/internal/channels"
	"github.com/sentinel-agent/sentinel/internal/config"
	"github.com/sentinel-agent/sentinel/internal/logging"
	"github.com/sentinel-agent/sentinel/internal/safety"
	"github.com/sentinel-agent/sentinel/internal/tools"
	"github.com/spf13/cobra"
)

// startServeTelegramFunc is swappable in tests so `serve` never opens a
// real Telegram connection when it boots the agent core.
var startServeTelegramFunc = startServeTelegram

// startServeTelegram runs listener's update loop against a ChatHandler
// bridging it to loop's PendingChat queue, reporting a listener failure
// on the returned channel.
func startServeTelegram(ctx context.Context, listener *channels.TelegramListener, loop *agentloop.Loop) <-chan error {
	handler := &agentloop.ChatHandler{Loop: loop, Source: agentloop.ChatSourceTelegram}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := listener.Listen(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	return errCh
}

// startServeConsoleFunc is swappable in tests.
var startServeConsoleFunc = startServeConsole

// startServeConsole bridges an interactive terminal session to the same
// PendingChat queue the Telegram bridge uses, tagged as ChatSourceWeb:
// the operator console stands in for a web dashboard.
func startServeConsole(ctx context.Context, listener *channels.CLIListener, loop *agentloop.Loop) <-chan error {
	handler := &agentloop.ChatHandler{Loop: loop, Source: agentloop.ChatSourceWeb}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := listener.Listen(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	return errCh
}

// newServeCmd builds the `serve` command: the autonomous agent's
// heartbeat. It boots the full core (StatePersistor, BudgetStore,
// VectorMemory, SafetyValidator, ToolDispatcher, LLMRouter, Planner)
// behind an IterationLoop and its Watchdog, and runs until
// interrupted. A configured Telegram channel, and optionally an
// interactive terminal console, are bridged to the loop's PendingChat
// queue.
func newServeCmd() *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the autonomous agent loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := config.ValidateStartup(cfg); err != nil {
				return err
			}
			warnStartupConditions(cfg)

			pidFilePath := cfg.PIDPath()
			if err := os.WriteFile(pidFilePath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
				return fmt.Errorf("write pid file %q: %w", pidFilePath, err)
			}
			defer os.Remove(pidFilePath)

			if cfg.Security.Mode != config.SecurityModeDanger {
				if err := safety.RestrictProcess(cfg.Security.Mode, cfg.DataDir); err != nil {
					if cfg.Security.Mode == config.SecurityModeStrict {
						return fmt.Errorf("apply process sandbox: %w", err)
					}
					logging.Logger().Warn("process sandbox unavailable, continuing unsandboxed", "err", err)
				}
			}

			llm := cfg.DefaultLLM()
			fmt.Fprintf(
				cmd.OutOrStdout(),
				"starting server... agent=%s provider=%s model=%s data_dir=%s\n",
				cfg.Agent,
				llm.Provider,
				llm.Model,
				cfg.DataDir,
			)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var telegramListener *channels.TelegramListener
			telegramCfg := cfg.TelegramChannel()
			if telegramCfg.Enabled {
				token := strings.TrimSpace(telegramCfg.Token)
				if token == "" {
					return errors.New("telegram is enabled but token is empty")
				}
				logging.Logger().Info("Starting Telegram listener")
				telegramListener = channels.NewTelegram(token, cfg.AllowedUsersPath())
			}

			// Assign through a separate interface variable so a disabled
			// Telegram channel passes a true nil sender, not a typed-nil
			// *TelegramListener the tool layer's nil check would miss.
			var toolSender tools.ChannelMessageSender
			if telegramListener != nil {
				toolSender = telegramListener
			}

			core, err := buildAgentCore(cfg, cmd.OutOrStdout(), toolSender)
			if err != nil {
				return fmt.Errorf("build agent core: %w", err)
			}
			defer core.Close()

			var listenerErrChans []<-chan error
			if telegramListener != nil {
				listenerErrChans = append(listenerErrChans, startServeTelegramFunc(runCtx, telegramListener, core.Loop))
			}
			if interactive {
				console := channels.NewCLI(cmd.InOrStdin(), cmd.OutOrStdout())
				listenerErrChans = append(listenerErrChans, startServeConsoleFunc(runCtx, console, core.Loop))
			}

			if err := core.Watchdog.Start(runCtx); err != nil {
				return fmt.Errorf("start watchdog: %w", err)
			}

			listenerErr := waitForListeners(runCtx, stop, listenerErrChans)

			core.Watchdog.Stop()
			logging.Logger().Info("server stopped")
			if listenerErr != nil {
				return listenerErr
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Bridge an interactive terminal console to the agent loop's chat queue")

	return cmd
}

// waitForListeners blocks until runCtx is cancelled or any of chans
// delivers an error, in which case stop is invoked to unwind the
// remaining listeners and the watchdog together. Each channel is
// fanned into one merged stream so any number of listeners (Telegram,
// the interactive console) can be waited on uniformly.
func waitForListeners(runCtx context.Context, stop context.CancelFunc, chans []<-chan error) error {
	if len(chans) == 0 {
		<-runCtx.Done()
		return nil
	}

	merged := make(chan error, len(chans))
	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func(ch <-chan error) {
			defer wg.Done()
			for err := range ch {
				merged <- err
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	var firstErr error
	for {
		select {
		case <-runCtx.Done():
			return firstErr
		case err, ok := <-merged:
			if !ok {
				<-runCtx.Done()
				return firstErr
			}
			if firstErr == nil {
				firstErr = err
			}
			stop()
		}
	}
}
