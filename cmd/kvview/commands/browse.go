package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/kvview/internal/config"
	"github.com/systmms/kvview/internal/entry"
	"github.com/systmms/kvview/internal/metrics"
	"github.com/systmms/kvview/internal/orchestrator"
)

const browseHelp = `Commands:
  ls                 list secrets
  reveal N           show or hide secret N
  edit N             start editing secret N
  draft N VALUE      replace the pending edit of secret N
  save N             save the pending edit of secret N
  cancel N           discard the pending edit of secret N
  write on|off       toggle write mode
  refresh            reload the secret list
  login | logout     change the signed-in account
  help               show this text
  quit               exit`

// NewBrowseCommand starts a line-oriented shell over the vault.
func NewBrowseCommand(cfg *config.Config, f Factory) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse and edit secrets interactively",
		Long: `Browse the vault in an interactive shell.

Values stay masked until revealed. Editing requires write mode ("write on")
and a signed-in account. Type "help" for the command list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfg, f, true)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := metricsAddr
			if addr == "" {
				addr = cfg.Definition.Browse.MetricsAddr
			}
			if addr != "" {
				serverCfg := metrics.DefaultServerConfig()
				serverCfg.Addr = addr
				server := metrics.NewServer(serverCfg, cfg.Logger)
				if err := server.Start(); err != nil {
					return fmt.Errorf("failed to start metrics server: %w", err)
				}
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Stop(ctx)
				}()
				cfg.Logger.Info("Serving metrics on http://%s/metrics", server.Addr())
			}

			out := cmd.OutOrStdout()
			if err := a.initialize(cmd.Context()); err != nil {
				// The shell stays usable; "login" can recover.
				cfg.Logger.Warn("%v", err)
			}

			sh := &shell{orch: a.orch, out: out}
			unsubscribe := a.orch.SubscribeCommands(sh.onCommands)
			defer unsubscribe()

			sh.list()
			return sh.run(cmd.Context(), cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	return cmd
}

type shell struct {
	orch *orchestrator.Orchestrator

	// mu serializes output; command notices arrive from the dispatch loop.
	mu  sync.Mutex
	out io.Writer
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		s.printf("kvview> ")
		if !scanner.Scan() {
			s.printf("\n")
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := s.exec(ctx, line); quit {
			return nil
		}
	}
}

// exec runs one shell line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	parts := strings.SplitN(line, " ", 3)
	switch parts[0] {
	case "quit", "exit":
		return true
	case "help":
		s.printf("%s\n", browseHelp)
	case "ls":
		s.list()
	case "refresh":
		if err := s.orch.RefreshSecrets(ctx); err != nil {
			s.fail(err)
			return false
		}
		s.list()
	case "login":
		if !s.orch.SignIn(ctx) {
			s.printf("sign-in failed\n")
			return false
		}
		s.list()
	case "logout":
		s.orch.SignOut(ctx)
		s.printf("signed out\n")
	case "write":
		switch arg(parts, 1) {
		case "on":
			s.orch.SetWriteMode(true)
		case "off":
			s.orch.SetWriteMode(false)
		default:
			s.printf("usage: write on|off\n")
			return false
		}
		s.printf("write mode %s\n", onOff(s.orch.WriteMode()))
	case "reveal", "edit", "save", "cancel", "draft":
		e, ok := s.pick(arg(parts, 1))
		if !ok {
			return false
		}
		s.entryCommand(ctx, parts[0], e, arg(parts, 2))
	default:
		s.printf("unknown command %q; type \"help\"\n", parts[0])
	}
	return false
}

func (s *shell) entryCommand(ctx context.Context, verb string, e *entry.Controller, rest string) {
	var err error
	switch verb {
	case "reveal":
		err = e.Reveal(ctx)
	case "edit":
		if e.Phase() == entry.Editing {
			s.printf("already editing; use save or cancel\n")
			return
		}
		err = e.Edit(ctx)
	case "save":
		if e.Phase() != entry.Editing {
			s.printf("%s is not being edited\n", e.Name())
			return
		}
		err = e.Edit(ctx)
	case "cancel":
		e.CancelEdit()
	case "draft":
		if !e.SetDraft(rest) {
			s.printf("%s is not being edited\n", e.Name())
			return
		}
	}
	if err != nil {
		s.fail(entryError(e.Name(), err))
	}
	s.show(e.View())
}

func (s *shell) pick(index string) (*entry.Controller, bool) {
	entries := s.orch.Entries()
	n, err := strconv.Atoi(index)
	if err != nil || n < 1 || n > len(entries) {
		s.printf("pick a secret number between 1 and %d\n", len(entries))
		return nil, false
	}
	return entries[n-1], true
}

func (s *shell) list() {
	label, ok := s.orch.AccountLabel()
	if !ok {
		label = "not signed in"
	}
	s.printf("account: %s  write mode: %s\n", label, onOff(s.orch.WriteMode()))
	if err := s.orch.LastError(); err != nil {
		s.printf("last refresh failed: %v\n", err)
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for i, e := range s.orch.Entries() {
		v := e.View()
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, v.Name, v.Phase, v.Display)
	}
	_ = w.Flush()
	s.printf("%s", b.String())
}

func (s *shell) show(v entry.View) {
	s.printf("%s [%s] %s\n", v.Name, v.Phase, v.Display)
	if v.Phase == entry.Editing {
		s.printf("  draft: %s\n", v.Draft)
	}
	if v.Version != "" {
		s.printf("  version: %s\n", v.Version)
	}
}

func (s *shell) onCommands(c orchestrator.Commands) {
	if !c.CanToggleWriteMode && s.orch.WriteMode() {
		s.printf("(signed out: editing disabled until you sign in again)\n")
	}
}

func (s *shell) fail(err error) {
	s.printf("error: %v\n", err)
}

func (s *shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func arg(parts []string, i int) string {
	if i < len(parts) {
		return strings.TrimSpace(parts[i])
	}
	return ""
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
