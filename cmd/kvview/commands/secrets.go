package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/kvview/internal/config"
	"github.com/systmms/kvview/internal/entry"
	kverrors "github.com/systmms/kvview/internal/errors"
	"github.com/systmms/kvview/internal/keyvault"
)

// NewListCommand prints the vault's secrets without their values.
func NewListCommand(cfg *config.Config, f Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List secrets in the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfg, f, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.initialize(cmd.Context()); err != nil {
				return err
			}

			entries := a.orch.Entries()
			descs := make([]keyvault.SecretDescriptor, 0, len(entries))
			for _, e := range entries {
				descs = append(descs, e.Descriptor())
			}
			printDescriptors(cmd.OutOrStdout(), descs)
			return nil
		},
	}
}

// NewShowCommand prints one secret value.
func NewShowCommand(cfg *config.Config, f Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print a secret's current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfg, f, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.initialize(cmd.Context()); err != nil {
				return err
			}
			e, err := a.entryByName(args[0])
			if err != nil {
				return err
			}
			if err := e.Reveal(cmd.Context()); err != nil {
				return entryError(e.Name(), err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), e.View().Display)
			return nil
		},
	}
}

// NewSetCommand writes a secret value. Writing requires --write.
func NewSetCommand(cfg *config.Config, f Factory) *cobra.Command {
	var (
		write       bool
		contentType string
	)

	cmd := &cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Write a new version of a secret",
		Long: `Write a new version of a secret.

Use "-" as VALUE to read the value from stdin (one trailing newline is
dropped). Nothing is written unless --write is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, value := args[0], args[1]
			if !write {
				return kverrors.UserError{
					Message:    "Write mode is off",
					Suggestion: "Pass --write to allow changes to the vault",
				}
			}
			if value == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read value from stdin: %w", err)
				}
				value = strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r")
			}

			a, err := openApp(cfg, f, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.initialize(cmd.Context()); err != nil {
				return err
			}
			a.orch.SetWriteMode(true)

			out := cmd.OutOrStdout()
			e, listed := a.orch.Entry(name)
			if !listed || contentType != "" {
				// New secrets and content-type changes go straight to the store.
				version, err := a.store.SetSecretValue(cmd.Context(), name, value, contentType)
				if err != nil {
					return kverrors.SimplifyError(err)
				}
				_, _ = fmt.Fprintf(out, "Saved %s (version %s)\n", name, version)
				return nil
			}

			if err := saveThroughEntry(cmd.Context(), e, value); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Saved %s (version %s)\n", name, e.View().Version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "Allow writing to the vault")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type to store with the new version")
	return cmd
}

// saveThroughEntry enters Editing unless already there, applies value as
// the draft and saves it.
func saveThroughEntry(ctx context.Context, e *entry.Controller, value string) error {
	if e.Phase() != entry.Editing {
		if err := e.Edit(ctx); err != nil {
			return entryError(e.Name(), err)
		}
	}
	if !e.SetDraft(value) {
		return kverrors.UserError{
			Message:    fmt.Sprintf("Could not apply the new value to %s", e.Name()),
			Details:    fmt.Sprintf("entry is %s, not editing", e.Phase()),
			Suggestion: "Retry the command",
		}
	}
	if err := e.Edit(ctx); err != nil {
		return entryError(e.Name(), err)
	}
	return nil
}

// entryError maps entry state-machine errors to terminal messages.
func entryError(name string, err error) error {
	switch {
	case errors.Is(err, entry.ErrSecretGone):
		return kverrors.UserError{
			Message:    fmt.Sprintf("Secret %s was deleted from the vault", name),
			Suggestion: "Refresh the list to drop it",
			Err:        err,
		}
	case errors.Is(err, entry.ErrEditNotAllowed):
		return kverrors.UserError{
			Message:    "Editing is not allowed",
			Suggestion: "Sign in and turn write mode on",
			Err:        err,
		}
	}
	return kverrors.SimplifyError(err)
}

func printDescriptors(out io.Writer, descs []keyvault.SecretDescriptor) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "NAME\tENABLED\tCONTENT TYPE\tUPDATED\tEXPIRES\n")
	_, _ = fmt.Fprintf(w, "----\t-------\t------------\t-------\t-------\n")

	for _, d := range descs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.Name, formatEnabled(d.Enabled), valueOr(d.ContentType, "-"),
			formatTime(d.UpdatedAt), formatTime(d.ExpiresAt))
	}

	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d secret(s)\n", len(descs))
}

func formatEnabled(b *bool) string {
	if b == nil {
		return "-"
	}
	if *b {
		return "yes"
	}
	return "no"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func valueOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
