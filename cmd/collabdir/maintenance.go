package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"collabdir/internal/core"
)

// withApp opens the app, runs fn and closes the app, keeping fn's error
// ahead of any close error.
func withApp(cmd *cobra.Command, g *globals, fn func(context.Context, *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

// errViolations signals a completed audit that found problems.
var errViolations = errors.New("audit found violations")

func auditCmd(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check the stored table for roster and identity inconsistencies",
		Long: `Audit loads the collaborators table and reports duplicate indices or
emails, members listed as both active and former, and roster entries that
disagree with member affiliations. The table is not modified.

Exits non-zero when any violation is found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				report, err := a.svc.Audit(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(g.stdout)
					enc.SetIndent("", "  ")
					if err := enc.Encode(report); err != nil {
						return err
					}
				} else if err := printAudit(g.stdout, report); err != nil {
					return err
				}
				if len(report.Violations) > 0 {
					return errViolations
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printAudit(w io.Writer, report core.AuditReport) error {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed, color.Bold)
	rule := color.New(color.FgYellow)
	if len(report.Violations) == 0 {
		_, err := ok.Fprintf(w, "OK: %d records, no violations\n", report.Records)
		return err
	}
	if _, err := bad.Fprintf(w, "%d violations in %d records\n", len(report.Violations), report.Records); err != nil {
		return err
	}
	for _, v := range report.Violations {
		target := v.Index
		if v.Email != "" {
			target = strings.TrimSpace(target + " " + v.Email)
		}
		if _, err := fmt.Fprintf(w, "  %s %s: %s\n", rule.Sprintf("[%s]", v.Rule), target, v.Detail); err != nil {
			return err
		}
	}
	return nil
}

func normalizeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Rewrite the stored table in canonical form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				n, err := a.svc.Normalize(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(g.stdout, "normalized %d records\n", n)
				return err
			})
		},
	}
}

func exportCmd(g *globals) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored collaborators table as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				raw, err := a.store.RawCollaborators(ctx)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = g.stdout.Write(raw)
					return err
				}
				return os.WriteFile(out, raw, 0o600)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func adminsCmd(g *globals) *cobra.Command {
	var list string
	cmd := &cobra.Command{
		Use:   "admins",
		Short: "Manage the directory and data-request admin tables",
		Long: `Manage the admin tables directly in storage. Use --list data_request for
the data-request admins.`,
	}
	cmd.PersistentFlags().StringVar(&list, "list", string(core.DirectoryAdmins), "admin table: directory or data_request")

	resolve := func() (core.AdminList, error) {
		switch core.AdminList(list) {
		case core.DirectoryAdmins, core.DataRequestAdmins:
			return core.AdminList(list), nil
		default:
			return "", fmt.Errorf("unknown admin list %q", list)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the admins of a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			which, err := resolve()
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				admins, err := a.store.LoadAdmins(ctx, which)
				if err != nil {
					return err
				}
				for _, email := range admins {
					if _, err := fmt.Fprintln(g.stdout, email); err != nil {
						return err
					}
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add EMAIL",
		Short: "Add an admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			which, err := resolve()
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				email := strings.TrimSpace(args[0])
				if !strings.Contains(email, "@") {
					return fmt.Errorf("invalid email %q", email)
				}
				admins, err := a.store.LoadAdmins(ctx, which)
				if err != nil {
					return err
				}
				for _, existing := range admins {
					if strings.EqualFold(strings.TrimSpace(existing), email) {
						return fmt.Errorf("%s is already an admin", email)
					}
				}
				if err := a.store.SaveAdmins(ctx, which, append(admins, email)); err != nil {
					return err
				}
				_, err = fmt.Fprintf(g.stdout, "added %s\n", email)
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "remove EMAIL",
		Aliases: []string{"rm"},
		Short:   "Remove an admin",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			which, err := resolve()
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				email := strings.TrimSpace(args[0])
				admins, err := a.store.LoadAdmins(ctx, which)
				if err != nil {
					return err
				}
				kept := make([]string, 0, len(admins))
				for _, existing := range admins {
					if !strings.EqualFold(strings.TrimSpace(existing), email) {
						kept = append(kept, existing)
					}
				}
				if len(kept) == len(admins) {
					return fmt.Errorf("%s is not an admin", email)
				}
				if err := a.store.SaveAdmins(ctx, which, kept); err != nil {
					return err
				}
				_, err = fmt.Fprintf(g.stdout, "removed %s\n", email)
				return err
			})
		},
	})
	return cmd
}
