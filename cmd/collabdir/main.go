// Command collabdir serves the collaborator directory and data-request portal
// and runs maintenance tasks against its stored tables.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"collabdir/internal/config"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	root := rootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "collabdir: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	return 0
}

// globals carries the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func (g *globals) load() (config.Config, error) {
	return config.Load(g.configPath)
}

// open loads the configuration and assembles the app for one command.
func (g *globals) open(ctx context.Context) (*app, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, g.stderr)
}

func rootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{stdout: stdout, stderr: stderr}
	cmd := &cobra.Command{
		Use:   "collabdir",
		Short: "Research collaborator directory and data-request portal",
		Long: `collabdir keeps the collaborator directory in CSV tables inside an object
store and serves it over HTTP.

Configuration is read from defaults, the optional --config YAML file and
COLLABDIR_* environment variables, in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to a YAML configuration file")

	cmd.AddCommand(serveCmd(g))
	cmd.AddCommand(auditCmd(g))
	cmd.AddCommand(normalizeCmd(g))
	cmd.AddCommand(exportCmd(g))
	cmd.AddCommand(adminsCmd(g))
	return cmd
}
