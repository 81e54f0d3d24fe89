// Command vdb is the process entrypoint: a thin cobra root wrapping the
// serve subcommand, grounded on the teacher's cmd/nornicdb/main.go command
// tree, stripped of the embedded web UI and the Cypher-shell/import/decay
// subcommands since a CLI and dashboard are out-of-scope collaborators
// here — the core's only job is to run the server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

const (
	exitOK             = 0
	exitFailure        = 1
	exitInvalidConfig  = 2
	exitRecoveryFailed = 3
	exitPortInUse      = 10
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := &cobra.Command{
		Use:   "vdb",
		Short: "vdb - a sharded, HNSW-backed vector database",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vdb v%s\n", version)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the vdb server",
	}
	serveCmd.Flags().String("config", "", "Path to a YAML configuration file")
	serveCmd.RunE = func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		return runServe(path)
	}
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		if code, ok := err.(exitCoder); ok {
			return code.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	return exitOK
}

// exitCoder lets runServe attach a specific exit code (per §6's table)
// to an error without cobra's generic "RunE returned error" handling
// collapsing every failure to 1.
type exitCoder interface {
	error
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) ExitCode() int { return e.code }
func (e *exitError) Unwrap() error { return e.err }
