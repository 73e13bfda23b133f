package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/medcia/medreminder/internal/config"
)

const (
	exitOK         = 0
	exitFatal      = 1
	exitRunHeld    = 2
	defaultEnvFile = ".env"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFatal
}

// execute runs the CLI and returns the exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return exitCode(err)
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	envFile string
	stdout  io.Writer
	stderr  io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "medreminder",
		Short: "Send due medication reminders by email and SMS",
		Long: `medreminder finds reminders whose scheduled time has passed and that were
not delivered yet, notifies their owner over every configured channel and
marks them delivered. Configuration comes from the environment and an
optional .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", defaultEnvFile,
		"dotenv file loaded before reading the environment (ignored when missing, empty disables)")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newSeedCmd(opts),
	)
	return root
}

// loadConfig applies the dotenv file, then reads the environment. Variables
// already set in the environment win over the file.
func loadConfig(envFile string) (config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return config.Load()
}
