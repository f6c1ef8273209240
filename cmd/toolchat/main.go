package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"toolchat/internal/cli"
	"toolchat/internal/toolconfig"
)

// buildMeta holds version and build metadata (injectable via ldflags).
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("toolchat %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:           "toolchat",
		Short:         "Chat that answers with interactive tools",
		Long:          "toolchat turns chat requests into text, embedded pages, or small interactive tools defined by JSON configurations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return cmd.Help()
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")
	root.PersistentFlags().StringP("config", "c", "", "config file (default $TOOLCHAT_CONFIG or toolchat.json)")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, _ := cmd.Flags().GetString("session")
			return runChat(cmd, configFlag(cmd), sessionID, bm.Version)
		},
	}
	chatCmd.Flags().StringP("session", "s", "cli", "session id; history is kept per session")
	root.AddCommand(chatCmd)

	runCmd := &cobra.Command{
		Use:   "run <template|file>",
		Short: "Render a template or configuration file, optionally running one action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, _ := cmd.Flags().GetStringArray("set")
			action, _ := cmd.Flags().GetString("action")
			asJSON, _ := cmd.Flags().GetBool("json")
			return runTool(cmd, configFlag(cmd), runOptions{
				Source: args[0],
				Sets:   sets,
				Action: action,
				JSON:   asJSON,
			})
		},
	}
	runCmd.Flags().StringArray("set", nil, "set an input before running, as id=value (repeatable)")
	runCmd.Flags().StringP("action", "a", "", "action id to run")
	runCmd.Flags().Bool("json", false, "print the view as JSON")
	root.AddCommand(runCmd)

	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "List built-in and user templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplates(cmd, configFlag(cmd))
		},
	}
	root.AddCommand(templatesCmd)

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of tool configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), toolconfig.JSONSchema())
			return nil
		},
	}
	root.AddCommand(schemaCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configFlag(cmd), bm.Version, serveShutdownCh)
		},
	}
	root.AddCommand(serveCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, provider keys, templates, and storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			code := cli.RunCheck(cli.CheckOptions{Path: configFlag(cmd), Fix: fix}, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	checkCmd.Flags().Bool("fix", false, "write default config if missing")
	root.AddCommand(checkCmd)

	configCmd := &cobra.Command{Use: "config", Short: "Get or change config values by dotted key"}
	configCmd.AddCommand(
		configAction("get", "Print a config value", cobra.ExactArgs(1)),
		configAction("set", "Set and validate a config value", cobra.ExactArgs(2)),
		configAction("unset", "Restore a config value to its default", cobra.ExactArgs(1)),
	)
	root.AddCommand(configCmd)

	return root
}

func configAction(action, short string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <key>",
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.ConfigOptions{Path: configFlag(cmd), Action: action, Key: args[0]}
			if len(args) > 1 {
				opts.Value = args[1]
			}
			if code := cli.RunConfig(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
}

func configFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func getVersion() string {
	if version != "" {
		return version
	}
	b, err := os.ReadFile("VERSION")
	if err != nil {
		return "dev"
	}
	return strings.TrimSpace(string(b))
}

// version is set at build time via ldflags for build metadata, e.g.:
//
//	go build -ldflags "-X main.version=1.0.0" -o toolchat ./cmd/toolchat
var version string

// stderr is where runApp reports errors. Tests replace it.
var stderr io.Writer = os.Stderr

// exitCodeErr carries an exit code for the process. When returned from a command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// runApp runs the root command with the given args and returns the exit code.
func runApp(args []string) int {
	bm := newBuildMeta(version, "", "")
	if bm.Version == "" {
		bm.Version = getVersion()
	}
	root := newRootCommand(bm)
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		var ec interface{ ExitCode() int }
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}
