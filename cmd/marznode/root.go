package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/marznodectl/internal/config"
	"github.com/danmuck/marznodectl/internal/logging"
	"github.com/danmuck/marznodectl/internal/node"
	"github.com/danmuck/marznodectl/internal/observability"
	"github.com/danmuck/marznodectl/internal/prompt"
	"github.com/danmuck/marznodectl/internal/state"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var ErrPrivilege = errors.New("marznode: this command must be run as root")

const annotationPrivileged = "privileged"

type cli struct {
	env            env
	configPath     string
	nonInteractive bool
	cfg            config.Config
	metrics        *observability.Metrics
}

func run(ctx context.Context, args []string, e env) int {
	logging.ConfigureRuntime()
	c := &cli{env: e, metrics: observability.NewMetrics()}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(e.stderr, "marznode: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "marznode",
		Short:         "Install and operate a MarzNode service on this host",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.prepare(cmd)
		},
		// Unknown verbs fall through to help.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "tool config file (default $"+config.EnvConfigPath+" or "+config.DefaultConfigPath+")")
	root.PersistentFlags().BoolVar(&c.nonInteractive, "non-interactive", false, "answer prompts from the config [answers] table")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		c.lifecycleCommand("install", "Install Xray-core and the MarzNode service", func(ctx context.Context, n lifecycle) error {
			return n.Install(ctx)
		}),
		c.lifecycleCommand("uninstall", "Stop the service and remove the installation", func(ctx context.Context, n lifecycle) error {
			return n.Uninstall(ctx)
		}),
		c.lifecycleCommand("update", "Pull the latest image and optionally replace Xray-core", func(ctx context.Context, n lifecycle) error {
			return n.Update(ctx)
		}),
		c.statusCommand("start", "Start the service", lifecycle.Start),
		c.statusCommand("stop", "Stop the service", lifecycle.Stop),
		c.statusCommand("restart", "Restart the service", lifecycle.Restart),
		c.statusCommand("status", "Show installation and service status", lifecycle.Status),
		c.logsCommand(),
		c.versionCommand(),
		c.scriptCommand("install-script", "Install this tool as "+config.Default().BinPath, func(_ context.Context, s scripts) error {
			return s.InstallScript()
		}),
		c.scriptCommand("uninstall-script", "Remove the installed tool", func(_ context.Context, s scripts) error {
			return s.UninstallScript()
		}),
		c.scriptCommand("update-script", "Replace the installed tool with the latest release", func(ctx context.Context, s scripts) error {
			return s.UpdateScript(ctx)
		}),
		c.configCommand(),
	)
	return root
}

// prepare loads config and enforces the root requirement before a verb runs.
func (c *cli) prepare(cmd *cobra.Command) error {
	if cmd == cmd.Root() || cmd.Name() == "help" {
		return nil
	}
	if cmd.Annotations[annotationPrivileged] == "true" && c.env.geteuid() != 0 {
		return ErrPrivilege
	}
	cfg, err := config.Load(config.ResolvePath(c.configPath))
	if err != nil {
		return err
	}
	if c.nonInteractive {
		cfg.NonInteractive = true
	}
	c.cfg = cfg
	return nil
}

func privileged() map[string]string {
	return map[string]string{annotationPrivileged: "true"}
}

// observe records the verb outcome and exports metrics when configured.
func (c *cli) observe(op string, start time.Time, err error) {
	c.metrics.Observe(op, time.Since(start), err)
	c.metrics.SetInstalled(state.NewStore(c.cfg.StatePath(), c.cfg.ComposePath()).Installed())
	if exportErr := c.metrics.WriteTextfile(c.cfg.MetricsTextfile); exportErr != nil {
		log.Warn().Err(exportErr).Str("path", c.cfg.MetricsTextfile).Msg("metrics export failed")
	}
	event := log.Debug()
	if err != nil {
		event = log.Error().Err(err)
	}
	event.Str("op", op).Dur("elapsed", time.Since(start)).Msg("marznode verb finished")
}

func (c *cli) node(out io.Writer) lifecycle {
	cfg := c.cfg
	return c.env.node(cfg, func() (prompt.Provider, error) { return promptFor(cfg, out) }, out)
}

func (c *cli) lifecycleCommand(name string, short string, fn func(context.Context, lifecycle) error) *cobra.Command {
	return &cobra.Command{
		Use:         name,
		Short:       short,
		Args:        cobra.NoArgs,
		Annotations: privileged(),
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			defer func(start time.Time) { c.observe(name, start, err) }(time.Now())
			return fn(cmd.Context(), c.node(cmd.OutOrStdout()))
		},
	}
}

func (c *cli) statusCommand(name string, short string, fn func(lifecycle, context.Context) (node.Status, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			defer func(start time.Time) { c.observe(name, start, err) }(time.Now())
			status, err := fn(c.node(cmd.OutOrStdout()), cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", c.cfg.AppName, status)
			return nil
		},
	}
	if name != "status" {
		cmd.Annotations = privileged()
	}
	return cmd
}

func (c *cli) logsCommand() *cobra.Command {
	var noFollow bool
	cmd := &cobra.Command{
		Use:     "logs",
		Aliases: []string{"log"},
		Short:   "Show service logs (follows by default)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			defer func(start time.Time) { c.observe("logs", start, err) }(time.Now())
			return c.node(cmd.OutOrStdout()).Logs(cmd.Context(), !noFollow)
		},
	}
	cmd.Flags().BoolVarP(&noFollow, "no-follow", "n", false, "print recent logs and exit")
	return cmd
}

func (c *cli) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show tool, Xray-core and image versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			defer func(start time.Time) { c.observe("version", start, err) }(time.Now())
			info, err := c.node(cmd.OutOrStdout()).Version(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "marznode tool: %s\n", info.Tool)
			xray := info.Xray
			if xray == "" {
				xray = "not installed"
			}
			fmt.Fprintf(out, "Xray-core:     %s\n", xray)
			fmt.Fprintf(out, "image:         %s\n", info.Image)
			return nil
		},
	}
}

func (c *cli) scriptCommand(name string, short string, fn func(context.Context, scripts) error) *cobra.Command {
	return &cobra.Command{
		Use:         name,
		Short:       short,
		Args:        cobra.NoArgs,
		Annotations: privileged(),
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			defer func(start time.Time) { c.observe(name, start, err) }(time.Now())
			return fn(cmd.Context(), c.env.scripts(c.cfg))
		},
	}
}

func (c *cli) configCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Tool configuration helpers",
	}
	initCmd := &cobra.Command{
		Use:         "init [path]",
		Short:       "Write an annotated config template",
		Args:        cobra.MaximumNArgs(1),
		Annotations: privileged(),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolvePath(c.configPath)
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
