package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/npratt/tether/internal/api"
	"github.com/npratt/tether/internal/config"
	"github.com/npratt/tether/internal/events"
	"github.com/npratt/tether/internal/tui"
)

var version = "dev"

// cli holds process-wide logging state shared by every command.
type cli struct {
	logLevel *slog.LevelVar
	logger   *slog.Logger
}

// loadConfig loads configuration and applies explicitly set global flags.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if viper.GetBool(FlagVerbose) {
		c.logLevel.Set(slog.LevelDebug)
		c.logger.Debug("verbose logging enabled")
	}

	cfg, err := config.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed(FlagBaseURL) {
		cfg.Server.BaseURL = viper.GetString(FlagBaseURL)
	}
	if flags.Changed(FlagLogFile) {
		cfg.Paths.Log = viper.GetString(FlagLogFile)
	}
	if flags.Changed(FlagStateFile) {
		cfg.Paths.State = viper.GetString(FlagStateFile)
	}

	cfg.Paths, err = config.ResolvePaths(cfg.Paths, config.FindProjectRoot(""))
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	return cfg, nil
}

// startFollow prepares a follow command. When the dashboard takes the
// terminal the logger is redirected to a rotating file.
func (c *cli) startFollow(cmd *cobra.Command) (*runtime, bool, func(), error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, false, nil, err
	}

	interactive := !viper.GetBool(FlagNoTUI) && tui.Interactive()
	logger := c.logger
	closeLog := func() {}
	if interactive {
		if err := os.MkdirAll(filepath.Dir(cfg.Paths.Log), 0755); err != nil {
			return nil, false, nil, fmt.Errorf("create log directory: %w", err)
		}
		res := SetupFileLogger(filepath.Dir(cfg.Paths.Log), c.logLevel, cfg.LogRotation)
		logger = res.Logger
		slog.SetDefault(logger)
		closeLog = func() { _ = res.Close() }
	}

	logger.Info("tether starting",
		"version", version,
		"base_url", cfg.Server.BaseURL,
		"log_file", cfg.Paths.Log,
		"state_file", cfg.Paths.State,
		"interactive", interactive,
	)

	rt, err := newRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		closeLog()
		return nil, false, nil, err
	}
	return rt, interactive, func() {
		rt.Close()
		closeLog()
	}, nil
}

// newClient returns an API client for one-shot commands.
func (c *cli) newClient(cmd *cobra.Command) (*api.HTTPClient, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return api.NewHTTPClient(cfg.Server.BaseURL, cfg.Server.RequestTimeout, c.logger), nil
}

func bindFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	logLevel := &slog.LevelVar{}
	c := &cli{
		logLevel: logLevel,
		logger:   SetupLoggerWithWriter(os.Stderr, logLevel),
	}

	viper.SetEnvPrefix("TETHER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "tether",
		Short: "Follow remote agent executions over a resilient event stream",
		Long: `tether starts and follows agent executions on a remote execution service.

It streams server events, reconnects with exponential backoff when the
connection drops, pauses while the network is offline, and shows progress
in a terminal dashboard (or plain lines when stdout is not a terminal).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool(FlagVerbose, false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().String(FlagConfig, "", "Config file path (default: .tether/config.yaml)")
	rootCmd.PersistentFlags().String(FlagBaseURL, "", "Execution service base URL")
	rootCmd.PersistentFlags().String(FlagLogFile, "", "Event log file path")
	rootCmd.PersistentFlags().String(FlagStateFile, "", "State file path")
	rootCmd.PersistentFlags().Bool(FlagNoTUI, false, "Print plain lines instead of the dashboard")
	bindFlags(rootCmd.PersistentFlags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tether %s\n", version)
		},
	}

	runCmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Start a session and follow it",
		Long: `Start an execution session and follow its event stream.

The prompt comes from the argument, --prompt-file, or the execute section of
the config, in that order. {{.ChangeID}}, {{.ProjectPath}} and {{.Provider}}
are expanded. Quitting the dashboard leaves the session running; use
'tether stop' to end it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, interactive, cleanup, err := c.startFollow(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			params, err := startParams(rt.cfg, cmd.Flags(), args)
			if err != nil {
				return err
			}

			eventChan := rt.router.SubscribeBuffered(dashboardBuffer)
			defer rt.router.Unsubscribe(eventChan)

			ctrl := rt.newSessionController()
			defer ctrl.Close()

			ctx := cmd.Context()
			id, err := ctrl.Start(ctx, params)
			if err != nil {
				return fmt.Errorf("start session: %w", err)
			}

			err = follow(ctx, rt, interactive, eventChan, tui.SessionSource(ctrl), sessionOptions(ctx, ctrl)...)
			if !ctrl.Snapshot().Status.Terminal() {
				detachHint(id, false)
			}
			return err
		},
	}
	runCmd.Flags().String(FlagProvider, "", "Agent provider (default from config)")
	runCmd.Flags().String(FlagChangeID, "", "Change identifier passed to the service")
	runCmd.Flags().String(FlagProjectPath, "", "Project path passed to the service (default: project root)")
	runCmd.Flags().String(FlagPromptFile, "", "Read the prompt template from a file")

	attachCmd := &cobra.Command{
		Use:   "attach [id]",
		Short: "Follow an existing session or swarm execution",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, interactive, cleanup, err := c.startFollow(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			swarmRun, _ := cmd.Flags().GetBool(FlagSwarm)
			last, _ := cmd.Flags().GetBool(FlagLast)
			id, err := attachTarget(args, last, swarmRun, rt.cfg.Paths.State)
			if err != nil {
				return err
			}

			eventChan := rt.router.SubscribeFiltered(dashboardBuffer, events.ForStream(id))
			defer rt.router.Unsubscribe(eventChan)
			ctx := cmd.Context()

			if swarmRun {
				ctrl := rt.newSwarmController()
				defer ctrl.Close()
				if err := ctrl.Attach(id); err != nil {
					return err
				}
				return follow(ctx, rt, interactive, eventChan, tui.SwarmSource(ctrl), swarmOptions(ctx, ctrl)...)
			}

			ctrl := rt.newSessionController()
			defer ctrl.Close()
			if err := ctrl.Load(ctx, id); err != nil {
				return fmt.Errorf("load session %s: %w", id, err)
			}
			if ctrl.Snapshot().Status.Terminal() && !interactive {
				s := ctrl.Snapshot()
				fmt.Printf("session %s is %s\n", s.ID, s.Status)
				return nil
			}
			return follow(ctx, rt, interactive, eventChan, tui.SessionSource(ctrl), sessionOptions(ctx, ctrl)...)
		},
	}
	attachCmd.Flags().Bool(FlagLast, false, "Attach to the most recently followed execution")
	attachCmd.Flags().Bool(FlagSwarm, false, "The id is a swarm execution")

	inputCmd := &cobra.Command{
		Use:   "input <session-id> <text>",
		Short: "Send input to a running session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			if err := client.SendInput(cmd.Context(), args[0], text); err != nil {
				return err
			}
			fmt.Println("Input sent")
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a session or swarm execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			if swarmRun, _ := cmd.Flags().GetBool(FlagSwarm); swarmRun {
				err = client.StopSwarm(cmd.Context(), args[0])
			} else {
				err = client.Stop(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Printf("Stop requested for %s\n", args[0])
			return nil
		},
	}
	stopCmd.Flags().Bool(FlagSwarm, false, "The id is a swarm execution")

	resumeCmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a stopped session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			if err := client.Resume(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Resume requested; follow with: tether attach %s\n", args[0])
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			snap, err := client.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool(FlagJSON); asJSON {
				return printJSON(snap)
			}

			fmt.Printf("Session: %s\n", snap.SessionID)
			fmt.Printf("Status: %s\n", snap.Status)
			if snap.Progress.Total > 0 {
				fmt.Printf("Progress: %d/%d tasks\n", snap.Progress.Completed, snap.Progress.Total)
			}
			if snap.Error != "" {
				fmt.Printf("Error: %s\n", snap.Error)
			}
			fmt.Printf("Messages: %d\n", len(snap.ConversationHistory))
			return nil
		},
	}
	statusCmd.Flags().Bool(FlagJSON, false, "Output as JSON")

	logsCmd := &cobra.Command{
		Use:   "logs <session-id>",
		Short: "Print server-side logs for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			entries, err := client.GetLogs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool(FlagJSON); asJSON {
				return printJSON(entries)
			}
			for _, e := range entries {
				fmt.Printf("%s %-5s %s\n", e.Timestamp.Local().Format("15:04:05"), strings.ToUpper(e.Level), e.Message)
			}
			return nil
		},
	}
	logsCmd.Flags().Bool(FlagJSON, false, "Output as JSON")

	swarmCmd := &cobra.Command{
		Use:   "swarm",
		Short: "Run multi-agent swarm executions",
	}

	swarmRunCmd := &cobra.Command{
		Use:   "run",
		Short: "Start a swarm and follow it",
		Example: `  tether swarm run --task "review the change" \
    --agent architect:planner --agent coder:worker:sonnet \
    --consensus-model sonnet --consensus-model opus`,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, _ := cmd.Flags().GetString(FlagTask)
			if task == "" {
				return fmt.Errorf("--%s is required", FlagTask)
			}
			agentFlags, _ := cmd.Flags().GetStringArray(FlagAgent)
			agents, err := parseAgentSpecs(agentFlags)
			if err != nil {
				return err
			}

			rt, interactive, cleanup, err := c.startFollow(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			eventChan := rt.router.SubscribeBuffered(dashboardBuffer)
			defer rt.router.Unsubscribe(eventChan)

			ctrl := rt.newSwarmController()
			defer ctrl.Close()

			ctx := cmd.Context()
			models, _ := cmd.Flags().GetStringArray(FlagConsensusModel)
			id, err := ctrl.Start(ctx, api.SwarmParams{
				Task:            task,
				Agents:          agents,
				ConsensusModels: models,
			})
			if err != nil {
				return fmt.Errorf("start swarm: %w", err)
			}

			err = follow(ctx, rt, interactive, eventChan, tui.SwarmSource(ctrl), swarmOptions(ctx, ctrl)...)
			if ctrl.Snapshot().Running {
				detachHint(id, true)
			}
			return err
		},
	}
	swarmRunCmd.Flags().String(FlagTask, "", "Task for the swarm")
	swarmRunCmd.Flags().StringArray(FlagAgent, nil, "Agent as name:type[:model] (repeatable)")
	swarmRunCmd.Flags().StringArray(FlagConsensusModel, nil, "Model that votes on the result (repeatable)")
	swarmCmd.AddCommand(swarmRunCmd)

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "View recently logged events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			if followLog, _ := cmd.Flags().GetBool(FlagFollow); followLog {
				ctx, cancel := signalContext(cmd.Context())
				defer cancel()
				fmt.Println("Following events (Ctrl+C to stop)...")
				return tailFollow(ctx, os.Stdout, cfg.Paths.Log)
			}
			count, _ := cmd.Flags().GetInt(FlagCount)
			return tailLast(os.Stdout, cfg.Paths.Log, count)
		},
	}
	eventsCmd.Flags().Bool(FlagFollow, false, "Follow the event log (like tail -f)")
	eventsCmd.Flags().Int(FlagCount, 20, "Number of recent events to show")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			return config.WriteYAML(os.Stdout, cfg)
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(inputCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(swarmCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		c.logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
