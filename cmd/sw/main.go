package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"swarmline/internal/agent"
	"swarmline/internal/config"
	"swarmline/internal/console"
	"swarmline/internal/discovery"
	"swarmline/internal/journal"
	"swarmline/internal/rpc"
	"swarmline/internal/signer"
	"swarmline/internal/swarm"
)

var rootCmd = &cobra.Command{
	Use:   "sw",
	Short: "Swarmline CLI",
	Long: `Swarmline drives an agent through a holonic swarm's coordination protocol.
It talks line-delimited JSON-RPC to a local connector service, resolves the
agent's tier, then either coordinates (propose/vote/critique/synthesize) or
executes leaf tasks. State of record lives on the connector; swarmline keeps
only a local journal of its own actions under .swarmline/.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := journal.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SWARMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("agent", "", "agent name (overrides config)")
	rootCmd.PersistentFlags().String("endpoint", "", "connector endpoint (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("agent", rootCmd.PersistentFlags().Lookup("agent"))
	_ = viper.BindPFlag("endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(injectCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(consoleCmd())
}

func runCmd() *cobra.Command {
	var consoleAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent until the swarm quiesces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			workspace := viper.GetString("workspace")
			jnl, err := journal.Open(journal.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer jnl.Close()
			jnl.AgentID = cfg.Agent.Name

			logger := log.New(os.Stderr, cfg.Agent.Name+" ", log.LstdFlags)
			a := agent.New(cfg, logger)
			a.Journal = jnl

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if consoleAddr == "" {
				consoleAddr = cfg.Console.Addr
			}
			if consoleAddr != "" {
				handler := console.New(console.Config{
					Agent:   a,
					Journal: jnl,
					Auth:    console.AuthConfig{JWTSecret: cfg.Console.Secret},
				})
				srv := &http.Server{Addr: consoleAddr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				go func() {
					logger.Printf("console on http://%s/v0", consoleAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Printf("console: %v", err)
					}
				}()
			}

			processed := a.Run(ctx)
			return printJSONOrTable(map[string]any{
				"agent":           cfg.Agent.Name,
				"tier":            a.Snapshot().Tier,
				"tasks_processed": processed,
			})
		},
	}
	cmd.Flags().StringVar(&consoleAddr, "console", "", "serve the console API on this address")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the connector's agent status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			caller := newCaller(cfg)
			res := caller.Call(cmd.Context(), cfg.Agent.Endpoint, swarm.MethodGetStatus, map[string]any{})
			var status swarm.StatusResult
			if !res.Decode(&status) {
				return fmt.Errorf("get_status on %s failed: %s", cfg.Agent.Endpoint, res.Message)
			}
			if viper.GetBool("json") {
				return printJSON(status)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Agent", "Tier", "Status", "Epoch", "Active", "Known"})
			tw.AppendRow(table.Row{status.AgentID, status.Tier, status.Status, status.Epoch, status.ActiveTasks, status.KnownAgents})
			tw.Render()
			return nil
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	task.AddCommand(taskPendingCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskFindCmd())
	return task
}

func taskPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending task ids on the local connector",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			caller := newCaller(cfg)
			var pending swarm.PendingResult
			res := caller.Call(cmd.Context(), cfg.Agent.Endpoint, swarm.MethodReceiveTask, map[string]any{})
			if !res.Decode(&pending) {
				return fmt.Errorf("receive_task on %s failed: %s", cfg.Agent.Endpoint, res.Message)
			}
			if viper.GetBool("json") {
				return printJSON(pending)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Task ID"})
			for _, id := range pending.PendingTasks {
				tw.AppendRow(table.Row{id})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			caller := newCaller(cfg)
			var detail swarm.TaskDetail
			res := caller.Call(cmd.Context(), cfg.Agent.Endpoint, swarm.MethodGetTask, swarm.TaskIDParams{TaskID: args[0]})
			if !res.Decode(&detail) {
				return fmt.Errorf("get_task on %s failed: %s", cfg.Agent.Endpoint, res.Message)
			}
			return printJSONOrTable(detail)
		},
	}
	return cmd
}

func taskFindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Scan all peer endpoints for a task assigned to this agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			caller := newCaller(cfg)
			identity := swarm.Identity("did:swarm:" + cfg.Agent.Name)
			var status swarm.StatusResult
			if caller.Call(cmd.Context(), cfg.Agent.Endpoint, swarm.MethodGetStatus, map[string]any{}).Decode(&status) && status.AgentID != "" {
				identity = swarm.Identity(status.AgentID)
			}
			finder := discovery.New(caller, cfg.Agent.Endpoint, cfg.Peers)
			endpoint, taskID, task, ok := finder.FindMine(cmd.Context(), identity)
			if !ok {
				return fmt.Errorf("no task assigned to %s on any of %d endpoint(s)", identity.ShortPrefix(), len(cfg.Peers))
			}
			return printJSONOrTable(map[string]any{
				"endpoint": endpoint,
				"task_id":  taskID,
				"task":     task,
			})
		},
	}
	return cmd
}

func injectCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "inject <description>",
		Short: "Inject a top-level task into the swarm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			caller := newCaller(cfg)
			res := caller.Call(cmd.Context(), cfg.Agent.Endpoint, swarm.MethodInjectTask, swarm.InjectParams{
				Description: args[0],
				TaskID:      taskID,
			})
			if res.Kind != rpc.Success {
				return fmt.Errorf("inject_task on %s failed: %s", cfg.Agent.Endpoint, res.Message)
			}
			var out map[string]any
			res.Decode(&out)
			return printJSONOrTable(out)
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "explicit task id")
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{
		Use:   "log",
		Short: "Local action journal",
	}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, taskID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			jnl, err := journal.Open(journal.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer jnl.Close()
			entries, err := jnl.Tail(cmd.Context(), n, journal.Filters{Type: evtType, TaskID: taskID})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(entries)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "TS", "Type", "Task", "Endpoint"})
			for _, e := range entries {
				tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.TaskID, e.Endpoint})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&evtType, "type", "", "entry type filter")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default swarmline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			name := viper.GetString("agent")
			if name == "" {
				name = "agent"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate swarmline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	return cmd
}

func consoleCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Serve the read-only console over the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			workspace := viper.GetString("workspace")
			jnl, err := journal.Open(journal.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer jnl.Close()
			handler := console.New(console.Config{
				Journal:  jnl,
				BasePath: basePath,
				Auth:     console.AuthConfig{JWTSecret: cfg.Console.Secret},
			})
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Swarmline console on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	name := viper.GetString("agent")
	if name == "" {
		name = "agent"
	}
	cfg, err := config.LoadOptional(workspace, name)
	if err != nil {
		return nil, err
	}
	if flagName := viper.GetString("agent"); flagName != "" {
		cfg.Agent.Name = flagName
	}
	if ep := viper.GetString("endpoint"); ep != "" {
		cfg.Agent.Endpoint = ep
	}
	return cfg, nil
}

func newCaller(cfg *config.Config) *rpc.Client {
	var sig rpc.Signer
	if cfg.Agent.SigningSecret != "" {
		sig = &signer.HS256{Secret: cfg.Agent.SigningSecret, Subject: cfg.Agent.Name}
	}
	return rpc.NewClient(sig)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
