package main

import (
	"claimpilot/internal/checkpoint"
	"claimpilot/internal/config"
	"claimpilot/internal/llm"
	"claimpilot/internal/orchestration"
	"claimpilot/internal/store"
	"claimpilot/internal/tools"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	apiKey     string
	timeout    time.Duration

	// Message flags
	runID     int64
	sessionID string

	// Checkpoint-clear flags
	clearThread string
	clearRunID  int64
	clearAll    bool

	// Logger
	logger *zap.Logger

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "claimpilot",
	Short: "claimpilot - agent copilot for wage-claim evidence runs",
	Long: `claimpilot is an agent copilot for preparing wage-claim evidence runs.

Each invocation executes one bounded agent turn: it assembles a budgeted
context from the claim database, asks the planner for a decision, executes
at most one audited tool call per step, and re-checks blocking conditions
before ever reporting success.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// messageCmd runs one agent turn against a claim run
var messageCmd = &cobra.Command{
	Use:   "message [instruction]",
	Short: "Run one agent turn against a claim run",
	Long: `Sends an instruction through the full turn pipeline:
  1. Assemble the context packet (world snapshot, people anchor, memory, evidence)
  2. Compile it down to the token budget
  3. Plan: either act through a tool or finish with a reply
  4. Re-check blocking conditions before reporting

Example:
  claimpilot message --run 1 "promote the pending timesheet rows"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMessage,
}

// statusCmd prints the current database truth for a run
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the database truth for a claim run",
	RunE:  showStatus,
}

// initCmd initializes the claimpilot databases
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the claimpilot databases in the current workspace",
	Long: `Creates the .claimpilot/ directory with the claim database and the
checkpoint database, applying the schema to both. Safe to run repeatedly.`,
	RunE: runInit,
}

// checkpointsCmd manages saved conversation state
var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage saved conversation state",
}

var checkpointsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete saved conversation state",
	Long: `Deletes checkpoints at one of three scopes:

  --thread <runID:sessionID>  one conversation thread
  --run <runID>               every session of one run
  --all                       everything

Exactly one scope must be given.`,
	RunE: clearCheckpoints,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".claimpilot/config.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "LLM API key (or set CLAIMPILOT_API_KEY env)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	// Message flags
	messageCmd.Flags().Int64Var(&runID, "run", 0, "Claim run id (required)")
	messageCmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: new session)")
	messageCmd.MarkFlagRequired("run")

	statusCmd.Flags().Int64Var(&runID, "run", 0, "Claim run id (required)")
	statusCmd.MarkFlagRequired("run")

	// Checkpoint subcommands
	checkpointsClearCmd.Flags().StringVar(&clearThread, "thread", "", "Thread id (runID:sessionID)")
	checkpointsClearCmd.Flags().Int64Var(&clearRunID, "run", 0, "Run id")
	checkpointsClearCmd.Flags().BoolVar(&clearAll, "all", false, "Clear every checkpoint")
	checkpointsCmd.AddCommand(checkpointsClearCmd)

	// Add commands to root
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(checkpointsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runMessage executes a single agent turn
func runMessage(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	instruction := strings.Join(args, " ")
	session := sessionID
	if session == "" {
		session = uuid.New().String()
	}
	logger.Info("Processing instruction",
		zap.Int64("run_id", runID),
		zap.String("session_id", session))

	business, checkpoints, err := openStores()
	if err != nil {
		return err
	}
	defer business.Close()
	defer checkpoints.Close()

	client := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLMTimeout(),
	})
	registry := tools.NewRegistry()
	tools.RegisterBuiltin(registry, business)

	svc, err := orchestration.NewService(business, checkpoints, client, registry, cfg.Agent.MaxSteps, logger)
	if err != nil {
		return err
	}

	result, err := svc.RunTurn(ctx, runID, session, instruction)
	if err != nil {
		return fmt.Errorf("turn failed: %w", err)
	}

	fmt.Printf("[%s] %s\n", result.Status, result.Message)
	for _, action := range result.NextActions {
		fmt.Printf("  -> %s #%d: %s\n", action.Action, action.ID, action.Title)
	}
	if len(result.Citations) > 0 {
		fmt.Println("Sources:")
		for _, c := range result.Citations {
			fmt.Printf("  - %s p.%d r.%d: %s\n", c.Filename, c.Page, c.Row, c.Snippet)
		}
	}
	fmt.Printf("Session: %s\n", session)
	return nil
}

// showStatus prints the run's entity counts straight from the database
func showStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	business, err := store.Open(cfg.Storage.BusinessDB, logger)
	if err != nil {
		return err
	}
	defer business.Close()

	run, err := business.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("run %d: %w", runID, err)
	}
	files, err := business.CountFiles(ctx, runID)
	if err != nil {
		return err
	}
	people, err := business.CountPeople(ctx, runID)
	if err != nil {
		return err
	}
	staging, err := business.CountStaging(ctx, runID)
	if err != nil {
		return err
	}
	ledger, err := business.CountLedgerRows(ctx, runID)
	if err != nil {
		return err
	}
	contradictions, err := business.CountOpenContradictions(ctx, runID)
	if err != nil {
		return err
	}
	tasks, err := business.CountOpenTasks(ctx, runID)
	if err != nil {
		return err
	}
	locks, err := business.CountActiveLocks(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %d (%s) status=%s\n", run.ID, run.Name, run.Status)
	fmt.Printf("  files:    %d (%d processed)\n", files.Total, files.Processed)
	fmt.Printf("  people:   %d (%d pending rates)\n", people.Total, people.PendingRates)
	fmt.Printf("  staging:  %d (%d pending, %d promoted)\n", staging.Total, staging.Pending, staging.Promoted)
	fmt.Printf("  ledger:   %d rows\n", ledger)
	fmt.Printf("  open:     %d contradictions, %d tasks, %d locks\n", contradictions, tasks, locks)
	return nil
}

// runInit creates both databases with their schemas
func runInit(cmd *cobra.Command, args []string) error {
	business, checkpoints, err := openStores()
	if err != nil {
		return err
	}
	defer business.Close()
	defer checkpoints.Close()

	fmt.Printf("Initialized claim database at %s\n", cfg.Storage.BusinessDB)
	fmt.Printf("Initialized checkpoint database at %s\n", cfg.Storage.CheckpointDB)
	return nil
}

// clearCheckpoints deletes saved state at the requested scope
func clearCheckpoints(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	scopes := 0
	if clearThread != "" {
		scopes++
	}
	if clearRunID != 0 {
		scopes++
	}
	if clearAll {
		scopes++
	}
	if scopes != 1 {
		return fmt.Errorf("exactly one of --thread, --run, or --all is required")
	}

	checkpoints, err := checkpoint.Open(cfg.Storage.CheckpointDB, logger)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	var deleted int64
	switch {
	case clearThread != "":
		deleted, err = checkpoints.ClearThread(ctx, clearThread)
	case clearRunID != 0:
		deleted, err = checkpoints.ClearRun(ctx, clearRunID)
	default:
		deleted, err = checkpoints.ClearAll(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d checkpoint(s)\n", deleted)
	return nil
}

// openStores opens both databases with the configured paths
func openStores() (*store.Local, *checkpoint.Store, error) {
	business, err := store.Open(cfg.Storage.BusinessDB, logger)
	if err != nil {
		return nil, nil, err
	}
	checkpoints, err := checkpoint.Open(cfg.Storage.CheckpointDB, logger)
	if err != nil {
		business.Close()
		return nil, nil, err
	}
	return business, checkpoints, nil
}
