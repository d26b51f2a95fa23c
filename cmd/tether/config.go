package main

// Flag names. Persistent flags are bound to viper; the rest are read from the command.
const (
	// Global flags
	FlagVerbose   = "verbose"
	FlagConfig    = "config"
	FlagBaseURL   = "base-url"
	FlagLogFile   = "log-file"
	FlagStateFile = "state-file"
	FlagNoTUI     = "no-tui"

	// Run command flags
	FlagProvider    = "provider"
	FlagChangeID    = "change-id"
	FlagProjectPath = "project"
	FlagPromptFile  = "prompt-file"

	// Attach command flags
	FlagLast  = "last"
	FlagSwarm = "swarm"

	// Swarm run flags
	FlagTask           = "task"
	FlagAgent          = "agent"
	FlagConsensusModel = "consensus-model"

	// Events command flags
	FlagFollow = "follow"
	FlagCount  = "count"

	// Output format flags
	FlagJSON = "json"
)
