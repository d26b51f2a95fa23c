package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/npratt/tether/internal/api"
	"github.com/npratt/tether/internal/config"
)

// errNoPrompt is returned by `run` when no prompt source yields text.
var errNoPrompt = errors.New("no prompt: pass one as an argument, use --prompt-file, or set execute.prompt")

// startParams builds the start request for `tether run` from flags, the
// optional prompt argument and the execute config section.
func startParams(cfg *config.Config, flags *pflag.FlagSet, args []string) (api.StartParams, error) {
	provider := cfg.Execute.Provider
	if flags.Changed(FlagProvider) {
		provider, _ = flags.GetString(FlagProvider)
	}
	changeID, _ := flags.GetString(FlagChangeID)
	projectPath, _ := flags.GetString(FlagProjectPath)
	if projectPath == "" {
		projectPath = config.FindProjectRoot("")
	}

	var template string
	switch {
	case len(args) > 0:
		template = args[0]
	case flags.Changed(FlagPromptFile):
		path, _ := flags.GetString(FlagPromptFile)
		content, err := os.ReadFile(path)
		if err != nil {
			return api.StartParams{}, fmt.Errorf("load prompt file %q: %w", path, err)
		}
		template = string(content)
	default:
		var err error
		template, err = cfg.LoadPrompt()
		if err != nil {
			return api.StartParams{}, err
		}
	}

	prompt := strings.TrimSpace(config.ExpandPrompt(template, config.PromptVars{
		ChangeID:    changeID,
		ProjectPath: projectPath,
		Provider:    provider,
	}))
	if prompt == "" {
		return api.StartParams{}, errNoPrompt
	}

	return api.StartParams{
		Provider:    provider,
		ChangeID:    changeID,
		ProjectPath: projectPath,
		Prompt:      prompt,
	}, nil
}
