package config

import (
	"fmt"
	"os"
	"strings"
)

// PromptVars are the values substituted into a run prompt.
type PromptVars struct {
	ChangeID    string
	ProjectPath string
	Provider    string
}

// LoadPrompt returns the configured prompt template. execute.prompt_file wins
// over execute.prompt; an empty result means the run starts without a prompt.
func (c *Config) LoadPrompt() (string, error) {
	if c.Execute.PromptFile != "" {
		content, err := os.ReadFile(c.Execute.PromptFile)
		if err != nil {
			return "", fmt.Errorf("load prompt file %q: %w", c.Execute.PromptFile, err)
		}
		return string(content), nil
	}
	return c.Execute.Prompt, nil
}

// ExpandPrompt fills {{.ChangeID}}, {{.ProjectPath}} and {{.Provider}} in a
// prompt template. Substitution is a single pass, so a value that itself
// contains a placeholder is left as written.
func ExpandPrompt(template string, vars PromptVars) string {
	return strings.NewReplacer(
		"{{.ChangeID}}", vars.ChangeID,
		"{{.ProjectPath}}", vars.ProjectPath,
		"{{.Provider}}", vars.Provider,
	).Replace(template)
}
