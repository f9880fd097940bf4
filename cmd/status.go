package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dusterbloom/nanobot/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show nanobot status",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := config.ConfigPath()

	fmt.Printf("%s nanobot Status\n\n", logo)

	_, statErr := os.Stat(cfgPath)
	cfgMark := "✗"
	if statErr == nil {
		cfgMark = "✓"
	}
	fmt.Printf("Config:    %s %s\n", cfgPath, cfgMark)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	ws := cfg.WorkspacePath()
	_, wsErr := os.Stat(ws)
	wsMark := "✗"
	if wsErr == nil {
		wsMark = "✓"
	}

	fmt.Printf("Workspace: %s %s\n", ws, wsMark)
	fmt.Printf("Model:     %s\n\n", cfg.Agents.Defaults.Model)

	fmt.Println("Providers:")
	for _, p := range []struct {
		name string
		cfg  config.ProviderConfig
	}{
		{"OpenRouter", cfg.Providers.OpenRouter},
		{"DeepSeek", cfg.Providers.DeepSeek},
		{"Groq", cfg.Providers.Groq},
		{"OpenAI", cfg.Providers.OpenAI},
		{"Custom", cfg.Providers.Custom},
	} {
		switch {
		case p.cfg.APIKey != "":
			fmt.Printf("  %-12s ✓ configured\n", p.name)
		case p.cfg.APIBase != "":
			fmt.Printf("  %-12s ✓ %s\n", p.name, p.cfg.APIBase)
		default:
			fmt.Printf("  %-12s (not set)\n", p.name)
		}
	}
	return nil
}
