package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "🎨 Atelier - AI-assisted development studio server",
	Long: `# 🎨 Atelier

**The backend for an AI-assisted development studio.**

## ✨ Features

- 🚀 **Per-worktree dev servers** with automatic port allocation
- ♻️  **Stale port reclaim** so crashed sessions never block restarts
- 📜 **Bounded scrollback** with throttled live streaming
- 🌐 **HTTP API + SSE events** for the studio UI
- 🔌 **WebSocket log attach** with history replay

## 🚀 Getting Started

Run **atelier serve** to start the studio server.

Use **atelier serve --help** for configuration options.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderMarkdownHelp(cmd)
	})
}

// renderMarkdownHelp renders command help through glamour so the long
// descriptions above show up as formatted markdown in the terminal.
func renderMarkdownHelp(cmd *cobra.Command) {
	var help strings.Builder

	if cmd.Long != "" {
		help.WriteString(cmd.Long)
		help.WriteString("\n\n")
	} else if cmd.Short != "" {
		help.WriteString("# " + cmd.Short + "\n\n")
	}

	help.WriteString("## 📖 Usage\n\n```bash\n")
	help.WriteString(cmd.UseLine())
	help.WriteString("\n```\n\n")

	if cmd.HasAvailableSubCommands() {
		help.WriteString("## 🔧 Available Commands\n\n")
		for _, subCmd := range cmd.Commands() {
			if subCmd.IsAvailableCommand() {
				help.WriteString(fmt.Sprintf("- **%s** - %s\n", subCmd.Name(), subCmd.Short))
			}
		}
		help.WriteString("\n")
	}

	if cmd.HasAvailableFlags() {
		if usages := cmd.Flags().FlagUsages(); usages != "" {
			help.WriteString("## ⚙️  Flags\n\n```\n")
			help.WriteString(usages)
			help.WriteString("```\n\n")
		}
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Print(help.String())
		return
	}

	rendered, err := renderer.Render(help.String())
	if err != nil {
		fmt.Print(help.String())
		return
	}

	fmt.Print(rendered)
}
