package config

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/marmos91/stategc/pkg/config"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open configuration in editor",
	Long: `Open the configuration file in your default editor, then validate it.

Uses the EDITOR environment variable, falling back to VISUAL and then 'vi'.

Examples:
  stategc config edit
  stategc config edit --config /etc/stategc/config.yaml`,
	RunE: runConfigEdit,
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s\n\n"+
			"Create it first with:\n"+
			"  stategc config init --config %s",
			path, path)
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}

	editorCmd := exec.CommandContext(cmd.Context(), editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("failed to run editor: %w", err)
	}

	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("edited configuration is invalid: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
	return nil
}
