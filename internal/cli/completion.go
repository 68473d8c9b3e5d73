package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

var completionInstall bool

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Set up shell completions for qsync",
	Long: `Set up shell tab-completions for qsync commands, flags, task IDs and
statuses.

Supported shells: bash, zsh, fish, powershell

Quick install (writes the script to the shell's user completion directory):

  qsync completion bash --install
  qsync completion zsh --install
  qsync completion fish --install

Or print the completion script to stdout:

  qsync completion bash
  qsync completion powershell`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MaximumNArgs(1),
	RunE:      runCompletion,
}

func init() {
	completionCmd.Flags().BoolVar(&completionInstall, "install", false,
		"Install completions into your shell's completion directory")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(completionCmd)
}

func runCompletion(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	shell := args[0]

	if completionInstall {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("detecting home directory: %w", err)
		}
		return installCompletion(cmd.OutOrStdout(), home, shell)
	}

	// Hints go to stderr so eval "$(qsync completion bash)" stays clean.
	out := cmd.OutOrStdout()
	switch shell {
	case "bash":
		printHints(cmd, `#   eval "$(qsync completion bash)"`, "#   qsync completion bash --install")
		return rootCmd.GenBashCompletionV2(out, true)
	case "zsh":
		printHints(cmd, `#   eval "$(qsync completion zsh)"`, "#   qsync completion zsh --install")
		return rootCmd.GenZshCompletion(out)
	case "fish":
		printHints(cmd, "#   qsync completion fish | source", "#   qsync completion fish --install")
		return rootCmd.GenFishCompletion(out, true)
	case "powershell":
		printHints(cmd, "#   qsync completion powershell | Out-String | Invoke-Expression", "#   (add the line above to your profile)")
		return rootCmd.GenPowerShellCompletionWithDesc(out)
	default:
		return fmt.Errorf("unsupported shell %q (supported: bash, zsh, fish, powershell)", shell)
	}
}

func printHints(cmd *cobra.Command, load, install string) {
	w := cmd.ErrOrStderr()
	for _, line := range []string{
		"# To load completions in your current session:", load,
		"#", "# To install permanently:", install, "#",
	} {
		_, _ = fmt.Fprintln(w, line)
	}
}

// completionTarget returns the user-local completion file for shell.
func completionTarget(home, shell string) (string, error) {
	switch shell {
	case "bash":
		return filepath.Join(home, ".local", "share", "bash-completion", "completions", "qsync"), nil
	case "zsh":
		return filepath.Join(home, ".local", "share", "zsh", "site-functions", "_qsync"), nil
	case "fish":
		return filepath.Join(home, ".config", "fish", "completions", "qsync.fish"), nil
	case "powershell":
		return "", fmt.Errorf("automatic install is not supported for PowerShell; run 'qsync completion powershell' and add the output to your profile")
	default:
		return "", fmt.Errorf("unsupported shell %q", shell)
	}
}

func installCompletion(out io.Writer, home, shell string) error {
	target, err := completionTarget(home, shell)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("creating completion directory: %w", err)
	}

	err = writeCompletionFile(target, func(f *os.File) error {
		switch shell {
		case "bash":
			return rootCmd.GenBashCompletionV2(f, true)
		case "zsh":
			return rootCmd.GenZshCompletion(f)
		default:
			return rootCmd.GenFishCompletion(f, true)
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s completions installed to %s\n", shell, target)
	if shell == "zsh" {
		fmt.Fprintf(out, "Ensure %s is in your fpath, then run: autoload -Uz compinit && compinit\n", filepath.Dir(target))
	} else {
		fmt.Fprintln(out, "Restart your shell to pick them up.")
	}
	return nil
}

// writeCompletionFile creates target and writes the completion script into
// it, propagating close errors.
func writeCompletionFile(target string, genFn func(*os.File) error) error {
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating completion file %s: %w", target, err)
	}

	writeErr := genFn(f)
	closeErr := f.Close()

	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing completion file %s: %w", target, closeErr)
	}
	return nil
}
