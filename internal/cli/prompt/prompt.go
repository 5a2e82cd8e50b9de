// Package prompt provides interactive terminal confirmation for
// destructive commands.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err means the user aborted.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, ErrAborted)
}

// Confirm asks a yes/no question. A plain "n" or empty answer declines
// unless defaultYes is set. Ctrl+C returns ErrAborted.
func Confirm(label string, defaultYes bool) (bool, error) {
	return confirm(promptui.Prompt{}, label, defaultYes)
}

func confirm(p promptui.Prompt, label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	p.Label = fmt.Sprintf("%s [%s]", label, hint)
	p.IsConfirm = true

	result, err := p.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort) && result == "":
		return defaultYes, nil
	case errors.Is(err, promptui.ErrAbort):
		// promptui reports a plain "n" as ErrAbort
		return false, nil
	case err != nil:
		return false, err
	}

	answer := strings.ToLower(result)
	return answer == "y" || answer == "yes", nil
}

// ConfirmDanger requires the user to type word to proceed.
func ConfirmDanger(label, word string) (bool, error) {
	p := promptui.Prompt{
		Label: fmt.Sprintf("%s (type '%s' to confirm)", label, word),
		Validate: func(input string) error {
			if input != word {
				return fmt.Errorf("type '%s' to confirm", word)
			}
			return nil
		},
	}

	result, err := p.Run()
	if err != nil {
		if IsAborted(err) {
			return false, ErrAborted
		}
		return false, err
	}
	return result == word, nil
}

// ConfirmWithForce returns true when force is set, otherwise asks.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label, false)
}

// Confirmer asks on the terminal before the first destructive collection.
// It satisfies gc.Confirmer. Stdin and Stdout default to the process
// streams when nil.
type Confirmer struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

// Confirm shows summary and waits for an answer. A cancelled ctx declines
// without prompting.
func (c Confirmer) Confirm(ctx context.Context, summary string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return confirm(promptui.Prompt{Stdin: c.Stdin, Stdout: c.Stdout}, summary, false)
}
