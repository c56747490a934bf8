package prompt

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"

	"github.com/piprov/piprov/pkg/errors"
	"github.com/piprov/piprov/pkg/guard"
)

// DeviceConfirmer asks the operator to type the device path back.
type DeviceConfirmer struct{}

func (DeviceConfirmer) Confirm(ctx context.Context, target *guard.TargetDevice) (string, error) {
	var answer string
	desc := fmt.Sprintf("%s (%s) will be erased. Type the device path to continue.",
		target.Path, humanize.IBytes(uint64(target.Capacity)))
	if target.Model != "" {
		desc = fmt.Sprintf("%s %s", target.Model, desc)
	}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Confirm target device").
				Description(desc).
				Placeholder(target.Path).
				Value(&answer),
		),
	).RunWithContext(ctx)
	return answer, formError(err, target.Path)
}

// formError turns an aborted form (Ctrl-C, Esc) into an operator interrupt.
func formError(err error, resource string) error {
	if stderrors.Is(err, huh.ErrUserAborted) {
		return errors.Aborted(errors.ErrInterrupted, resource)
	}
	return err
}

// AskWaitForBoot asks whether to wait for the board after provisioning.
func AskWaitForBoot(ctx context.Context) (bool, error) {
	wait := true
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Wait for the board to come online?").
				Description("Insert the card and power the board on once writing finishes.").
				Affirmative("Wait").
				Negative("Skip").
				Value(&wait),
		),
	).RunWithContext(ctx)
	return wait, err
}
