package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"

	"github.com/wolfman30/booking-wizard/internal/wizard"
)

const backValue = "\x00back"

// formChooser asks with huh forms. Values given as flags are used once,
// the first time their stage comes up.
type formChooser struct {
	preset map[string]string
	out    io.Writer
}

func newFormChooser(preset map[string]string, out io.Writer) *formChooser {
	return &formChooser{preset: preset, out: out}
}

func (f *formChooser) Choose(stage wizard.Stage, list *wizard.CandidateList, canGoBack bool) (string, bool, error) {
	if v, ok := f.preset[stage.Name]; ok {
		delete(f.preset, stage.Name)
		return v, false, nil
	}

	options := make([]huh.Option[string], 0, len(list.Items)+1)
	for _, c := range list.Items {
		if !c.Available() {
			continue
		}
		label := c.Label
		if c.Capacity > 0 {
			label = fmt.Sprintf("%s  (%d left)", c.Label, c.Remaining)
		}
		options = append(options, huh.NewOption(label, c.Value))
	}
	if len(options) == 0 {
		fmt.Fprintf(f.out, "No %s options are available.\n", stage.Name)
		if !canGoBack {
			return "", false, fmt.Errorf("no %s options", stage.Name)
		}
		return "", true, nil
	}
	if canGoBack {
		options = append(options, huh.NewOption("<- back", backValue))
	}

	var choice string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key(stage.Field).
				Title("Choose " + stage.Name).
				Options(options...).
				Height(12).
				Value(&choice),
		),
	).WithShowHelp(true)
	if err := form.Run(); err != nil {
		return "", false, abortErr(err)
	}
	if choice == backValue {
		return "", true, nil
	}
	return choice, false, nil
}

func (f *formChooser) Confirm(summary string) (bool, error) {
	book := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().Title("Review").Description(summary),
			huh.NewConfirm().
				Title("Book this appointment?").
				Affirmative("Book").
				Negative("Back").
				Value(&book),
		),
	)
	if err := form.Run(); err != nil {
		return false, abortErr(err)
	}
	return book, nil
}

// Retry recovers from everything except a stage that cannot be reached.
func (f *formChooser) Retry(err error) bool {
	return !errors.Is(err, wizard.ErrPrerequisiteMissing)
}

func abortErr(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errors.New("booking cancelled")
	}
	return err
}
