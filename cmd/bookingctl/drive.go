package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/wolfman30/booking-wizard/internal/wizard"
)

// chooser supplies the user's answers to drive.
type chooser interface {
	// Choose picks a value for stage from list. back asks to return to the
	// previous stage instead.
	Choose(stage wizard.Stage, list *wizard.CandidateList, canGoBack bool) (value string, back bool, err error)
	// Confirm shows the summary of a finished wizard and reports whether to
	// submit it. false goes back one stage.
	Confirm(summary string) (bool, error)
	// Retry reports whether drive should recover from err by asking again.
	Retry(err error) bool
}

// drive walks a session from its current stage to a submitted booking.
func drive(ctx context.Context, s *wizard.Session, ch chooser, out io.Writer) (*wizard.Confirmation, error) {
	ctrl := s.Controller
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := ctrl.Current()
		stage, _ := s.Graph.Stage(cur)

		if stage.Terminal {
			ok, err := ch.Confirm(summarize(s))
			if err != nil {
				return nil, err
			}
			if !ok {
				if err := ctrl.GoBack(); err != nil {
					return nil, err
				}
				continue
			}
			conf, err := s.Submit(ctx)
			if err == nil {
				return conf, nil
			}
			var verr *wizard.ValidationError
			if !errors.As(err, &verr) || !ch.Retry(err) {
				return nil, err
			}
			fmt.Fprintf(out, "Booking rejected: %v\n", err)
			// the rejected stages get fresh candidates on the way back
			for _, st := range s.Graph.Stages() {
				if _, bad := verr.Fields[st.Field]; bad && st.Field != "" {
					s.Loader.Evict(st.ID)
				}
			}
			if err := ctrl.GoBack(); err != nil {
				return nil, err
			}
			continue
		}

		list, err := ctrl.Candidates(ctx, cur)
		if err != nil {
			if ch.Retry(err) {
				fmt.Fprintf(out, "Could not load %s options: %v\n", stage.Name, err)
				continue
			}
			return nil, err
		}
		value, back, err := ch.Choose(stage, list, cur > 0)
		if err != nil {
			return nil, err
		}
		if back {
			if err := ctrl.GoBack(); err != nil {
				return nil, err
			}
			continue
		}
		if err := ctrl.SelectValue(ctx, cur, value, ""); err != nil {
			if ch.Retry(err) {
				fmt.Fprintf(out, "%v\n", err)
				continue
			}
			return nil, err
		}
	}
}

func summarize(s *wizard.Session) string {
	var b strings.Builder
	for _, st := range s.Graph.Stages() {
		if st.Terminal {
			continue
		}
		sel, ok := s.Store.Get(st.ID)
		if !ok {
			fmt.Fprintf(&b, "%-11s -\n", st.Name)
			continue
		}
		label := sel.Label
		if label == "" || label == sel.Value {
			fmt.Fprintf(&b, "%-11s %s\n", st.Name, sel.Value)
			continue
		}
		fmt.Fprintf(&b, "%-11s %s (%s)\n", st.Name, label, sel.Value)
	}
	return b.String()
}

func printStages(out io.Writer, g *wizard.Graph) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTAGE\tFIELD\tDEPENDS ON")
	for _, st := range g.Stages() {
		deps := make([]string, 0, len(st.DependsOn))
		for _, d := range st.DependsOn {
			dep, _ := g.Stage(d)
			deps = append(deps, dep.Name)
		}
		field := st.Field
		if st.Terminal {
			field = "(submit)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.ID, st.Name, field, strings.Join(deps, ", "))
	}
	return tw.Flush()
}

// flagChooser answers from command-line flags and never retries.
type flagChooser map[string]string

func (f flagChooser) Choose(stage wizard.Stage, _ *wizard.CandidateList, _ bool) (string, bool, error) {
	v, ok := f[stage.Name]
	if !ok {
		return "", false, fmt.Errorf("--%s is required (or use --interactive)", stage.Name)
	}
	return v, false, nil
}

func (flagChooser) Confirm(string) (bool, error) { return true, nil }

func (flagChooser) Retry(error) bool { return false }
