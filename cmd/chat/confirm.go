package main

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	input "github.com/tcnksm/go-input"

	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
)

// promptConfirmer asks on the terminal before a session is deleted.
type promptConfirmer struct {
	ui *input.UI
}

func newPromptConfirmer(r io.Reader, w io.Writer) *promptConfirmer {
	return &promptConfirmer{ui: &input.UI{Reader: r, Writer: w}}
}

func (p *promptConfirmer) Confirm(_ context.Context, s chat.Session) (bool, error) {
	query := "Delete session \"" + s.Title + "\"? [y/N]"
	answer, err := p.ui.Ask(query, &input.Options{
		Default:     "n",
		Loop:        true,
		HideDefault: true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "yes", "n", "no", "":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "read confirmation")
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
