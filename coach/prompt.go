package coach

import (
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog/log"
)

// Prompter asks the operator a yes/no question.
type Prompter interface {
	Confirm(question string) (bool, error)
}

// AutoPrompter answers every question the same way, for unattended runs.
type AutoPrompter struct {
	Answer bool
}

func (p AutoPrompter) Confirm(question string) (bool, error) {
	log.Info().Str("question", question).Bool("answer", p.Answer).Msg("auto-answering")
	return p.Answer, nil
}

// ReadlinePrompter asks on the terminal. Only "y" or "yes" count as yes;
// an interrupt or end of input counts as no.
type ReadlinePrompter struct{}

func (ReadlinePrompter) Confirm(question string) (bool, error) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          question + " ",
		InterruptPrompt: "^C",
		EOFPrompt:       "n",
	})
	if err != nil {
		return false, err
	}
	defer l.Close()

	line, err := l.Readline()
	if err == readline.ErrInterrupt || err == io.EOF {
		return false, nil
	} else if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
