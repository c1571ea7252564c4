package console

import (
	"errors"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// Shell reads console lines with history and line editing.
type Shell struct {
	rl *readline.Instance
}

func NewShell(prompt, historyFile string, commands ...string) (*Shell, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, c := range commands {
		items = append(items, readline.PcItem(c))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          Cyan(prompt),
		HistoryFile:     historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return &Shell{rl: rl}, nil
}

// ReadLine returns the next non-empty trimmed line. Ctrl-C on an empty line and
// Ctrl-D end the session with io.EOF.
func (s *Shell) ReadLine() (string, error) {
	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return "", io.EOF
			}
			continue
		}
		if err != nil {
			return "", err
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
}

func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

func (s *Shell) Close() error {
	return s.rl.Close()
}
