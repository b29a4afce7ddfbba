package pagecachectl

import (
	"bufio"
	"io"
	"strings"
)

// shell reads one command per line from input and keeps a bounded
// command history, the way an interactive page-cache session expects;
// each line is a complete command here, unlike a SQL shell's
// semicolon-terminated, possibly multi-line statements.
type shell struct {
	reader *bufio.Reader

	output    io.Writer
	errOutput io.Writer

	prompt string

	history      []string
	historyIndex int
	maxHistory   int
}

// newShell creates a shell reading from input, writing prompts and
// output to output (and errors to errOutput, or output if nil).
func newShell(input io.Reader, output, errOutput io.Writer) *shell {
	var reader *bufio.Reader
	if input != nil {
		reader = bufio.NewReader(input)
	}
	if errOutput == nil {
		errOutput = output
	}
	return &shell{
		reader:       reader,
		output:       output,
		errOutput:    errOutput,
		prompt:       "pagecachectl> ",
		history:      make([]string, 0),
		historyIndex: 0,
		maxHistory:   1000,
	}
}

// setPrompt changes the prompt string shown before each command.
func (s *shell) setPrompt(prompt string) {
	s.prompt = prompt
}

// readLine writes the prompt, reads one line, strips trailing
// whitespace, and records non-empty lines in history. It returns the
// line and whether EOF was reached.
func (s *shell) readLine() (string, bool) {
	if s.output != nil {
		io.WriteString(s.output, s.prompt)
	}
	if s.reader == nil {
		return "", true
	}

	line, err := s.reader.ReadString('\n')
	eof := err != nil
	line = strings.TrimRight(line, " \t\r\n")
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		s.addHistory(trimmed)
	}
	return line, eof
}

// addHistory appends stmt to history, skipping an immediate repeat of
// the last entry and trimming to maxHistory.
func (s *shell) addHistory(stmt string) {
	if len(s.history) > 0 && s.history[len(s.history)-1] == stmt {
		return
	}
	s.history = append(s.history, stmt)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	s.historyIndex = len(s.history)
}

// History returns a copy of the command history, oldest first.
func (s *shell) History() []string {
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// clearHistory removes every recorded command.
func (s *shell) clearHistory() {
	s.history = make([]string, 0)
	s.historyIndex = 0
}
