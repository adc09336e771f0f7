// Package cli provides interactive terminal prompts for the setup wizard.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter asks questions on Out and reads answers from In, one per line.
// Once In is exhausted every question returns its default and Err reports
// io.ErrUnexpectedEOF.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	scanner *bufio.Scanner
	eof     bool
}

// DefaultPrompter returns a Prompter connected to stdin/stdout.
func DefaultPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

// Err reports whether input ran out before all questions were answered.
func (p *Prompter) Err() error {
	if p.eof {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (p *Prompter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.Out, format, args...)
}

func (p *Prompter) readLine() string {
	if p.eof {
		return ""
	}
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}
	if !p.scanner.Scan() {
		p.eof = true
		return ""
	}
	return strings.TrimSpace(p.scanner.Text())
}

// Ask prints a question with a default value and reads one line. An empty
// answer selects the default.
func (p *Prompter) Ask(question, defaultVal string) string {
	if defaultVal != "" {
		p.printf("%s [%s]: ", question, defaultVal)
	} else {
		p.printf("%s: ", question)
	}
	if line := p.readLine(); line != "" {
		return line
	}
	return defaultVal
}

// AskValid repeats the question until validate accepts the answer.
func (p *Prompter) AskValid(question, defaultVal string, validate func(string) error) string {
	for {
		ans := p.Ask(question, defaultVal)
		err := validate(ans)
		if err == nil || p.eof {
			return ans
		}
		p.printf("  %v\n", err)
	}
}

// AskPassword reads a line without echo when In is a terminal, and as plain
// text otherwise. Answers shorter than minLen are asked again.
func (p *Prompter) AskPassword(question string, minLen int) string {
	for {
		p.printf("%s: ", question)
		ans := p.readSecret()
		if len(ans) >= minLen || p.eof {
			return ans
		}
		p.printf("  Must be at least %d characters.\n", minLen)
	}
}

func (p *Prompter) readSecret() string {
	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		p.printf("\n")
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return p.readLine()
}

// Choose presents a numbered list of options and returns the selected one.
func (p *Prompter) Choose(question string, options []string, defaultIdx int) string {
	p.printf("%s\n", question)
	for i, opt := range options {
		marker := "  "
		if i == defaultIdx {
			marker = "> "
		}
		p.printf("%s%d) %s\n", marker, i+1, opt)
	}
	ans := p.AskValid("Choice", strconv.Itoa(defaultIdx+1), func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > len(options) {
			return fmt.Errorf("please enter a number between 1 and %d", len(options))
		}
		return nil
	})
	n, err := strconv.Atoi(ans)
	if err != nil || n < 1 || n > len(options) {
		return options[defaultIdx]
	}
	return options[n-1]
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, defaultYes bool) bool {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	ans := p.Ask(fmt.Sprintf("%s [%s]", question, hint), "")
	if ans == "" {
		return defaultYes
	}
	return strings.HasPrefix(strings.ToLower(ans), "y")
}
