package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/config"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
)

// prompter asks for values on out and reads answers line by line from in.
type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewScanner(in), out: out}
}

// line prompts for a non-empty answer, asking again on empty input.
func (p *prompter) line(label string) (string, error) {
	for {
		fmt.Fprintf(p.out, "%s: ", label)
		if !p.in.Scan() {
			if err := p.in.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		if answer := strings.TrimSpace(p.in.Text()); answer != "" {
			return answer, nil
		}
	}
}

// value prompts until the answer parses as a parameter value or a list of
// them.
func (p *prompter) value(label string) (any, error) {
	for {
		text, err := p.line(label)
		if err != nil {
			return nil, err
		}
		v, err := config.ParseValues(text)
		if err == nil {
			return v, nil
		}
		fmt.Fprintf(p.out, "Error: %v\n", err)
	}
}

// count prompts until the answer is a non-negative integer.
func (p *prompter) count(label string) (int, error) {
	for {
		text, err := p.line(label)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(text)
		if err == nil && n >= 0 {
			return n, nil
		}
		fmt.Fprintf(p.out, "Error: %q is not a valid count\n", text)
	}
}

// spec asks for a value of every declared parameter except RngRun, which is
// allocated by the campaign.
func (p *prompter) spec(declared []string) (models.ParameterSpec, error) {
	spec := make(models.ParameterSpec, len(declared))
	for _, name := range declared {
		if name == models.RngRunParam {
			continue
		}
		v, err := p.value(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		spec[name] = v
	}
	return spec, nil
}
