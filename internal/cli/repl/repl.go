package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"maproulette/internal/cli/command"
	"maproulette/internal/roulette/app"
	pkgerrors "maproulette/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "roulette> "

// Session runs admin commands against the services, one-shot or interactively.
type Session struct {
	app      *app.App
	commands map[string]command.Command
	out      io.Writer
	// ask reads a value for a missing required field.
	ask func(prompt string) (string, error)
}

// New creates a Session that runs commands against a and writes to out.
func New(a *app.App, commands map[string]command.Command, out io.Writer) *Session {
	return &Session{
		app:      a,
		commands: commands,
		out:      out,
		ask: func(string) (string, error) {
			return "", errors.New("missing required parameter")
		},
	}
}

// Execute runs one command line and prints its result.
func (s *Session) Execute(ctx context.Context, tokens []string) error {
	cmd, rest, err := command.Lookup(s.commands, tokens)
	if err != nil {
		return err
	}
	params, err := command.Parse(cmd, rest)
	if err != nil {
		return err
	}
	for _, field := range command.Missing(cmd, params) {
		label := field.Prompt
		if label == "" {
			label = field.Name
		}
		value, err := s.ask(label)
		if err != nil {
			return fmt.Errorf("%s: %w", field.Name, err)
		}
		params.Set(field.Name, strings.TrimSpace(value))
	}

	result, err := cmd.Run(ctx, s.app, params)
	if err != nil {
		return err
	}
	s.render(result)
	return nil
}

// Run reads commands with readline until exit or EOF.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() {
		_ = rl.Close()
	}()
	s.out = rl.Stdout()
	s.ask = func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		defer rl.SetPrompt(prompt)
		return rl.Readline()
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			s.printLine("bye")
			return nil
		case "help":
			s.printHelp()
			continue
		}

		tokens, err := shlex.Split(line)
		if err != nil {
			s.printLine("error: parse command failed: %v", err)
			continue
		}
		if err := s.Execute(ctx, tokens); err != nil {
			s.PrintError(err)
		}
	}
}

func (s *Session) completer() *readline.PrefixCompleter {
	groups := map[string][]readline.PrefixCompleterInterface{}
	for _, cmd := range s.commands {
		if cmd.Action == "" {
			if _, ok := groups[cmd.Group]; !ok {
				groups[cmd.Group] = nil
			}
			continue
		}
		groups[cmd.Group] = append(groups[cmd.Group], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{readline.PcItem("help"), readline.PcItem("exit")}
	for group, actions := range groups {
		items = append(items, readline.PcItem(group, actions...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) render(result interface{}) {
	if text, ok := result.(string); ok {
		s.printLine("%s", text)
		return
	}
	formatted, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		s.printLine("encode result failed: %v", err)
		return
	}
	s.printLine("%s", formatted)
}

// PrintError writes err with its code when it carries one.
func (s *Session) PrintError(err error) {
	var coded *pkgerrors.Error
	if errors.As(err, &coded) {
		s.printLine("error %d: %s", coded.Code, coded.Error())
		return
	}
	s.printLine("error: %v", err)
}

func (s *Session) printHelp() {
	usages := make([]string, 0, len(s.commands))
	for _, cmd := range s.commands {
		usages = append(usages, cmd.Usage)
	}
	sort.Strings(usages)
	s.printLine("usage: <group> [action] [args] key=value ...")
	for _, usage := range usages {
		s.printLine("  %s", usage)
	}
	s.printLine("system: help | exit")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
