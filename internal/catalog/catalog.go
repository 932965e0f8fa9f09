// Package catalog holds the commands the runtrail binary ships with.
//
// Every entry is a command.Wrap-ed function, so each invocation leaves a
// log trail and an output file on disk like any library user's command.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/psantana5/runtrail/pkg/command"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadInput       = errors.New("invalid command input")
)

// ConfigFunc builds the fixed configuration for one catalog command.
type ConfigFunc func(name, purpose string) command.Config

// Entry is a type-erased catalog command. Input arrives as raw JSON.
type Entry struct {
	Name    string
	Purpose string
	Example string // sample input

	invoke func(ctx context.Context, raw []byte) (interface{}, error)
}

// Invoke decodes raw into the command's input type and runs it.
// Empty input runs the command with the zero value.
func (e Entry) Invoke(ctx context.Context, raw []byte) (interface{}, error) {
	return e.invoke(ctx, raw)
}

type Catalog struct {
	entries map[string]Entry
}

// New wraps every built-in command with the configuration build returns.
func New(build ConfigFunc) *Catalog {
	c := &Catalog{entries: make(map[string]Entry)}

	register(c, build, "double", "doubles a number", `{"value": 21}`, Double)
	register(c, build, "greet", "greets a user and writes greeting.csv", `{"name": "Alice"}`, Greet)
	register(c, build, "echo", "returns its input string verbatim", `"hello"`, Echo)
	register(c, build, "sysinfo", "snapshots host CPU and memory into host/stats.json", `{}`, SysInfo)
	register(c, build, "fail", "always fails with the given reason", `{"reason": "demo"}`, Fail)

	return c
}

func register[I, O any](c *Catalog, build ConfigFunc, name, purpose, example string, logic command.Logic[I, O]) {
	run := command.Wrap(build(name, purpose), logic)

	c.entries[name] = Entry{
		Name:    name,
		Purpose: purpose,
		Example: example,
		invoke: func(ctx context.Context, raw []byte) (interface{}, error) {
			var input I
			if len(bytes.TrimSpace(raw)) > 0 {
				if err := json.Unmarshal(raw, &input); err != nil {
					return nil, fmt.Errorf("%w for %s: %v", ErrBadInput, name, err)
				}
			}
			out, err := run(ctx, input)
			if err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

// Get looks up a command by name.
func (c *Catalog) Get(name string) (Entry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

// Entries returns every command sorted by name.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs the named command with raw JSON input.
func (c *Catalog) Invoke(ctx context.Context, name string, raw []byte) (interface{}, error) {
	e, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return e.Invoke(ctx, raw)
}
