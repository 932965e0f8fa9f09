package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/psantana5/runtrail/pkg/command"
)

type DoubleInput struct {
	Value int `json:"value"`
}

type DoubleOutput struct {
	Doubled int `json:"doubled"`
}

func Double(ctx context.Context, in DoubleInput, c command.Control) (DoubleOutput, error) {
	if err := c.Log.Info("processing", map[string]interface{}{"input": in}); err != nil {
		return DoubleOutput{}, err
	}
	return DoubleOutput{Doubled: in.Value * 2}, nil
}

type GreetInput struct {
	Name string `json:"name"`
}

type GreetOutput struct {
	Message string `json:"message"`
}

// Greet writes a one-row CSV next to the run log.
func Greet(ctx context.Context, in GreetInput, c command.Control) (GreetOutput, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return GreetOutput{}, errors.New("name is required")
	}

	csv := fmt.Sprintf("name,greeting\n%s,Hello %s!", name, name)
	written, err := c.Out.Write(ctx, command.File{Name: "greeting.csv", Data: []byte(csv)})
	if err != nil {
		return GreetOutput{}, err
	}
	if err := c.Log.Info("wrote csv file", map[string]interface{}{"path": written.Path}); err != nil {
		return GreetOutput{}, err
	}

	return GreetOutput{Message: "Greeted " + name}, nil
}

func Echo(ctx context.Context, in string, c command.Control) (string, error) {
	if err := c.Log.Debug("echo", map[string]interface{}{"length": len(in)}); err != nil {
		return "", err
	}
	return in, nil
}

type FailInput struct {
	Reason string `json:"reason"`
}

// FailureError carries its reason as a field so the log captures it.
type FailureError struct {
	Reason string `json:"reason"`
}

func (e *FailureError) Error() string {
	return "intentional failure: " + e.Reason
}

func Fail(ctx context.Context, in FailInput, c command.Control) (struct{}, error) {
	reason := in.Reason
	if reason == "" {
		reason = "unspecified"
	}
	if err := c.Log.Warn("about to fail", map[string]interface{}{"reason": reason}); err != nil {
		return struct{}{}, err
	}
	return struct{}{}, &FailureError{Reason: reason}
}
