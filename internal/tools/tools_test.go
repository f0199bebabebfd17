package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echo " + name,
		Parameters:  map[string]any{"type": "object"},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			v, _ := args["v"].(string)
			return name + ":" + v, nil
		},
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		tools   []*Tool
		wantErr string
	}{
		{"duplicate", []*Tool{echoTool("a"), echoTool("a")}, "duplicate tool name"},
		{"nil tool", []*Tool{nil}, "is nil"},
		{"empty name", []*Tool{{Handler: echoTool("x").Handler}}, "has no name"},
		{"no handler", []*Tool{{Name: "x"}}, "has no handler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.tools...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewRegistry() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_SpecsAndList(t *testing.T) {
	r, err := NewRegistry(echoTool("b"), echoTool("a"), NewCalculatorTool())
	if err != nil {
		t.Fatal(err)
	}

	names := r.Names()
	if strings.Join(names, ",") != "b,a,calculate" {
		t.Errorf("Names() = %v, want registration order", names)
	}

	specs := r.Specs()
	if len(specs) != 3 || specs[2].Name != "calculate" {
		t.Fatalf("Specs() = %+v", specs)
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	fn, ok := list[2]["function"].(map[string]any)
	if !ok || fn["name"] != "calculate" || list[2]["type"] != "function" {
		t.Errorf("List()[2] = %v", list[2])
	}
}

func TestRegistry_Invoke(t *testing.T) {
	boom := errors.New("sensor offline")
	r, err := NewRegistry(
		echoTool("echo"),
		&Tool{Name: "fails", Handler: func(context.Context, map[string]any) (string, error) { return "", boom }},
		&Tool{Name: "panics", Handler: func(context.Context, map[string]any) (string, error) { panic("index out of range") }},
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	got, err := r.Invoke(ctx, "echo", map[string]any{"v": "hi"})
	if err != nil || got != "echo:hi" {
		t.Errorf("Invoke(echo) = %q, %v", got, err)
	}

	_, err = r.Invoke(ctx, "nope", nil)
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) || unknown.Name != "nope" {
		t.Errorf("Invoke(nope) error = %v, want *UnknownToolError", err)
	}

	_, err = r.Invoke(ctx, "fails", nil)
	var exec *ExecutionError
	if !errors.As(err, &exec) || exec.Name != "fails" || !errors.Is(err, boom) {
		t.Errorf("Invoke(fails) error = %v, want *ExecutionError wrapping cause", err)
	}

	_, err = r.Invoke(ctx, "panics", nil)
	if !errors.As(err, &exec) || exec.Name != "panics" {
		t.Fatalf("Invoke(panics) error = %v, want *ExecutionError", err)
	}
	if !strings.Contains(err.Error(), "index out of range") || exec.Stack == "" {
		t.Errorf("panic error = %q (stack %d bytes)", err.Error(), len(exec.Stack))
	}
}

func TestRegistry_NilArgsBecomeEmpty(t *testing.T) {
	var gotNil bool
	r, _ := NewRegistry(&Tool{Name: "t", Handler: func(_ context.Context, args map[string]any) (string, error) {
		gotNil = args == nil
		return "", nil
	}})
	r.Invoke(context.Background(), "t", nil)
	if gotNil {
		t.Error("handler received nil args")
	}
}

func TestRegistry_ConcurrentInvoke(t *testing.T) {
	r, _ := NewRegistry(echoTool("echo"), NewCalculatorTool())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, _ := r.Invoke(context.Background(), "calculate", map[string]any{"expression": "6*7"}); got != "42" {
				t.Errorf("calculate = %q", got)
			}
		}()
	}
	wg.Wait()
}
