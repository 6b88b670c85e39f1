package jobs_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/iofold/iofold-sub002/pkg/jobs"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := jobs.NewRegistry()

	if _, ok := r.Get(jobs.TypeImport); ok {
		t.Fatal("empty registry should not resolve handlers")
	}

	r.Register(jobs.TypeImport, jobs.HandlerFunc(
		func(_ context.Context, _ *jobs.Job, _ jobs.ProgressFunc) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}))

	if _, ok := r.Get(jobs.TypeImport); !ok {
		t.Fatal("registered handler not found")
	}

	types := r.Types()
	if len(types) != 1 || types[0] != jobs.TypeImport {
		t.Fatalf("unexpected types: %v", types)
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := jobs.NewRegistry()

	first := jobs.HandlerFunc(func(_ context.Context, _ *jobs.Job, _ jobs.ProgressFunc) (json.RawMessage, error) {
		return json.RawMessage(`"first"`), nil
	})
	second := jobs.HandlerFunc(func(_ context.Context, _ *jobs.Job, _ jobs.ProgressFunc) (json.RawMessage, error) {
		return json.RawMessage(`"second"`), nil
	})

	r.Register(jobs.TypeExecute, first)
	r.Register(jobs.TypeExecute, second)

	h, _ := r.Get(jobs.TypeExecute)
	result, _ := h.Execute(context.Background(), nil, nil)
	if string(result) != `"second"` {
		t.Fatalf("expected later registration to win, got %s", result)
	}
}
