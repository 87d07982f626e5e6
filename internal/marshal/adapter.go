package marshal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	starjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"apitables/internal/domain"
)

// AdaptFunc is the name of the function an adapter script must define.
// It is called as adapt(table, body) and returns the reshaped body.
const AdaptFunc = "adapt"

const (
	defaultAdapterMaxSteps = uint64(1_000_000)
	defaultAdapterTimeout  = 5 * time.Second
	maxAdapterScriptBytes  = 512 * 1024
)

// Adapter reshapes upstream response bodies with a Starlark script before
// rows are interpreted. Globals are frozen after loading, so one Adapter is
// safe for concurrent use.
type Adapter struct {
	name     string
	adapt    starlark.Callable
	maxSteps uint64
	timeout  time.Duration
}

// LoadAdapter reads and compiles the adapter script at path.
func LoadAdapter(path string, maxSteps uint64, timeout time.Duration) (*Adapter, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read adapter script: %w", err)
	}
	return NewAdapter(filepath.Base(path), string(src), maxSteps, timeout)
}

// NewAdapter compiles src. The script sees a predeclared json module
// (json.encode, json.decode) and must define adapt.
func NewAdapter(name, src string, maxSteps uint64, timeout time.Duration) (*Adapter, error) {
	if len(src) > maxAdapterScriptBytes {
		return nil, domain.ErrValidation("adapter script %q exceeds %d bytes", name, maxAdapterScriptBytes)
	}
	if maxSteps == 0 {
		maxSteps = defaultAdapterMaxSteps
	}
	if timeout <= 0 {
		timeout = defaultAdapterTimeout
	}
	a := &Adapter{name: name, maxSteps: maxSteps, timeout: timeout}

	thread := &starlark.Thread{Name: "adapter-load"}
	thread.SetMaxExecutionSteps(maxSteps)
	var globals starlark.StringDict
	if err := runWithTimeout(context.Background(), thread, timeout, func() error {
		loaded, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, name, src, predeclared())
		if err != nil {
			return err
		}
		globals = loaded
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load adapter %q: %w", name, err)
	}
	globals.Freeze()

	fn, ok := globals[AdaptFunc].(starlark.Callable)
	if !ok {
		return nil, domain.ErrValidation("adapter %q must define a function %s(table, body)", name, AdaptFunc)
	}
	a.adapt = fn
	return a, nil
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{"json": starjson.Module}
}

// Apply runs adapt(table, body) and returns the reshaped body.
func (a *Adapter) Apply(ctx context.Context, table string, body any) (any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	thread := &starlark.Thread{Name: "adapter-" + table}
	thread.SetMaxExecutionSteps(a.maxSteps)
	var out string
	err = runWithTimeout(ctx, thread, a.timeout, func() error {
		decoded, err := starlark.Call(thread, starjson.Module.Members["decode"], starlark.Tuple{starlark.String(raw)}, nil)
		if err != nil {
			return err
		}
		result, err := starlark.Call(thread, a.adapt, starlark.Tuple{starlark.String(table), decoded}, nil)
		if err != nil {
			return err
		}
		encoded, err := starlark.Call(thread, starjson.Module.Members["encode"], starlark.Tuple{result}, nil)
		if err != nil {
			return err
		}
		s, ok := starlark.AsString(encoded)
		if !ok {
			return fmt.Errorf("json.encode returned %s", encoded.Type())
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeJSON([]byte(out))
}

// runWithTimeout runs fn, cancelling the thread when the timeout elapses
// or ctx is done.
func runWithTimeout(ctx context.Context, thread *starlark.Thread, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		thread.Cancel("context cancelled")
		<-done
		return ctx.Err()
	case <-timer.C:
		thread.Cancel("adapter timed out")
		if err := <-done; err != nil {
			return domain.ErrValidation("adapter timed out after %s: %v", timeout, err)
		}
		return domain.ErrValidation("adapter timed out after %s", timeout)
	}
}
