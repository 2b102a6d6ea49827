// Package sandbox runs generated JavaScript in an isolated goja VM. Each call
// gets a fresh VM with no host bindings beyond a captured console, and the VM
// is interrupted when the timeout or the caller's context fires.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// ErrTimeout is returned when a script exceeds its time budget.
var ErrTimeout = errors.New("sandbox execution timed out")

const (
	// DefaultTimeout applies when neither the call nor the config sets one.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxOutputBytes caps each of stdout and stderr.
	DefaultMaxOutputBytes = 64 * 1024

	contextGlobal = "__sandboxContextJSON"
)

// Config configures an Executor.
type Config struct {
	Timeout        time.Duration
	MaxOutputBytes int
}

// Output is what a script wrote to the console.
type Output struct {
	Stdout string
	Stderr string
}

// Executor implements schemas.SandboxAdapter.
type Executor struct {
	logger *zap.Logger
	cfg    Config
}

var _ schemas.SandboxAdapter = (*Executor)(nil)

// NewExecutor returns an executor with defaults filled in.
func NewExecutor(logger *zap.Logger, cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Executor{logger: logger.Named("sandbox"), cfg: cfg}
}

// Execute runs code and reports the outcome as a SandboxResult. It never
// returns an error; failures are Success=false.
func (e *Executor) Execute(ctx context.Context, code string, sctx map[string]interface{}, timeout time.Duration) schemas.SandboxResult {
	start := time.Now()
	result, out, err := e.Run(ctx, code, sctx, timeout)
	res := schemas.SandboxResult{
		Success:  err == nil,
		Result:   result,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Error = err.Error()
		e.logger.Debug("Sandbox script failed.", zap.Error(err), zap.Duration("duration", res.Duration))
	}
	return res
}

// Run executes code as the body of a function receiving a private copy of
// sctx as `context`. The returned value is normalized to plain JSON data.
func (e *Executor) Run(ctx context.Context, code string, sctx map[string]interface{}, timeout time.Duration) (result interface{}, out Output, err error) {
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newCappedBuffer(e.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(e.cfg.MaxOutputBytes)
	defer func() {
		out = Output{Stdout: stdout.String(), Stderr: stderr.String()}
	}()

	if sctx == nil {
		sctx = map[string]interface{}{}
	}
	ctxJSON, err := json.Marshal(sctx)
	if err != nil {
		return nil, out, fmt.Errorf("failed to encode sandbox context: %w", err)
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := installConsole(vm, stdout, stderr); err != nil {
		return nil, out, err
	}
	if err := vm.Set(contextGlobal, string(ctxJSON)); err != nil {
		return nil, out, fmt.Errorf("failed to install sandbox context: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt(runCtx.Err())
		case <-done:
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered from panic in sandbox.", zap.Any("panic", r), zap.Stack("stack"))
			result, err = nil, fmt.Errorf("sandbox panic: %v", r)
		}
	}()

	value, err := vm.RunString(wrap(code))
	if err != nil {
		return nil, out, e.classify(runCtx, ctx, timeout, err)
	}

	exported, err := exportValue(value)
	if err != nil {
		return nil, out, err
	}
	return exported, out, nil
}

// wrap turns a script body into an immediately invoked function so that a
// top-level return works and declarations stay local.
func wrap(code string) string {
	return "(function(context) {\n\"use strict\";\n" + code + "\n})(JSON.parse(" + contextGlobal + "));"
}

func (e *Executor) classify(runCtx, parent context.Context, timeout time.Duration, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if parent.Err() != nil {
			return fmt.Errorf("sandbox execution cancelled: %w", parent.Err())
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return fmt.Errorf("sandbox execution interrupted: %w", err)
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return fmt.Errorf("javascript exception: %s", strings.TrimSpace(exc.Error()))
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return fmt.Errorf("javascript syntax error: %s", syntax.Error())
	}
	return fmt.Errorf("javascript error: %w", err)
}

// exportValue converts a goja value to plain data by a JSON round trip, so
// callers never hold references into the VM.
func exportValue(v goja.Value) (interface{}, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	exported := v.Export()
	if p, ok := exported.(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return exportValue(p.Result())
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("javascript promise rejected: %v", p.Result().Export())
		default:
			return nil, errors.New("script returned a pending promise; only synchronous results are supported")
		}
	}

	data, err := json.Marshal(exported)
	if err != nil {
		return nil, fmt.Errorf("script result is not serializable: %w", err)
	}
	var plain interface{}
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("failed to normalize script result: %w", err)
	}
	return plain, nil
}

func installConsole(vm *goja.Runtime, stdout, stderr *cappedBuffer) error {
	console := vm.NewObject()
	writer := func(buf *cappedBuffer) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = formatArg(arg)
			}
			buf.WriteLine(strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	for _, name := range []string{"log", "info", "debug"} {
		if err := console.Set(name, writer(stdout)); err != nil {
			return err
		}
	}
	for _, name := range []string{"warn", "error"} {
		if err := console.Set(name, writer(stderr)); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

func formatArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	switch v.Export().(type) {
	case string, int64, float64, bool:
		return v.String()
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return v.String()
	}
	return string(data)
}

// cappedBuffer keeps at most limit bytes and notes truncation once.
type cappedBuffer struct {
	mu        sync.Mutex
	sb        strings.Builder
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) WriteLine(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return
	}
	line := s + "\n"
	if room := b.limit - b.sb.Len(); len(line) > room {
		if room > 0 {
			b.sb.WriteString(line[:room])
		}
		b.sb.WriteString("...[output truncated]\n")
		b.truncated = true
		return
	}
	b.sb.WriteString(line)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}
