// Package script runs operator-supplied JavaScript battle hooks in a pool of
// goja VMs with dangerous globals removed and a per-run time limit.
package script

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrTimeout is returned when a script exceeds the execution time limit.
var ErrTimeout = errors.New("script: execution timed out")

// ErrPanic is returned when the VM panics while running a script.
var ErrPanic = errors.New("script: vm panicked")

// Bindings are globals installed for a single run and removed afterwards.
type Bindings map[string]interface{}

// VMPool is a thread-safe pool of pre-initialised goja runtimes.
type VMPool struct {
	pool    chan *goja.Runtime
	timeout time.Duration
	logger  *zap.Logger
	size    int
}

// NewVMPool creates a VMPool with the given concurrency size and per-script timeout.
func NewVMPool(size int, timeout time.Duration, logger *zap.Logger) *VMPool {
	if size <= 0 {
		size = 4
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &VMPool{
		pool:    make(chan *goja.Runtime, size),
		timeout: timeout,
		logger:  logger,
		size:    size,
	}
	for i := 0; i < size; i++ {
		p.pool <- newSafeVM()
	}
	return p
}

// Run executes src inside a pooled VM with b installed as globals.
// Returns the exported completion value, or nil for null/undefined.
func (p *VMPool) Run(ctx context.Context, src string, b Bindings) (interface{}, error) {
	select {
	case vm := <-p.pool:
		// A VM interrupted by the time limit is replaced, not reused.
		returnToPool := true
		defer func() {
			if returnToPool {
				p.pool <- vm
			}
		}()
		return p.runVM(vm, src, b, &returnToPool)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *VMPool) runVM(vm *goja.Runtime, src string, b Bindings, returnToPool *bool) (interface{}, error) {
	for name, v := range b {
		_ = vm.Set(name, v)
	}
	defer func() {
		if !*returnToPool {
			return
		}
		for name := range b {
			vm.GlobalObject().Delete(name)
		}
	}()

	timer := time.AfterFunc(p.timeout, func() {
		vm.Interrupt(ErrTimeout)
	})
	defer func() {
		timer.Stop()
		if *returnToPool {
			vm.ClearInterrupt()
		}
	}()

	var result goja.Value
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = ErrPanic
			}
		}()
		result, runErr = vm.RunString(src)
	}()

	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			*returnToPool = false
			p.pool <- newSafeVM()
			return nil, ErrTimeout
		}
		var ex *goja.Exception
		if errors.As(runErr, &ex) {
			return nil, errors.New(ex.Error())
		}
		return nil, runErr
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}

// newSafeVM creates a goja Runtime with dangerous globals removed.
func newSafeVM() *goja.Runtime {
	vm := goja.New()
	for _, name := range []string{"require", "process", "fetch", "XMLHttpRequest", "eval", "Function"} {
		_ = vm.Set(name, goja.Undefined())
	}
	mathObj := vm.NewObject()
	_ = mathObj.Set("floor", func(v float64) float64 { return float64(int64(v)) })
	_ = mathObj.Set("ceil", func(v float64) float64 {
		n := int64(v)
		if float64(n) < v {
			n++
		}
		return float64(n)
	})
	_ = mathObj.Set("round", func(v float64) int64 { return int64(v + 0.5) })
	_ = mathObj.Set("abs", func(v float64) float64 {
		if v < 0 {
			return -v
		}
		return v
	})
	_ = mathObj.Set("max", func(a, b float64) float64 {
		if a > b {
			return a
		}
		return b
	})
	_ = mathObj.Set("min", func(a, b float64) float64 {
		if a < b {
			return a
		}
		return b
	})
	// Hooks must not introduce randomness the battle RNG does not control.
	_ = mathObj.Set("random", func() float64 { return 0 })
	_ = vm.Set("Math", mathObj)
	return vm
}

// Sandbox wraps a VMPool and logs failed runs.
type Sandbox struct {
	pool   *VMPool
	logger *zap.Logger
}

// NewSandbox creates a Sandbox backed by a VMPool.
func NewSandbox(size int, timeout time.Duration, logger *zap.Logger) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sandbox{
		pool:   NewVMPool(size, timeout, logger),
		logger: logger,
	}
}

// Eval executes src with the given bindings, returning the result.
func (sb *Sandbox) Eval(ctx context.Context, src string, b Bindings) (interface{}, error) {
	result, err := sb.pool.Run(ctx, src, b)
	if err != nil {
		sb.logger.Warn("script execution error",
			zap.String("src_preview", truncate(src, 80)),
			zap.Error(err))
	}
	return result, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
