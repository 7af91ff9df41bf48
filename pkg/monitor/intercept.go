/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: intercept.go
Description: The interception entry point. Every monitored call is logged with
its goroutine, arguments and stack, checked against the policy file, and then
allowed, mocked with the return type's zero value, or denied with a security
error.
*/

package monitor

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrHookResultType is returned when an after-call hook replaces a result with
// a value of the wrong type.
var ErrHookResultType = errors.New("hook returned a value of the wrong type")

// SecurityError is raised into the caller of a denied API.
type SecurityError struct {
	API string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("API %s was blocked by policy", e.API)
}

// Call is one intercepted invocation.
type Call struct {
	API    *API
	Args   []Value
	Invoke func() (any, error)
	Mock   any
}

// URIs returns the URI arguments of the call in order.
func (c Call) URIs() []string {
	var uris []string
	for _, arg := range c.Args {
		if u, ok := arg.(URI); ok {
			uris = append(uris, string(u))
		}
	}
	return uris
}

// Decision is the outcome of applying a policy to a call.
type Decision interface {
	decision()
}

// Allowed carries the real implementation's result.
type Allowed struct {
	Value any
	Err   error
}

// Mocked carries the default value returned instead of calling through.
type Mocked struct {
	Value any
}

// Denied carries the error raised into the caller.
type Denied struct {
	Err error
}

func (Allowed) decision() {}
func (Mocked) decision()  {}
func (Denied) decision()  {}

// Decide applies policy to call. Only Allow invokes the real implementation.
func Decide(call Call, policy Policy) Decision {
	switch policy {
	case Deny:
		return Denied{Err: &SecurityError{API: call.API.ID()}}
	case Mock:
		return Mocked{Value: call.Mock}
	default:
		if call.Invoke == nil {
			return Allowed{}
		}
		v, err := call.Invoke()
		return Allowed{Value: v, Err: err}
	}
}

// Call logs, resolves and completes one intercepted invocation.
func (e *Engine) Call(call Call) (any, error) {
	line := e.logLine(call, 2)

	e.hook.BeforeCall(line)
	e.record(line)

	policy := e.PolicyFor(call.API.Signature(), call.URIs())
	if policy != Allow {
		e.log.WithFields(logrus.Fields{
			"api":    call.API.ID(),
			"policy": policy.String(),
		}).Debug("Policy applied")
	}

	switch d := Decide(call, policy).(type) {
	case Allowed:
		if d.Err != nil {
			return nil, d.Err
		}
		return e.hook.AfterCall(line, d.Value), nil
	case Mocked:
		return d.Value, nil
	case Denied:
		return nil, d.Err
	default:
		return nil, fmt.Errorf("unhandled decision %T", d)
	}
}

// Intercept runs real under the engine. A mocked call returns the zero value of T.
func Intercept[T any](e *Engine, api *API, args []Value, real func() (T, error)) (T, error) {
	var zero T
	out, err := e.Call(Call{
		API:  api,
		Args: args,
		Mock: zero,
		Invoke: func() (any, error) {
			v, err := real()
			return v, err
		},
	})
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	v, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s expects %T, got %T", ErrHookResultType, api.ID(), zero, out)
	}
	return v, nil
}

// InterceptVoid runs a call without a result under the engine.
func InterceptVoid(e *Engine, api *API, args []Value, real func() error) error {
	_, err := e.Call(Call{
		API:  api,
		Args: args,
		Invoke: func() (any, error) {
			return nil, real()
		},
	})
	return err
}

// logLine renders the call log line. skip counts frames above logLine that
// belong to the engine.
func (e *Engine) logLine(call Call, skip int) string {
	var params strings.Builder
	for i, arg := range call.Args {
		if i > 0 {
			params.WriteByte(' ')
		}
		typ := "?"
		if i < len(call.API.ParamTypes) {
			typ = call.API.ParamTypes[i]
		}
		fmt.Fprintf(&params, "'%s' '%s'", typ, Render(arg))
	}

	return fmt.Sprintf("TId: %d;objCls: '%s';mthd: '%s';retCls: '%s';params: %s;stacktrace: '%s'",
		goroutineID(),
		call.API.DeclaringType,
		call.API.Method,
		call.API.ReturnTypeName(),
		params.String(),
		escapeQuotes(stackTrace(skip+1)),
	)
}

// goroutineID parses the id from the current goroutine's stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	var id uint64
	for _, c := range header {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

const maxStackDepth = 32

// stackTrace renders the caller's stack as frame->frame, innermost first.
func stackTrace(skip int) string {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var parts []string
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !isEngineFrame(frame.Function) {
			parts = append(parts, fmt.Sprintf("%s(%s:%d)", frame.Function, filepath.Base(frame.File), frame.Line))
		}
		if !more {
			break
		}
	}
	return strings.Join(parts, "->")
}

// enginePackage is the import path of this package, as it prefixes the
// function names of its frames.
var enginePackage = reflect.TypeOf((*Engine)(nil)).Elem().PkgPath()

func isEngineFrame(function string) bool {
	return strings.HasPrefix(function, enginePackage+".")
}
