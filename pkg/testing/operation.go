// SPDX-License-Identifier: Apache-2.0

// Package testing provides test doubles for sentinel services.
//
// This package includes:
//   - Scripted operations for driving the retry and fallback engine
//   - A notifier that records what was sent
//
// Example usage:
//
//	op := testing.NewScriptedOperation().
//	    AddFailure("ai service timeout").
//	    AddValue("answer")
//	res := engine.Execute(ctx, op.Operation(), cfg, ec)
package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/studybuddy/sentinel/pkg/resilience"
)

// ScriptedStep is one scripted outcome of an operation call.
type ScriptedStep struct {
	Value any
	Error error
}

// ScriptedOperation returns queued outcomes in order and counts calls.
type ScriptedOperation struct {
	mu           sync.Mutex
	steps        []ScriptedStep
	currentIndex int
	calls        int
	defaultValue any
	defaultError error
	hasDefault   bool
}

// NewScriptedOperation creates an empty scripted operation.
func NewScriptedOperation() *ScriptedOperation {
	return &ScriptedOperation{}
}

// AddFailure queues a failure with the given message.
func (o *ScriptedOperation) AddFailure(message string) *ScriptedOperation {
	return o.AddError(errors.New(message))
}

// AddFailures queues n failures with the given message.
func (o *ScriptedOperation) AddFailures(n int, message string) *ScriptedOperation {
	for i := 0; i < n; i++ {
		o.AddFailure(message)
	}
	return o
}

// AddError queues err.
func (o *ScriptedOperation) AddError(err error) *ScriptedOperation {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, ScriptedStep{Error: err})
	return o
}

// AddValue queues a success returning v.
func (o *ScriptedOperation) AddValue(v any) *ScriptedOperation {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, ScriptedStep{Value: v})
	return o
}

// WithDefault sets the outcome once the queue is exhausted.
func (o *ScriptedOperation) WithDefault(v any, err error) *ScriptedOperation {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.defaultValue = v
	o.defaultError = err
	o.hasDefault = true
	return o
}

// Operation returns the resilience.Operation backed by the script.
func (o *ScriptedOperation) Operation() resilience.Operation {
	return o.call
}

func (o *ScriptedOperation) call(ctx context.Context) (any, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.currentIndex >= len(o.steps) {
		if o.hasDefault {
			return o.defaultValue, o.defaultError
		}
		return nil, fmt.Errorf("no more scripted steps (call %d)", o.calls)
	}
	step := o.steps[o.currentIndex]
	o.currentIndex++
	return step.Value, step.Error
}

// Calls returns how many times the operation ran.
func (o *ScriptedOperation) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// Remaining returns how many scripted steps are left.
func (o *ScriptedOperation) Remaining() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.steps) - o.currentIndex
}
