package tagger

import (
	"errors"
	"fmt"
)

var (
	// ErrLoadFailure marks a model, vocabulary or artifact that could not be initialized
	ErrLoadFailure = errors.New("load failure")

	// ErrInferenceFailure marks a model invocation that failed while scoring
	ErrInferenceFailure = errors.New("inference failure")

	// ErrStrategyUnavailable is returned for a strategy disabled at startup
	ErrStrategyUnavailable = errors.New("strategy unavailable")

	// ErrNoImage is returned when a request carries no decoded image
	ErrNoImage = errors.New("no image provided")
)

// LoadError reports a component that could not be initialized
type LoadError struct {
	Component string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Component, e.Err)
}

// Unwrap allows matching both ErrLoadFailure and the cause
func (e *LoadError) Unwrap() []error {
	return []error{ErrLoadFailure, e.Err}
}

// InferenceError reports a failed model invocation within a strategy
type InferenceError struct {
	Strategy StrategyID
	Op       string
	Err      error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Strategy, e.Op, e.Err)
}

// Unwrap allows matching both ErrInferenceFailure and the cause
func (e *InferenceError) Unwrap() []error {
	return []error{ErrInferenceFailure, e.Err}
}

func loadError(component string, err error) error {
	return &LoadError{Component: component, Err: err}
}

func inferenceError(id StrategyID, op string, err error) error {
	return &InferenceError{Strategy: id, Op: op, Err: err}
}
