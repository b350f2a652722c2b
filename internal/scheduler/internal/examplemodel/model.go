// Package examplemodel is a tiny registered model listed in
// cmd/inferenceworker's factory table. It has no real inference
// behavior — "classify" uppercases a string, "sum" adds a list of numbers —
// just enough surface to drive batching, error propagation, and worker
// subprocess plumbing end to end.
package examplemodel

import (
	"fmt"
	"strings"

	"github.com/inferedge/batchsched/internal/scheduler"
)

// Model is the example model. Name is stable across the scheduler process
// and any worker subprocess that constructs one via New.
type Model struct {
	prepared bool
}

// New is the ModelFactory a worker subprocess calls exactly once at startup.
func New() (scheduler.Model, error) {
	return &Model{}, nil
}

func (m *Model) Name() string { return "examplemodel" }

// Prepare performs one-time warmup work. Called by cmd/inferenceworker when
// SchedulerConfig.Warmup is true, before the worker accepts its first batch.
func (m *Model) Prepare() error {
	m.prepared = true
	return nil
}

func (m *Model) Tasks() map[string]scheduler.TaskHandler {
	return map[string]scheduler.TaskHandler{
		"classify": m.classify,
		"sum":      m.sum,
	}
}

func (m *Model) classify(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, scheduler.NewModelError(fmt.Sprintf("classify expects a string, got %T", item), 422)
		}
		out[i] = strings.ToUpper(s)
	}
	return out, nil
}

func (m *Model) sum(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		total, err := sumOf(item)
		if err != nil {
			return nil, scheduler.NewModelError(err.Error(), 422)
		}
		out[i] = total
	}
	return out, nil
}

// sumOf accepts either a []float64 (an in-process caller building TaskItems
// directly) or a []interface{} of float64 values (a worker subprocess
// decoding a wireBatch item off the wire, where encoding/json turns JSON
// numbers into float64), since the same model
// code runs in both places.
func sumOf(item any) (float64, error) {
	switch v := item.(type) {
	case []float64:
		var total float64
		for _, n := range v {
			total += n
		}
		return total, nil
	case []any:
		var total float64
		for _, n := range v {
			f, ok := n.(float64)
			if !ok {
				return 0, fmt.Errorf("sum expects numeric elements, got %T", n)
			}
			total += f
		}
		return total, nil
	default:
		return 0, fmt.Errorf("sum expects a list of numbers, got %T", item)
	}
}
