// Command inferenceworker is the worker subprocess a scheduler.WorkerPool
// execs once per pool slot (spec.md §4.2). It constructs exactly one Model
// instance via the factory named by its single argument, then loops reading
// one JSON-encoded batch per line from stdin and writing one JSON-encoded
// result per line to stdout, until stdin is closed.
//
// This binary never imports anything from internal/scheduler's dispatch or
// batching logic — it only needs the Model contract and the wire types, the
// same boundary a real deployment would enforce by shipping this as its own
// binary, possibly built from a different commit than the scheduler process
// it's paired with.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/inferedge/batchsched/internal/scheduler"
	"github.com/inferedge/batchsched/internal/scheduler/internal/examplemodel"
)

// modelFactories is the worker binary's static table of buildable models,
// keyed by the name a ModelSpec declares. A real deployment with more than
// one model would list each one here; this repository currently ships one.
var modelFactories = map[string]scheduler.ModelFactory{
	"examplemodel": examplemodel.New,
}

type warmer interface {
	Prepare() error
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("inferenceworker: usage: inferenceworker <model-name>")
	}
	modelName := os.Args[1]

	factory, ok := modelFactories[modelName]
	if !ok {
		log.Fatalf("inferenceworker: unknown model %q", modelName)
	}

	model, err := factory()
	if err != nil {
		log.Fatalf("inferenceworker: constructing model %q: %v", modelName, err)
	}

	if os.Getenv("INFERENCE_WARMUP") == "true" {
		if w, ok := model.(warmer); ok {
			if err := w.Prepare(); err != nil {
				log.Fatalf("inferenceworker: warmup failed: %v", err)
			}
		}
	}

	reg := scheduler.NewRegistry()
	if err := reg.RegisterModel(model); err != nil {
		log.Fatalf("inferenceworker: registering model %q: %v", model.Name(), err)
	}

	log.Printf("inferenceworker: ready, model=%s tasks=%v", model.Name(), reg.TaskNamesFor(model.Name()))

	if err := serve(model.Name(), reg, os.Stdin, os.Stdout); err != nil && err != io.EOF {
		log.Fatalf("inferenceworker: %v", err)
	}
}

// wireBatch/wireResult/wireError mirror internal/scheduler's worker_ipc.go
// framing exactly; they are redeclared here rather than imported because
// that file's types are unexported (the scheduler package deliberately does
// not expose its wire format as API — only this binary and workerConn need
// to agree on it).
type wireBatch struct {
	TaskName string `json:"task_name"`
	Items    []any  `json:"items"`
}

type wireResult struct {
	LatencyMs float64    `json:"latency_ms"`
	Outputs   []any      `json:"outputs,omitempty"`
	Error     *wireError `json:"error,omitempty"`
}

type wireError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
}

func serve(modelName string, reg *scheduler.Registry, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		var req wireBatch
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return fmt.Errorf("decoding batch: %w", err)
		}

		resp := runBatch(modelName, reg, req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
	}
	return scanner.Err()
}

func runBatch(modelName string, reg *scheduler.Registry, req wireBatch) wireResult {
	key := scheduler.TaskKey{ModelName: modelName, TaskName: req.TaskName}
	handler, ok := reg.Lookup(key)
	if !ok {
		return wireResult{Error: &wireError{
			Kind:       "UnknownError",
			Message:    fmt.Sprintf("no such task %q", req.TaskName),
			HTTPStatus: 400,
		}}
	}

	start := time.Now()
	outputs, err := invoke(handler, req.Items)
	elapsed := time.Since(start)

	if err != nil {
		kind, message, status := classifyError(err)
		return wireResult{
			LatencyMs: float64(elapsed.Milliseconds()),
			Error:     &wireError{Kind: kind, Message: message, HTTPStatus: status},
		}
	}

	return wireResult{LatencyMs: float64(elapsed.Milliseconds()), Outputs: outputs}
}

// invoke recovers from a handler panic and reports it as an error, since a
// panicking handler must not be allowed to kill the worker process for
// reasons other than an actual crash the pool should detect as WorkerCrash.
func invoke(handler scheduler.TaskHandler, items []any) (outputs []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(items)
}

func classifyError(err error) (kind, message string, status int) {
	if te, ok := err.(*scheduler.TaskError); ok {
		return string(te.Kind), te.Message, te.HTTPStatus
	}
	return "UnknownError", err.Error(), 400
}
