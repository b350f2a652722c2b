package scheduler

import "fmt"

// TaskKey identifies a single registered task: a named operation belonging to
// a model (spec §3). Immutable and process-lifetime once registered.
type TaskKey struct {
	ModelName string
	TaskName  string
}

func (k TaskKey) String() string {
	return fmt.Sprintf("%s.%s", k.ModelName, k.TaskName)
}

// TaskHandler is the pure contract a model implements for one task: given an
// ordered list of inputs, return an equal-length ordered list of outputs, or
// fail. Handlers may return a *TaskError built via NewModelError for a
// client-facing domain failure; any other error is treated as UnknownError
// (spec §4.1).
type TaskHandler func(items []any) ([]any, error)

// Model is implemented by model types declared in this module. Tasks is
// invoked once per worker process, by Registry.RegisterModel after the model
// is constructed, to populate that process's Registry (the scheduler process
// uses ModelSpec.TaskNames instead and never calls it) — this replaces the source's class-body decorator registration with an
// explicit, non-global declaration point (spec §9 design note).
type Model interface {
	// Name identifies the model for TaskKey purposes. Stable across
	// processes: both the scheduler process and a worker subprocess must
	// compute the same name for the same model.
	Name() string

	// Tasks returns the task handlers this model implements, keyed by task
	// name (not by the full TaskKey — the model doesn't know its own name
	// twice).
	Tasks() map[string]TaskHandler
}

// ModelFactory constructs one instance of a model. Invoked exactly once per
// worker process, mirroring the Python original's
// ProcessPoolExecutor(initializer=worker_create_model, initargs=(model_type,)).
type ModelFactory func() (Model, error)

// ModelSpec is what model code declares before the scheduler starts (spec
// §4.1: "a declaration-time act performed by model code before the scheduler
// starts"). TaskNames is static and cheap to know without constructing
// anything — the scheduler process uses it to set up per-task queues and to
// reject submissions to unregistered tasks, without ever running Factory
// itself (that only happens inside a worker subprocess, which is the only
// place Model.Tasks()'s real handlers are ever invoked).
type ModelSpec struct {
	Name      string
	TaskNames []string
	Factory   ModelFactory
}
