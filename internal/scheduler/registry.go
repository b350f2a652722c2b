package scheduler

import "sync"

// Registry is the catalogue of TaskKey -> TaskHandler entries (spec §4.1). A
// *Registry is instantiated twice in this system, for two different reasons:
// the scheduler process builds one from a ModelSpec's TaskNames with every
// handler left nil, purely to answer "does this task exist" for
// ErrUnknownTask checks and to size per-task queues — it never calls a
// handler. A worker subprocess builds its own separate *Registry, via
// RegisterModel, only after invoking ModelSpec.Factory to construct the real
// Model; that registry's handlers are the only ones ever invoked. The two
// registries are never the same value and never shared across the process
// boundary. After construction a Registry is treated as read-only, though
// nothing below enforces that beyond convention.
type Registry struct {
	mu       sync.RWMutex
	handlers map[TaskKey]TaskHandler
	byModel  map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[TaskKey]TaskHandler),
		byModel:  make(map[string][]string),
	}
}

// Register binds a handler to a TaskKey. Returns ErrDuplicateTask if the key
// is already bound — a configuration error meant to be detected at startup,
// not at request time.
func (r *Registry) Register(key TaskKey, handler TaskHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[key]; exists {
		return ErrDuplicateTask
	}
	r.handlers[key] = handler
	r.byModel[key.ModelName] = append(r.byModel[key.ModelName], key.TaskName)
	return nil
}

// RegisterModel registers every task a Model declares, under its own name.
func (r *Registry) RegisterModel(model Model) error {
	name := model.Name()
	for taskName, handler := range model.Tasks() {
		if err := r.Register(TaskKey{ModelName: name, TaskName: taskName}, handler); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the handler bound to key, if any.
func (r *Registry) Lookup(key TaskKey) (TaskHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[key]
	return h, ok
}

// TaskNamesFor returns the ordered list of task names declared by modelName.
func (r *Registry) TaskNamesFor(modelName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.byModel[modelName]
	out := make([]string, len(names))
	copy(out, names)
	return out
}
