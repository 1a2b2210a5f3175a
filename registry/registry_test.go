package registry

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/vinayprograms/schedkit/contexts"
	"github.com/vinayprograms/schedkit/errors"
	"github.com/vinayprograms/schedkit/tasks"
)

func noopFactory(cfg tasks.Config) (tasks.Runner, error) {
	return tasks.StepFunc(func(ctx context.Context, ec *contexts.Context) (bool, error) {
		return true, nil
	}), nil
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	r := New()
	if err := r.Register(tasks.Type("noop"), noopFactory); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	unit, err := r.Create(tasks.Config{ID: uuid.New(), Type: tasks.Type("noop")})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if unit.State() != tasks.StateCreated {
		t.Errorf("unit state = %s, want %s", unit.State(), tasks.StateCreated)
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := New()
	if err := r.Register(tasks.Type("noop"), noopFactory); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Register(tasks.Type("noop"), noopFactory); !errors.Is(err, errors.CodeDuplicateTask) {
		t.Errorf("re-Register() code = %v, want DUPLICATE_TASK", errors.GetCode(err))
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := New()
	if err := r.Register("", noopFactory); !errors.Is(err, errors.CodeInvalidConfig) {
		t.Errorf("Register(empty type) code = %v, want INVALID_CONFIG", errors.GetCode(err))
	}
	if err := r.Register(tasks.Type("x"), nil); !errors.Is(err, errors.CodeInvalidConfig) {
		t.Errorf("Register(nil factory) code = %v, want INVALID_CONFIG", errors.GetCode(err))
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	r := New()
	_, err := r.Create(tasks.Config{ID: uuid.New(), Type: tasks.Type("ghost")})
	if !errors.Is(err, errors.CodeTaskTypeUnknown) {
		t.Errorf("Create() code = %v, want TASK_TYPE_UNKNOWN", errors.GetCode(err))
	}
}

func TestRegistry_Types(t *testing.T) {
	r := New()
	r.Register(tasks.Type("zeta"), noopFactory)
	r.Register(tasks.Type("alpha"), noopFactory)

	types := r.Types()
	if len(types) != 2 || types[0] != tasks.Type("alpha") || types[1] != tasks.Type("zeta") {
		t.Errorf("Types() = %v, want [alpha zeta]", types)
	}
}

func TestDefault_BuiltinTypes(t *testing.T) {
	r := Default()

	types := r.Types()
	if len(types) != 2 {
		t.Fatalf("Default() has %d types, want 2: %v", len(types), types)
	}

	if _, err := r.Create(tasks.Config{ID: uuid.New(), Type: tasks.TypeFile,
		Payload: map[string]any{"operation": "read", "path": "/tmp/x"}}); err != nil {
		t.Errorf("Create(file) error: %v", err)
	}
	if _, err := r.Create(tasks.Config{ID: uuid.New(), Type: tasks.TypeHTTP,
		Payload: map[string]any{"url": "http://localhost"}}); err != nil {
		t.Errorf("Create(http) error: %v", err)
	}
}
