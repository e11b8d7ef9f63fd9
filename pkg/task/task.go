package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task is one user-submitted model execution request. The JSON shape is
// the wire representation exchanged between web, queue and workers;
// lifecycle bookkeeping stays queue-side and never crosses the wire.
type Task struct {
	ID           string           `json:"taskId"`
	ModelName    string           `json:"modelName"`
	ModelVersion string           `json:"modelVersion"`
	EmailAddress string           `json:"emailAddress"`
	Parameters   map[string]Value `json:"modelParameters"`

	State            State     `json:"-"`
	ConfirmationCode string    `json:"-"`
	CreatedAt        time.Time `json:"-"`
	ConfirmedAt      time.Time `json:"-"`
	LastHeartbeatAt  time.Time `json:"-"`
}

// New creates an unconfirmed task for the given model with a fresh ID.
func New(modelName, modelVersion, email string, params map[string]Value) *Task {
	return &Task{
		ID:           uuid.New().String(),
		ModelName:    modelName,
		ModelVersion: modelVersion,
		EmailAddress: email,
		Parameters:   params,
		State:        StateUnconfirmed,
	}
}

// Validate checks the task's parameters against the model spec: every
// declared parameter must be present and pass its constraints, and no
// undeclared parameter may appear.
func (t *Task) Validate(spec *ModelSpec) error {
	if t.EmailAddress == "" {
		return &ValidationError{Param: "email", Message: "email address is required"}
	}
	for i := range spec.Parameters {
		p := &spec.Parameters[i]
		v, ok := t.Parameters[p.Name]
		if !ok {
			return &ValidationError{Param: p.Name, Message: "missing value"}
		}
		if err := p.Validate(v); err != nil {
			return err
		}
	}
	for name := range t.Parameters {
		if spec.Param(name) == nil {
			return &ValidationError{Param: name, Message: "not declared by the model"}
		}
	}
	return nil
}

// Equal compares two tasks under parameter-value semantics.
func (t *Task) Equal(o *Task) bool {
	if t.ID != o.ID || t.ModelName != o.ModelName ||
		t.ModelVersion != o.ModelVersion || t.EmailAddress != o.EmailAddress {
		return false
	}
	if len(t.Parameters) != len(o.Parameters) {
		return false
	}
	for name, v := range t.Parameters {
		ov, ok := o.Parameters[name]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Ref renders a compact model reference for logs, e.g. "abmb_c/1".
func (t *Task) Ref() string {
	return fmt.Sprintf("%s/%s", t.ModelName, t.ModelVersion)
}
