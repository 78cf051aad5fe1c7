// Package task defines the unit of work flowing between the web
// frontend, the queue daemon and workers: a model reference, a submitter
// address and a validated parameter set.
package task

import (
	"errors"
	"fmt"

	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/model"
	"github.com/ternarybob/numerus/internal/params"
)

// ErrUnknownModel marks a record whose (model, version) pair is not in
// the registry, typically after a definition file disappeared between
// submission and execution.
var ErrUnknownModel = errors.New("unknown model version")

// Record is the wire and snapshot form of a task. The exact field names
// are shared by the HTTP API and the durable queue snapshot.
type Record struct {
	EmailAddress    string                       `json:"emailAddress"`
	TaskID          uint64                       `json:"taskId"`
	VisibleID       string                       `json:"visibleId"`
	FailureCount    int                          `json:"failureCount"`
	ModelName       string                       `json:"modelName"`
	ModelVersion    string                       `json:"modelVersion"`
	ModelParameters map[string]params.Serialized `json:"modelParameters"`
}

// Task is a record resolved against a model definition, with parameters
// validated and ordered as the definition declares them.
type Task struct {
	EmailAddress string
	TaskID       uint64
	VisibleID    string
	FailureCount int
	Definition   *model.Definition
	Parameters   []params.Value
}

// New builds a task for a fresh submission. The visible id is the short
// slug users see in emails and subjects.
func New(def *model.Definition, emailAddress string, taskID uint64, values []params.Value) *Task {
	return &Task{
		EmailAddress: emailAddress,
		TaskID:       taskID,
		VisibleID:    common.NewVisibleID(),
		Definition:   def,
		Parameters:   values,
	}
}

// Record converts the task to its wire form.
func (t *Task) Record() Record {
	modelParams := make(map[string]params.Serialized, len(t.Parameters))
	for _, v := range t.Parameters {
		modelParams[v.Spec.Name] = v.Serialize()
	}
	return Record{
		EmailAddress:    t.EmailAddress,
		TaskID:          t.TaskID,
		VisibleID:       t.VisibleID,
		FailureCount:    t.FailureCount,
		ModelName:       t.Definition.ShortName,
		ModelVersion:    t.Definition.Version,
		ModelParameters: modelParams,
	}
}

// FromRecord resolves a record against the registry and revalidates its
// parameters. Parameters are ordered as the definition declares them;
// missing ones take their non-exist value (false for booleans).
func FromRecord(registry *model.Registry, rec Record) (*Task, error) {
	def, ok := registry.Get(rec.ModelName, rec.ModelVersion)
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrUnknownModel, rec.ModelName, rec.ModelVersion)
	}

	values := make([]params.Value, 0, len(def.Parameters))
	for i := range def.Parameters {
		spec := &def.Parameters[i]

		serialized, present := rec.ModelParameters[spec.Name]
		var (
			v   params.Value
			err error
		)
		if present {
			v, err = spec.Deserialize(serialized)
		} else {
			v, err = spec.NonExistValue()
		}
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", rec.TaskID, err)
		}
		values = append(values, v)
	}

	for name := range rec.ModelParameters {
		if def.Parameter(name) == nil {
			return nil, fmt.Errorf("task %d: parameter %q not declared by %s@%s",
				rec.TaskID, name, rec.ModelName, rec.ModelVersion)
		}
	}

	return &Task{
		EmailAddress: rec.EmailAddress,
		TaskID:       rec.TaskID,
		VisibleID:    rec.VisibleID,
		FailureCount: rec.FailureCount,
		Definition:   def,
		Parameters:   values,
	}, nil
}
