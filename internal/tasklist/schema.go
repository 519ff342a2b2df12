package tasklist

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mohammad-safakhou/glance/internal/executor"
)

//go:embed task_schema.json
var taskSchemaJSON string

// Document is the declarative task list a host submits to run a request's
// DAG. Operator kinds are a closed set; anything else fails validation.
type Document struct {
	Version string     `json:"version,omitempty"`
	Tasks   []TaskSpec `json:"tasks"`
}

// TaskSpec models a single node of the submitted task list.
type TaskSpec struct {
	ID           int    `json:"id"`
	OperatorKind string `json:"operator_kind"`
	RendererHint string `json:"renderer_hint,omitempty"`
	DependsOn    []int  `json:"depends_on,omitempty"`
	Status       string `json:"status,omitempty"`
	Result       any    `json:"result,omitempty"`
}

var (
	compileOnce sync.Once
	taskSchema  *jsonschema.Schema
	compileErr  error
)

// Schema returns the compiled JSON Schema for task list documents.
func Schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("task_schema.json", strings.NewReader(taskSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("task_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile task list schema: %w", err)
			return
		}
		taskSchema = schema
	})
	return taskSchema, compileErr
}

// ValidateDocument validates the provided JSON bytes against the task schema.
func ValidateDocument(data []byte) error {
	schema, err := Schema()
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("task list is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("task list does not match schema: %w", err)
	}
	return nil
}

// ParseDocument validates and decodes a task list document.
func ParseDocument(data []byte) (Document, error) {
	if err := ValidateDocument(data); err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode task list: %w", err)
	}
	return doc, nil
}

// Graph converts the document into a validated execution graph. Duplicate
// ids, unknown dependencies and cycles are rejected here; the schema cannot
// see cross-task references.
func (d Document) Graph() (*executor.Graph, error) {
	tasks := make([]executor.Task, 0, len(d.Tasks))
	for _, spec := range d.Tasks {
		tasks = append(tasks, executor.Task{
			ID:           spec.ID,
			Operator:     executor.Operator(spec.OperatorKind),
			RendererHint: spec.RendererHint,
			DependsOn:    spec.DependsOn,
			Status:       executor.Status(spec.Status),
		})
	}
	return executor.NewGraph(tasks)
}
