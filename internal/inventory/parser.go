package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadInventory reads and validates an inventory file.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	inv, err := ParseInventory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}

	inv.Path = path
	return inv, nil
}

// ParseInventory decodes and validates inventory YAML.
func ParseInventory(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := decodeStrict(data, &inv); err != nil {
		return nil, fmt.Errorf("invalid inventory format: %w", err)
	}

	if inv.Hosts == nil {
		return nil, fmt.Errorf("the inventory content is missing the 'hosts' key")
	}

	if err := validate.Struct(&inv); err != nil {
		return nil, describeValidation(err)
	}

	for name, host := range inv.Hosts {
		host.Name = name
	}

	return &inv, nil
}

// LoadTasks reads and validates a todos file.
func LoadTasks(path string) ([]*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read todos: %w", err)
	}

	tasks, err := ParseTasks(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse todos %s: %w", path, err)
	}
	return tasks, nil
}

// ParseTasks decodes and validates a todos list, assigning 1-based indexes.
func ParseTasks(data []byte) ([]*Task, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("invalid todos format: %w", err)
	}
	if len(node.Content) == 0 || node.Content[0].Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("the todos content should be a list of tasks")
	}

	var tasks []*Task
	if err := decodeStrict(data, &tasks); err != nil {
		return nil, fmt.Errorf("invalid todos format: %w", err)
	}

	for i, task := range tasks {
		if task == nil {
			return nil, fmt.Errorf("task %d: empty task", i+1)
		}
		task.Index = i + 1
		if err := validate.Struct(task); err != nil {
			return nil, fmt.Errorf("task %d: %w", task.Index, describeValidation(err))
		}
		if task.Params == nil {
			task.Params = make(map[string]any)
		}
	}

	return tasks, nil
}

// decodeStrict unmarshals YAML, rejecting unknown fields.
func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("document is empty")
		}
		return err
	}
	return nil
}

// describeValidation turns validator errors into a readable message.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Inventory.")
		field = strings.TrimPrefix(field, "Task.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
