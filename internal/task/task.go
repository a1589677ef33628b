// Package task is a small event-sourced domain: a task with a description
// and a list of subtasks, each subtask being a child entity of the task.
package task

import (
	"errors"
	"fmt"
	"slices"

	es "github.com/terraskye/eventsourced"
)

var (
	ErrEmptyDescription = errors.New("task description is empty")
	ErrSubtaskNotFound  = errors.New("subtask not found")
	ErrSubtaskExists    = errors.New("subtask already exists")
	ErrSubtaskCompleted = errors.New("subtask already completed")
)

// Task is the aggregate root.
type Task struct {
	es.AggregateRoot

	id          string
	description string
	subtasks    []*Subtask
}

var taskHandlers = es.NewEventHandlers(
	es.On(func(t *Task, e TaskCreated) {
		t.id = e.TaskID
		t.description = e.Description
	}),
	es.On(func(t *Task, e DescriptionChanged) {
		t.description = e.Description
	}),
	es.On(func(t *Task, e SubtaskAdded) {
		t.subtasks = append(t.subtasks, newSubtask(e.SubtaskID))
	}),
)

// New returns a blank task to replay history into.
func New() *Task { return &Task{} }

// Create starts a new task.
func Create(id, description string) (*Task, error) {
	if description == "" {
		return nil, ErrEmptyDescription
	}
	t := &Task{id: id}
	if err := es.RecordThat(t, TaskCreated{TaskID: id, Description: description}); err != nil {
		return nil, err
	}
	return t, nil
}

// Reconstitute rebuilds a task from its history.
func Reconstitute(stream *es.Stream) (*Task, error) {
	return es.Reconstitute(New, stream)
}

// Register makes tasks known to f.
func Register(f *es.AggregateFactory) {
	es.RegisterAggregate(f, AggregateType, New)
}

func (t *Task) AggregateID() string             { return t.id }
func (t *Task) AggregateType() es.AggregateType { return AggregateType }
func (t *Task) ApplyEvent(msg es.Message) bool  { return taskHandlers.Apply(t, msg) }

func (t *Task) ChildEntities() []es.Entity {
	out := make([]es.Entity, len(t.subtasks))
	for i, s := range t.subtasks {
		out[i] = s
	}
	return out
}

func (t *Task) ID() string          { return t.id }
func (t *Task) Description() string { return t.description }

// Subtasks returns the subtasks in the order they were added.
func (t *Task) Subtasks() []*Subtask { return slices.Clone(t.subtasks) }

// Subtask returns the subtask with the given id.
func (t *Task) Subtask(id string) (*Subtask, error) {
	for _, s := range t.subtasks {
		if s.id == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSubtaskNotFound, id)
}

// ChangeDescription replaces the description. Setting the current
// description again records nothing.
func (t *Task) ChangeDescription(description string) error {
	if description == "" {
		return ErrEmptyDescription
	}
	if description == t.description {
		return nil
	}
	return es.RecordThat(t, DescriptionChanged{TaskID: t.id, Description: description})
}

// AddSubtask adds a subtask with the given id and title.
func (t *Task) AddSubtask(id, title string) error {
	if _, err := t.Subtask(id); err == nil {
		return fmt.Errorf("%w: %s", ErrSubtaskExists, id)
	}
	return es.RecordThat(t, SubtaskAdded{TaskID: t.id, SubtaskID: id, Title: title})
}

// CompleteSubtask marks the subtask as done.
func (t *Task) CompleteSubtask(id string) error {
	s, err := t.Subtask(id)
	if err != nil {
		return err
	}
	return s.Complete(t)
}

// RenameSubtask changes the title of a subtask.
func (t *Task) RenameSubtask(id, title string) error {
	s, err := t.Subtask(id)
	if err != nil {
		return err
	}
	return s.Rename(t, title)
}

// OpenSubtasks counts the subtasks not completed yet.
func (t *Task) OpenSubtasks() int {
	n := 0
	for _, s := range t.subtasks {
		if !s.done {
			n++
		}
	}
	return n
}
