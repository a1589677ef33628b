package task

import (
	"fmt"

	es "github.com/terraskye/eventsourced"
)

// Subtask is a child entity of Task. It only reacts to events addressed to
// its own id.
type Subtask struct {
	es.EntityBase

	id    string
	title string
	done  bool
}

var subtaskHandlers = es.NewEventHandlers(
	es.On(func(s *Subtask, e SubtaskAdded) {
		if e.SubtaskID == s.id {
			s.title = e.Title
		}
	}),
	es.On(func(s *Subtask, e SubtaskRenamed) {
		if e.SubtaskID == s.id {
			s.title = e.Title
		}
	}),
	es.On(func(s *Subtask, e SubtaskCompleted) {
		if e.SubtaskID == s.id {
			s.done = true
		}
	}),
)

func newSubtask(id string) *Subtask { return &Subtask{id: id} }

func (s *Subtask) ApplyEvent(msg es.Message) bool { return subtaskHandlers.Apply(s, msg) }

func (s *Subtask) ID() string    { return s.id }
func (s *Subtask) Title() string { return s.title }
func (s *Subtask) Done() bool    { return s.done }

// Complete records the completion through the owning task.
func (s *Subtask) Complete(root *Task) error {
	if err := s.checkRoot(root); err != nil {
		return err
	}
	if s.done {
		return fmt.Errorf("%w: %s", ErrSubtaskCompleted, s.id)
	}
	return es.RecordThat(root, SubtaskCompleted{TaskID: root.id, SubtaskID: s.id})
}

// Rename records a new title through the owning task.
func (s *Subtask) Rename(root *Task, title string) error {
	if err := s.checkRoot(root); err != nil {
		return err
	}
	if title == s.title {
		return nil
	}
	return es.RecordThat(root, SubtaskRenamed{TaskID: root.id, SubtaskID: s.id, Title: title})
}

func (s *Subtask) checkRoot(root *Task) error {
	key := es.NewStreamKey(root.AggregateType(), root.AggregateID())
	if registered, ok := s.AggregateRoot(); ok && registered != key {
		return &es.RegisterAggregateError{Registered: registered, Requested: key}
	}
	return nil
}
