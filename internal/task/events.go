package task

import es "github.com/terraskye/eventsourced"

// AggregateType is the type tag of task streams.
const AggregateType es.AggregateType = "task"

type TaskCreated struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
}

func (TaskCreated) EventType() string { return "TaskCreated" }

type DescriptionChanged struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
}

func (DescriptionChanged) EventType() string { return "DescriptionChanged" }

type SubtaskAdded struct {
	TaskID    string `json:"task_id"`
	SubtaskID string `json:"subtask_id"`
	Title     string `json:"title"`
}

func (SubtaskAdded) EventType() string { return "SubtaskAdded" }

type SubtaskRenamed struct {
	TaskID    string `json:"task_id"`
	SubtaskID string `json:"subtask_id"`
	Title     string `json:"title"`
}

func (SubtaskRenamed) EventType() string { return "SubtaskRenamed" }

type SubtaskCompleted struct {
	TaskID    string `json:"task_id"`
	SubtaskID string `json:"subtask_id"`
}

func (SubtaskCompleted) EventType() string { return "SubtaskCompleted" }

// Events returns a zero value of every task event.
func Events() []es.Event {
	return []es.Event{
		TaskCreated{},
		DescriptionChanged{},
		SubtaskAdded{},
		SubtaskRenamed{},
		SubtaskCompleted{},
	}
}

// RegisterEvents registers all task events in r.
func RegisterEvents(r *es.Registry) {
	for _, ev := range Events() {
		r.RegisterByType(func() es.Event { return ev })
	}
}

func init() {
	RegisterEvents(es.DefaultRegistry)
}
