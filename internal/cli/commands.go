package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	es "github.com/terraskye/eventsourced"
	"github.com/terraskye/eventsourced/internal/task"
)

func (a *App) newCreateCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				t, err := task.Create(id, args[0])
				if err != nil {
					return err
				}
				if err := rt.tasks.Save(cmd.Context(), t); err != nil {
					return err
				}
				rt.logger.InfoContext(cmd.Context(), "task created", slog.String("task_id", id))
				fmt.Fprintln(a.stdout, id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Task id (generated if empty)")

	return cmd
}

func (a *App) newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <task-id> <description>",
		Short: "Change the description of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.update(cmd.Context(), args[0], func(t *task.Task) error {
				return t.ChangeDescription(args[1])
			})
		},
	}
}

func (a *App) newAddSubtaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-subtask <task-id> <subtask-id> <title>",
		Short: "Add a subtask to a task",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.update(cmd.Context(), args[0], func(t *task.Task) error {
				return t.AddSubtask(args[1], args[2])
			})
		},
	}
}

func (a *App) newRenameSubtaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename-subtask <task-id> <subtask-id> <title>",
		Short: "Rename a subtask",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.update(cmd.Context(), args[0], func(t *task.Task) error {
				return t.RenameSubtask(args[1], args[2])
			})
		},
	}
}

func (a *App) newCompleteSubtaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete-subtask <task-id> <subtask-id>",
		Short: "Mark a subtask as done",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.update(cmd.Context(), args[0], func(t *task.Task) error {
				return t.CompleteSubtask(args[1])
			})
		},
	}
}

// update runs fn on the task with the repository's retry loop and prints the
// version the task reached.
func (a *App) update(ctx context.Context, id string, fn func(*task.Task) error) error {
	return a.withRuntime(ctx, func(rt *runtime) error {
		t, err := rt.tasks.Update(ctx, id, fn)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s at version %s\n", id, t.CommittedVersion())
		return nil
	})
}

func (a *App) newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the current state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				stream, err := rt.store.Load(cmd.Context(), args[0], task.AggregateType)
				if err != nil {
					return err
				}
				t, err := es.ReconstituteAs[*task.Task](rt.factory, task.AggregateType, stream)
				if err != nil {
					return err
				}

				fmt.Fprintf(a.stdout, "task %s (version %s)\n", t.ID(), t.CommittedVersion())
				fmt.Fprintf(a.stdout, "description: %s\n", t.Description())
				subtasks := t.Subtasks()
				if len(subtasks) == 0 {
					return nil
				}
				fmt.Fprintf(a.stdout, "subtasks (%d open):\n", t.OpenSubtasks())
				for _, s := range subtasks {
					mark := " "
					if s.Done() {
						mark = "x"
					}
					fmt.Fprintf(a.stdout, "  [%s] %s %s\n", mark, s.ID(), s.Title())
				}
				return nil
			})
		},
	}
}

func (a *App) newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "List the events of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				stream, err := rt.store.Load(cmd.Context(), args[0], task.AggregateType)
				if err != nil {
					return err
				}
				for msg := range stream.All() {
					payload, err := json.Marshal(msg.Payload())
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "%d\t%s\t%s\t%s\n",
						msg.Sequence(),
						msg.Timestamp().UTC().Format(time.RFC3339),
						msg.PayloadType(),
						payload,
					)
				}
				return nil
			})
		},
	}
}
