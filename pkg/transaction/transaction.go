// Package transaction collects undo steps while a multi-step operation runs
// and replays them in reverse if the operation fails.
//
// A Transaction is single-owner: it is driven by one logical operation and
// is not safe for concurrent use.
//
//	tx := transaction.New(exec)
//	err := tx.Run(ctx, func(ctx context.Context) error {
//		if _, err := exec.Run(ctx, "mkdir /srv/app/releases/x"); err != nil {
//			return err
//		}
//		tx.OnRollbackCommand("rm -rf /srv/app/releases/x")
//		return populate(ctx)
//	})
package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Executor runs rollback commands.
type Executor interface {
	Run(ctx context.Context, command string) (string, error)
}

// Option configures a Transaction.
type Option func(*Transaction)

// WithLogger sets the logger rollback steps are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transaction) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transaction is an ordered list of undo steps armed by one operation.
type Transaction struct {
	exec    Executor
	actions []Action
	logger  *slog.Logger

	// committed is set by Commit and cleared when a new step is armed.
	committed bool
}

// New returns an empty Transaction that runs Command steps through exec.
func New(exec Executor, opts ...Option) *Transaction {
	t := &Transaction{
		exec:   exec,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "transaction")
	return t
}

// OnRollback arms an undo step. Nothing runs until Rollback.
func (t *Transaction) OnRollback(action Action) {
	t.actions = append(t.actions, action)
	t.committed = false
}

// OnRollbackCommand arms a shell command.
func (t *Transaction) OnRollbackCommand(cmd string) {
	t.OnRollback(Command{Cmd: cmd})
}

// OnRollbackFunc arms a named callback.
func (t *Transaction) OnRollbackFunc(name string, fn func(ctx context.Context) error) {
	t.OnRollback(Callback{Name: name, Fn: fn})
}

// Len returns the number of armed undo steps.
func (t *Transaction) Len() int {
	return len(t.actions)
}

// Commit disarms every undo step without running it.
// Committing twice without arming a new step in between counts once.
func (t *Transaction) Commit() {
	if !t.committed {
		recordCommit(context.Background(), len(t.actions))
	}
	t.actions = nil
	t.committed = true
}

// Rollback runs the armed undo steps most-recent-first. A failing step is
// logged and the remaining steps still run. The step list is empty when
// Rollback returns. The returned error joins every *StepError.
func (t *Transaction) Rollback(ctx context.Context) error {
	actions := t.actions
	t.actions = nil
	t.committed = false

	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(actions) - 1; i >= 0; i-- {
		action := actions[i]
		t.logger.Debug("rollback step", "index", i, "action", action.String())

		if err := t.execute(ctx, action); err != nil {
			stepErr := &StepError{Index: i, Action: action, Err: err}
			t.logger.Warn("rollback step failed", "index", i, "action", action.String(), "error", err)
			errs = append(errs, stepErr)
		}
	}

	recordRollback(ctx, len(actions), len(errs))
	return errors.Join(errs...)
}

// Run calls fn and commits when it returns nil. When fn returns an error or
// panics, the armed steps are rolled back and the original failure is
// surfaced to the caller.
func (t *Transaction) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if rbErr := t.Rollback(ctx); rbErr != nil {
			t.logger.Error("rollback after panic incomplete", "error", rbErr)
		}
		panic(r)
	}()

	if err := fn(ctx); err != nil {
		t.logger.Info("operation failed, rolling back", "steps", len(t.actions), "error", err)
		if rbErr := t.Rollback(ctx); rbErr != nil {
			return &FailedError{Err: err, RollbackErr: rbErr}
		}
		return err
	}

	t.Commit()
	return nil
}

// StepError is a rollback step that failed.
type StepError struct {
	Index  int
	Action Action
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("rollback step %d (%s): %v", e.Index, e.Action, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedError is returned by Run when the operation failed and the rollback
// did not complete cleanly. It reads as, and unwraps to, the original error.
type FailedError struct {
	Err         error
	RollbackErr error
}

func (e *FailedError) Error() string {
	return e.Err.Error()
}

func (e *FailedError) Unwrap() error {
	return e.Err
}
