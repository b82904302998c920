package transaction

import (
	"context"
	"fmt"
)

// Action is a recorded undo step. It is either a Command or a Callback.
type Action interface {
	fmt.Stringer
	isAction()
}

// Command is a shell command run through the transaction's Executor.
type Command struct {
	Cmd string
}

func (Command) isAction() {}

func (c Command) String() string {
	return c.Cmd
}

// Callback is invoked directly.
type Callback struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (Callback) isAction() {}

func (c Callback) String() string {
	if c.Name == "" {
		return "callback"
	}
	return c.Name
}

func (t *Transaction) execute(ctx context.Context, action Action) error {
	switch a := action.(type) {
	case Command:
		if t.exec == nil {
			return fmt.Errorf("no executor for command %q", a.Cmd)
		}
		_, err := t.exec.Run(ctx, a.Cmd)
		return err
	case Callback:
		if a.Fn == nil {
			return nil
		}
		return callSafely(ctx, a.Fn)
	default:
		return fmt.Errorf("unsupported rollback action %T", action)
	}
}

// callSafely turns a panicking callback into an error so the remaining
// rollback steps still run.
func callSafely(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return fn(ctx)
}
