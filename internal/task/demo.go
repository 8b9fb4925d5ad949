package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// DefaultKinds registers the demo kinds shipped with the binary.
func DefaultKinds() *Registry {
	r := NewRegistry()

	// demo: work through batches, checkpointing after each one
	r.Register(Kind{
		Name:        "demo",
		Description: "process --batches batches of --delay each, checkpointing in between",
		Body:        demoBody,
	})

	// fail: finish with an error of the requested kind
	r.Register(Kind{
		Name:        "fail",
		Description: "fail with --mode=failure|recoverable|exception|panic",
		Body:        failBody,
	})

	return r
}

func demoBody(ctx context.Context, tc *TaskContext) error {
	fs := pflag.NewFlagSet("demo", pflag.ContinueOnError)
	batches := fs.Int("batches", 5, "number of batches")
	delay := fs.Duration("delay", 200*time.Millisecond, "time spent per batch")
	if err := fs.Parse(tc.Args()); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArguments, err)
	}

	for i := 1; i <= *batches; i++ {
		for half := 0; half < 2; half++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(*delay / 2):
			}
			// mid-batch: may sleep, must not end the task
			if half == 0 {
				if err := tc.Checkpoint(ctx, false); err != nil {
					return err
				}
			}
		}
		if err := tc.UpdateProgress(ctx, fmt.Sprintf("Done %d out of %d batches", i, *batches)); err != nil {
			return err
		}
		if err := tc.Checkpoint(ctx, true); err != nil {
			return err
		}
	}
	return nil
}

func failBody(ctx context.Context, tc *TaskContext) error {
	fs := pflag.NewFlagSet("fail", pflag.ContinueOnError)
	mode := fs.String("mode", "failure", "failure, recoverable, exception or panic")
	if err := fs.Parse(tc.Args()); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArguments, err)
	}

	switch *mode {
	case "failure":
		return Failed(errors.New("requested failure for demo"))
	case "recoverable":
		return Recoverable(errors.New("requested recoverable error for demo"))
	case "exception":
		return errors.New("requested exception for demo")
	case "panic":
		panic("requested panic for demo")
	}
	return fmt.Errorf("%w: unknown mode %q", ErrBadArguments, *mode)
}
