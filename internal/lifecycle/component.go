package lifecycle

import "context"

// Component is a long-running part of the process that the Manager starts
// and stops.
type Component interface {
	// Start launches the component. It must return once the component is
	// ready and leave background work running until Stop.
	Start(ctx context.Context) error

	// Stop shuts the component down within the context deadline.
	Stop(ctx context.Context) error

	// Name is used in logs and errors. Must not be empty.
	Name() string
}

// Func adapts a pair of functions to the Component interface
type Func struct {
	ComponentName string
	StartFunc     func(ctx context.Context) error
	StopFunc      func(ctx context.Context) error
}

func (f *Func) Name() string { return f.ComponentName }

func (f *Func) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f *Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}
