package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
}

func (r *recorder) component(name string, startErr error) *Func {
	return &Func{
		ComponentName: name,
		StartFunc: func(context.Context) error {
			r.events = append(r.events, "start "+name)
			return startErr
		},
		StopFunc: func(context.Context) error {
			r.events = append(r.events, "stop "+name)
			return nil
		},
	}
}

func TestManagerOrder(t *testing.T) {
	rec := &recorder{}
	m := NewManager()
	require.NoError(t, m.Register(rec.component("watcher", nil), rec.component("loop", nil), rec.component("http", nil)))

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, []string{"watcher", "loop", "http"}, m.Running())

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{
		"start watcher", "start loop", "start http",
		"stop http", "stop loop", "stop watcher",
	}, rec.events)
	assert.Empty(t, m.Running())
}

func TestManagerStartRollback(t *testing.T) {
	rec := &recorder{}
	m := NewManager()
	require.NoError(t, m.Register(rec.component("a", nil), rec.component("b", errors.New("port in use")), rec.component("c", nil)))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialization failed for b: port in use")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, rec.events)
	assert.Empty(t, m.Running())
}

func TestManagerRegisterValidation(t *testing.T) {
	m := NewManager()
	c := &Func{ComponentName: "x"}

	require.NoError(t, m.Register(c))
	assert.Error(t, m.Register(c), "duplicate")
	assert.Error(t, m.Register(&Func{}), "empty name")
	assert.Error(t, m.Register(nil))
}

func TestManagerStopTimeout(t *testing.T) {
	m := NewManager()
	m.SetShutdownTimeout(10 * time.Millisecond)
	slow := &Func{
		ComponentName: "slow",
		StopFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	require.NoError(t, m.Register(slow))
	require.NoError(t, m.Start(context.Background()))

	err := m.Stop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
