package process

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflow/eventflow"
)

func TestPipelineRunsStagesInOrder(t *testing.T) {
	var order []string
	stamp := func(name string) StageFunc {
		return func(_ context.Context, env *eventflow.Envelope) (*eventflow.Envelope, error) {
			order = append(order, name)
			return env, nil
		}
	}

	p, err := NewPipeline(
		Stage{Name: "validate", Process: stamp("validate")},
		Stage{Name: "enrich", Process: stamp("enrich")},
		Stage{Name: "route", Process: stamp("route")},
	)
	require.NoError(t, err)

	in := testEnvelope(t, "order.placed")
	out, err := p.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Same(t, in, out)
	assert.Equal(t, []string{"validate", "enrich", "route"}, order)
	assert.Equal(t, []string{"validate", "enrich", "route"}, p.StageNames())
}

func TestPipelineTransformReplacesEnvelope(t *testing.T) {
	p, err := NewPipeline(Stage{Name: "retype", Process: func(_ context.Context, env *eventflow.Envelope) (*eventflow.Envelope, error) {
		return env.Clone(eventflow.Attributes{eventflow.AttrType: "order.enriched"})
	}})
	require.NoError(t, err)

	out, err := p.Process(context.Background(), testEnvelope(t, "order.placed"))
	require.NoError(t, err)
	assert.Equal(t, "order.enriched", out.Type())
}

func TestPipelineFilterShortCircuits(t *testing.T) {
	later := 0
	p, err := NewPipeline(
		Stage{Name: "drop", Process: func(context.Context, *eventflow.Envelope) (*eventflow.Envelope, error) {
			return nil, nil
		}},
		Stage{Name: "later", Process: func(_ context.Context, env *eventflow.Envelope) (*eventflow.Envelope, error) {
			later++
			return env, nil
		}},
	)
	require.NoError(t, err)

	out, err := p.Process(context.Background(), testEnvelope(t, "order.placed"))
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Zero(t, later)

	m, ok := p.Metrics("drop")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.Filtered)
	m, ok = p.Metrics("later")
	require.True(t, ok)
	assert.Zero(t, m.Processed)
}

func TestPipelineErrorNamesStage(t *testing.T) {
	boom := errors.New("lookup failed")
	p, err := NewPipeline(
		Stage{Name: "ok", Process: func(_ context.Context, env *eventflow.Envelope) (*eventflow.Envelope, error) {
			return env, nil
		}},
		Stage{Name: "enrich", Process: func(context.Context, *eventflow.Envelope) (*eventflow.Envelope, error) {
			return nil, boom
		}},
	)
	require.NoError(t, err)

	_, err = p.Process(context.Background(), testEnvelope(t, "order.placed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `stage "enrich"`)

	m, ok := p.Metrics("enrich")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.Errors)
	assert.Equal(t, int64(1), m.Processed)
}

func TestPipelineMetricsAccumulate(t *testing.T) {
	p, err := NewPipeline(Stage{Name: "pass", Process: func(_ context.Context, env *eventflow.Envelope) (*eventflow.Envelope, error) {
		return env, nil
	}})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := p.Process(context.Background(), testEnvelope(t, "order.placed"))
		require.NoError(t, err)
	}

	m, ok := p.Metrics("pass")
	require.True(t, ok)
	assert.Equal(t, int64(3), m.Processed)
	assert.Zero(t, m.Errors)
	assert.Zero(t, m.Filtered)

	_, ok = p.Metrics("missing")
	assert.False(t, ok)
}

func TestPipelineRejectsBadStages(t *testing.T) {
	_, err := NewPipeline(Stage{Name: "", Process: func(_ context.Context, env *eventflow.Envelope) (*eventflow.Envelope, error) {
		return env, nil
	}})
	assert.Error(t, err)

	_, err = NewPipeline(Stage{Name: "a", Process: nil})
	assert.Error(t, err)

	pass := func(_ context.Context, env *eventflow.Envelope) (*eventflow.Envelope, error) { return env, nil }
	_, err = NewPipeline(Stage{Name: "a", Process: pass}, Stage{Name: "a", Process: pass})
	assert.Error(t, err)
}
