package eventflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderSchema = `{
	"type": "object",
	"properties": {
		"orderId": {"type": "string"},
		"amount": {"type": "number", "minimum": 0},
		"priority": {"type": "string", "enum": ["low", "normal", "high"]}
	},
	"required": ["orderId", "amount"]
}`

type order struct {
	OrderID  string  `json:"orderId"`
	Amount   float64 `json:"amount"`
	Priority string  `json:"priority,omitempty"`
}

func baseAttrs() Attributes {
	return Attributes{
		AttrType:   "order.placed",
		AttrSource: "test/orders",
	}
}

func TestNewDefaults(t *testing.T) {
	env, err := New(baseAttrs(), order{OrderID: "o-1", Amount: 99.99})
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID())
	assert.Equal(t, "order.placed", env.Type())
	assert.Equal(t, "test/orders", env.Source())
	assert.Equal(t, SpecVersion, env.Attributes[AttrSpecVersion])
	assert.False(t, env.Time().IsZero())

	ct, ok := env.Attributes.DataContentType()
	require.True(t, ok)
	assert.Equal(t, DefaultContentType, ct)

	// A fresh envelope starts its own chain.
	assert.Equal(t, env.ID(), env.CorrelationID())
	assert.Empty(t, env.CausationID())
	require.NotNil(t, env.Telemetry)
}

func TestNewKeepsCallerIdentifiers(t *testing.T) {
	attrs := baseAttrs()
	attrs[AttrID] = "fixed-id"
	attrs[AttrCorrelationID] = "chain-7"

	env, err := New(attrs, nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", env.ID())
	assert.Equal(t, "chain-7", env.CorrelationID())
}

func TestNewCollectsAllAttributeIssues(t *testing.T) {
	_, err := New(Attributes{
		AttrSpecVersion: "2.0",
		AttrTime:        "not-a-time",
	}, nil)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "attributes", verr.Subject)
	// specversion, source, type, time. id defaults before validation.
	assert.Len(t, verr.Issues, 4)

	paths := make(map[string]bool)
	for _, issue := range verr.Issues {
		paths[issue.Path] = true
	}
	assert.True(t, paths["/specversion"])
	assert.True(t, paths["/source"])
	assert.True(t, paths["/type"])
	assert.True(t, paths["/time"])
}

func TestNewValidatesDataAgainstSchema(t *testing.T) {
	_, err := New(baseAttrs(), order{OrderID: "o-1", Amount: 10},
		WithSchema(orderSchema))
	require.NoError(t, err)

	_, err = New(baseAttrs(), map[string]any{"orderId": "o-2", "amount": 10, "priority": "urgent"},
		WithSchema(orderSchema))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "data", verr.Subject)
	require.NotEmpty(t, verr.Issues)
	assert.Contains(t, verr.Issues[0].Path, "priority")
}

func TestNewRejectsBadSchema(t *testing.T) {
	_, err := New(baseAttrs(), nil, WithSchema("{"))
	require.Error(t, err)
}

func TestResponseChainInvariants(t *testing.T) {
	root, err := New(baseAttrs(), order{OrderID: "o-1", Amount: 1})
	require.NoError(t, err)

	chain := []*Envelope{root}
	types := []string{"order.validated", "order.shipped", "order.closed"}
	for _, typ := range types {
		next, err := chain[len(chain)-1].Response(typ, nil)
		require.NoError(t, err)
		chain = append(chain, next)
	}

	for i, env := range chain {
		assert.Equal(t, root.ID(), env.CorrelationID(), "chain member %d", i)
		if i > 0 {
			assert.Equal(t, chain[i-1].ID(), env.CausationID(), "chain member %d", i)
			assert.NotEqual(t, chain[i-1].ID(), env.ID())
		}
	}
}

func TestResponseForwardsTraceContext(t *testing.T) {
	attrs := baseAttrs()
	attrs[AttrTraceparent] = "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"
	attrs[AttrTracestate] = "vendor=opaque"

	parent, err := New(attrs, nil)
	require.NoError(t, err)
	child, err := parent.Response("order.validated", nil)
	require.NoError(t, err)

	childTP, ok := child.Attributes.Traceparent()
	require.True(t, ok)
	// Same trace, fresh span.
	assert.Contains(t, childTP, "0af7651916cd43dd8448eb211c80319c")
	assert.NotContains(t, childTP, "b7ad6b7169203331")

	state, ok := child.Attributes.Tracestate()
	require.True(t, ok)
	assert.Equal(t, "vendor=opaque", state)
}

func TestCloneBranchesChain(t *testing.T) {
	env, err := New(baseAttrs(), order{OrderID: "o-1", Amount: 5})
	require.NoError(t, err)

	clone, err := env.Clone(Attributes{AttrSubject: "replay"})
	require.NoError(t, err)
	assert.NotEqual(t, env.ID(), clone.ID())
	assert.Equal(t, env.Type(), clone.Type())
	assert.Equal(t, "replay", clone.Subject())
	assert.JSONEq(t, string(env.Data), string(clone.Data))
}

func TestUnmarshalData(t *testing.T) {
	env, err := New(baseAttrs(), order{OrderID: "o-9", Amount: 12.5})
	require.NoError(t, err)

	var got order
	require.NoError(t, env.UnmarshalData(&got))
	assert.Equal(t, "o-9", got.OrderID)
	assert.Equal(t, 12.5, got.Amount)

	empty := &Envelope{Attributes: baseAttrs()}
	var serr *SerializationError
	require.ErrorAs(t, empty.UnmarshalData(&got), &serr)
}

func TestValidateChecksBothLayers(t *testing.T) {
	env, err := New(baseAttrs(), order{OrderID: "o-1", Amount: 3},
		WithSchema(orderSchema))
	require.NoError(t, err)
	require.NoError(t, env.Validate(WithSchema(orderSchema)))

	// Invalid enum in data fails data validation, attributes unaffected.
	env.Data = json.RawMessage(`{"orderId":"o-1","amount":3,"priority":"urgent"}`)
	err = env.Validate(WithSchema(orderSchema))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "data", verr.Subject)
}

func TestWithClockAndDeterministicTime(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env, err := New(baseAttrs(), nil, withClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	assert.True(t, env.Time().Equal(fixed))
}
