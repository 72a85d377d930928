package eventflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

const sampleTraceparent = "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"

func TestParseTraceparentRoundTrip(t *testing.T) {
	sc, err := ParseTraceparent(sampleTraceparent)
	require.NoError(t, err)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", sc.TraceID().String())
	assert.Equal(t, "b7ad6b7169203331", sc.SpanID().String())
	assert.Equal(t, trace.FlagsSampled, sc.TraceFlags())

	assert.Equal(t, sampleTraceparent, FormatTraceparent(sc))
}

func TestParseTraceparentRejectsMalformed(t *testing.T) {
	for _, header := range []string{
		"",
		"00-abc",
		"99-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
		"00-zzzz651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
		"00-0af7651916cd43dd8448eb211c80319c-zzzzzb7169203331-01",
	} {
		_, err := ParseTraceparent(header)
		assert.Error(t, err, "header %q", header)
	}
}

func TestChildTraceparent(t *testing.T) {
	child, err := ChildTraceparent(sampleTraceparent)
	require.NoError(t, err)

	sc, err := ParseTraceparent(child)
	require.NoError(t, err)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", sc.TraceID().String())
	assert.NotEqual(t, "b7ad6b7169203331", sc.SpanID().String())
	assert.Equal(t, trace.FlagsSampled, sc.TraceFlags())
}
