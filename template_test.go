package eventflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateInstantiate(t *testing.T) {
	tmpl := Template{Attributes: Attributes{
		AttrType:    "ticket.created",
		AttrSource:  "{service}",
		AttrSubject: "{region}",
	}}

	env, err := tmpl.Instantiate(map[string]any{
		"service": "test/tickets",
		"region":  "eu-central",
	}, map[string]any{"ticketId": "t-1"})
	require.NoError(t, err)

	assert.Equal(t, "ticket.created", env.Type())
	assert.Equal(t, "test/tickets", env.Source())
	assert.Equal(t, "eu-central", env.Subject())
}

func TestTemplateMissingField(t *testing.T) {
	tmpl := Template{Attributes: Attributes{
		AttrType:   "ticket.created",
		AttrSource: "{service}",
	}}

	_, err := tmpl.Instantiate(map[string]any{}, nil)
	var merr *MissingFieldError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "service", merr.Field)
}

func TestTemplateLiteralBraces(t *testing.T) {
	// "{}" and plain strings are literals, not placeholders.
	tmpl := Template{Attributes: Attributes{
		AttrType:   "ticket.created",
		AttrSource: "test/tickets",
	}}
	env, err := tmpl.Instantiate(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "test/tickets", env.Source())
}
