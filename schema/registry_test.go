package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflow/eventflow"
)

const ticketV1 = `{
	"type": "object",
	"properties": {
		"ticketId": {"type": "string"},
		"title": {"type": "string"}
	},
	"required": ["ticketId", "title"]
}`

const ticketV2 = `{
	"type": "object",
	"properties": {
		"ticketId": {"type": "string"},
		"title": {"type": "string"},
		"severity": {"type": "string", "enum": ["low", "medium", "high"]}
	},
	"required": ["ticketId", "title", "severity"]
}`

// migrateTicketV2 defaults the severity field 2.0 made required.
func migrateTicketV2(data []byte) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if _, ok := m["severity"]; !ok {
		m["severity"] = "medium"
	}
	return json.Marshal(m)
}

func TestRegisterRequiresInitialVersion(t *testing.T) {
	r := NewRegistry()
	err := r.Register("ticket.created", "2.0", ticketV2, nil)
	require.Error(t, err)

	require.NoError(t, r.Register("ticket.created", "1.0", ticketV1, nil))
	require.NoError(t, r.Register("ticket.created", "2.0", ticketV2, migrateTicketV2))
}

func TestRegisterRejectsDuplicatesAndBadVersions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ticket.created", "1.0", ticketV1, nil))
	assert.Error(t, r.Register("ticket.created", "1.0", ticketV1, nil))
	assert.Error(t, r.Register("ticket.created", "v2", ticketV2, nil))
	assert.Error(t, r.Register("", "1.0", ticketV1, nil))
	assert.Error(t, r.Register("ticket.created", "2.0", "{", nil))
}

func TestLatestOrdersBySemver(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ticket.created", "1.0", ticketV1, nil))
	require.NoError(t, r.Register("ticket.created", "10.0", ticketV2, nil))
	require.NoError(t, r.Register("ticket.created", "2.0", ticketV2, nil))

	latest, ok := r.Latest("ticket.created")
	require.True(t, ok)
	// Numeric ordering: 10.0 > 2.0, not lexicographic.
	assert.Equal(t, "10.0", latest.Version)
	assert.Equal(t, []string{"1.0", "2.0", "10.0"}, r.Versions("ticket.created"))
}

func TestValidateDataUsesLatest(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ticket.created", "1.0", ticketV1, nil))
	require.NoError(t, r.Register("ticket.created", "2.0", ticketV2, migrateTicketV2))

	// Valid under 1.0 but missing severity: rejected by the latest schema.
	v1Data := []byte(`{"ticketId":"t-1","title":"broken printer"}`)
	err := r.ValidateData("ticket.created", v1Data)
	var verr *eventflow.ValidationError
	require.ErrorAs(t, err, &verr)

	v2Data := []byte(`{"ticketId":"t-1","title":"broken printer","severity":"high"}`)
	require.NoError(t, r.ValidateData("ticket.created", v2Data))
}

func TestMigrateToLatest(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ticket.created", "1.0", ticketV1, nil))
	require.NoError(t, r.Register("ticket.created", "2.0", ticketV2, migrateTicketV2))

	v1Data := []byte(`{"ticketId":"t-1","title":"broken printer"}`)
	migrated, err := r.MigrateToLatest("ticket.created", v1Data, "1.0")
	require.NoError(t, err)

	// The migration defaulted the new required field; the result now
	// validates against 2.0.
	require.NoError(t, r.ValidateData("ticket.created", migrated))
	var m map[string]any
	require.NoError(t, json.Unmarshal(migrated, &m))
	assert.Equal(t, "medium", m["severity"])
}

func TestMigrateToLatestNoOpCases(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ticket.created", "1.0", ticketV1, nil))
	require.NoError(t, r.Register("ticket.created", "2.0", ticketV2, nil)) // no migration

	data := []byte(`{"ticketId":"t-1","title":"x"}`)

	// Already at latest.
	out, err := r.MigrateToLatest("ticket.created", data, "2.0")
	require.NoError(t, err)
	assert.Equal(t, data, out)

	// No migration registered: data passes through unchanged.
	out, err = r.MigrateToLatest("ticket.created", data, "1.0")
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestUnknownTypeListsKnown(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ticket.created", "1.0", ticketV1, nil))

	err := r.ValidateData("ticket.deleted", nil)
	var uerr *eventflow.UnsupportedTypeError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, []string{"ticket.created"}, uerr.Known)

	_, err = r.MigrateToLatest("ticket.deleted", nil, "1.0")
	require.ErrorAs(t, err, &uerr)
}

func TestRegistryResolvesForEnvelopes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ticket.created", "1.0", ticketV1, nil))

	assert.True(t, r.Has("ticket.created"))
	assert.False(t, r.Has("ticket.deleted"))

	env, err := eventflow.New(eventflow.Attributes{
		eventflow.AttrType:   "ticket.created",
		eventflow.AttrSource: "test/tickets",
	}, map[string]any{"ticketId": "t-1", "title": "x"}, eventflow.WithResolver(r))
	require.NoError(t, err)
	assert.Equal(t, "ticket.created", env.Type())
}

func TestCatalog(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ticket.created", "1.0", ticketV1, nil))
	require.NoError(t, r.Register("ticket.created", "2.0", ticketV2, nil))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(r.Catalog(), &doc))
	defs, ok := doc["$defs"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, defs, "ticket.created")
}
