package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func decodeGuild(t *testing.T, raw string) StoredGuild {
	t.Helper()
	var g StoredGuild
	require.NoError(t, json.Unmarshal([]byte(raw), &g))
	return g
}

// =============================================================================
// DETECTION
// =============================================================================

func TestStoredGuild_DetectsLegacyByKeyPresence(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		legacy bool
	}{
		{"current layout", `{"channels": {"_server": {"party": {"big": 1}, "members": {}}}}`, false},
		{"empty object", `{}`, false},
		{"party only", `{"party": {"big": 2}}`, true},
		{"members only", `{"members": {"7": {"coins": 1}}}`, true},
		{"null party still legacy", `{"party": null}`, true},
		{"legacy next to channels", `{"channels": {}, "members": {}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.legacy, decodeGuild(t, tt.raw).IsLegacy())
		})
	}
}

// =============================================================================
// MIGRATION
// =============================================================================

func TestMigrate_LegacyMovesUnderServerScope(t *testing.T) {
	// GIVEN: A guild saved before channels existed
	g := decodeGuild(t, `{"party": {"big": 3}, "members": {"42": {"coins": 1}, "43": {"coins": 0}}}`)

	// WHEN: Migrating
	cur := g.Current()

	// THEN: The ledger lives under _server with every value preserved
	require.Len(t, cur.Channels, 1)
	server := cur.Channels[ServerScope]
	assert.Equal(t, int64(3), server.Party.Big)
	assert.Equal(t, int64(1), server.Members["42"].Coins)
	assert.Contains(t, server.Members, MemberID("43"))
}

func TestMigrate_MissingFieldsDefault(t *testing.T) {
	// GIVEN: Legacy guilds missing party or members
	membersOnly := decodeGuild(t, `{"members": {"1": {"coins": 4}}}`).Current()
	partyOnly := decodeGuild(t, `{"party": {"big": 5}}`).Current()
	nulls := decodeGuild(t, `{"party": null, "members": null}`).Current()

	// THEN: Party defaults to 0 and members to an empty map
	assert.Equal(t, int64(0), membersOnly.Channels[ServerScope].Party.Big)
	assert.Equal(t, int64(4), membersOnly.Channels[ServerScope].Members["1"].Coins)

	assert.Equal(t, int64(5), partyOnly.Channels[ServerScope].Party.Big)
	assert.NotNil(t, partyOnly.Channels[ServerScope].Members)
	assert.Empty(t, partyOnly.Channels[ServerScope].Members)

	assert.Equal(t, int64(0), nulls.Channels[ServerScope].Party.Big)
	assert.NotNil(t, nulls.Channels[ServerScope].Members)
}

func TestMigrate_KeepsChannelsAndReplacesServer(t *testing.T) {
	// GIVEN: A half-migrated guild with both legacy keys and channels
	g := decodeGuild(t, `{
		"channels": {
			"ch_7":    {"party": {"big": 1}, "members": {"a": {"coins": 2}}},
			"_server": {"party": {"big": 9}, "members": {}}
		},
		"party": {"big": 2}
	}`)

	// WHEN: Migrating
	cur := g.Current()

	// THEN: ch_7 is untouched and the legacy ledger wins for _server
	assert.Equal(t, int64(1), cur.Channels["ch_7"].Party.Big)
	assert.Equal(t, int64(2), cur.Channels["ch_7"].Members["a"].Coins)
	assert.Equal(t, int64(2), cur.Channels[ServerScope].Party.Big)
}

func TestMigrate_Idempotent(t *testing.T) {
	inputs := []string{
		`{"party": {"big": 3}, "members": {"42": {"coins": 1}}}`,
		`{"channels": {"ch_1": {"party": {"big": 1}, "members": {}}}, "members": {}}`,
		`{"channels": {"_server": {"party": {"big": 0}, "members": {"x": {"coins": 8}}}}}`,
	}
	for _, raw := range inputs {
		once := Migrate(decodeGuild(t, raw))
		twice := Migrate(once)
		assert.False(t, once.IsLegacy())
		assert.Equal(t, once, twice, raw)
	}
}

func TestMigrate_CurrentShapeUnchanged(t *testing.T) {
	g := decodeGuild(t, `{"channels": {"_server": {"party": {"big": 1}, "members": {"m": {"coins": 2}}}}}`)
	assert.Equal(t, g, Migrate(g))
}

func TestMigrate_MissingMembersInChannelReadAsEmpty(t *testing.T) {
	cur := decodeGuild(t, `{"channels": {"_server": {"party": {"big": 1}}}}`).Current()
	assert.NotNil(t, cur.Channels[ServerScope].Members)
}
