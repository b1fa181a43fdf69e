/*
migrate.go - Legacy guild layout detection and conversion

PURPOSE:
  Early deployments kept a single ledger per guild, with "party" and
  "members" at the top level of the guild object. The current layout
  nests ledgers under "channels" keyed by scope. Every guild read from
  durable storage is decoded as a StoredGuild and passed through Migrate
  before anything else sees it.

LAYOUTS:
  Current: {"channels": {"_server": {"party": {...}, "members": {...}}}}
  Legacy:  {"party": {"big": 3}, "members": {"42": {"coins": 1}}}

RULES:
  1. Legacy shape is detected by the PRESENCE of a "party" or "members"
     key, whatever its value.
  2. Legacy data moves under ServerScope. Missing party defaults to
     {big: 0}, missing members to {}.
  3. Channels already present next to legacy keys are kept; the legacy
     ledger replaces any "_server" entry among them.
  4. Migrate is idempotent: Migrate(Migrate(g)) == Migrate(g), and a
     current-shape guild is returned unchanged.

The legacy layout is input-only. Nothing in this module writes it.

SEE ALSO:
  - types.go: Document.UnmarshalJSON drives the conversion on load
*/
package ledger

import (
	"bytes"
	"encoding/json"
)

// StoredGuild is a guild as found on disk: a tagged union of the current
// layout (Legacy == nil) and the legacy single-ledger layout.
type StoredGuild struct {
	Channels map[ScopeKey]ScopeStore
	Legacy   *LegacyGuild
}

// LegacyGuild is the pre-channels layout. Nil fields were absent or null.
type LegacyGuild struct {
	Party   *Party
	Members map[MemberID]MemberRecord
}

// IsLegacy reports whether the guild still needs migration.
func (g StoredGuild) IsLegacy() bool {
	return g.Legacy != nil
}

// Stored wraps a current-shape guild store.
func Stored(g GuildStore) StoredGuild {
	return StoredGuild{Channels: g.Channels}
}

// Migrate converts a legacy guild to the current layout. Current-shape
// guilds are returned as-is.
func Migrate(g StoredGuild) StoredGuild {
	if g.Legacy == nil {
		return g
	}

	channels := make(map[ScopeKey]ScopeStore, len(g.Channels)+1)
	// Channels beside legacy keys are merged, not dropped; only _server is replaced.
	for key, s := range g.Channels {
		channels[key] = s.Clone()
	}

	server := NewScopeStore()
	if g.Legacy.Party != nil {
		server.Party = *g.Legacy.Party
	}
	for id, rec := range g.Legacy.Members {
		server.Members[id] = rec
	}
	channels[ServerScope] = server

	return StoredGuild{Channels: channels}
}

// Current migrates if needed and returns the typed guild store. The result
// never contains nil maps.
func (g StoredGuild) Current() GuildStore {
	return GuildStore{Channels: Migrate(g).Channels}.Clone()
}

// UnmarshalJSON inspects key presence to pick the variant.
func (g *StoredGuild) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var out StoredGuild
	if raw, ok := fields["channels"]; ok {
		if err := json.Unmarshal(raw, &out.Channels); err != nil {
			return err
		}
	}

	rawParty, hasParty := fields["party"]
	rawMembers, hasMembers := fields["members"]
	if hasParty || hasMembers {
		out.Legacy = &LegacyGuild{}
		if hasParty && !isNull(rawParty) {
			var p Party
			if err := json.Unmarshal(rawParty, &p); err != nil {
				return err
			}
			out.Legacy.Party = &p
		}
		if hasMembers && !isNull(rawMembers) {
			if err := json.Unmarshal(rawMembers, &out.Legacy.Members); err != nil {
				return err
			}
		}
	}

	*g = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
