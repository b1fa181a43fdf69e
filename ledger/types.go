/*
Package ledger provides the Hero Coins ledger repository.

PURPOSE:
  Tracks per-member coin balances and a shared party counter, partitioned
  by guild and, within a guild, by scope (guild-wide or per sub-channel).
  The whole ledger is one document that is loaded, mutated and committed
  as a unit.

KEY CONCEPTS IN THIS FILE (types.go):
  - Document:     the single persisted root, guild ID -> GuildStore
  - GuildStore:   scope key -> ScopeStore
  - ScopeStore:   one independently tallied ledger (party + members)
  - MemberRecord: one member's coin balance

INVARIANTS:
  1. Every Party.Big and MemberRecord.Coins is >= 0 at rest
  2. Members are created lazily and never deleted
  3. Absence of a guild or scope key is the empty state

OWNERSHIP:
  A Document returned by a Store is owned by the caller. The Ensure*
  constructors return copies, so edits never leak into shared maps until
  PutScope installs them.

SEE ALSO:
  - migrate.go: Legacy layout detection and conversion
  - ledger.go:  Operations built on the model
  - store.go:   Persistence interface
*/
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GuildID string
type MemberID string

// ScopeKey indexes a ScopeStore inside a GuildStore. It is either
// ServerScope or "ch_<channel-id>".
type ScopeKey string

// ServerScope is the guild-wide ledger.
const ServerScope ScopeKey = "_server"

// =============================================================================
// DOCUMENT MODEL
// =============================================================================

// Party is the shared party counter ("big" coins) of a scope.
type Party struct {
	Big int64 `json:"big"`
}

// MemberRecord is one member's balance.
type MemberRecord struct {
	Coins int64 `json:"coins"`
}

// ScopeStore is the unit of ledger state.
type ScopeStore struct {
	Party   Party                     `json:"party"`
	Members map[MemberID]MemberRecord `json:"members"`
}

// GuildStore holds every scope of one guild.
type GuildStore struct {
	Channels map[ScopeKey]ScopeStore `json:"channels"`
}

// Document is the single persisted root.
type Document struct {
	Guilds map[GuildID]GuildStore
}

// NewDocument returns an empty document.
func NewDocument() Document {
	return Document{Guilds: make(map[GuildID]GuildStore)}
}

// NewScopeStore returns an empty scope: no party coins, no members.
func NewScopeStore() ScopeStore {
	return ScopeStore{Members: make(map[MemberID]MemberRecord)}
}

// NewGuildStore returns a guild with no scopes.
func NewGuildStore() GuildStore {
	return GuildStore{Channels: make(map[ScopeKey]ScopeStore)}
}

// =============================================================================
// OWNED CONSTRUCTORS
// =============================================================================

// EnsureGuild returns a copy of the guild store for id, or a new empty one
// if the document has never seen the guild.
func EnsureGuild(d Document, id GuildID) GuildStore {
	g, ok := d.Guilds[id]
	if !ok {
		return NewGuildStore()
	}
	return g.Clone()
}

// EnsureScope returns a copy of the scope store for key, or a new empty one.
func EnsureScope(g GuildStore, key ScopeKey) ScopeStore {
	s, ok := g.Channels[key]
	if !ok {
		return NewScopeStore()
	}
	return s.Clone()
}

// EnsureMember returns the member's record, or a zero balance record.
func EnsureMember(s ScopeStore, id MemberID) MemberRecord {
	return s.Members[id]
}

// PutScope installs scope under guild/key, creating the guild if needed.
func (d *Document) PutScope(guild GuildID, key ScopeKey, scope ScopeStore) {
	if d.Guilds == nil {
		d.Guilds = make(map[GuildID]GuildStore)
	}
	g := EnsureGuild(*d, guild)
	g.Channels[key] = scope.Clone()
	d.Guilds[guild] = g
}

// Scope returns a read-only copy of a scope store. Missing guilds and
// scopes read as empty.
func (d Document) Scope(guild GuildID, key ScopeKey) ScopeStore {
	return EnsureScope(EnsureGuild(d, guild), key)
}

// =============================================================================
// COPYING
// =============================================================================

func (s ScopeStore) Clone() ScopeStore {
	out := ScopeStore{Party: s.Party, Members: make(map[MemberID]MemberRecord, len(s.Members))}
	for id, rec := range s.Members {
		out.Members[id] = rec
	}
	return out
}

func (g GuildStore) Clone() GuildStore {
	out := GuildStore{Channels: make(map[ScopeKey]ScopeStore, len(g.Channels))}
	for key, s := range g.Channels {
		out.Channels[key] = s.Clone()
	}
	return out
}

func (d Document) Clone() Document {
	out := Document{Guilds: make(map[GuildID]GuildStore, len(d.Guilds))}
	for id, g := range d.Guilds {
		out.Guilds[id] = g.Clone()
	}
	return out
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the non-negativity invariant across the whole document.
func (d Document) Validate() error {
	for gid, g := range d.Guilds {
		for key, s := range g.Channels {
			if s.Party.Big < 0 {
				return fmt.Errorf("guild %s scope %s: negative party balance %d", gid, key, s.Party.Big)
			}
			for mid, rec := range s.Members {
				if rec.Coins < 0 {
					return fmt.Errorf("guild %s scope %s member %s: negative balance %d", gid, key, mid, rec.Coins)
				}
			}
		}
	}
	return nil
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

// MarshalJSON writes the guild map at the top level:
//
//	{"<guild>": {"channels": {"<scope>": {"party": {...}, "members": {...}}}}}
func (d Document) MarshalJSON() ([]byte, error) {
	guilds := d.Guilds
	if guilds == nil {
		guilds = map[GuildID]GuildStore{}
	}
	out := make(map[GuildID]GuildStore, len(guilds))
	for id, g := range guilds {
		// Clone never yields nil maps, so empty scopes encode as {} not null.
		out[id] = g.Clone()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes every guild as a StoredGuild and migrates it to the
// current shape. The result is validated; negative counters are rejected.
func (d *Document) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errors.New("ledger document is null, want a JSON object")
	}
	var raw map[GuildID]StoredGuild
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	doc := NewDocument()
	for id, stored := range raw {
		doc.Guilds[id] = Migrate(stored).Current()
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	*d = doc
	return nil
}
