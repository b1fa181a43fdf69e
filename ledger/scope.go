package ledger

// ChannelScopePrefix prefixes per-channel scope keys.
const ChannelScopePrefix = "ch_"

// Scope addresses one ledger: a guild and a scope key within it.
type Scope struct {
	Guild GuildID
	Key   ScopeKey
}

func (s Scope) String() string {
	return string(s.Guild) + "/" + string(s.Key)
}

// ResolveScope maps a guild and an optional channel to a scope. With
// per-channel ledgers enabled and a channel available the key is
// "ch_<channel>"; otherwise it is ServerScope. It never fails.
func ResolveScope(guild GuildID, channel string, perChannel bool) Scope {
	if perChannel && channel != "" {
		return Scope{Guild: guild, Key: ScopeKey(ChannelScopePrefix + channel)}
	}
	return Scope{Guild: guild, Key: ServerScope}
}

// Resolver binds the deployment-wide scoping mode.
type Resolver struct {
	PerChannel bool
}

func (r Resolver) Resolve(guild GuildID, channel string) Scope {
	return ResolveScope(guild, channel, r.PerChannel)
}

// Mode names the scoping mode for display.
func (r Resolver) Mode() string {
	if r.PerChannel {
		return "per-channel"
	}
	return "server-wide"
}
