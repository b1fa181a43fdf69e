package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KalSunchaser77/hero-coins-bot/ledger"
	"github.com/KalSunchaser77/hero-coins-bot/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.New(mem, nil), mem
}

func server(guild string) ledger.Scope {
	return ledger.ResolveScope(ledger.GuildID(guild), "", false)
}

func channel(guild, ch string) ledger.Scope {
	return ledger.ResolveScope(ledger.GuildID(guild), ch, true)
}

func award(t *testing.T, l *ledger.Ledger, scope ledger.Scope, member string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.Award(context.Background(), scope, ledger.MemberID(member))
		require.NoError(t, err)
	}
}

// =============================================================================
// MEMBER COINS
// =============================================================================

func TestLedger_AwardAndTally(t *testing.T) {
	// GIVEN: An empty ledger
	l, _ := newTestLedger(t)
	ctx := context.Background()
	scope := server("g1")

	// WHEN: Alice gets two coins and Bob one
	award(t, l, scope, "alice", 2)
	tally, err := l.Award(ctx, scope, "bob")
	require.NoError(t, err)

	// THEN: Both balances are visible, ordered by member ID
	assert.Equal(t, int64(2), tally.Coins("alice"))
	assert.Equal(t, int64(1), tally.Coins("bob"))
	require.Len(t, tally.Members, 2)
	assert.Equal(t, ledger.MemberID("alice"), tally.Members[0].Member)

	read, err := l.Tally(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, tally, read)
}

func TestLedger_SpendIsPerMember(t *testing.T) {
	// GIVEN: Alice has one coin, Bob has none
	l, _ := newTestLedger(t)
	ctx := context.Background()
	scope := server("g1")
	award(t, l, scope, "alice", 1)

	// WHEN: Spending from both
	res, err := l.Spend(ctx, scope, []ledger.MemberID{"bob", "alice"})
	require.NoError(t, err)

	// THEN: Bob's shortfall does not block Alice, outcomes keep input order
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, ledger.SpendOutcome{Member: "bob", Status: ledger.SpendNothingToUse}, res.Outcomes[0])
	assert.Equal(t, ledger.SpendOutcome{Member: "alice", Status: ledger.SpendOK, Remaining: 0}, res.Outcomes[1])
	assert.True(t, res.Outcomes[1].OK())

	tally, err := l.Tally(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(0), tally.Coins("alice"))
}

func TestLedger_SpendDuplicateMemberEvaluatedInOrder(t *testing.T) {
	l, _ := newTestLedger(t)
	scope := server("g1")
	award(t, l, scope, "alice", 1)

	res, err := l.Spend(context.Background(), scope, []ledger.MemberID{"alice", "alice"})
	require.NoError(t, err)

	assert.Equal(t, ledger.SpendOK, res.Outcomes[0].Status)
	assert.Equal(t, ledger.SpendNothingToUse, res.Outcomes[1].Status)
	assert.Equal(t, int64(0), res.Tally.Coins("alice"))
}

func TestLedger_AwardThenSpendRestoresBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	scope := server("g1")
	award(t, l, scope, "alice", 3)

	before, err := l.Tally(ctx, scope)
	require.NoError(t, err)

	award(t, l, scope, "alice", 1)
	_, err = l.Spend(ctx, scope, []ledger.MemberID{"alice"})
	require.NoError(t, err)

	after, err := l.Tally(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// =============================================================================
// PARTY COINS
// =============================================================================

func TestLedger_PartyAwardAndSpend(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	scope := server("g1")

	tally, err := l.PartyAward(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tally.Party)

	tally, err = l.PartySpend(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(0), tally.Party)
}

func TestLedger_PartySpendEmptyCommitsNothing(t *testing.T) {
	// GIVEN: A ledger that was never written
	l, mem := newTestLedger(t)
	ctx := context.Background()
	scope := server("g1")

	// WHEN: Spending from an empty party pool
	_, err := l.PartySpend(ctx, scope)

	// THEN: InsufficientBalance, and nothing reached the store
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	var ie *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, int64(0), ie.Available)
	assert.Equal(t, scope, ie.Scope)
	assert.True(t, ledger.IsClientError(err))

	_, err = mem.Export(ctx)
	assert.ErrorIs(t, err, ledger.ErrNoDocument)
}

// =============================================================================
// SCOPES
// =============================================================================

func TestLedger_ScopesAreIsolated(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	award(t, l, channel("g1", "100"), "alice", 2)
	award(t, l, channel("g1", "200"), "alice", 1)
	award(t, l, server("g1"), "alice", 5)
	award(t, l, server("g2"), "alice", 7)
	_, err := l.PartyAward(ctx, channel("g1", "100"))
	require.NoError(t, err)

	for scope, want := range map[ledger.Scope]int64{
		channel("g1", "100"): 2,
		channel("g1", "200"): 1,
		server("g1"):         5,
		server("g2"):         7,
	} {
		tally, err := l.Tally(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, want, tally.Coins("alice"), scope.String())
	}

	sum, err := l.Summarize(ctx, channel("g1", "200"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.Party)
}

func TestLedger_Summarize(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	scope := server("g1")

	empty, err := l.Summarize(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, ledger.Summary{Scope: scope}, empty)
	assert.True(t, empty.AverageCoins().IsZero())

	award(t, l, scope, "alice", 2)
	award(t, l, scope, "bob", 1)
	_, err = l.PartyAward(ctx, scope)
	require.NoError(t, err)

	sum, err := l.Summarize(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Party)
	assert.Equal(t, 2, sum.Members)
	assert.Equal(t, int64(3), sum.TotalCoins)
	assert.Equal(t, "1.50", sum.AverageCoins().StringFixed(2))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestLedger_ConcurrentAwardsAreNotLost(t *testing.T) {
	// GIVEN: Many callers awarding the same member at once
	l, _ := newTestLedger(t)
	scope := server("g1")
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Award(context.Background(), scope, "alice")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN: Every award is counted
	tally, err := l.Tally(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, int64(n), tally.Coins("alice"))
}

func TestLedger_ConcurrentSpendsNeverGoNegative(t *testing.T) {
	l, _ := newTestLedger(t)
	scope := server("g1")
	award(t, l, scope, "alice", 5)
	_, err := l.PartyAward(context.Background(), scope)
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		spent      int
		partySpent int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Spend(context.Background(), scope, []ledger.MemberID{"alice"})
			assert.NoError(t, err)
			_, perr := l.PartySpend(context.Background(), scope)

			mu.Lock()
			defer mu.Unlock()
			if res.Outcomes[0].OK() {
				spent++
			}
			if perr == nil {
				partySpent++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, spent)
	assert.Equal(t, 1, partySpent)
}

// =============================================================================
// FAILURES
// =============================================================================

func TestLedger_CommitFailureLeavesPreviousState(t *testing.T) {
	// GIVEN: Alice has one coin
	l, mem := newTestLedger(t)
	ctx := context.Background()
	scope := server("g1")
	award(t, l, scope, "alice", 1)

	// WHEN: The store refuses the next commit
	mem.FailCommit = errors.New("disk full")
	_, err := l.Award(ctx, scope, "alice")

	// THEN: The error is a persistence failure and the balance is unchanged
	assert.True(t, ledger.IsPersistence(err))
	assert.False(t, ledger.IsClientError(err))

	mem.FailCommit = nil
	tally, err := l.Tally(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tally.Coins("alice"))
}

func TestLedger_CanceledContext(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Award(ctx, server("g1"), "alice")

	assert.ErrorIs(t, err, context.Canceled)
	_, err = mem.Export(context.Background())
	assert.ErrorIs(t, err, ledger.ErrNoDocument)
}

// =============================================================================
// EXPORT / RESTORE
// =============================================================================

func TestLedger_ExportRestoreRoundTrip(t *testing.T) {
	// GIVEN: A ledger with data, exported
	src, _ := newTestLedger(t)
	ctx := context.Background()
	award(t, src, server("g1"), "alice", 3)
	award(t, src, channel("g1", "9"), "bob", 1)
	data, err := src.Export(ctx)
	require.NoError(t, err)

	// WHEN: Restoring into a fresh ledger
	dst, _ := newTestLedger(t)
	guilds, err := dst.Restore(ctx, data)
	require.NoError(t, err)

	// THEN: Every scope matches and the export is byte-identical
	assert.Equal(t, 1, guilds)
	for _, scope := range []ledger.Scope{server("g1"), channel("g1", "9")} {
		want, err := src.Tally(ctx, scope)
		require.NoError(t, err)
		got, err := dst.Tally(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	again, err := dst.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestLedger_RestoreLegacyDocument(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	guilds, err := l.Restore(ctx, []byte(`{"g1": {"party": {"big": 2}, "members": {"42": {"coins": 4}}}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, guilds)

	tally, err := l.Tally(ctx, server("g1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), tally.Party)
	assert.Equal(t, int64(4), tally.Coins("42"))

	data, err := l.Export(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"_server"`)
}

func TestLedger_RestoreMalformedKeepsState(t *testing.T) {
	// GIVEN: A ledger with data
	l, _ := newTestLedger(t)
	ctx := context.Background()
	award(t, l, server("g1"), "alice", 2)

	for _, payload := range []string{
		`{"g1": `,
		`"just a string"`,
		`{"g1": {"channels": {"_server": {"party": {"big": -1}, "members": {}}}}}`,
	} {
		// WHEN: Restoring bytes that are not a valid document
		_, err := l.Restore(ctx, []byte(payload))

		// THEN: Malformed, tagged as a restore, and nothing changed
		assert.ErrorIs(t, err, ledger.ErrMalformedDocument, payload)
		var mal *ledger.MalformedDocumentError
		require.ErrorAs(t, err, &mal)
		assert.Equal(t, ledger.RestoreSource, mal.Source)
	}

	tally, err := l.Tally(ctx, server("g1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), tally.Coins("alice"))
}

func TestLedger_RestoreRejectsEmptyUploads(t *testing.T) {
	// GIVEN: Alice has three coins
	l, mem := newTestLedger(t)
	ctx := context.Background()
	award(t, l, server("g1"), "alice", 3)
	before, err := mem.Export(ctx)
	require.NoError(t, err)

	for _, payload := range []string{"", "  \n", "null", " null "} {
		// WHEN: Restoring an upload that is not a document object
		guilds, err := l.Restore(ctx, []byte(payload))

		// THEN: Malformed, and the stored bytes are untouched
		assert.ErrorIs(t, err, ledger.ErrMalformedDocument, "%q", payload)
		assert.Equal(t, 0, guilds)
		after, err := mem.Export(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after, "%q", payload)
	}

	tally, err := l.Tally(ctx, server("g1"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), tally.Coins("alice"))
}

func TestLedger_ConcreteScenario(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	scope := server("g1")

	// GIVEN: One coin awarded
	_, err := l.Award(ctx, scope, "alice")
	require.NoError(t, err)
	sum, err := l.Summarize(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, ledger.Summary{Scope: scope, Party: 0, Members: 1, TotalCoins: 1}, sum)

	// WHEN: A party coin is awarded and spent
	tally, err := l.PartyAward(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tally.Party)
	tally, err = l.PartySpend(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(0), tally.Party)

	sum, err = l.Summarize(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, ledger.Summary{Scope: scope, Party: 0, Members: 1, TotalCoins: 1}, sum)

	// THEN: A further party spend fails and leaves the stored bytes as they were
	before, err := mem.Export(ctx)
	require.NoError(t, err)
	_, err = l.PartySpend(ctx, scope)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	after, err := mem.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	sum, err = l.Summarize(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, ledger.Summary{Scope: scope, Party: 0, Members: 1, TotalCoins: 1}, sum)
}

func TestLedger_LoadMigratesLegacyStorage(t *testing.T) {
	// GIVEN: A store still holding the legacy layout
	l, mem := newTestLedger(t)
	ctx := context.Background()
	mem.SetRaw([]byte(`{"g1": {"party": {"big": 1}, "members": {"a": {"coins": 1}}}}`))

	// WHEN: Mutating through the ledger
	_, err := l.Award(ctx, server("g1"), "a")
	require.NoError(t, err)

	// THEN: The migrated data was the starting point and is now stored current
	tally, err := l.Tally(ctx, server("g1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), tally.Party)
	assert.Equal(t, int64(2), tally.Coins("a"))

	data, err := mem.Export(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"channels"`)
}

func TestLedger_UpdatedAt(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	at, err := l.UpdatedAt(ctx)
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	award(t, l, server("g1"), "alice", 1)
	at, err = l.UpdatedAt(ctx)
	require.NoError(t, err)
	assert.False(t, at.IsZero())
}
