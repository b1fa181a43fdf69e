/*
ledger.go - Transactional ledger operations

PURPOSE:
  The API the chat gateway calls: award and spend member coins, award and
  spend party coins, summarize a scope, export and restore the document.

CYCLE:
  Every mutation runs one load-mutate-commit cycle:
    1. Load the document from the Store
    2. Ensure the guild and scope exist (as owned copies)
    3. Apply the mutation to the copy
    4. Install the copy and Commit

  A failed precondition (PartySpend on an empty pool) returns before
  step 4; nothing is committed.

CONCURRENCY:
  One mutex serializes every cycle in the process. Without it two
  mutations that both load before either commits would lose one update.
  Mutations on the same scope are therefore linearizable. Summarize and
  Tally do not take the lock; they may see a value that is about to be
  superseded.

NO RETRIES:
  A failed Commit is returned to the caller as is.

SEE ALSO:
  - types.go: Document model and owned constructors
  - store.go: Persistence interface
  - auth.go:  Who may call the mutating operations
*/
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// RESULTS
// =============================================================================

// MemberBalance is one member's balance in a Tally.
type MemberBalance struct {
	Member MemberID
	Coins  int64
}

// Tally is a read-only copy of one scope, members ordered by ID.
type Tally struct {
	Scope   Scope
	Party   int64
	Members []MemberBalance
}

// Coins returns a member's balance, zero when the member has no record.
func (t Tally) Coins(id MemberID) int64 {
	for _, m := range t.Members {
		if m.Member == id {
			return m.Coins
		}
	}
	return 0
}

func newTally(scope Scope, s ScopeStore) Tally {
	t := Tally{Scope: scope, Party: s.Party.Big, Members: make([]MemberBalance, 0, len(s.Members))}
	for id, rec := range s.Members {
		t.Members = append(t.Members, MemberBalance{Member: id, Coins: rec.Coins})
	}
	sort.Slice(t.Members, func(i, j int) bool { return t.Members[i].Member < t.Members[j].Member })
	return t
}

// Summary is the aggregate view of one scope.
type Summary struct {
	Scope      Scope
	Party      int64
	Members    int
	TotalCoins int64
}

// AverageCoins is TotalCoins / Members rounded to two places, zero for an
// empty scope.
func (s Summary) AverageCoins() decimal.Decimal {
	if s.Members == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(s.TotalCoins).
		Div(decimal.NewFromInt(int64(s.Members))).
		Round(2)
}

func summarize(scope Scope, s ScopeStore) Summary {
	sum := Summary{Scope: scope, Party: s.Party.Big, Members: len(s.Members)}
	for _, rec := range s.Members {
		sum.TotalCoins += rec.Coins
	}
	return sum
}

// SpendStatus is the result of spending from one member.
type SpendStatus string

const (
	SpendOK           SpendStatus = "spent"
	SpendNothingToUse SpendStatus = "nothing_to_spend"
)

// SpendOutcome reports one member of a Spend batch.
type SpendOutcome struct {
	Member    MemberID
	Status    SpendStatus
	Remaining int64
}

func (o SpendOutcome) OK() bool { return o.Status == SpendOK }

// SpendResult lists outcomes in the caller's order plus the committed tally.
type SpendResult struct {
	Outcomes []SpendOutcome
	Tally    Tally
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store Store
	log   *zap.Logger

	// mu serializes load-mutate-commit cycles and restores.
	mu sync.Mutex
}

func New(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log}
}

// update runs one serialized load-mutate-commit cycle on a scope. If fn
// returns an error the cycle stops without committing.
func (l *Ledger) update(ctx context.Context, scope Scope, fn func(s *ScopeStore) error) (ScopeStore, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ScopeStore{}, err
	}

	doc, err := l.store.Load(ctx)
	if err != nil {
		return ScopeStore{}, err
	}

	s := EnsureScope(EnsureGuild(doc, scope.Guild), scope.Key)
	if err := fn(&s); err != nil {
		return ScopeStore{}, err
	}

	doc.PutScope(scope.Guild, scope.Key, s)
	if err := l.store.Commit(ctx, doc); err != nil {
		l.log.Error("ledger commit failed", zap.String("scope", scope.String()), zap.Error(err))
		return ScopeStore{}, err
	}
	return s, nil
}

// Award adds one coin to member.
func (l *Ledger) Award(ctx context.Context, scope Scope, member MemberID) (Tally, error) {
	s, err := l.update(ctx, scope, func(s *ScopeStore) error {
		rec := EnsureMember(*s, member)
		rec.Coins++
		s.Members[member] = rec
		return nil
	})
	if err != nil {
		return Tally{}, err
	}
	l.log.Debug("coin awarded", zap.String("scope", scope.String()), zap.String("member", string(member)))
	return newTally(scope, s), nil
}

// Spend takes one coin from each listed member independently. Members
// with no coins get SpendNothingToUse and do not block the others. The
// successful decrements are committed together.
func (l *Ledger) Spend(ctx context.Context, scope Scope, members []MemberID) (SpendResult, error) {
	outcomes := make([]SpendOutcome, 0, len(members))
	s, err := l.update(ctx, scope, func(s *ScopeStore) error {
		for _, id := range members {
			rec, ok := s.Members[id]
			if !ok || rec.Coins <= 0 {
				outcomes = append(outcomes, SpendOutcome{Member: id, Status: SpendNothingToUse, Remaining: rec.Coins})
				continue
			}
			rec.Coins--
			s.Members[id] = rec
			outcomes = append(outcomes, SpendOutcome{Member: id, Status: SpendOK, Remaining: rec.Coins})
		}
		return nil
	})
	if err != nil {
		return SpendResult{}, err
	}
	l.log.Debug("coins spent", zap.String("scope", scope.String()), zap.Int("members", len(members)))
	return SpendResult{Outcomes: outcomes, Tally: newTally(scope, s)}, nil
}

// PartyAward adds one party coin.
func (l *Ledger) PartyAward(ctx context.Context, scope Scope) (Tally, error) {
	s, err := l.update(ctx, scope, func(s *ScopeStore) error {
		s.Party.Big++
		return nil
	})
	if err != nil {
		return Tally{}, err
	}
	l.log.Debug("party coin awarded", zap.String("scope", scope.String()))
	return newTally(scope, s), nil
}

// PartySpend removes one party coin. Returns *InsufficientBalanceError and
// commits nothing when the pool is empty.
func (l *Ledger) PartySpend(ctx context.Context, scope Scope) (Tally, error) {
	s, err := l.update(ctx, scope, func(s *ScopeStore) error {
		if s.Party.Big <= 0 {
			return &InsufficientBalanceError{Scope: scope, Available: s.Party.Big}
		}
		s.Party.Big--
		return nil
	})
	if err != nil {
		return Tally{}, err
	}
	l.log.Debug("party coin spent", zap.String("scope", scope.String()))
	return newTally(scope, s), nil
}

// Summarize returns party balance, member count and total coins. Read-only.
func (l *Ledger) Summarize(ctx context.Context, scope Scope) (Summary, error) {
	doc, err := l.store.Load(ctx)
	if err != nil {
		return Summary{}, err
	}
	return summarize(scope, doc.Scope(scope.Guild, scope.Key)), nil
}

// Tally returns every member balance of a scope, including members who
// have since left the guild. Read-only.
func (l *Ledger) Tally(ctx context.Context, scope Scope) (Tally, error) {
	doc, err := l.store.Load(ctx)
	if err != nil {
		return Tally{}, err
	}
	return newTally(scope, doc.Scope(scope.Guild, scope.Key)), nil
}

// =============================================================================
// BACKUP / RESTORE
// =============================================================================

// RestoreSource marks MalformedDocumentErrors raised by Restore.
const RestoreSource = "restore"

// Export returns the durable document byte for byte.
func (l *Ledger) Export(ctx context.Context) ([]byte, error) {
	return l.store.Export(ctx)
}

// Restore replaces the whole document with data, which may be in the
// current or legacy layout. It must be a JSON object; blank or null
// uploads are malformed. Undecodable data leaves the store untouched
// and returns *MalformedDocumentError. Returns the number of guilds
// restored.
func (l *Ledger) Restore(ctx context.Context, data []byte) (int, error) {
	doc, err := DecodeUpload(data)
	if err != nil {
		return 0, &MalformedDocumentError{Source: RestoreSource, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Commit(ctx, doc); err != nil {
		return 0, err
	}
	l.log.Info("ledger restored", zap.Int("guilds", len(doc.Guilds)))
	return len(doc.Guilds), nil
}

// UpdatedAt returns when the document was last committed.
func (l *Ledger) UpdatedAt(ctx context.Context) (time.Time, error) {
	return l.store.UpdatedAt(ctx)
}
