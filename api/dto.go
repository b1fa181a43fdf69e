/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures exchanged with the chat gateway. These types
  decouple the ledger model from the wire contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Ledger:
    TallyDTO, MemberBalanceDTO, SummaryDTO, SpendResponse, SpendOutcomeDTO

  Requests:
    AwardRequest, SpendRequest, SetGMRoleRequest

  Admin:
    RestoreResponse, BackupRunResponse, GMStatusDTO, VersionDTO

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/KalSunchaser77/hero-coins-bot/ledger"
)

// =============================================================================
// LEDGER RESPONSES
// =============================================================================

// MemberBalanceDTO is one member's balance.
type MemberBalanceDTO struct {
	MemberID string `json:"member_id"`
	Coins    int64  `json:"coins"`
}

// TallyDTO is the full state of one scope.
type TallyDTO struct {
	GuildID string             `json:"guild_id"`
	Scope   string             `json:"scope"`
	Party   int64              `json:"party"`
	Members []MemberBalanceDTO `json:"members"`
}

// SummaryDTO is the aggregate view of one scope.
type SummaryDTO struct {
	GuildID      string `json:"guild_id"`
	Scope        string `json:"scope"`
	Mode         string `json:"mode"`
	Party        int64  `json:"party"`
	Members      int    `json:"members"`
	TotalCoins   int64  `json:"total_coins"`
	AverageCoins string `json:"average_coins"`
}

// SpendOutcomeDTO reports one member of a spend batch.
type SpendOutcomeDTO struct {
	MemberID  string `json:"member_id"`
	Status    string `json:"status"`
	Remaining int64  `json:"remaining"`
}

// SpendResponse lists per-member outcomes in request order.
type SpendResponse struct {
	Outcomes []SpendOutcomeDTO `json:"outcomes"`
	Tally    TallyDTO          `json:"tally"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// AwardRequest names the member receiving a coin.
type AwardRequest struct {
	MemberID string `json:"member_id"`
}

// SpendRequest lists members to take one coin from each.
type SpendRequest struct {
	MemberIDs []string `json:"member_ids"`
}

// SetGMRoleRequest changes the GM role name.
type SetGMRoleRequest struct {
	RoleName string `json:"role_name"`
}

// =============================================================================
// ADMIN RESPONSES
// =============================================================================

// RestoreResponse confirms a restore.
type RestoreResponse struct {
	Restored bool `json:"restored"`
	Guilds   int  `json:"guilds"`
}

// BackupRunResponse describes an on-demand backup. Error is set when some
// sinks failed; Sinks lists the ones that stored it.
type BackupRunResponse struct {
	Name  string   `json:"name"`
	Bytes int      `json:"bytes"`
	Sinks []string `json:"sinks"`
	Error string   `json:"error,omitempty"`
}

// GMStatusDTO is the current GM configuration.
type GMStatusDTO struct {
	GMUserID string `json:"gm_user_id,omitempty"`
	GMRole   string `json:"gm_role,omitempty"`
	Previous string `json:"previous_role,omitempty"`
}

// VersionDTO reports build and data information.
type VersionDTO struct {
	Version       string     `json:"version"`
	GoVersion     string     `json:"go_version"`
	Mode          string     `json:"mode"`
	DataUpdatedAt *time.Time `json:"data_updated_at,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toTallyDTO(t ledger.Tally) TallyDTO {
	dto := TallyDTO{
		GuildID: string(t.Scope.Guild),
		Scope:   string(t.Scope.Key),
		Party:   t.Party,
		Members: make([]MemberBalanceDTO, 0, len(t.Members)),
	}
	for _, m := range t.Members {
		dto.Members = append(dto.Members, MemberBalanceDTO{MemberID: string(m.Member), Coins: m.Coins})
	}
	return dto
}

func toSpendResponse(res ledger.SpendResult) SpendResponse {
	out := SpendResponse{
		Outcomes: make([]SpendOutcomeDTO, 0, len(res.Outcomes)),
		Tally:    toTallyDTO(res.Tally),
	}
	for _, o := range res.Outcomes {
		out.Outcomes = append(out.Outcomes, SpendOutcomeDTO{
			MemberID:  string(o.Member),
			Status:    string(o.Status),
			Remaining: o.Remaining,
		})
	}
	return out
}
