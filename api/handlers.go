/*
handlers.go - HTTP API handlers for the Hero Coins ledger

PURPOSE:
  Exposes the ledger to the chat gateway. The gateway parses chat
  commands, resolves who the caller is and which roles they hold, and
  renders replies; this layer only maps HTTP to ledger operations.

ENDPOINTS:
  Ledger:
    GET    /api/guilds/{guildID}/tally        Every balance in the scope
    GET    /api/guilds/{guildID}/summary      Party, member count, totals (GM)
    POST   /api/guilds/{guildID}/coins        Award one coin (GM)
    POST   /api/guilds/{guildID}/spend        Spend one coin per member (GM)
    POST   /api/guilds/{guildID}/party/award  Add one party coin (GM)
    POST   /api/guilds/{guildID}/party/spend  Spend one party coin (GM)

  Data:
    GET    /api/backup                        Download the document (GM)
    POST   /api/backup/run                    Store a backup now (GM)
    POST   /api/restore                       Replace the document (GM)

  GM:
    GET    /api/gm                            Current GM settings (GM)
    PUT    /api/gm/role                       Change the GM role (GM)

  Info:
    GET    /api/version                       Version, mode, last update

SCOPE:
  The optional "channel" query parameter carries the channel the command
  came from. It only matters when per-channel ledgers are enabled.

CALLER IDENTITY:
  X-Caller-ID     caller's user ID
  X-Caller-Roles  comma-separated role names
  X-Caller-Admin  "true" when the caller is a guild administrator

ERROR HANDLING:
  - 400: Invalid input, malformed restore payload
  - 403: Caller is not a GM
  - 404: Nothing to export
  - 409: Party pool is empty
  - 500: Storage failures
  - 502: On-demand backup stored in some sinks only

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/KalSunchaser77/hero-coins-bot/backup"
	"github.com/KalSunchaser77/hero-coins-bot/ledger"
)

// Version is the service version reported by /api/version.
const Version = "1.1.0"

// maxRestoreBytes caps restore uploads.
const maxRestoreBytes = 8 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *ledger.Ledger
	Auth     *ledger.Authorizer
	Resolver ledger.Resolver
	Backups  *backup.Scheduler // nil when no backup sink is configured
	Log      *zap.Logger
}

// NewHandler creates a handler.
func NewHandler(l *ledger.Ledger, auth *ledger.Authorizer, resolver ledger.Resolver, backups *backup.Scheduler, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Ledger:   l,
		Auth:     auth,
		Resolver: resolver,
		Backups:  backups,
		Log:      log,
	}
}

// =============================================================================
// CALLER & SCOPE
// =============================================================================

func callerFromRequest(r *http.Request) ledger.Caller {
	c := ledger.Caller{ID: strings.TrimSpace(r.Header.Get("X-Caller-ID"))}
	for _, role := range strings.Split(r.Header.Get("X-Caller-Roles"), ",") {
		if role = strings.TrimSpace(role); role != "" {
			c.Roles = append(c.Roles, role)
		}
	}
	c.IsAdmin, _ = strconv.ParseBool(r.Header.Get("X-Caller-Admin"))
	return c
}

func (h *Handler) scope(r *http.Request) ledger.Scope {
	guild := ledger.GuildID(chi.URLParam(r, "guildID"))
	return h.Resolver.Resolve(guild, r.URL.Query().Get("channel"))
}

// RequireGM rejects callers the Authorizer does not accept.
func (h *Handler) RequireGM(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromRequest(r)
		if err := h.Auth.Check(caller); err != nil {
			h.Log.Info("rejected non-GM caller",
				zap.String("caller", caller.ID),
				zap.String("path", r.URL.Path))
			writeError(w, http.StatusForbidden, "Not authorized", err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

// GetTally returns every balance in the scope.
// GET /api/guilds/{guildID}/tally
func (h *Handler) GetTally(w http.ResponseWriter, r *http.Request) {
	tally, err := h.Ledger.Tally(r.Context(), h.scope(r))
	if err != nil {
		h.fail(w, "Failed to read ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toTallyDTO(tally))
}

// GetSummary returns the scope summary.
// GET /api/guilds/{guildID}/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Ledger.Summarize(r.Context(), h.scope(r))
	if err != nil {
		h.fail(w, "Failed to read ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryDTO{
		GuildID:      string(sum.Scope.Guild),
		Scope:        string(sum.Scope.Key),
		Mode:         h.Resolver.Mode(),
		Party:        sum.Party,
		Members:      sum.Members,
		TotalCoins:   sum.TotalCoins,
		AverageCoins: sum.AverageCoins().StringFixed(2),
	})
}

// AwardCoin gives a member one coin.
// POST /api/guilds/{guildID}/coins
func (h *Handler) AwardCoin(w http.ResponseWriter, r *http.Request) {
	var req AwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	member := strings.TrimSpace(req.MemberID)
	if member == "" {
		writeError(w, http.StatusBadRequest, "member_id is required", nil)
		return
	}

	tally, err := h.Ledger.Award(r.Context(), h.scope(r), ledger.MemberID(member))
	if err != nil {
		h.fail(w, "Failed to award coin", err)
		return
	}
	writeJSON(w, http.StatusOK, toTallyDTO(tally))
}

// SpendCoins takes one coin from each listed member.
// POST /api/guilds/{guildID}/spend
func (h *Handler) SpendCoins(w http.ResponseWriter, r *http.Request) {
	var req SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	members := make([]ledger.MemberID, 0, len(req.MemberIDs))
	for _, id := range req.MemberIDs {
		if id = strings.TrimSpace(id); id != "" {
			members = append(members, ledger.MemberID(id))
		}
	}
	if len(members) == 0 {
		writeError(w, http.StatusBadRequest, "At least one member is required", nil)
		return
	}

	res, err := h.Ledger.Spend(r.Context(), h.scope(r), members)
	if err != nil {
		h.fail(w, "Failed to spend coins", err)
		return
	}
	writeJSON(w, http.StatusOK, toSpendResponse(res))
}

// AwardPartyCoin adds one party coin.
// POST /api/guilds/{guildID}/party/award
func (h *Handler) AwardPartyCoin(w http.ResponseWriter, r *http.Request) {
	tally, err := h.Ledger.PartyAward(r.Context(), h.scope(r))
	if err != nil {
		h.fail(w, "Failed to award party coin", err)
		return
	}
	writeJSON(w, http.StatusOK, toTallyDTO(tally))
}

// SpendPartyCoin removes one party coin.
// POST /api/guilds/{guildID}/party/spend
func (h *Handler) SpendPartyCoin(w http.ResponseWriter, r *http.Request) {
	tally, err := h.Ledger.PartySpend(r.Context(), h.scope(r))
	if err != nil {
		h.fail(w, "Failed to spend party coin", err)
		return
	}
	writeJSON(w, http.StatusOK, toTallyDTO(tally))
}

// =============================================================================
// DATA ENDPOINTS
// =============================================================================

// DownloadBackup streams the durable document as an attachment.
// GET /api/backup
func (h *Handler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	data, err := h.Ledger.Export(r.Context())
	if err != nil {
		h.fail(w, "No data file found", err)
		return
	}
	name := backup.ObjectName(time.Now())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// RunBackup stores a backup in every configured sink now.
// POST /api/backup/run
func (h *Handler) RunBackup(w http.ResponseWriter, r *http.Request) {
	if h.Backups == nil {
		writeError(w, http.StatusNotFound, "No backup destination configured", nil)
		return
	}
	res, err := h.Backups.RunOnce(r.Context())
	if err != nil && len(res.Sinks) > 0 {
		h.Log.Error("backup partially stored", zap.Strings("sinks", res.Sinks), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, BackupRunResponse{
			Name:  res.Name,
			Bytes: res.Bytes,
			Sinks: res.Sinks,
			Error: err.Error(),
		})
		return
	}
	if err != nil {
		h.fail(w, "Backup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, BackupRunResponse{Name: res.Name, Bytes: res.Bytes, Sinks: res.Sinks})
}

// RestoreBackup replaces the document with the request body.
// POST /api/restore
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRestoreBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload", err)
		return
	}

	guilds, err := h.Ledger.Restore(r.Context(), data)
	if err != nil {
		h.fail(w, "Restore failed", err)
		return
	}
	h.Log.Info("ledger restored from upload",
		zap.String("caller", callerFromRequest(r).ID),
		zap.Int("guilds", guilds))
	writeJSON(w, http.StatusOK, RestoreResponse{Restored: true, Guilds: guilds})
}

// =============================================================================
// GM ENDPOINTS
// =============================================================================

// GetGMStatus returns the current GM configuration.
// GET /api/gm
func (h *Handler) GetGMStatus(w http.ResponseWriter, r *http.Request) {
	st := h.Auth.Status()
	writeJSON(w, http.StatusOK, GMStatusDTO{GMUserID: st.UserID, GMRole: st.Role})
}

// SetGMRole changes the GM role name for all later checks.
// PUT /api/gm/role
func (h *Handler) SetGMRole(w http.ResponseWriter, r *http.Request) {
	var req SetGMRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	role := strings.TrimSpace(req.RoleName)
	if role == "" {
		writeError(w, http.StatusBadRequest, "role_name is required", nil)
		return
	}

	prev := h.Auth.SetGMRole(role)
	h.Log.Info("GM role changed",
		zap.String("caller", callerFromRequest(r).ID),
		zap.String("from", prev),
		zap.String("to", role))
	st := h.Auth.Status()
	writeJSON(w, http.StatusOK, GMStatusDTO{GMUserID: st.UserID, GMRole: st.Role, Previous: prev})
}

// =============================================================================
// INFO ENDPOINTS
// =============================================================================

// GetVersion reports version, ledger mode and last data update.
// GET /api/version
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	dto := VersionDTO{
		Version:   Version,
		GoVersion: runtime.Version(),
		Mode:      h.Resolver.Mode(),
	}
	updated, err := h.Ledger.UpdatedAt(r.Context())
	if err != nil {
		h.Log.Warn("could not read data timestamp", zap.Error(err))
	} else if !updated.IsZero() {
		dto.DataUpdatedAt = &updated
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

// fail maps ledger errors to HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "Not authorized", err)
	case errors.Is(err, ledger.ErrNoDocument):
		writeError(w, http.StatusNotFound, message, err)
	case isRestorePayloadError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func isRestorePayloadError(err error) bool {
	var mal *ledger.MalformedDocumentError
	return errors.As(err, &mal) && mal.Source == ledger.RestoreSource
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
