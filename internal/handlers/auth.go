package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"parking/internal/auth"
	"parking/internal/db"
	"parking/internal/middleware"
	"parking/internal/models"
	"parking/internal/store"
	"parking/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

const operatorUsernameConstraint = "operators_username_key"

var errAlreadyBootstrapped = errors.New("already bootstrapped")

type credentialsRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Bootstrap creates the first operator as super admin. It is refused once
// any admin exists; later staff are created through /admin/operators.
func (h *Handler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validator.ValidateUsername(req.Username); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_username", err.Error())
		return
	}
	if err := validator.ValidatePassword(req.Password); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_password", err.Error())
		return
	}
	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to secure password")
		return
	}
	operatorID := uuid.NewString()
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		hasAdmin, err := h.admin.HasAnyAdmin(r.Context())
		if err != nil {
			return err
		}
		if hasAdmin {
			return errAlreadyBootstrapped
		}
		if err := h.operators.Create(r.Context(), tx, models.Operator{ID: operatorID, Username: req.Username, PasswordHash: passwordHash}); err != nil {
			return err
		}
		if err := h.admin.CreateAdmin(r.Context(), tx, operatorID, true, nil); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, staffEntry("operator", operatorID, "operator.bootstrap", operatorID, map[string]string{
			"username": req.Username,
			"ip":       r.RemoteAddr,
		}))
	})
	if err != nil {
		switch {
		case errors.Is(err, errAlreadyBootstrapped):
			respondError(w, http.StatusForbidden, "forbidden", "an administrator already exists")
		case db.IsUniqueViolation(err, operatorUsernameConstraint):
			respondError(w, http.StatusConflict, "username_taken", "username already exists")
		default:
			log.Error().Err(err).Msg("bootstrap failed")
			respondError(w, http.StatusInternalServerError, "internal_error", "bootstrap failed")
		}
		return
	}
	token, err := auth.GenerateToken(h.cfg.JWTSecret, operatorID, h.cfg.TokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to generate token")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"operator_id": operatorID,
		"token":       token,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	op, err := h.operators.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		log.Error().Err(err).Msg("operator lookup failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}
	if !auth.CheckPassword(op.PasswordHash, req.Password) {
		log.Warn().Str("username", req.Username).Str("ip", r.RemoteAddr).Msg("failed login")
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	token, err := auth.GenerateToken(h.cfg.JWTSecret, op.ID, h.cfg.TokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to generate token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"operator_id": op.ID,
		"token":       token,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	op, err := h.operators.GetByID(r.Context(), operatorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "operator_not_found", "operator not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to load operator")
		return
	}
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), operatorID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to verify admin")
		return
	}
	roles := []string{}
	switch {
	case isSuper:
		roles = store.Roles
	case isAdmin:
		if roles, err = h.admin.ListRoles(r.Context(), operatorID); err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "unable to load roles")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":             op.ID,
		"username":       op.Username,
		"created_at":     op.CreatedAt,
		"is_admin":       isAdmin,
		"is_super_admin": isSuper,
		"roles":          roles,
	})
}

// staffEntry builds the audit entry for operator and admin management.
func staffEntry(entityType, entityID, action, actorID string, data map[string]string) models.AuditEntry {
	raw, _ := json.Marshal(data)
	value := string(raw)
	return models.AuditEntry{
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		NewValue:    &value,
		PerformedBy: actorID,
		Timestamp:   time.Now().UTC(),
	}
}

func operatorFromContext(w http.ResponseWriter, r *http.Request) (string, bool) {
	operatorID, ok := middleware.OperatorIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	}
	return operatorID, ok
}
