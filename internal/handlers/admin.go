package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"parking/internal/auth"
	"parking/internal/db"
	"parking/internal/models"
	"parking/internal/store"
	"parking/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

func grantable(role string) bool {
	for _, r := range store.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (h *Handler) ListOperators(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	operators, err := h.operators.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to load operators")
		return
	}
	respondJSON(w, http.StatusOK, operators)
}

func (h *Handler) CreateOperator(w http.ResponseWriter, r *http.Request) {
	actorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
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
	op := models.Operator{ID: uuid.NewString(), Username: req.Username, PasswordHash: passwordHash}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.operators.Create(r.Context(), tx, op); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, staffEntry("operator", op.ID, "operator.create", actorID, map[string]string{
			"username": op.Username,
		}))
	})
	if err != nil {
		if db.IsUniqueViolation(err, operatorUsernameConstraint) {
			respondError(w, http.StatusConflict, "username_taken", "username already exists")
			return
		}
		log.Error().Err(err).Msg("operator creation failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to create operator")
		return
	}
	respondJSON(w, http.StatusCreated, op)
}

type promoteRequest struct {
	Username string `json:"username" validate:"required"`
}

// PromoteAdmin makes an existing operator a (non-super) admin. Super admin only.
func (h *Handler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireSuper(w, r)
	if !ok {
		return
	}
	var req promoteRequest
	if !decode(w, r, &req) {
		return
	}
	target, err := h.operators.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "operator_not_found", "operator not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to resolve operator")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.CreateAdmin(r.Context(), tx, target.ID, false, &actorID); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, staffEntry("admin", target.ID, "admin.promote", actorID, map[string]string{
			"target_operator_id": target.ID,
		}))
	})
	if err != nil {
		log.Error().Err(err).Str("target", target.ID).Msg("promote failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to promote admin")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "promoted"})
}

type roleRequest struct {
	AdminOperatorID string `json:"admin_operator_id" validate:"required"`
	Role            string `json:"role" validate:"required"`
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireSuper(w, r)
	if !ok {
		return
	}
	req, ok := h.roleTarget(w, r)
	if !ok {
		return
	}
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.GrantRole(r.Context(), tx, req.AdminOperatorID, req.Role); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, staffEntry("admin", req.AdminOperatorID, "admin.grant_role", actorID, map[string]string{
			"role": req.Role,
		}))
	})
	if err != nil {
		log.Error().Err(err).Msg("grant role failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to grant role")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "role_granted"})
}

// RevokeRole removes a grant. Revoking a role that was never granted is a 404.
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireSuper(w, r)
	if !ok {
		return
	}
	req, ok := h.roleTarget(w, r)
	if !ok {
		return
	}
	var revoked bool
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		var err error
		revoked, err = h.admin.RevokeRole(r.Context(), tx, req.AdminOperatorID, req.Role)
		if err != nil || !revoked {
			return err
		}
		return h.audit.Log(r.Context(), tx, staffEntry("admin", req.AdminOperatorID, "admin.revoke_role", actorID, map[string]string{
			"role": req.Role,
		}))
	})
	if err != nil {
		log.Error().Err(err).Msg("revoke role failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to revoke role")
		return
	}
	if !revoked {
		respondError(w, http.StatusNotFound, "role_not_granted", "role is not granted")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "role_revoked"})
}

// roleTarget decodes a role change and checks the target is a plain admin.
func (h *Handler) roleTarget(w http.ResponseWriter, r *http.Request) (roleRequest, bool) {
	var req roleRequest
	if !decode(w, r, &req) {
		return req, false
	}
	if !grantable(req.Role) {
		respondError(w, http.StatusBadRequest, "invalid_role", "unknown role")
		return req, false
	}
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), req.AdminOperatorID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to verify target admin")
		return req, false
	}
	if !isAdmin {
		respondError(w, http.StatusBadRequest, "not_admin", "target is not an admin")
		return req, false
	}
	if isSuper {
		respondError(w, http.StatusBadRequest, "super_admin", "super admins hold every role")
		return req, false
	}
	return req, true
}

func (h *Handler) requireSuper(w http.ResponseWriter, r *http.Request) (string, bool) {
	actorID, ok := operatorFromContext(w, r)
	if !ok {
		return "", false
	}
	_, isSuper, err := h.admin.IsAdmin(r.Context(), actorID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to verify admin")
		return "", false
	}
	if !isSuper {
		respondError(w, http.StatusForbidden, "super_admin_required", "super admin required")
		return "", false
	}
	return actorID, true
}
