package handlers

import (
	"net/http"

	"parking/internal/config"
	"parking/internal/db"
	"parking/internal/middleware"
	"parking/internal/store"
	"parking/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	txRunner  db.TxRunner
	cfg       config.Config
	operators OperatorStore
	admin     AdminStore
	audit     AuditStore
	tickets   TicketService
	registers RegisterService
	pensions  PensionService
	pricing   PricingService
	hub       *websocket.Hub

	deadLetters DeadLetterCounter
}

func New(txRunner db.TxRunner, cfg config.Config, operators OperatorStore, admin AdminStore, audit AuditStore, tickets TicketService, registers RegisterService, pensions PensionService, pricing PricingService, hub *websocket.Hub) *Handler {
	return &Handler{
		txRunner:  txRunner,
		cfg:       cfg,
		operators: operators,
		admin:     admin,
		audit:     audit,
		tickets:   tickets,
		registers: registers,
		pensions:  pensions,
		pricing:   pricing,
		hub:       hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestLogger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authenticated := middleware.Auth(h.cfg.JWTSecret)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/bootstrap", h.Bootstrap)
		r.Post("/login", h.Login)
		r.With(authenticated).Get("/me", h.Me)
	})

	router.Route("/tickets", func(r chi.Router) {
		r.Use(authenticated)
		r.Post("/", h.OpenTicket)
		r.Post("/lost", h.ReportLost)
		r.Get("/{id}", h.GetTicket)
		r.Get("/{id}/quote", h.QuoteTicket)
		r.Post("/{id}/pay", h.PayTicket)
		r.Post("/{id}/exit", h.AuthorizeExit)
		r.With(middleware.RequireAdmin(h.admin, store.RoleOverride)).Post("/{id}/cancel", h.CancelTicket)
		r.With(middleware.RequireAdmin(h.admin, store.RoleOverride)).Post("/{id}/refund", h.RefundTicket)
	})

	router.Route("/pensions", func(r chi.Router) {
		r.Use(authenticated)
		r.Post("/", h.SellPension)
		r.Get("/{plate}", h.ActivePension)
	})

	router.Route("/registers", func(r chi.Router) {
		r.Use(authenticated)
		r.Post("/open", h.OpenRegister)
		r.Get("/current", h.CurrentRegister)
		r.Post("/adjust", h.AdjustRegister)
		r.Post("/close", h.CloseRegister)
		r.Get("/{id}/balance", h.RegisterBalance)
		r.Get("/{id}/journal", h.RegisterJournal)
	})

	router.Route("/pricing", func(r chi.Router) {
		r.Use(authenticated)
		r.Get("/active", h.ActivePricing)
		r.With(middleware.RequireAdmin(h.admin, store.RoleManagePricing)).Post("/", h.PublishPricing)
		r.With(middleware.RequireAdmin(h.admin, store.RoleManagePricing)).Get("/history", h.PricingHistory)
	})

	router.Route("/audit", func(r chi.Router) {
		r.Use(authenticated)
		r.Use(middleware.RequireAdmin(h.admin, store.RoleViewAudit))
		r.Get("/", h.ListAudit)
		r.Get("/verify", h.VerifyAudit)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(authenticated)
		r.With(middleware.RequireAdmin(h.admin, store.RoleManageStaff)).Get("/operators", h.ListOperators)
		r.With(middleware.RequireAdmin(h.admin, store.RoleManageStaff)).Post("/operators", h.CreateOperator)
		r.With(middleware.RequireAdmin(h.admin, "")).Post("/promote", h.PromoteAdmin)
		r.With(middleware.RequireAdmin(h.admin, "")).Post("/roles/grant", h.GrantRole)
		r.With(middleware.RequireAdmin(h.admin, "")).Post("/roles/revoke", h.RevokeRole)
	})

	router.With(authenticated).Get("/ws/register", h.WSRegister)

	router.Get("/health", h.Health)
	return router
}

// ReportDeadLetters adds the dead-letter backlog to /health.
func (h *Handler) ReportDeadLetters(counter DeadLetterCounter) {
	h.deadLetters = counter
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "ok"}
	if pending, err := h.audit.PendingCount(r.Context()); err == nil {
		payload["audit_pending"] = pending
	} else {
		payload["status"] = "degraded"
	}
	if h.deadLetters != nil {
		if parked, err := h.deadLetters.Pending(r.Context()); err == nil {
			payload["audit_dead_letters"] = parked
			if parked > 0 {
				payload["status"] = "degraded"
			}
		} else {
			log.Warn().Err(err).Msg("dead letter count unavailable")
		}
	}
	respondJSON(w, http.StatusOK, payload)
}
