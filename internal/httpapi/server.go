package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/coziyoo/backend/internal/abuse"
	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/authz"
	"github.com/coziyoo/backend/internal/catalog"
	"github.com/coziyoo/backend/internal/chat"
	"github.com/coziyoo/backend/internal/compliance"
	"github.com/coziyoo/backend/internal/config"
	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/deliveryproof"
	"github.com/coziyoo/backend/internal/disclosure"
	"github.com/coziyoo/backend/internal/dispatch"
	"github.com/coziyoo/backend/internal/disputes"
	"github.com/coziyoo/backend/internal/finance"
	"github.com/coziyoo/backend/internal/idempotency"
	"github.com/coziyoo/backend/internal/identity"
	"github.com/coziyoo/backend/internal/lots"
	"github.com/coziyoo/backend/internal/media"
	"github.com/coziyoo/backend/internal/notifications"
	"github.com/coziyoo/backend/internal/orders"
	"github.com/coziyoo/backend/internal/payments"
	"github.com/coziyoo/backend/internal/retention"
	"github.com/coziyoo/backend/internal/reviews"
)

// Server bundles every domain service behind the HTTP surface.
type Server struct {
	cfg *config.Config
	db  *database.DB

	identity    *identity.Service
	abuse       *abuse.Gate
	idem        *idempotency.Store
	catalog     *catalog.Service
	orders      *orders.Service
	payments    *payments.Service
	compliance  *compliance.Service
	lots        *lots.Service
	proof       *deliveryproof.Service
	disclosures *disclosure.Store
	finance     *finance.Service
	reportJobs  *finance.ReportJobs
	disputes    *disputes.Service
	chats       *chat.Store
	reviews     *reviews.Store
	notifStore  *notifications.Store
	hub         *notifications.Hub
	dispatcher  *dispatch.Dispatcher
	media       *media.Store
	retention   *retention.Purger
}

// Deps carries the constructed services into the server.
type Deps struct {
	Config      *config.Config
	DB          *database.DB
	Identity    *identity.Service
	Abuse       *abuse.Gate
	Idempotency *idempotency.Store
	Catalog     *catalog.Service
	Orders      *orders.Service
	Payments    *payments.Service
	Compliance  *compliance.Service
	Lots        *lots.Service
	Proof       *deliveryproof.Service
	Disclosures *disclosure.Store
	Finance     *finance.Service
	ReportJobs  *finance.ReportJobs
	Disputes    *disputes.Service
	Chats       *chat.Store
	Reviews     *reviews.Store
	NotifStore  *notifications.Store
	Hub         *notifications.Hub
	Dispatcher  *dispatch.Dispatcher
	Media       *media.Store
	Retention   *retention.Purger
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:         d.Config,
		db:          d.DB,
		identity:    d.Identity,
		abuse:       d.Abuse,
		idem:        d.Idempotency,
		catalog:     d.Catalog,
		orders:      d.Orders,
		payments:    d.Payments,
		compliance:  d.Compliance,
		lots:        d.Lots,
		proof:       d.Proof,
		disclosures: d.Disclosures,
		finance:     d.Finance,
		reportJobs:  d.ReportJobs,
		disputes:    d.Disputes,
		chats:       d.Chats,
		reviews:     d.Reviews,
		notifStore:  d.NotifStore,
		hub:         d.Hub,
		dispatcher:  d.Dispatcher,
		media:       d.Media,
		retention:   d.Retention,
	}
}

// Handler builds the full routing tree wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.notFound)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Internal task target for deferred report builds. Reachable only from
	// the task queue's service account in deployed environments.
	r.HandleFunc("/internal/tasks/reports", s.buildReportTask).Methods(http.MethodPost)

	v1 := r.PathPrefix("/v1").Subrouter()
	s.mountAuth(v1)
	s.mountCatalog(v1)
	s.mountOrders(v1)
	s.mountPayments(v1)
	s.mountSeller(v1)
	s.mountSocial(v1)
	s.mountAssistant(v1)
	s.mountAdmin(v1.PathPrefix("/admin").Subrouter())

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", idempotency.Header, authz.ActorRoleHeader},
		AllowCredentials: true,
	})
	return recoverMiddleware(instrument(c.Handler(r)))
}

func (s *Server) mountAuth(r *mux.Router) {
	r.HandleFunc("/auth/register", s.guard(abuse.FlowSignup, s.register)).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.guard(abuse.FlowLogin, s.login(identity.RealmApp))).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.refresh(identity.RealmApp)).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.authenticate(appPolicy(), s.logout)).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout-all", s.authenticate(appPolicy(), s.logoutAll)).Methods(http.MethodPost)
	r.HandleFunc("/auth/display-name/check",
		s.guard(abuse.FlowDisplayNameCheck, s.checkDisplayName)).Methods(http.MethodGet)

	r.HandleFunc("/auth/me", s.authenticate(appPolicy(), s.getProfile)).Methods(http.MethodGet)
	r.HandleFunc("/auth/me", s.authenticate(appPolicy(), s.updateProfile)).Methods(http.MethodPatch)
	r.HandleFunc("/me/addresses", s.authenticate(appPolicy(), s.listAddresses)).Methods(http.MethodGet)
	r.HandleFunc("/me/addresses", s.authenticate(appPolicy(), s.saveAddress)).Methods(http.MethodPost)
	r.HandleFunc("/me/addresses/{id}", s.authenticate(appPolicy(), s.deleteAddress)).Methods(http.MethodDelete)
	r.HandleFunc("/me/addresses/{id}/default", s.authenticate(appPolicy(), s.setDefaultAddress)).Methods(http.MethodPost)
	r.HandleFunc("/me/favorites", s.authenticate(appPolicy(authz.RoleBuyer), s.listFavorites)).Methods(http.MethodGet)

	r.HandleFunc("/media", s.authenticate(appPolicy(), s.registerMedia)).Methods(http.MethodPost)
	r.HandleFunc("/media", s.authenticate(appPolicy(), s.listMedia)).Methods(http.MethodGet)
	r.HandleFunc("/media/{id}", s.authenticate(appPolicy(), s.deleteMedia)).Methods(http.MethodDelete)
}

func (s *Server) mountCatalog(r *mux.Router) {
	r.HandleFunc("/categories", s.listCategories).Methods(http.MethodGet)
	r.HandleFunc("/foods", s.listFoods).Methods(http.MethodGet)
	r.HandleFunc("/foods", s.authenticate(appPolicy(authz.RoleSeller), s.createFood)).Methods(http.MethodPost)
	r.HandleFunc("/foods/{id}", s.getFood).Methods(http.MethodGet)
	r.HandleFunc("/foods/{id}", s.authenticate(appPolicy(authz.RoleSeller), s.updateFood)).Methods(http.MethodPatch)
	r.HandleFunc("/foods/{id}", s.authenticate(appPolicy(authz.RoleSeller), s.deleteFood)).Methods(http.MethodDelete)
	r.HandleFunc("/foods/{id}/reviews", s.listReviews).Methods(http.MethodGet)
	r.HandleFunc("/foods/{id}/favorite", s.authenticate(appPolicy(authz.RoleBuyer), s.addFavorite)).Methods(http.MethodPost)
	r.HandleFunc("/foods/{id}/favorite", s.authenticate(appPolicy(authz.RoleBuyer), s.removeFavorite)).Methods(http.MethodDelete)
	r.HandleFunc("/reviews", s.authenticate(appPolicy(authz.RoleBuyer), s.createReview)).Methods(http.MethodPost)
}

func (s *Server) mountOrders(r *mux.Router) {
	r.HandleFunc("/orders", s.authenticate(appPolicy(authz.RoleBuyer),
		s.guard(abuse.FlowOrderCreate,
			s.idempotent(idempotency.ScopeOrderCreate, s.createOrder)))).Methods(http.MethodPost)
	r.HandleFunc("/orders", s.authenticate(appPolicy(), s.listOrders)).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}", s.authenticate(appPolicy(), s.getOrder)).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}/events", s.authenticate(appPolicy(), s.orderEvents)).Methods(http.MethodGet)

	r.HandleFunc("/orders/{id}/approve", s.authenticate(appPolicy(authz.RoleSeller), s.approveOrder)).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}/reject", s.authenticate(appPolicy(authz.RoleSeller), s.rejectOrder)).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}/cancel", s.authenticate(appPolicy(authz.RoleBuyer), s.cancelOrder)).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}/status", s.authenticate(appPolicy(authz.RoleSeller), s.sellerOrderStatus)).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}/complete", s.authenticate(appPolicy(authz.RoleBuyer), s.completeOrder)).Methods(http.MethodPost)

	r.HandleFunc("/orders/{id}/disclosures", s.authenticate(appPolicy(), s.listDisclosures)).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}/disclosures", s.authenticate(appPolicy(), s.saveDisclosure)).Methods(http.MethodPost)

	r.HandleFunc("/orders/{id}/delivery-pin", s.authenticate(appPolicy(authz.RoleSeller), s.issueDeliveryPIN)).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}/delivery-pin/verify", s.authenticate(appPolicy(authz.RoleSeller),
		s.guard(abuse.FlowPinVerify, s.verifyDeliveryPIN))).Methods(http.MethodPost)

	r.HandleFunc("/orders/{id}/refund-request", s.authenticate(appPolicy(authz.RoleBuyer),
		s.guard(abuse.FlowRefundRequest,
			s.idempotent(idempotency.ScopeRefundRequest, s.requestRefund)))).Methods(http.MethodPost)
}

func (s *Server) mountPayments(r *mux.Router) {
	r.HandleFunc("/payments/start", s.authenticate(appPolicy(authz.RoleBuyer),
		s.guard(abuse.FlowPaymentStart,
			s.idempotent(idempotency.ScopePaymentStart, s.startPayment)))).Methods(http.MethodPost)
	r.HandleFunc("/payments/return", s.paymentReturn).Methods(http.MethodGet)
	r.HandleFunc("/payments/webhook", s.paymentWebhook).Methods(http.MethodPost)
	r.HandleFunc("/payments/{id}/status", s.authenticate(appPolicy(), s.paymentStatus)).Methods(http.MethodGet)
}

func (s *Server) mountSeller(r *mux.Router) {
	seller := r.PathPrefix("/seller").Subrouter()
	seller.HandleFunc("/compliance", s.authenticate(appPolicy(authz.RoleSeller), s.getCompliance)).Methods(http.MethodGet)
	seller.HandleFunc("/compliance/profile", s.authenticate(appPolicy(authz.RoleSeller), s.startCompliance)).Methods(http.MethodPut)
	seller.HandleFunc("/compliance/documents", s.authenticate(appPolicy(authz.RoleSeller), s.listComplianceDocuments)).Methods(http.MethodGet)
	seller.HandleFunc("/compliance/documents", s.authenticate(appPolicy(authz.RoleSeller), s.uploadComplianceDocument)).Methods(http.MethodPost)
	seller.HandleFunc("/compliance/submit", s.authenticate(appPolicy(authz.RoleSeller), s.submitCompliance)).Methods(http.MethodPost)

	seller.HandleFunc("/lots", s.authenticate(appPolicy(authz.RoleSeller), s.createLot)).Methods(http.MethodPost)
	seller.HandleFunc("/lots", s.authenticate(appPolicy(authz.RoleSeller), s.listLots)).Methods(http.MethodGet)
	seller.HandleFunc("/lots/{id}", s.authenticate(appPolicy(authz.RoleSeller), s.getLot)).Methods(http.MethodGet)
	seller.HandleFunc("/lots/{id}/adjust", s.authenticate(appPolicy(authz.RoleSeller), s.adjustLot)).Methods(http.MethodPost)
	seller.HandleFunc("/lots/{id}/discard", s.authenticate(appPolicy(authz.RoleSeller), s.discardLot)).Methods(http.MethodPost)
	seller.HandleFunc("/lots/{id}/recall", s.authenticate(appPolicy(authz.RoleSeller), s.recallLot)).Methods(http.MethodPost)

	seller.HandleFunc("/finance/summary", s.authenticate(appPolicy(authz.RoleSeller), s.financeSummary)).Methods(http.MethodGet)
	seller.HandleFunc("/finance/adjustments", s.authenticate(appPolicy(authz.RoleSeller), s.listAdjustments)).Methods(http.MethodGet)
}

func (s *Server) mountSocial(r *mux.Router) {
	r.HandleFunc("/chats", s.authenticate(appPolicy(), s.openChat)).Methods(http.MethodPost)
	r.HandleFunc("/chats", s.authenticate(appPolicy(), s.listChats)).Methods(http.MethodGet)
	r.HandleFunc("/chats/{id}", s.authenticate(appPolicy(), s.getChat)).Methods(http.MethodGet)
	r.HandleFunc("/chats/{id}/messages", s.authenticate(appPolicy(), s.listMessages)).Methods(http.MethodGet)
	r.HandleFunc("/chats/{id}/messages", s.authenticate(appPolicy(), s.sendMessage)).Methods(http.MethodPost)

	r.HandleFunc("/notifications", s.authenticate(appPolicy(), s.listNotifications)).Methods(http.MethodGet)
	r.HandleFunc("/notifications/read-all", s.authenticate(appPolicy(), s.markAllNotificationsRead)).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id}/read", s.authenticate(appPolicy(), s.markNotificationRead)).Methods(http.MethodPost)
	r.HandleFunc("/notifications/stream", s.authenticate(appPolicy(), s.notificationStream)).Methods(http.MethodGet)
}

func (s *Server) mountAssistant(r *mux.Router) {
	r.HandleFunc("/assistant/dispatch", s.authenticate(appPolicy(), s.assistantDispatch)).Methods(http.MethodPost)
	r.HandleFunc("/assistant/room-token", s.authenticate(appPolicy(), s.assistantRoomToken)).Methods(http.MethodPost)
}

func (s *Server) mountAdmin(r *mux.Router) {
	r.HandleFunc("/auth/login", s.guard(abuse.FlowLogin, s.login(identity.RealmAdmin))).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.refresh(identity.RealmAdmin)).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.authenticate(adminPolicy(), s.logout)).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.authenticate(adminPolicy(), s.adminProfile)).Methods(http.MethodGet)

	r.HandleFunc("/categories", s.authenticate(adminPolicy(authz.RoleAdmin), s.createCategory)).Methods(http.MethodPost)

	r.HandleFunc("/compliance/pending", s.authenticate(adminPolicy(authz.RoleAdmin), s.listPendingCompliance)).Methods(http.MethodGet)
	r.HandleFunc("/compliance/{profileId}", s.authenticate(adminPolicy(authz.RoleAdmin), s.adminGetCompliance)).Methods(http.MethodGet)
	r.HandleFunc("/compliance/{profileId}/checks/{code}", s.authenticate(adminPolicy(authz.RoleAdmin), s.verifyComplianceCheck)).Methods(http.MethodPost)
	r.HandleFunc("/compliance/{profileId}/review", s.authenticate(adminPolicy(authz.RoleAdmin), s.reviewCompliance)).Methods(http.MethodPost)
	r.HandleFunc("/compliance/{profileId}/suspend", s.authenticate(adminPolicy(authz.RoleAdmin), s.suspendCompliance)).Methods(http.MethodPost)

	r.HandleFunc("/orders/{id}", s.authenticate(adminPolicy(authz.RoleAdmin), s.adminGetOrder)).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}/status", s.authenticate(adminPolicy(authz.RoleAdmin), s.adminOrderStatus)).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}/completion-override", s.authenticate(adminPolicy(authz.RoleAdmin), s.completionOverride)).Methods(http.MethodPost)
	r.HandleFunc("/lots", s.authenticate(adminPolicy(authz.RoleAdmin), s.adminListLots)).Methods(http.MethodGet)
	r.HandleFunc("/lots/{id}/orders", s.authenticate(adminPolicy(authz.RoleAdmin), s.ordersForLot)).Methods(http.MethodGet)

	r.HandleFunc("/disputes", s.authenticate(adminPolicy(authz.RoleAdmin), s.listOpenDisputes)).Methods(http.MethodGet)
	r.HandleFunc("/disputes/{id}", s.authenticate(adminPolicy(authz.RoleAdmin), s.getDispute)).Methods(http.MethodGet)
	r.HandleFunc("/disputes/{id}/resolve", s.authenticate(adminPolicy(authz.RoleAdmin), s.resolveDispute)).Methods(http.MethodPost)
	r.HandleFunc("/disputes/{id}/evidence", s.authenticate(adminPolicy(authz.RoleAdmin), s.addDisputeEvidence)).Methods(http.MethodPost)

	r.HandleFunc("/commission", s.authenticate(adminPolicy(authz.RoleAdmin), s.getCommission)).Methods(http.MethodGet)
	r.HandleFunc("/commission", s.authenticate(adminPolicy(authz.RoleSuperAdmin), s.setCommission)).Methods(http.MethodPost)

	r.HandleFunc("/reports/reconciliation", s.authenticate(adminPolicy(authz.RoleAdmin), s.requestReport)).Methods(http.MethodPost)
	r.HandleFunc("/reports/{id}", s.authenticate(adminPolicy(authz.RoleAdmin), s.getReport)).Methods(http.MethodGet)

	r.HandleFunc("/legal-holds", s.authenticate(adminPolicy(authz.RoleAdmin), s.placeLegalHold)).Methods(http.MethodPost)
	r.HandleFunc("/legal-holds/{id}/release", s.authenticate(adminPolicy(authz.RoleAdmin), s.releaseLegalHold)).Methods(http.MethodPost)

	r.HandleFunc("/audit", s.authenticate(adminPolicy(authz.RoleAdmin), s.listAudit)).Methods(http.MethodGet)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, apperr.APIVersionUnsupported.WithMessage("no route for %s", r.URL.Path))
}
