package orders

// Order statuses. The transition table below is the single authority on
// lifecycle moves; nothing else mutates orders.status.
const (
	StatusDraft                 = "draft"
	StatusPendingSellerApproval = "pending_seller_approval"
	StatusSellerApproved        = "seller_approved"
	StatusAwaitingPayment       = "awaiting_payment"
	StatusPaid                  = "paid"
	StatusPreparing             = "preparing"
	StatusReady                 = "ready"
	StatusInDelivery            = "in_delivery"
	StatusDelivered             = "delivered"
	StatusCompleted             = "completed"
	StatusRejected              = "rejected"
	StatusCancelled             = "cancelled"
	StatusRefundPending         = "refund_pending"
	StatusRefunded              = "refunded"
	StatusRefundRejected        = "refund_rejected"
	StatusExpired               = "expired"
)

// Actor kinds for the transition matrix.
const (
	ActorBuyer  = "buyer"
	ActorSeller = "seller"
	ActorSystem = "system"
	ActorAdmin  = "admin"
)

type transitionKey struct {
	from string
	to   string
}

// transitions maps each legal move to the actor kinds allowed to drive it.
// Admin can drive any legal move (override), so it is implied everywhere.
var transitions = map[transitionKey][]string{
	{StatusDraft, StatusPendingSellerApproval}: {ActorBuyer, ActorSystem},

	{StatusPendingSellerApproval, StatusSellerApproved}: {ActorSeller},
	{StatusPendingSellerApproval, StatusRejected}:       {ActorSeller},
	{StatusPendingSellerApproval, StatusCancelled}:      {ActorBuyer},
	{StatusPendingSellerApproval, StatusExpired}:        {ActorSystem},

	{StatusSellerApproved, StatusAwaitingPayment}: {ActorBuyer, ActorSystem},
	{StatusSellerApproved, StatusCancelled}:       {ActorBuyer, ActorSeller},

	{StatusAwaitingPayment, StatusPaid}:      {ActorSystem},
	{StatusAwaitingPayment, StatusCancelled}: {ActorBuyer, ActorSeller},
	{StatusAwaitingPayment, StatusExpired}:   {ActorSystem},

	{StatusPaid, StatusPreparing}:     {ActorSeller},
	{StatusPaid, StatusCancelled}:     {ActorBuyer, ActorSeller},
	{StatusPaid, StatusRefundPending}: {ActorBuyer},

	{StatusPreparing, StatusReady}:     {ActorSeller},
	{StatusPreparing, StatusCancelled}: {ActorSeller},

	{StatusReady, StatusInDelivery}: {ActorSeller},
	{StatusReady, StatusDelivered}:  {ActorSeller}, // pickup orders skip in_delivery
	{StatusReady, StatusCancelled}:  {ActorSeller},

	{StatusInDelivery, StatusDelivered}: {ActorSeller},
	{StatusInDelivery, StatusCancelled}: {ActorSeller},

	{StatusDelivered, StatusCompleted}:     {ActorBuyer, ActorSystem},
	{StatusDelivered, StatusRefundPending}: {ActorBuyer},

	{StatusRefundPending, StatusRefunded}:       {ActorAdmin},
	{StatusRefundPending, StatusRefundRejected}: {ActorAdmin},
}

var terminal = map[string]bool{
	StatusCompleted:      true,
	StatusRejected:       true,
	StatusCancelled:      true,
	StatusRefunded:       true,
	StatusRefundRejected: true,
	StatusExpired:        true,
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool { return terminal[status] }

// CanTransition reports whether from→to is a legal move at all.
func CanTransition(from, to string) bool {
	_, ok := transitions[transitionKey{from, to}]
	return ok
}

// ActorMayTransition reports whether the actor kind may drive from→to.
func ActorMayTransition(actor, from, to string) bool {
	allowed, ok := transitions[transitionKey{from, to}]
	if !ok {
		return false
	}
	if actor == ActorAdmin {
		return true
	}
	for _, a := range allowed {
		if a == actor {
			return true
		}
	}
	return false
}

// releaseOnExit lists the target statuses that return lot allocations to
// stock. Past handover the food is gone and nothing is restored.
var releaseOnExit = map[string]bool{
	StatusRejected:  true,
	StatusCancelled: true,
	StatusExpired:   true,
}

// restoresStock reports whether moving from→to returns allocations. Only
// pre-handover exits restore; a cancellation after delivery keeps the
// allocation history intact.
func restoresStock(from, to string) bool {
	if !releaseOnExit[to] {
		return false
	}
	switch from {
	case StatusDelivered, StatusCompleted:
		return false
	}
	return true
}
