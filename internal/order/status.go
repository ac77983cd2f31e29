package order

// allowedTransitions is the only source of truth for status moves. Terminal
// states map to an empty set.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipping: true,
	},
	StatusShipping: {
		StatusCompleted: true,
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

func CanTransition(from, to OrderStatus) bool {
	next, ok := allowedTransitions[from]
	return ok && next[to]
}

const (
	// TimeoutCancelReason tags orders cancelled by the MoMo timeout sweep.
	// Webhooks arriving for such orders are refused.
	TimeoutCancelReason = "MOMO_PAYMENT_TIMEOUT"

	defaultUserCancelReason = "Cancelled by customer"
)

func IsTimeoutReason(reason string) bool {
	return reason == TimeoutCancelReason
}

// cancellation sources, used as metric labels
const (
	cancelSourceUser          = "user"
	cancelSourceTimeout       = "timeout"
	cancelSourcePaymentFailed = "payment_failed"
)
