package domain

type Status string

const (
	StatusScheduled      Status = "scheduled"
	StatusPending        Status = "pending"
	StatusPreparing      Status = "preparing"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusScheduled:      {StatusPending: true, StatusPreparing: true, StatusCancelled: true},
	StatusPending:        {StatusPreparing: true, StatusOutForDelivery: true, StatusCancelled: true},
	StatusPreparing:      {StatusOutForDelivery: true, StatusDelivered: true, StatusCancelled: true},
	StatusOutForDelivery: {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

// CanTransition reports whether moving from one status to another is legal.
// Same-state calls are not transitions; callers treat them as no-op successes.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}
