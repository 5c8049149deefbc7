package orders

type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusCompleted     Status = "completed"
	StatusRefundPending Status = "refund_pending"
	StatusRefunded      Status = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:       {StatusProcessing: true, StatusCompleted: true},
	StatusProcessing:    {StatusPending: true, StatusCompleted: true},
	StatusCompleted:     {StatusRefundPending: true},
	StatusRefundPending: {StatusRefunded: true},
	StatusRefunded:      {},
}

func CanTransition(from, to Status) bool { return validNext[from][to] }

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Paid reports whether the order has passed checkout. parts_list is frozen from here on.
func (s Status) Paid() bool {
	switch s {
	case StatusCompleted, StatusRefundPending, StatusRefunded:
		return true
	}
	return false
}
