package order

type Status string

const (
	StatusPending         Status = "pending"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusPaymentFailed   Status = "payment_failed"
	StatusCancelled       Status = "cancelled"
)
