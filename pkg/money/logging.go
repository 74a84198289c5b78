package money

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing money operation.
type OperationLog struct {
	Operation   string
	UserID      UserID
	Buyable     BuyableRef
	ChargeID    ChargeID
	Amount      AmountCents
	ChargeState ChargeState
	Status      string
	Error       error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithNotifier wires the notification dispatcher for settled payments.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		if notifier != nil {
			service.notifier = notifier
		}
	}
}
