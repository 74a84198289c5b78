package money

const (
	operationDirectCharge      = "direct_charge"
	operationStartCheckout     = "start_checkout"
	operationCheckoutSucceeded = "checkout_succeeded"
	operationCheckoutFailed    = "checkout_failed"
	operationReconcile         = "reconcile"
	operationAmountOwed        = "amount_owed"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	commentPendingPayment = "Pending stripe payment"
	commentCheckoutFailed = "Stripe checkout failed."

	messageAmountMissing     = "charge amount is missing"
	messageAmountNotPositive = "amount must be more than 0 cents"
	messageRefusingToOverpay = "refusing to overpay for "

	siteSelectionItemName = "Site Selection"

	maxCommentLength = 255
)
