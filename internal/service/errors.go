package service

import "errors"

var (
	// ErrPaymentNotCompleted means the checkout session exists but Stripe has
	// not recorded payment, so no subscription may be materialized.
	ErrPaymentNotCompleted = errors.New("payment not completed")

	// ErrInvalidUserID means session metadata carried a missing or
	// unparseable user id.
	ErrInvalidUserID = errors.New("invalid user id in session metadata")

	// ErrInvalidTier means a tier outside the pricing table was requested.
	ErrInvalidTier = errors.New("invalid tier")

	// ErrSessionMismatch means the checkout session belongs to a different
	// user than the one in the request.
	ErrSessionMismatch = errors.New("session does not belong to user")

	// ErrNoSubscription means the user has no materialized subscription.
	ErrNoSubscription = errors.New("no subscription found")

	// ErrNoInstance means the user has no non-deleted instance.
	ErrNoInstance = errors.New("no instance found")

	// ErrRetryNotAllowed means retry was requested for an instance that is
	// not in error state.
	ErrRetryNotAllowed = errors.New("retry only allowed for errored instances")

	// ErrInvalidBotToken means the supplied Telegram bot token does not look
	// like a token issued by BotFather.
	ErrInvalidBotToken = errors.New("invalid telegram bot token format")
)
