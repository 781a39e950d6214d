package errors

import (
	"encoding/json"
	"fmt"
)

type AppError struct {
	Code    int    `json:"code"`              // Wire error code
	Message string `json:"message"`           // User-facing message
	Minimum int    `json:"minimum,omitempty"` // Minimum acceptable bid, set for ErrBidTooLow
	Err     error  `json:"-"`                 // Underlying error (optional)
}

const (
	ErrBadMessageFormat   = 1001
	ErrUnknownMessageType = 1002
	ErrBidTooLow          = 1003
	ErrInsufficientFunds  = 1004
	ErrItemAuctioned      = 1005
	ErrNotYourTurn        = 1006
	ErrLeaderCannotRaise  = 1007
	ErrLeaderWithdraw     = 1008
	ErrAlreadyWithdrawn   = 1009
	ErrNoActiveAuction    = 1010
	ErrAuctionComplete    = 1011
	ErrItemNotFound       = 1012
	ErrParticipantMissing = 1013
	ErrAuctionActive      = 1014

	ErrInternalServer = 500
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Code: ErrInternalServer, Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// WithMinimum attaches the minimum acceptable amount to a rejection so
// clients can correct a low bid without a round trip.
func (e *AppError) WithMinimum(minimum int) *AppError {
	e.Minimum = minimum
	return e
}

// ToJSON renders the error as a bid-error style payload for unicasting
// back to the submitting client.
func (e *AppError) ToJSON() []byte {
	out, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"code":500,"message":"internal server error"}`)
	}
	return out
}
