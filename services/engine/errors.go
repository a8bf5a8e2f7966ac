package engine

// Error taxonomy shared by the engine, the live loop and the API layer

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Details == "" {
		return e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Message + " (" + e.Details + ")"
}

// Is matches on Code so wrapped errors with details still compare equal
// to the bare sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of e carrying details
func (e *Error) WithDetails(details string) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

var (
	ErrDataUnavailable        = &Error{Code: "DATA_UNAVAILABLE", Message: "Market data not available"}
	ErrInvalidParameter       = &Error{Code: "INVALID_PARAMETER", Message: "Invalid parameters provided"}
	ErrDuplicatePositionState = &Error{Code: "DUPLICATE_POSITION_STATE", Message: "Position already in requested state"}
	ErrZeroQuantity           = &Error{Code: "ZERO_QUANTITY", Message: "Order quantity rounds to zero"}
	ErrOrderRejected          = &Error{Code: "ORDER_REJECTED", Message: "Order rejected by exchange"}
	ErrNoTrades               = &Error{Code: "NO_TRADES", Message: "No trades executed"}
	ErrDailyLossHalt          = &Error{Code: "DAILY_LOSS_HALT", Message: "Daily loss limit reached"}
)
