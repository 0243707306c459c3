package model

import "errors"

// Code is the machine-readable reason carried in bet_error replies.
type Code string

const (
	CodeRoleForbidden      Code = "RoleForbidden"
	CodeBettingClosed      Code = "BettingClosed"
	CodeSelfMatchForbidden Code = "SelfMatchForbidden"
	CodeOfferNotFound      Code = "OfferNotFound"
	CodeNotOwner           Code = "NotOwner"
	CodeForbidden          Code = "Forbidden"
	CodeInvalidRequest     Code = "InvalidRequest"
	CodeCapacityExceeded   Code = "CapacityExceeded"
	CodeSettlementFailed   Code = "SettlementFailed"
)

// BetError is a rejection from the betting core. Two BetErrors match under
// errors.Is when their codes are equal.
type BetError struct {
	Code    Code
	Message string
	Err     error
}

func (e *BetError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *BetError) Unwrap() error { return e.Err }

func (e *BetError) Is(target error) bool {
	t, ok := target.(*BetError)
	return ok && t.Code == e.Code
}

var (
	ErrRoleForbidden      = &BetError{Code: CodeRoleForbidden, Message: "role cannot place bets"}
	ErrBettingClosed      = &BetError{Code: CodeBettingClosed, Message: "betting is closed for this fight"}
	ErrSelfMatchForbidden = &BetError{Code: CodeSelfMatchForbidden, Message: "cannot accept your own offer"}
	ErrOfferNotFound      = &BetError{Code: CodeOfferNotFound, Message: "bet no longer available"}
	ErrNotOwner           = &BetError{Code: CodeNotOwner, Message: "offer belongs to another user"}
	ErrForbidden          = &BetError{Code: CodeForbidden, Message: "not allowed"}
	ErrInvalidRequest     = &BetError{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrCapacityExceeded   = &BetError{Code: CodeCapacityExceeded, Message: "server at connection capacity"}
	ErrSettlementFailed   = &BetError{Code: CodeSettlementFailed, Message: "settlement failed, pending manual reconciliation"}
)

// Storage errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDuplicate         = errors.New("already exists")
)

func InvalidRequest(msg string) error {
	return &BetError{Code: CodeInvalidRequest, Message: msg}
}

func SettlementFailed(cause error) error {
	return &BetError{Code: CodeSettlementFailed, Message: ErrSettlementFailed.Message, Err: cause}
}

// CodeOf extracts the code of a BetError, or "" for any other error.
func CodeOf(err error) Code {
	var be *BetError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
