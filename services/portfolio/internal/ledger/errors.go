package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrAccountNotFound        = errors.New("account not found")
	ErrRecipientNotFound      = errors.New("recipient not found")
	ErrStrategyNotFound       = errors.New("strategy not found")
	ErrPriceUnavailable       = errors.New("price unavailable")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicateAccount       = errors.New("account already exists")

	ErrSelfTransfer = fmt.Errorf("%w: cannot transfer to self", ErrInvalidRequest)
)
