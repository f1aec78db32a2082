package onchain

import "errors"

var (
	ErrNonexistentAsset   = errors.New("asset does not exist")
	ErrAlreadyMinted      = errors.New("asset already minted")
	ErrNotOwner           = errors.New("from is not the owner")
	ErrNotApproved        = errors.New("caller is not owner nor approved")
	ErrInvalidRecipient   = errors.New("invalid recipient")
	ErrApproveToOwner     = errors.New("approval to current owner")
	ErrInsufficientFunds  = errors.New("transfer amount exceeds balance")
	ErrAllowanceExceeded  = errors.New("transfer amount exceeds allowance")
	ErrBalanceOverflow    = errors.New("balance overflow")
	ErrInvalidTokenAmount = errors.New("amount must be positive")
	ErrTxDone             = errors.New("transaction already committed or rolled back")
)
