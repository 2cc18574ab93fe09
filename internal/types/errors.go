package types

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
	"google.golang.org/grpc/codes"
)

// Codespace groups every clearing error under one ABCI-style namespace.
const Codespace = "clearing"

// Clearing error taxonomy. The description is the error name surfaced to
// callers; codes are stable across releases.
var (
	ErrUnauthorised              = errorsmod.RegisterWithGRPCCode(Codespace, 2, codes.PermissionDenied, "Unauthorised")
	ErrNotAuthorizedMarket       = errorsmod.RegisterWithGRPCCode(Codespace, 3, codes.PermissionDenied, "NotAuthorizedMarket")
	ErrZeroAmount                = errorsmod.RegisterWithGRPCCode(Codespace, 4, codes.InvalidArgument, "ZeroAmount")
	ErrInvalidLeverage           = errorsmod.RegisterWithGRPCCode(Codespace, 5, codes.InvalidArgument, "InvalidLeverage")
	ErrZeroMargin                = errorsmod.RegisterWithGRPCCode(Codespace, 6, codes.InvalidArgument, "ZeroMargin")
	ErrPositionExists            = errorsmod.RegisterWithGRPCCode(Codespace, 7, codes.AlreadyExists, "PositionExists")
	ErrNoPosition                = errorsmod.RegisterWithGRPCCode(Codespace, 8, codes.NotFound, "NoPosition")
	ErrNotLiquidatable           = errorsmod.RegisterWithGRPCCode(Codespace, 9, codes.FailedPrecondition, "NotLiquidatable")
	ErrPositionUnderwater        = errorsmod.RegisterWithGRPCCode(Codespace, 10, codes.FailedPrecondition, "PositionUnderwater")
	ErrTradingDisabled           = errorsmod.RegisterWithGRPCCode(Codespace, 11, codes.FailedPrecondition, "TradingDisabled")
	ErrInsufficientFree          = errorsmod.RegisterWithGRPCCode(Codespace, 12, codes.FailedPrecondition, "InsufficientFree")
	ErrInsufficientLocked        = errorsmod.RegisterWithGRPCCode(Codespace, 13, codes.FailedPrecondition, "InsufficientLocked")
	ErrInsufficientFreeForFee    = errorsmod.RegisterWithGRPCCode(Codespace, 14, codes.FailedPrecondition, "InsufficientFreeForFee")
	ErrInsufficientPoolLiquidity = errorsmod.RegisterWithGRPCCode(Codespace, 15, codes.FailedPrecondition, "InsufficientPoolLiquidity")
	ErrInsufficientLiquidity     = errorsmod.RegisterWithGRPCCode(Codespace, 16, codes.FailedPrecondition, "InsufficientLiquidity")
	ErrPoolOverUtilised          = errorsmod.RegisterWithGRPCCode(Codespace, 17, codes.FailedPrecondition, "PoolOverUtilised")
	ErrPriceUnavailable          = errorsmod.RegisterWithGRPCCode(Codespace, 18, codes.Unavailable, "PriceUnavailable")
	ErrInvalidPrice              = errorsmod.RegisterWithGRPCCode(Codespace, 19, codes.InvalidArgument, "InvalidPrice")
	ErrRateOutOfRange            = errorsmod.RegisterWithGRPCCode(Codespace, 20, codes.InvalidArgument, "RateOutOfRange")
	ErrInvalidAddress            = errorsmod.RegisterWithGRPCCode(Codespace, 21, codes.InvalidArgument, "InvalidAddress")

	// Token and pipeline errors
	ErrInsufficientBalance   = errorsmod.RegisterWithGRPCCode(Codespace, 40, codes.FailedPrecondition, "InsufficientBalance")
	ErrInsufficientAllowance = errorsmod.RegisterWithGRPCCode(Codespace, 41, codes.FailedPrecondition, "InsufficientAllowance")
	ErrArithmeticOverflow    = errorsmod.RegisterWithGRPCCode(Codespace, 42, codes.OutOfRange, "ArithmeticOverflow")
	ErrDuplicateCommand      = errorsmod.RegisterWithGRPCCode(Codespace, 50, codes.AlreadyExists, "DuplicateCommand")
	ErrSequenceGap           = errorsmod.RegisterWithGRPCCode(Codespace, 51, codes.Aborted, "SequenceGap")
	ErrStaleCommand          = errorsmod.RegisterWithGRPCCode(Codespace, 52, codes.Aborted, "StaleCommand")
	ErrUnknownCommand        = errorsmod.RegisterWithGRPCCode(Codespace, 53, codes.Unimplemented, "UnknownCommand")
)

// ErrorName returns the taxonomy name carried by err, or "Internal" when err
// is not a clearing error.
func ErrorName(err error) string {
	if e, ok := Lookup(err); ok {
		return e.Error()
	}
	return "Internal"
}

// Lookup finds the registered clearing error wrapped anywhere in err's chain.
func Lookup(err error) (*errorsmod.Error, bool) {
	if err == nil {
		return nil, false
	}
	for _, e := range all {
		if errors.Is(err, e) {
			return e, true
		}
	}
	return nil, false
}

var all = []*errorsmod.Error{
	ErrUnauthorised, ErrNotAuthorizedMarket, ErrZeroAmount, ErrInvalidLeverage, ErrZeroMargin,
	ErrPositionExists, ErrNoPosition, ErrNotLiquidatable, ErrPositionUnderwater, ErrTradingDisabled,
	ErrInsufficientFree, ErrInsufficientLocked, ErrInsufficientFreeForFee, ErrInsufficientPoolLiquidity,
	ErrInsufficientLiquidity, ErrPoolOverUtilised, ErrPriceUnavailable, ErrInvalidPrice,
	ErrRateOutOfRange, ErrInvalidAddress, ErrInsufficientBalance, ErrInsufficientAllowance,
	ErrArithmeticOverflow, ErrDuplicateCommand, ErrSequenceGap, ErrStaleCommand, ErrUnknownCommand,
}
