package command

import (
	"PerpClearing/internal/types"
	"bytes"
	"encoding/json"
	"fmt"
)

// New returns an empty command of type t.
func New(t Type) (Command, error) {
	switch t {
	case TypeUpdatePrice:
		return &UpdatePrice{}, nil
	case TypeAuthorizeFeeder:
		return &AuthorizeFeeder{}, nil
	case TypeDeauthorizeFeeder:
		return &DeauthorizeFeeder{}, nil
	case TypeDepositCollateral:
		return &DepositCollateral{}, nil
	case TypeWithdrawCollateral:
		return &WithdrawCollateral{}, nil
	case TypeAuthorizeMarket:
		return &AuthorizeMarket{}, nil
	case TypeDeauthorizeMarket:
		return &DeauthorizeMarket{}, nil
	case TypeAddLiquidity:
		return &AddLiquidity{}, nil
	case TypeRemoveLiquidity:
		return &RemoveLiquidity{}, nil
	case TypeClaimRewards:
		return &ClaimRewards{}, nil
	case TypeUpdateUtilisation:
		return &UpdateUtilisation{}, nil
	case TypeUpdateFeeRate:
		return &UpdateFeeRate{}, nil
	case TypeUpdateInsuranceFundRate:
		return &UpdateInsuranceFundRate{}, nil
	case TypeOpenPosition:
		return &OpenPosition{}, nil
	case TypeClosePosition:
		return &ClosePosition{}, nil
	case TypeLiquidatePosition:
		return &LiquidatePosition{}, nil
	case TypeSettleFunding:
		return &SettleFunding{}, nil
	case TypePauseTrading:
		return &PauseTrading{}, nil
	case TypeResumeTrading:
		return &ResumeTrading{}, nil
	case TypeMint:
		return &Mint{}, nil
	case TypeApprove:
		return &Approve{}, nil
	default:
		return nil, types.ErrUnknownCommand.Wrapf("type %d", t)
	}
}

// Decode parses the JSON body of a command named name. Unknown fields are
// rejected.
func Decode(name string, data []byte) (Command, error) {
	return DecodeWithKey(name, data, "")
}

// DecodeWithKey is Decode with a transport-level idempotency key (a NATS
// message id, an HTTP header) used when the body carries none.
func DecodeWithKey(name string, data []byte, fallbackKey string) (Command, error) {
	t, ok := ParseType(name)
	if !ok {
		return nil, types.ErrUnknownCommand.Wrapf("%q", name)
	}
	cmd, err := New(t)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if m := cmd.Header(); m.IdempotencyKey == "" {
		m.IdempotencyKey = fallbackKey
	}
	if cmd.Header().IdempotencyKey == "" {
		return nil, fmt.Errorf("decode %s: missing idempotency_key", name)
	}
	return cmd, nil
}

// Encode renders cmd as the JSON body Decode accepts.
func Encode(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}
