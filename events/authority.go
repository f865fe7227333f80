package events

import (
	"math/big"
	"strconv"
	"strings"
)

const (
	// TypeGoldClaimSigned is emitted for every issued gold claim authorization.
	TypeGoldClaimSigned = "claim.signed"
	// TypeItemMintSigned is emitted for every issued item mint authorization.
	TypeItemMintSigned = "mint.signed"
	// TypeInstanceCleared is emitted when a burned instance re-enters circulation.
	TypeInstanceCleared = "instance.cleared"
	// TypeNonceReset is emitted when an operator rewinds a player's claim nonce.
	TypeNonceReset = "nonce.reset"
)

type GoldClaimSigned struct {
	Player string
	Amount *big.Int
	Nonce  uint64
}

func (GoldClaimSigned) EventType() string { return TypeGoldClaimSigned }

func (e GoldClaimSigned) Attributes() map[string]string {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return map[string]string{
		"player": strings.ToLower(strings.TrimSpace(e.Player)),
		"amount": amount,
		"nonce":  strconv.FormatUint(e.Nonce, 10),
	}
}

type ItemMintSigned struct {
	Player     string
	ItemID     *big.Int
	Amount     *big.Int
	InstanceID string
}

func (ItemMintSigned) EventType() string { return TypeItemMintSigned }

func (e ItemMintSigned) Attributes() map[string]string {
	itemID := "0"
	if e.ItemID != nil {
		itemID = e.ItemID.String()
	}
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return map[string]string{
		"player":     strings.ToLower(strings.TrimSpace(e.Player)),
		"itemId":     itemID,
		"amount":     amount,
		"instanceId": strings.ToLower(strings.TrimSpace(e.InstanceID)),
	}
}

type InstanceCleared struct {
	InstanceID string
	Reason     string
}

func (InstanceCleared) EventType() string { return TypeInstanceCleared }

func (e InstanceCleared) Attributes() map[string]string {
	return map[string]string{
		"instanceId": strings.ToLower(strings.TrimSpace(e.InstanceID)),
		"reason":     strings.TrimSpace(e.Reason),
	}
}

type NonceReset struct {
	Player   string
	Previous uint64
	Reason   string
}

func (NonceReset) EventType() string { return TypeNonceReset }

func (e NonceReset) Attributes() map[string]string {
	return map[string]string{
		"player":   strings.ToLower(strings.TrimSpace(e.Player)),
		"previous": strconv.FormatUint(e.Previous, 10),
		"reason":   strings.TrimSpace(e.Reason),
	}
}
