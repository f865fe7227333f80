package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"mintforge/authority"
)

type signGoldClaimParams struct {
	Player string `json:"player"`
	Amount string `json:"amount"`
}

type signItemMintParams struct {
	Player     string `json:"player"`
	ItemID     string `json:"itemId"`
	Amount     string `json:"amount"`
	InstanceID string `json:"instanceId"`
}

type calculateInstanceIDParams struct {
	Player string `json:"player"`
	ItemID string `json:"itemId"`
	Slot   uint64 `json:"slot"`
}

type playerParams struct {
	Player string `json:"player"`
}

type instanceParams struct {
	InstanceID string `json:"instanceId"`
}

type adminPlayerParams struct {
	Player string `json:"player"`
	Reason string `json:"reason"`
}

type adminInstanceParams struct {
	InstanceID string `json:"instanceId"`
	Reason     string `json:"reason"`
}

// ClaimResult is the response payload of forge_signGoldClaim.
type ClaimResult struct {
	Player    string `json:"player"`
	Amount    string `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

// MintResult is the response payload of forge_signItemMint.
type MintResult struct {
	Player     string `json:"player"`
	ItemID     string `json:"itemId"`
	Amount     string `json:"amount"`
	InstanceID string `json:"instanceId"`
	Signature  string `json:"signature"`
}

func parseParams(req *RPCRequest, target interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "expected a single params object"}
	}
	if err := json.Unmarshal(req.Params[0], target); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// parseAmount decodes a non-negative decimal string into a big.Int. Range and
// sign policy beyond basic syntax stays with the authority.
func parseAmount(field, raw string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s required", field)}
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s must be a decimal integer", field)}
	}
	return value, nil
}

func (s *Server) handleSignGoldClaim(req *RPCRequest) (int, interface{}, *RPCError) {
	var params signGoldClaimParams
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}

	claim, err := s.auth.SignGoldClaim(params.Player, amount)
	if err != nil {
		status, rpcErr := s.errorFor(req.Method, err)
		return status, nil, rpcErr
	}
	return http.StatusOK, &ClaimResult{
		Player:    claim.Player.String(),
		Amount:    claim.Amount.String(),
		Nonce:     claim.Nonce,
		Signature: encodeSignature(claim.Signature),
	}, nil
}

func (s *Server) handleSignItemMint(req *RPCRequest) (int, interface{}, *RPCError) {
	var params signItemMintParams
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}
	itemID, rpcErr := parseAmount("itemId", params.ItemID)
	if rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}
	instanceID, err := authority.ParseInstanceID(params.InstanceID)
	if err != nil {
		status, rpcErr := s.errorFor(req.Method, err)
		return status, nil, rpcErr
	}

	mint, err := s.auth.SignItemMint(params.Player, itemID, amount, instanceID)
	if err != nil {
		status, rpcErr := s.errorFor(req.Method, err)
		return status, nil, rpcErr
	}
	return http.StatusOK, &MintResult{
		Player:     mint.Player.String(),
		ItemID:     mint.ItemID.String(),
		Amount:     mint.Amount.String(),
		InstanceID: mint.InstanceID.String(),
		Signature:  encodeSignature(mint.Signature),
	}, nil
}

func (s *Server) handleCalculateInstanceID(req *RPCRequest) (int, interface{}, *RPCError) {
	var params calculateInstanceIDParams
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}
	itemID, rpcErr := parseAmount("itemId", params.ItemID)
	if rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}

	id, err := s.auth.CalculateInstanceID(params.Player, itemID, params.Slot)
	if err != nil {
		status, rpcErr := s.errorFor(req.Method, err)
		return status, nil, rpcErr
	}
	return http.StatusOK, map[string]string{"instanceId": id.String()}, nil
}

func (s *Server) handleGetNonce(req *RPCRequest) (int, interface{}, *RPCError) {
	var params playerParams
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}
	nonce, err := s.auth.GetNonce(params.Player)
	if err != nil {
		status, rpcErr := s.errorFor(req.Method, err)
		return status, nil, rpcErr
	}
	return http.StatusOK, map[string]uint64{"nonce": nonce}, nil
}

func (s *Server) handleIsInstanceMinted(req *RPCRequest) (int, interface{}, *RPCError) {
	var params instanceParams
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}
	id, err := authority.ParseInstanceID(params.InstanceID)
	if err != nil {
		status, rpcErr := s.errorFor(req.Method, err)
		return status, nil, rpcErr
	}
	return http.StatusOK, map[string]bool{"minted": s.auth.IsInstanceMinted(id)}, nil
}

func (s *Server) handleGetAddress(req *RPCRequest) (int, interface{}, *RPCError) {
	return http.StatusOK, map[string]string{"address": s.auth.Address().String()}, nil
}

func (s *Server) handleResetNonce(req *RPCRequest) (int, interface{}, *RPCError) {
	var params adminPlayerParams
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}
	if err := s.auth.ResetNonce(params.Player, params.Reason); err != nil {
		status, rpcErr := s.errorFor(req.Method, err)
		return status, nil, rpcErr
	}
	s.logger.Info("nonce reset", "player", params.Player, "reason", params.Reason)
	return http.StatusOK, map[string]bool{"ok": true}, nil
}

func (s *Server) handleClearMintedInstance(req *RPCRequest) (int, interface{}, *RPCError) {
	var params adminInstanceParams
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}
	id, err := authority.ParseInstanceID(params.InstanceID)
	if err != nil {
		status, rpcErr := s.errorFor(req.Method, err)
		return status, nil, rpcErr
	}
	if err := s.auth.ClearMintedInstance(id, params.Reason); err != nil {
		status, rpcErr := s.errorFor(req.Method, err)
		return status, nil, rpcErr
	}
	s.logger.Info("instance cleared", "instanceId", params.InstanceID, "reason", params.Reason)
	return http.StatusOK, map[string]bool{"ok": true}, nil
}

func (s *Server) handleState(req *RPCRequest) (int, interface{}, *RPCError) {
	return http.StatusOK, s.auth.ExportState(), nil
}

func (s *Server) handleLoadState(req *RPCRequest) (int, interface{}, *RPCError) {
	var state authority.State
	if rpcErr := parseParams(req, &state); rpcErr != nil {
		return http.StatusBadRequest, nil, rpcErr
	}
	if err := s.auth.LoadState(&state); err != nil {
		status, rpcErr := s.errorFor(req.Method, err)
		return status, nil, rpcErr
	}
	s.logger.Info("state restored", "players", len(state.Nonces), "instances", len(state.Instances))
	return http.StatusOK, map[string]bool{"ok": true}, nil
}

func encodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}
