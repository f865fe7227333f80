package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"mintforge/authority"
)

// rpcCall invokes a forge_* method with the bearer token, if one is set.
func rpcCall(method string, param interface{}, result interface{}) error {
	return doCall(method, param, result, strings.TrimSpace(rpcAuthToken))
}

// adminCall invokes a forgeAdmin_* method with the operator JWT.
func adminCall(method string, param interface{}, result interface{}) error {
	token := strings.TrimSpace(adminToken)
	if token == "" {
		return fmt.Errorf("administrative call requires MINTFORGE_ADMIN_TOKEN to be set")
	}
	return doCall(method, param, result, token)
}

func doCall(method string, param interface{}, result interface{}, token string) error {
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if param != nil {
		payload["params"] = []interface{}{param}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode response from daemon")
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("error from daemon: %s (code %d)", rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

func fetchState() (*authority.State, error) {
	state := &authority.State{}
	if err := adminCall("forgeAdmin_state", nil, state); err != nil {
		return nil, err
	}
	if state.Nonces == nil {
		state.Nonces = map[string]uint64{}
	}
	if state.Instances == nil {
		state.Instances = []string{}
	}
	return state, nil
}
