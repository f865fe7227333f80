package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"mintforge/authority"
	"mintforge/crypto"
	"mintforge/events"
	"mintforge/gateway/middleware"
)

const (
	testToken       = "test-rpc-token"
	testAdminSecret = "test-admin-secret"
	testPlayer      = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T) (*Server, *authority.Authority, *testClock) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	auth, err := authority.New(key, authority.Policy{
		ClaimCooldown: 5 * time.Second,
		MintWindow:    time.Minute,
		MintCapacity:  3,
	})
	require.NoError(t, err)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	auth.SetClock(clock.Now)

	adminAuth := middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: testAdminSecret}, nil)
	store, err := OpenIdempotencyStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	server := NewServer(auth, ServerConfig{
		AuthToken:   testToken,
		AdminAuth:   adminAuth,
		Idempotency: store,
		Hub:         NewEventHub(16),
	})
	return server, auth, clock
}

func adminToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": middleware.ScopeAdmin,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testAdminSecret))
	require.NoError(t, err)
	return signed
}

func call(t *testing.T, server *Server, method string, params interface{}, headers map[string]string) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	envelope := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		envelope["params"] = []interface{}{params}
	}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func signerHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testToken}
}

func decodeResult(t *testing.T, resp RPCResponse, target interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, target))
}

func TestSignGoldClaimOverRPC(t *testing.T) {
	server, auth, _ := newTestServer(t)

	rec, resp := call(t, server, "forge_signGoldClaim", map[string]string{
		"player": testPlayer,
		"amount": "100",
	}, signerHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)

	var result ClaimResult
	decodeResult(t, resp, &result)
	require.Equal(t, uint64(0), result.Nonce)
	require.Equal(t, "100", result.Amount)
	require.Len(t, result.Signature, 2+65*2)

	nonce, err := auth.GetNonce(testPlayer)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
}

func TestSignGoldClaimRequiresToken(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec, resp := call(t, server, "forge_signGoldClaim", map[string]string{
		"player": testPlayer,
		"amount": "100",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestSignGoldClaimRejectsBadAmount(t *testing.T) {
	server, _, _ := newTestServer(t)

	_, resp := call(t, server, "forge_signGoldClaim", map[string]string{
		"player": testPlayer,
		"amount": "not-a-number",
	}, signerHeaders())
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	_, resp = call(t, server, "forge_signGoldClaim", map[string]string{
		"player": testPlayer,
		"amount": "0",
	}, signerHeaders())
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestSignGoldClaimRateLimit(t *testing.T) {
	server, _, clock := newTestServer(t)
	params := map[string]string{"player": testPlayer, "amount": "100"}

	_, resp := call(t, server, "forge_signGoldClaim", params, signerHeaders())
	require.Nil(t, resp.Error)

	clock.Advance(time.Millisecond)
	rec, resp := call(t, server, "forge_signGoldClaim", params, signerHeaders())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeRateLimited, resp.Error.Code)
	data, ok := resp.Error.Data.(map[string]interface{})
	require.True(t, ok)
	require.Greater(t, data["retryAfterMs"].(float64), float64(0))

	clock.Advance(5 * time.Second)
	_, resp = call(t, server, "forge_signGoldClaim", params, signerHeaders())
	require.Nil(t, resp.Error)
	var result ClaimResult
	decodeResult(t, resp, &result)
	require.Equal(t, uint64(1), result.Nonce)
}

func TestSignItemMintDuplicateInstance(t *testing.T) {
	server, auth, _ := newTestServer(t)
	id, err := auth.CalculateInstanceID(testPlayer, big.NewInt(7), 1)
	require.NoError(t, err)
	params := map[string]interface{}{
		"player":     testPlayer,
		"itemId":     "7",
		"amount":     "1",
		"instanceId": id.String(),
	}

	_, resp := call(t, server, "forge_signItemMint", params, signerHeaders())
	require.Nil(t, resp.Error)

	rec, resp := call(t, server, "forge_signItemMint", params, signerHeaders())
	require.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeDuplicateInstance, resp.Error.Code)
}

func TestReadMethodsAreOpen(t *testing.T) {
	server, auth, _ := newTestServer(t)

	_, resp := call(t, server, "forge_getNonce", map[string]string{"player": testPlayer}, nil)
	require.Nil(t, resp.Error)

	_, resp = call(t, server, "forge_getAddress", nil, nil)
	require.Nil(t, resp.Error)
	var addr map[string]string
	decodeResult(t, resp, &addr)
	require.Equal(t, auth.Address().String(), addr["address"])
}

func TestAdminRequiresJWT(t *testing.T) {
	server, _, _ := newTestServer(t)
	params := map[string]string{"player": testPlayer, "reason": "support ticket"}

	rec, resp := call(t, server, "forgeAdmin_resetNonce", params, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, resp.Error)

	headers := map[string]string{"Authorization": "Bearer " + adminToken(t)}
	_, resp = call(t, server, "forgeAdmin_resetNonce", params, headers)
	require.Nil(t, resp.Error)
}

func TestAdminStateRoundTrip(t *testing.T) {
	server, _, _ := newTestServer(t)
	headers := map[string]string{"Authorization": "Bearer " + adminToken(t)}

	_, resp := call(t, server, "forge_signGoldClaim", map[string]string{
		"player": testPlayer,
		"amount": "100",
	}, signerHeaders())
	require.Nil(t, resp.Error)

	_, resp = call(t, server, "forgeAdmin_state", nil, headers)
	require.Nil(t, resp.Error)
	var state authority.State
	decodeResult(t, resp, &state)
	require.Equal(t, uint64(1), state.Nonces[normalizedPlayer()])

	_, resp = call(t, server, "forgeAdmin_loadState", state, headers)
	require.Nil(t, resp.Error)
}

func TestIdempotentRetryReplaysResponse(t *testing.T) {
	server, _, clock := newTestServer(t)
	params := map[string]string{"player": testPlayer, "amount": "100"}
	headers := signerHeaders()
	headers["Idempotency-Key"] = "retry-1"

	_, first := call(t, server, "forge_signGoldClaim", params, headers)
	require.Nil(t, first.Error)
	var firstResult ClaimResult
	decodeResult(t, first, &firstResult)

	// A retry inside the cooldown window must replay the cached bundle
	// rather than hit the rate limiter or advance the nonce.
	clock.Advance(time.Millisecond)
	_, second := call(t, server, "forge_signGoldClaim", params, headers)
	require.Nil(t, second.Error)
	var secondResult ClaimResult
	decodeResult(t, second, &secondResult)
	require.Equal(t, firstResult, secondResult)
}

func TestIdempotentConcurrentRequestsSignOnce(t *testing.T) {
	server, auth, _ := newTestServer(t)

	envelope, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "forge_signGoldClaim",
		"params":  []interface{}{map[string]string{"player": testPlayer, "amount": "100"}},
	})
	require.NoError(t, err)

	const workers = 8
	bodies := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(envelope))
			req.Header.Set("Authorization", "Bearer "+testToken)
			req.Header.Set("Idempotency-Key", "burst-1")
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			bodies[slot] = rec.Body.String()
		}(i)
	}
	wg.Wait()

	// Exactly one signature may be produced; every racer sees the same
	// response and only one nonce is consumed.
	for i := 1; i < workers; i++ {
		require.Equal(t, bodies[0], bodies[i])
	}
	var resp RPCResponse
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &resp))
	require.Nil(t, resp.Error)

	nonce, err := auth.GetNonce(testPlayer)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
}

func TestIdempotencyKeyConflict(t *testing.T) {
	server, _, clock := newTestServer(t)
	headers := signerHeaders()
	headers["Idempotency-Key"] = "retry-1"

	_, first := call(t, server, "forge_signGoldClaim", map[string]string{
		"player": testPlayer, "amount": "100",
	}, headers)
	require.Nil(t, first.Error)

	clock.Advance(10 * time.Second)
	rec, second := call(t, server, "forge_signGoldClaim", map[string]string{
		"player": testPlayer, "amount": "999",
	}, headers)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, second.Error)
	require.Equal(t, codeIdempotencyConflict, second.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec, resp := call(t, server, "forge_unknown", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestEventHubBacklogAndCursor(t *testing.T) {
	hub := NewEventHub(4)
	for i := 0; i < 6; i++ {
		hub.Emit(events.InstanceCleared{InstanceID: fmt.Sprintf("0x%02d", i), Reason: "test"})
	}

	backlog, _, cancel := hub.Subscribe(0)
	defer cancel()
	require.Len(t, backlog, 4)
	require.Equal(t, uint64(3), backlog[0].Sequence)

	fromCursor, updates, cancel2 := hub.Subscribe(5)
	defer cancel2()
	require.Len(t, fromCursor, 1)
	require.Equal(t, uint64(6), fromCursor[0].Sequence)

	hub.Emit(events.InstanceCleared{InstanceID: "0xff", Reason: "live"})
	select {
	case entry := <-updates:
		require.Equal(t, uint64(7), entry.Sequence)
	case <-time.After(time.Second):
		t.Fatal("live event not delivered")
	}
}

func normalizedPlayer() string {
	return strings.ToLower(testPlayer)
}
