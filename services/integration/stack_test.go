package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/AfshinJalili/kryptbroker/services/testutil"
)

// These tests drive a running stack (auth, portfolio, activity) seeded by
// cmd/seed. They are skipped unless RUN_INTEGRATION is set.

func serviceURL(env, fallback string) string {
	if url := os.Getenv(env); url != "" {
		return url
	}
	return fallback
}

func authURL() string      { return serviceURL("AUTH_URL", "http://localhost:8081") }
func portfolioURL() string { return serviceURL("PORTFOLIO_URL", "http://localhost:8082") }
func activityURL() string  { return serviceURL("ACTIVITY_URL", "http://localhost:8083") }

func requireStack(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION=1 to run")
	}
	for _, base := range []string{authURL(), portfolioURL(), activityURL()} {
		waitForReady(t, base)
	}
}

func waitForReady(t *testing.T, base string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get(base + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("%s not ready after 30s", base)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

type userView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type loginResponse struct {
	Message   string   `json:"message"`
	Token     string   `json:"token"`
	ExpiresIn int      `json:"expires_in"`
	User      userView `json:"user"`
}

type registerResponse struct {
	Message string   `json:"message"`
	User    userView `json:"user"`
}

func doJSON(t *testing.T, method, url string, body any, token string, headers map[string]string) (int, []byte) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, buf.Bytes()
}

func decode(t *testing.T, raw []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

// randomIP keeps each login in its own rate-limit bucket.
func randomIP() string {
	return fmt.Sprintf("10.%d.%d.%d", rand.Intn(255), rand.Intn(255), 1+rand.Intn(254))
}

func login(t *testing.T, username, password string) loginResponse {
	t.Helper()
	status, raw := doJSON(t, http.MethodPost, authURL()+"/api/auth/login",
		map[string]string{"username": username, "password": password}, "",
		map[string]string{"X-Forwarded-For": randomIP()})
	if status != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", username, status, raw)
	}
	var out loginResponse
	decode(t, raw, &out)
	if out.Token == "" {
		t.Fatal("expected token")
	}
	return out
}

func registerFresh(t *testing.T) (userView, string) {
	t.Helper()
	name := fmt.Sprintf("it_%d", time.Now().UnixNano())
	password := "secret123"
	status, raw := doJSON(t, http.MethodPost, authURL()+"/api/auth/register", map[string]string{
		"username": name,
		"email":    name + "@example.com",
		"password": password,
	}, "", nil)
	if status != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", status, raw)
	}
	var out registerResponse
	decode(t, raw, &out)
	return out.User, login(t, name, password).Token
}

func TestAuthFlow(t *testing.T) {
	requireStack(t)

	t.Run("seeded login", func(t *testing.T) {
		out := login(t, testutil.DemoUsername, testutil.DemoPassword)
		if out.User.ID != testutil.DemoAccountID.String() {
			t.Fatalf("expected demo id, got %s", out.User.ID)
		}
	})

	t.Run("me requires token", func(t *testing.T) {
		status, raw := doJSON(t, http.MethodGet, authURL()+"/api/auth/me", nil, "", nil)
		if status != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", status)
		}
		var errResp errorResponse
		decode(t, raw, &errResp)
		if errResp.Code != testutil.ErrorCodeUnauthorized {
			t.Fatalf("expected UNAUTHORIZED, got %s", errResp.Code)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodPost, authURL()+"/api/auth/login",
			map[string]string{"username": testutil.DemoUsername, "password": "nope"}, "",
			map[string]string{"X-Forwarded-For": randomIP()})
		if status != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", status)
		}
	})

	t.Run("register starts empty", func(t *testing.T) {
		user, token := registerFresh(t)
		if user.Role != "user" {
			t.Fatalf("expected role user, got %s", user.Role)
		}
		status, raw := doJSON(t, http.MethodGet, portfolioURL()+"/api/trade/portfolio", nil, token, nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", status, raw)
		}
		var out struct {
			Portfolio map[string]string `json:"portfolio"`
		}
		decode(t, raw, &out)
		if len(out.Portfolio) != 0 {
			t.Fatalf("expected empty portfolio, got %v", out.Portfolio)
		}
	})
}
