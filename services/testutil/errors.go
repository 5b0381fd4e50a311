package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidRequest         = "INVALID_REQUEST"
	ErrorCodeInvalidAmount          = "INVALID_AMOUNT"
	ErrorCodeUnauthorized           = "UNAUTHORIZED"
	ErrorCodeRateLimited            = "RATE_LIMITED"
	ErrorCodeConflict               = "CONFLICT"
	ErrorCodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	ErrorCodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	ErrorCodeRecipientNotFound      = "RECIPIENT_NOT_FOUND"
	ErrorCodeStrategyNotFound       = "STRATEGY_NOT_FOUND"
	ErrorCodePriceUnavailable       = "PRICE_UNAVAILABLE"
	ErrorCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	ErrorCodeInternalError          = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if resp.Code != getHTTPStatusForErrorCode(expectedCode) {
		t.Fatalf("expected status %d, got %d: %s", getHTTPStatusForErrorCode(expectedCode), resp.Code, resp.Body.String())
	}

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, errResp.Code)
	}
}

func AssertErrorMessage(t *testing.T, resp *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Message != expectedMessage {
		t.Fatalf("expected error message %q, got %q", expectedMessage, errResp.Message)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, resp.Code, resp.Body.String())
	}
}

func getHTTPStatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeInvalidRequest, ErrorCodeInvalidAmount, ErrorCodeInsufficientBalance:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeAccountNotFound, ErrorCodeRecipientNotFound, ErrorCodeStrategyNotFound:
		return http.StatusNotFound
	case ErrorCodeConflict, ErrorCodeConcurrentModification:
		return http.StatusConflict
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrorCodePriceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
