package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
)

// MakeJSONRequest sends body verbatim, for payloads json.Marshal cannot
// produce such as numeric literals with extreme exponents.
func MakeJSONRequest(router *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// MakeAuthRequest marshals body (nil sends "null") and attaches token as a
// bearer credential when non-empty.
func MakeAuthRequest(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	if err != nil {
		panic("testutil: marshal request body: " + err.Error())
	}
	return MakeJSONRequest(router, method, path, string(payload), token)
}

func MakeAPIRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	return MakeAuthRequest(router, method, path, body, "")
}
