package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestUserID_Precedence(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if got := UserID(c); got != DemoUser {
		t.Fatalf("fallback: got %q", got)
	}
	c.Request.Header.Set(HeaderUserID, "header-user")
	if got := UserID(c); got != "header-user" {
		t.Fatalf("header: got %q", got)
	}
	c.Set("userID", "auth-user")
	if got := UserID(c); got != "auth-user" {
		t.Fatalf("context: got %q", got)
	}
	c.Set("userID", 42)
	if got := UserID(c); got != "header-user" {
		t.Fatalf("non-string context value must be ignored, got %q", got)
	}
}
