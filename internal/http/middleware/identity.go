package middleware

import "github.com/gin-gonic/gin"

// HeaderUserID carries the caller identity until an auth layer sets "userID".
const HeaderUserID = "X-User-ID"

// DemoUser is the identity of anonymous callers.
const DemoUser = "demo-user"

// UserID returns the caller identity: an authenticated "userID" set by
// upstream middleware, then the X-User-ID header, then DemoUser.
func UserID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if s := c.GetHeader(HeaderUserID); s != "" {
		return s
	}
	return DemoUser
}
