package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/pos_sync_backend/utils"
	"github.com/gin-gonic/gin"
)

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		ctx := c.Request.Context()
		est, _ := utils.GetEstablishmentIdFromContext(ctx)
		user, _ := utils.GetUserIdFromContext(ctx)
		role, _ := utils.GetRoleFromContext(ctx)
		token, _ := utils.GetTokenFromContext(ctx)
		if claim := CtxValue(ctx); claim == nil || claim.Role != role || token == "" {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, est+"/"+user+"/"+role)
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthRouter()
	good, _ := utils.JwtGenerate("user-1", "est-1", "cashier")
	unbound, _ := utils.JwtGenerate("user-1", "", "cashier")

	tests := []struct {
		name   string
		header string
		value  string
		code   int
		body   string
	}{
		{"bearer", "Authorization", "Bearer " + good, http.StatusOK, "est-1/user-1/cashier"},
		{"token header", "token", good, http.StatusOK, "est-1/user-1/cashier"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"invalid", "Authorization", "Bearer nope", http.StatusUnauthorized, ""},
		{"no establishment", "Authorization", "Bearer " + unbound, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Fatalf("body = %q", rec.Body.String())
			}
		})
	}
}
