package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret-key"

// newAuthRouter はJWTAuthで保護されたエンドポイントを持つルーターを生成する。
func newAuthRouter() *gin.Engine {
	router := gin.New()
	router.Use(JWTAuth(testSecret))
	router.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c))
	})
	return router
}

func doAuthRequest(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// signClaims はテスト用に任意のクレームで署名したトークンを生成する。
func signClaims(t *testing.T, method jwt.SigningMethod, secret any, claims Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return signed
}

// TestGenerateJWT はトークン生成を検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("クレームと有効期限が設定されること", func(t *testing.T) {
		t.Parallel()

		before := time.Now().Add(-time.Second)
		token, err := GenerateJWT(testSecret, "user-1", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims := &Claims{}
		if _, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
			return []byte(testSecret), nil
		}); err != nil {
			t.Fatalf("トークンの解析に失敗: %v", err)
		}

		if claims.UserID != "user-1" {
			t.Errorf("UserID = %q, want %q", claims.UserID, "user-1")
		}
		if claims.Issuer != Issuer {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, Issuer)
		}
		if exp := claims.ExpiresAt.Time; exp.Before(before.Add(time.Hour)) || exp.After(time.Now().Add(time.Hour+time.Second)) {
			t.Errorf("ExpiresAt = %v, want 約1時間後", exp)
		}
	})
}

// TestJWTAuth はJWTAuthミドルウェアを検証する。
func TestJWTAuth(t *testing.T) {
	t.Parallel()

	valid, err := GenerateJWT(testSecret, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	otherSecret, err := GenerateJWT("other-secret", "user-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	expired, err := GenerateJWT(testSecret, "user-1", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	wrongIssuer := signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "user-1",
	})
	noUser := signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	tests := []struct {
		name          string
		authorization string
		wantCode      int
		wantBody      string
	}{
		{name: "有効なトークンでユーザーIDが設定されること", authorization: "Bearer " + valid, wantCode: http.StatusOK, wantBody: "user-1"},
		{name: "Authorizationヘッダーが無い場合401が返ること", authorization: "", wantCode: http.StatusUnauthorized},
		{name: "Bearer接頭辞が無い場合401が返ること", authorization: valid, wantCode: http.StatusUnauthorized},
		{name: "トークンが空の場合401が返ること", authorization: "Bearer ", wantCode: http.StatusUnauthorized},
		{name: "壊れたトークンで401が返ること", authorization: "Bearer not-a-token", wantCode: http.StatusUnauthorized},
		{name: "異なるシークレットで署名されたトークンで401が返ること", authorization: "Bearer " + otherSecret, wantCode: http.StatusUnauthorized},
		{name: "期限切れトークンで401が返ること", authorization: "Bearer " + expired, wantCode: http.StatusUnauthorized},
		{name: "発行者が異なるトークンで401が返ること", authorization: "Bearer " + wrongIssuer, wantCode: http.StatusUnauthorized},
		{name: "ユーザーIDの無いトークンで401が返ること", authorization: "Bearer " + noUser, wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := doAuthRequest(newAuthRouter(), tt.authorization)
			if w.Code != tt.wantCode {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

// TestGetUserID はコンテキストからのユーザーID取得を検証する。
func TestGetUserID(t *testing.T) {
	t.Parallel()

	t.Run("設定されていない場合は空文字列が返ること", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		if got := GetUserID(c); got != "" {
			t.Errorf("GetUserID() = %q, want 空文字列", got)
		}
	})

	t.Run("SetUserIDで設定した値が取得できること", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		SetUserID(c, "user-9")
		if got := GetUserID(c); got != "user-9" {
			t.Errorf("GetUserID() = %q, want %q", got, "user-9")
		}
	})

	t.Run("文字列以外の値は空文字列として扱うこと", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set(contextKeyUserID, 12345)
		if got := GetUserID(c); got != "" {
			t.Errorf("GetUserID() = %q, want 空文字列", got)
		}
	})
}
