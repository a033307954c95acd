package middleware

import (
	"crypto/subtle"
	"net/http"
)

// NewBasicAuthMiddleware は管理エンドポイント用のBasic認証ミドルウェアを返す。
// 資格情報の比較はタイミング攻撃を避けるため定数時間で行う。
// enabledがfalseの場合は認証をスキップする（ローカル開発用）。
func NewBasicAuthMiddleware(username, password string, enabled bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
			if !ok || !userMatch || !passMatch {
				w.Header().Set("WWW-Authenticate", `Basic realm="meterman admin"`)
				WriteErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
