package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/idgate/internal/model"
)

// NewAdminTokenMiddleware は審査用エンドポイントのBearerトークン認証ミドルウェアを返す。
// トークンの比較は一定時間比較で行う。
func NewAdminTokenMiddleware(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || presented == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotSignedInError())
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				slog.Warn("admin token mismatch",
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotSignedInError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
