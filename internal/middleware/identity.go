package middleware

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserID returns the authenticated user id stored by JWTAuth.
func UserID(c echo.Context) (int64, bool) {
	id, ok := c.Get(ctxUserID).(int64)
	return id, ok
}

// Role returns the role claim stored by JWTAuth, or "".
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// userKey is the identity segment of rate limit keys.
func userKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatInt(id, 10)
	}
	return "anon"
}

func subjectID(v any) (int64, bool) {
	switch s := v.(type) {
	case float64:
		if s != math.Trunc(s) || s > math.MaxInt64 || s < math.MinInt64 {
			return 0, false
		}
		return int64(s), true
	case json.Number:
		n, err := s.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	}
	return 0, false
}
