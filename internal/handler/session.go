package handler

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/moodjournal/internal/service"
)

const (
	sessionKeyUserID  = "user_id"
	sessionKeySID     = "sid"
	sessionContextKey = "__session"
)

// SessionContext 是登录后显式传递的会话信息，登录时创建，登出时清除。
type SessionContext struct {
	Identity  service.Identity
	SessionID string
	// Bearer 为 true 表示会话来自 Authorization 头而非 cookie。
	Bearer bool
}

// AuthRequired 从 cookie 会话或 Bearer 令牌恢复 SessionContext。
// 身份每次请求都会重新读取，管理员改名后立即生效。
func (a *API) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, sid, bearer, ok := a.sessionCredentials(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "请先登录")
			c.Abort()
			return
		}

		identity, err := a.identity.Get(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				respondError(c, http.StatusUnauthorized, "账号不存在，请重新登录")
			} else {
				a.log.Error("load session identity failed", "error", err)
				respondError(c, http.StatusServiceUnavailable, "暂时无法读取账号信息")
			}
			c.Abort()
			return
		}

		c.Set(sessionContextKey, SessionContext{Identity: *identity, SessionID: sid, Bearer: bearer})
		c.Next()
	}
}

// AdminRequired 必须挂在 AuthRequired 之后。
func (a *API) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := currentSession(c)
		if !ok || !sess.Identity.IsAdmin() {
			respondError(c, http.StatusForbidden, "需要管理员权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *API) sessionCredentials(c *gin.Context) (string, string, bool, bool) {
	if token := bearerToken(c); token != "" {
		if a.tokens == nil {
			return "", "", true, false
		}
		claims, err := a.tokens.Parse(token)
		if err != nil {
			return "", "", true, false
		}
		return claims.Subject, claims.SessionID, true, true
	}

	session := sessions.Default(c)
	userID, _ := session.Get(sessionKeyUserID).(string)
	sid, _ := session.Get(sessionKeySID).(string)
	if userID == "" || sid == "" {
		return "", "", false, false
	}
	return userID, sid, false, true
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func currentSession(c *gin.Context) (SessionContext, bool) {
	value, exists := c.Get(sessionContextKey)
	if !exists {
		return SessionContext{}, false
	}
	sess, ok := value.(SessionContext)
	return sess, ok
}

func mustSession(c *gin.Context) (SessionContext, bool) {
	sess, ok := currentSession(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "请先登录")
	}
	return sess, ok
}

// allowAction 查询频率闸门，拒绝时直接写出 429。闸门故障时放行。
func (a *API) allowAction(c *gin.Context, sess SessionContext, action string) bool {
	ok, wait, err := a.gate.Allow(c.Request.Context(), sess.SessionID, action, a.rateInterval)
	if err != nil {
		a.log.Warn("rate gate unavailable", "action", action, "error", err)
		return true
	}
	if ok {
		return true
	}

	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":      fmt.Sprintf("操作过于频繁，请 %d 秒后再试", seconds),
		"retryAfter": seconds,
	})
	return false
}
