package handler

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/moodjournal/internal/service"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type updateMeRequest struct {
	Name     *string `json:"name"`
	Password *string `json:"password"`
}

// Register 注册新账号。
func (a *API) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req, "用户名和密码不能为空") {
		return
	}

	identity, err := a.identity.Register(c.Request.Context(), req.Username, req.Password, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDuplicateHandle):
			respondError(c, http.StatusConflict, "用户名已存在")
		case errors.Is(err, service.ErrInvalidIdentityInput):
			respondError(c, http.StatusBadRequest, "用户名需为 3-32 位字母数字，密码至少 4 位")
		default:
			a.log.Error("register failed", "error", err)
			respondError(c, http.StatusInternalServerError, "注册失败")
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "注册成功", "user": identity})
}

// Login 校验凭据，建立 cookie 会话并签发 Bearer 令牌，二者共享同一个会话 ID。
func (a *API) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req, "用户名和密码不能为空") {
		return
	}

	identity, err := a.identity.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "用户名或密码错误")
			return
		}
		a.log.Error("login failed", "error", err)
		respondError(c, http.StatusServiceUnavailable, "暂时无法登录，请稍后再试")
		return
	}

	sid := uuid.NewString()
	session := sessions.Default(c)
	session.Set(sessionKeyUserID, identity.UserID)
	session.Set(sessionKeySID, sid)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	response := gin.H{"message": "登录成功", "user": identity}
	if a.tokens != nil {
		token, expires, err := a.tokens.Issue(identity.UserID, identity.Username, identity.Name, identity.Role, sid)
		if err != nil {
			a.log.Error("issue token failed", "error", err)
			respondError(c, http.StatusInternalServerError, "令牌签发失败")
			return
		}
		response["token"] = token
		response["expiresAt"] = expires
	}

	c.JSON(http.StatusOK, response)
}

// Logout 清除会话与该会话的频率记录。Bearer 令牌本身在过期前仍然有效。
func (a *API) Logout(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}

	if err := a.gate.Clear(c.Request.Context(), sess.SessionID); err != nil {
		a.log.Warn("clear rate gate failed", "error", err)
	}

	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	_ = session.Save()

	c.JSON(http.StatusOK, gin.H{"message": "已退出登录"})
}

// GetMe 返回当前登录用户。
func (a *API) GetMe(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": sess.Identity})
}

// UpdateMe 修改显示名或密码。
func (a *API) UpdateMe(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}

	var req updateMeRequest
	if !bindJSON(c, &req, "请求参数错误") {
		return
	}
	if !a.allowAction(c, sess, service.ActionUpdateIdentity) {
		return
	}

	identity, err := a.identity.UpdateIdentity(c.Request.Context(), sess.Identity.UserID, service.UpdateIdentityInput{
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidIdentityInput):
			respondError(c, http.StatusBadRequest, "名称不能超过 40 个字符，密码至少 4 位")
		case errors.Is(err, service.ErrUserNotFound):
			respondError(c, http.StatusNotFound, "用户不存在")
		default:
			a.log.Error("update identity failed", "error", err)
			respondError(c, http.StatusInternalServerError, "更新账号失败")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "账号已更新", "user": identity})
}
