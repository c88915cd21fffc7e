package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/moodjournal/internal/service"
)

type renameRequest struct {
	Username string `json:"username" binding:"required"`
}

// ListUsers 返回全部账号，仅管理员可用。
func (a *API) ListUsers(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}

	users, err := a.identity.ListUsers(c.Request.Context(), sess.Identity)
	if err != nil {
		a.handleAdminError(c, err, "获取用户列表失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// RenameUser 修改账号的登录名，并同步该账号日记中的用户名。
func (a *API) RenameUser(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		respondError(c, http.StatusBadRequest, "无效的用户ID")
		return
	}

	var req renameRequest
	if !bindJSON(c, &req, "用户名不能为空") {
		return
	}

	identity, err := a.identity.RenameHandle(c.Request.Context(), sess.Identity, userID, req.Username)
	if err != nil {
		a.handleAdminError(c, err, "修改用户名失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "用户名已修改", "user": identity})
}

func (a *API) handleAdminError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		respondError(c, http.StatusForbidden, "需要管理员权限")
	case errors.Is(err, service.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "用户不存在")
	case errors.Is(err, service.ErrDuplicateHandle):
		respondError(c, http.StatusConflict, "用户名已存在")
	case errors.Is(err, service.ErrInvalidIdentityInput):
		respondError(c, http.StatusBadRequest, "用户名需为 3-32 位字母数字")
	default:
		a.log.Error("admin operation failed", "error", err)
		respondError(c, http.StatusInternalServerError, fallback)
	}
}
