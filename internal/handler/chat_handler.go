package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moodjournal/internal/service"
)

type chatRequest struct {
	Message string `json:"message"`
}

// GetThread 返回日记下的对话。
func (a *API) GetThread(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的日记ID")
		return
	}

	thread, err := a.chats.Thread(c.Request.Context(), sess.Identity, id)
	if err != nil {
		a.handleChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread": thread})
}

// SendMessage 追加一轮对话。
func (a *API) SendMessage(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的日记ID")
		return
	}

	var req chatRequest
	if !bindJSON(c, &req, "请求参数错误") {
		return
	}
	// 无效消息不占用频率限制的名额。
	if err := service.ValidateMessage(req.Message); err != nil {
		a.handleChatError(c, err)
		return
	}
	if !a.allowAction(c, sess, service.ActionChatTurn) {
		return
	}

	thread, err := a.chats.Send(c.Request.Context(), sess.Identity, id, req.Message)
	if err != nil {
		a.handleChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread": thread})
}

// ResetThread 清空对话。
func (a *API) ResetThread(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的日记ID")
		return
	}

	if err := a.chats.Reset(c.Request.Context(), sess.Identity, id); err != nil {
		a.handleChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "对话已清空", "thread": []service.Turn{}})
}

func (a *API) handleChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyMessage):
		respondError(c, http.StatusBadRequest, "消息不能为空")
	case errors.Is(err, service.ErrMessageTooLong):
		respondError(c, http.StatusBadRequest, "消息过长")
	case errors.Is(err, service.ErrThreadTooLong):
		respondError(c, http.StatusConflict, "对话已达上限，请先清空对话")
	case errors.Is(err, service.ErrEntryNotFound):
		respondError(c, http.StatusNotFound, "日记不存在，请刷新后重试")
	default:
		a.log.Error("chat operation failed", "error", err)
		respondError(c, http.StatusServiceUnavailable, "对话暂时不可用，请稍后再试")
	}
}
