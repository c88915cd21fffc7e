package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moodjournal/internal/service"
)

type entryPayload struct {
	ID          int            `json:"id"`
	Date        string         `json:"date"`
	Content     string         `json:"content"`
	ContentHTML string         `json:"contentHtml"`
	Advice      string         `json:"advice"`
	AdviceHTML  string         `json:"adviceHtml"`
	Score       int            `json:"score"`
	Mood        string         `json:"mood"`
	Timestamp   string         `json:"timestamp"`
	Thread      []service.Turn `json:"thread"`
}

type submitEntryRequest struct {
	Content string `json:"content"`
}

func newEntryPayload(entry service.Entry) entryPayload {
	thread := entry.Thread
	if thread == nil {
		thread = []service.Turn{}
	}
	return entryPayload{
		ID:          entry.ID,
		Date:        entry.DateString(),
		Content:     entry.Content,
		ContentHTML: renderMarkdown(entry.Content),
		Advice:      entry.Advice,
		AdviceHTML:  renderMarkdown(entry.Advice),
		Score:       entry.Score,
		Mood:        service.MoodLabel(entry.Score),
		Timestamp:   entry.Timestamp,
		Thread:      thread,
	}
}

// parseDateParam 接受 YYYY-MM-DD 或 today。
func (a *API) parseDateParam(c *gin.Context) (time.Time, bool) {
	raw := strings.TrimSpace(c.Param("date"))
	if strings.EqualFold(raw, "today") {
		return a.entries.Today(), true
	}
	date, err := service.ParseDate(raw, a.entries.Location())
	if err != nil {
		respondError(c, http.StatusBadRequest, "日期格式应为 YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

// ResolveEntry 查询某天是否已有日记。
func (a *API) ResolveEntry(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	date, ok := a.parseDateParam(c)
	if !ok {
		return
	}

	resolution, err := a.entries.Resolve(c.Request.Context(), sess.Identity, date)
	if err != nil {
		a.log.Error("resolve entry failed", "error", err)
		respondError(c, http.StatusServiceUnavailable, "暂时无法读取日记，请稍后再试")
		return
	}

	response := gin.H{
		"date":  date.Format("2006-01-02"),
		"state": resolution.State,
		"entry": nil,
	}
	if resolution.Entry != nil {
		response["entry"] = newEntryPayload(*resolution.Entry)
	}
	c.JSON(http.StatusOK, response)
}

// SubmitEntry 提交某天的日记：当天没有则创建，有则重新分析并清空对话。
func (a *API) SubmitEntry(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	date, ok := a.parseDateParam(c)
	if !ok {
		return
	}

	var req submitEntryRequest
	if !bindJSON(c, &req, "请求参数错误") {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(c, http.StatusBadRequest, "日记内容不能为空")
		return
	}

	ctx := c.Request.Context()
	resolution, err := a.entries.Resolve(ctx, sess.Identity, date)
	if err != nil {
		a.log.Error("resolve entry failed", "error", err)
		respondError(c, http.StatusServiceUnavailable, "暂时无法读取日记，请稍后再试")
		return
	}
	action := service.ActionCreateEntry
	if resolution.State == service.EntryPresent {
		action = service.ActionEditEntry
	}
	if !a.allowAction(c, sess, action) {
		return
	}

	result, err := a.entries.Submit(ctx, sess.Identity, date, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyContent):
			respondError(c, http.StatusBadRequest, "日记内容不能为空")
		case errors.Is(err, service.ErrEntryConflict):
			respondError(c, http.StatusConflict, "这一天的日记刚刚被保存，请刷新后再编辑")
		case errors.Is(err, service.ErrEntryNotFound):
			respondError(c, http.StatusConflict, "日记已被修改，请刷新后重试")
		default:
			a.log.Error("submit entry failed", "error", err)
			respondError(c, http.StatusServiceUnavailable, "保存日记失败，请稍后再试")
		}
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"entry":    newEntryPayload(result.Entry),
		"created":  result.Created,
		"degraded": result.Degraded,
	})
}

// GetEntry 按 id 返回日记详情。
func (a *API) GetEntry(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的日记ID")
		return
	}

	entry, err := a.entries.Get(c.Request.Context(), sess.Identity, id)
	if err != nil {
		if errors.Is(err, service.ErrEntryNotFound) {
			respondError(c, http.StatusNotFound, "日记不存在")
			return
		}
		a.log.Error("get entry failed", "error", err)
		respondError(c, http.StatusServiceUnavailable, "暂时无法读取日记，请稍后再试")
		return
	}

	c.JSON(http.StatusOK, gin.H{"entry": newEntryPayload(entry)})
}
