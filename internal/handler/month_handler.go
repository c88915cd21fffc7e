package handler

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moodjournal/internal/chart"
	"github.com/moodjournal/internal/service"
)

// ListMonths 返回有日记的月份，由新到旧。
func (a *API) ListMonths(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}

	months, err := a.entries.Months(c.Request.Context(), sess.Identity)
	if err != nil {
		a.log.Error("list months failed", "error", err)
		respondError(c, http.StatusServiceUnavailable, "暂时无法读取日记，请稍后再试")
		return
	}
	c.JSON(http.StatusOK, gin.H{"months": months})
}

// GetMonth 返回某月的日记与平均心情。
func (a *API) GetMonth(c *gin.Context) {
	summary, ok := a.loadMonth(c)
	if !ok {
		return
	}

	entries := make([]entryPayload, 0, len(summary.Entries))
	for _, entry := range summary.Entries {
		entries = append(entries, newEntryPayload(entry))
	}

	averageMood := ""
	if len(summary.Entries) > 0 {
		averageMood = service.MoodLabel(int(math.Round(summary.AverageScore)))
	}

	c.JSON(http.StatusOK, gin.H{
		"month":        summary.Month,
		"averageScore": summary.AverageScore,
		"averageMood":  averageMood,
		"entries":      entries,
	})
}

// GetMonthChart 以 PNG 返回某月的心情折线图。
func (a *API) GetMonthChart(c *gin.Context) {
	summary, ok := a.loadMonth(c)
	if !ok {
		return
	}

	points := make([]chart.Point, 0, len(summary.Entries))
	for _, entry := range summary.Entries {
		points = append(points, chart.Point{Day: entry.Date.Day(), Score: entry.Score})
	}

	png, err := chart.RenderMoodChart(summary.Month, daysInMonth(summary.Month), points)
	if err != nil {
		a.log.Error("render mood chart failed", "month", summary.Month, "error", err)
		respondError(c, http.StatusInternalServerError, "生成图表失败")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (a *API) loadMonth(c *gin.Context) (service.MonthSummary, bool) {
	sess, ok := mustSession(c)
	if !ok {
		return service.MonthSummary{}, false
	}

	summary, err := a.entries.MonthSummary(c.Request.Context(), sess.Identity, c.Param("month"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidMonth) {
			respondError(c, http.StatusBadRequest, "月份格式应为 YYYY-MM")
			return service.MonthSummary{}, false
		}
		a.log.Error("load month failed", "error", err)
		respondError(c, http.StatusServiceUnavailable, "暂时无法读取日记，请稍后再试")
		return service.MonthSummary{}, false
	}
	return summary, true
}

func daysInMonth(month string) int {
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return 31
	}
	return start.AddDate(0, 1, -1).Day()
}
