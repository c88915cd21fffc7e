package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moodjournal/internal/auth"
	"github.com/moodjournal/internal/db"
	"github.com/moodjournal/internal/handler"
	"github.com/moodjournal/internal/service"
	"github.com/moodjournal/internal/store"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type localClient struct {
	handler http.Handler
	jar     http.CookieJar
}

func newLocalClient(handler http.Handler) *localClient {
	jar, _ := cookiejar.New(nil)
	return &localClient{handler: handler, jar: jar}
}

func (c *localClient) Do(req *http.Request) *http.Response {
	for _, cookie := range c.jar.Cookies(req.URL) {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	resp := w.Result()
	c.jar.SetCookies(req.URL, resp.Cookies())
	return resp
}

func (c *localClient) request(t *testing.T, method, path string, payload interface{}) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, "http://moodjournal.test"+path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Do(req)
}

type recordingCompleter struct {
	mu      sync.Mutex
	prompts []string
}

func (r *recordingCompleter) Complete(_ context.Context, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	return "오늘도 수고했어요|||4", nil
}

func (r *recordingCompleter) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.prompts) == 0 {
		return ""
	}
	return r.prompts[len(r.prompts)-1]
}

type e2eSuite struct {
	handler   http.Handler
	tables    store.TableStore
	completer *recordingCompleter
}

func newE2ESuite(t *testing.T) *e2eSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:e2e-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	tables := store.NewGormStore(gdb)
	identity := service.NewIdentityService(tables, nil)
	identity.SetHashCost(bcrypt.MinCost)
	if err := identity.EnsureAdmin(context.Background(), "root", "e2e-secret"); err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}

	completer := &recordingCompleter{}
	system := service.NewSystemSettingService(gdb, service.SystemSettings{AIProvider: service.AIProviderOpenAI})
	advice := service.NewAdviceService(completer, system, time.Second, nil)
	digest := service.NewDigestService(tables, time.UTC, nil)

	api := handler.NewAPI(handler.Dependencies{
		DB:       gdb,
		Identity: identity,
		Entries:  service.NewEntryService(tables, digest, advice, time.UTC, service.DefaultLookbackDays, nil),
		Chats:    service.NewConversationService(tables, completer, time.Second, nil),
		System:   system,
		Tokens:   auth.NewTokenIssuer("e2e-secret", time.Hour),
		Gate:     service.NewMemoryRateGate(),
	})

	return &e2eSuite{
		handler:   SetupRouter(api, Options{SessionSecret: "e2e-secret"}),
		tables:    tables,
		completer: completer,
	}
}

func (s *e2eSuite) login(t *testing.T, client *localClient, username, password string) {
	t.Helper()
	resp := client.request(t, http.MethodPost, "/api/auth/login", gin.H{"username": username, "password": password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d", username, resp.StatusCode)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d (%s)", want, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func TestE2E_GormBackedFlow(t *testing.T) {
	suite := newE2ESuite(t)
	admin := newLocalClient(suite.handler)
	user := newLocalClient(suite.handler)

	expectStatus(t, user.request(t, http.MethodGet, "/healthz", nil), http.StatusOK)

	resp := user.request(t, http.MethodPost, "/api/auth/register", gin.H{"username": "mina", "password": "secret-1", "name": "민아"})
	expectStatus(t, resp, http.StatusCreated)
	var registered struct {
		User service.Identity `json:"user"`
	}
	json.NewDecoder(resp.Body).Decode(&registered)

	suite.login(t, admin, "root", "e2e-secret")
	expectStatus(t, admin.request(t, http.MethodPut, "/api/admin/settings", gin.H{
		"aiProvider":   "openai",
		"advicePrompt": "너는 다정한 상담사야.",
	}), http.StatusOK)
	expectStatus(t, admin.request(t, http.MethodPost, "/api/admin/settings/test-ai", gin.H{"provider": "openai"}), http.StatusBadRequest)

	suite.login(t, user, "mina", "secret-1")
	expectStatus(t, user.request(t, http.MethodPut, "/api/entries/date/2025-01-09", gin.H{"content": "어제는 피곤했다"}), http.StatusCreated)
	expectStatus(t, user.request(t, http.MethodPut, "/api/entries/date/2025-01-10", gin.H{"content": "오늘은 괜찮았다"}), http.StatusCreated)

	prompt := suite.completer.last()
	if !strings.Contains(prompt, "너는 다정한 상담사야.") {
		t.Fatalf("configured advice prompt not used: %q", prompt)
	}

	expectStatus(t, user.request(t, http.MethodGet, "/api/admin/users", nil), http.StatusForbidden)

	resp = admin.request(t, http.MethodGet, "/api/admin/users", nil)
	expectStatus(t, resp, http.StatusOK)
	var listed struct {
		Users []service.Identity `json:"users"`
	}
	json.NewDecoder(resp.Body).Decode(&listed)
	if len(listed.Users) != 2 {
		t.Fatalf("expected 2 users, got %#v", listed.Users)
	}

	expectStatus(t, admin.request(t, http.MethodPut, "/api/admin/users/"+registered.User.UserID+"/username", gin.H{"username": "mina2"}), http.StatusOK)

	// 改名后旧会话仍然有效，日记归属不变。
	resp = user.request(t, http.MethodGet, "/api/me", nil)
	expectStatus(t, resp, http.StatusOK)
	var me struct {
		User service.Identity `json:"user"`
	}
	json.NewDecoder(resp.Body).Decode(&me)
	if me.User.Username != "mina2" {
		t.Fatalf("expected renamed handle, got %q", me.User.Username)
	}

	resp = user.request(t, http.MethodGet, "/api/months/2025-01", nil)
	expectStatus(t, resp, http.StatusOK)
	var month struct {
		Entries []struct {
			Date string `json:"date"`
		} `json:"entries"`
	}
	json.NewDecoder(resp.Body).Decode(&month)
	if len(month.Entries) != 2 || month.Entries[0].Date != "2025-01-09" {
		t.Fatalf("unexpected month entries %#v", month.Entries)
	}

	rows, err := suite.tables.ReadTable(context.Background(), store.TableDiaryEntries)
	if err != nil {
		t.Fatalf("read diary entries: %v", err)
	}
	for _, row := range rows {
		if row.Value(store.ColUsername) != "mina2" {
			t.Fatalf("diary username not synced: %#v", row)
		}
	}

	expectStatus(t, user.request(t, http.MethodPost, "/api/auth/logout", nil), http.StatusOK)
	expectStatus(t, user.request(t, http.MethodGet, "/api/me", nil), http.StatusUnauthorized)
}
