package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/moodjournal/internal/logger"
	"github.com/moodjournal/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials 表示用户名或密码错误。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateHandle 表示用户名已被占用。
	ErrDuplicateHandle = errors.New("username already exists")
	// ErrInvalidIdentityInput 表示注册或修改资料的输入不合法。
	ErrInvalidIdentityInput = errors.New("invalid identity input")
	// ErrUserNotFound 表示用户不存在。
	ErrUserNotFound = errors.New("user not found")
	// ErrForbidden 表示当前身份无权执行该操作。
	ErrForbidden = errors.New("forbidden")
)

const (
	minSecretLength  = 4
	maxSecretBytes   = 72
	maxNameRunes     = 40
	legacySecretCol  = "password"
	handlePatternStr = `^[A-Za-z0-9_.-]{3,32}$`
)

var handlePattern = regexp.MustCompile(handlePatternStr)

// UpdateIdentityInput 描述资料的部分更新，nil 字段保持不变。
type UpdateIdentityInput struct {
	Name     *string
	Password *string
}

// IdentityService 负责用户认证、注册与资料维护，数据保存在 users 表。
type IdentityService struct {
	store store.TableStore
	cost  int
	log   *logger.Logger
}

// NewIdentityService 构造 IdentityService。
func NewIdentityService(tables store.TableStore, log *logger.Logger) *IdentityService {
	if log == nil {
		log = logger.Nop()
	}
	return &IdentityService{store: tables, cost: bcrypt.DefaultCost, log: log}
}

// SetHashCost 调整 bcrypt 计算强度，测试中使用 bcrypt.MinCost 加速。
func (s *IdentityService) SetHashCost(cost int) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	s.cost = cost
}

// Authenticate 校验用户名与密码，成功时返回完整身份，角色缺失时视为普通用户。
// 早期账号缺少 user_id 时会在此补发，明文密码会被替换为哈希。
func (s *IdentityService) Authenticate(ctx context.Context, handle, secret string) (*Identity, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || secret == "" {
		return nil, ErrInvalidCredentials
	}

	rows, err := s.store.ReadTable(ctx, store.TableUsers)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	idx := findUserByHandle(rows, handle)
	if idx < 0 {
		return nil, ErrInvalidCredentials
	}
	row := rows[idx]

	dirty := false
	if hash := row.Value(store.ColPasswordHash); hash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
			return nil, ErrInvalidCredentials
		}
	} else {
		legacy, ok := row.Get(legacySecretCol)
		if !ok || legacy == "" || legacy != secret {
			return nil, ErrInvalidCredentials
		}
		hashed, err := s.hash(secret)
		if err != nil {
			return nil, err
		}
		row[store.ColPasswordHash] = hashed
		delete(row, legacySecretCol)
		dirty = true
	}

	if strings.TrimSpace(row.Value(store.ColUserID)) == "" {
		row[store.ColUserID] = uuid.NewString()
		dirty = true
	}

	if dirty {
		if err := s.store.Overwrite(ctx, store.TableUsers, rows); err != nil {
			return nil, fmt.Errorf("write users: %w", err)
		}
		s.log.Info("legacy account upgraded", "user_id", row.Value(store.ColUserID))
	}

	identity := identityFromRow(row)
	return &identity, nil
}

// Register 创建新用户，用户名重复时返回 ErrDuplicateHandle。
func (s *IdentityService) Register(ctx context.Context, handle, secret, displayName string) (*Identity, error) {
	handle = strings.TrimSpace(handle)
	if !handlePattern.MatchString(handle) {
		return nil, fmt.Errorf("%w: 用户名需为 3-32 位字母、数字或 _.-", ErrInvalidIdentityInput)
	}
	if err := validateSecret(secret); err != nil {
		return nil, err
	}
	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = handle
	}

	hashed, err := s.hash(secret)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.ReadTable(ctx, store.TableUsers)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	if findUserByHandle(rows, handle) >= 0 {
		return nil, ErrDuplicateHandle
	}

	row := store.Row{
		store.ColUserID:       uuid.NewString(),
		store.ColUsername:     handle,
		store.ColPasswordHash: hashed,
		store.ColName:         name,
		store.ColRole:         RoleUser,
	}
	rows = append(rows, row)
	if err := s.store.Overwrite(ctx, store.TableUsers, rows); err != nil {
		return nil, fmt.Errorf("write users: %w", err)
	}

	identity := identityFromRow(row)
	s.log.Info("user registered", "user_id", identity.UserID)
	return &identity, nil
}

// Get 按 user_id 读取身份。
func (s *IdentityService) Get(ctx context.Context, userID string) (*Identity, error) {
	rows, err := s.store.ReadTable(ctx, store.TableUsers)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	idx := findUserByID(rows, userID)
	if idx < 0 {
		return nil, ErrUserNotFound
	}
	identity := identityFromRow(rows[idx])
	return &identity, nil
}

// UpdateIdentity 修改显示名称或密码，只更新提供的字段。
func (s *IdentityService) UpdateIdentity(ctx context.Context, userID string, input UpdateIdentityInput) (*Identity, error) {
	if input.Name == nil && input.Password == nil {
		return nil, fmt.Errorf("%w: 没有需要更新的内容", ErrInvalidIdentityInput)
	}

	var (
		name   string
		hashed string
	)
	if input.Name != nil {
		normalized, err := normalizeDisplayName(*input.Name)
		if err != nil {
			return nil, err
		}
		if normalized == "" {
			return nil, fmt.Errorf("%w: 显示名称不能为空", ErrInvalidIdentityInput)
		}
		name = normalized
	}
	if input.Password != nil {
		if err := validateSecret(*input.Password); err != nil {
			return nil, err
		}
		h, err := s.hash(*input.Password)
		if err != nil {
			return nil, err
		}
		hashed = h
	}

	rows, err := s.store.ReadTable(ctx, store.TableUsers)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	idx := findUserByID(rows, userID)
	if idx < 0 {
		return nil, ErrUserNotFound
	}

	row := rows[idx]
	if input.Name != nil {
		row[store.ColName] = name
	}
	if input.Password != nil {
		row[store.ColPasswordHash] = hashed
		delete(row, legacySecretCol)
	}
	if err := s.store.Overwrite(ctx, store.TableUsers, rows); err != nil {
		return nil, fmt.Errorf("write users: %w", err)
	}

	identity := identityFromRow(row)
	s.log.Info("identity updated", "user_id", identity.UserID, "name_changed", input.Name != nil, "credential_changed", input.Password != nil)
	return &identity, nil
}

// RenameHandle 由管理员修改用户的登录名，并同步该用户日记中的 username 列。
func (s *IdentityService) RenameHandle(ctx context.Context, actor Identity, userID, newHandle string) (*Identity, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	newHandle = strings.TrimSpace(newHandle)
	if !handlePattern.MatchString(newHandle) {
		return nil, fmt.Errorf("%w: 用户名需为 3-32 位字母、数字或 _.-", ErrInvalidIdentityInput)
	}

	rows, err := s.store.ReadTable(ctx, store.TableUsers)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	idx := findUserByID(rows, userID)
	if idx < 0 {
		return nil, ErrUserNotFound
	}
	if other := findUserByHandle(rows, newHandle); other >= 0 && other != idx {
		return nil, ErrDuplicateHandle
	}

	before := identityFromRow(rows[idx])
	rows[idx][store.ColUsername] = newHandle
	if err := s.store.Overwrite(ctx, store.TableUsers, rows); err != nil {
		return nil, fmt.Errorf("write users: %w", err)
	}

	entries, err := s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		return nil, fmt.Errorf("read diary entries: %w", err)
	}
	changed := 0
	for _, row := range entries {
		if !rowOwnedBy(row, before) {
			continue
		}
		row[store.ColUsername] = newHandle
		if strings.TrimSpace(row.Value(store.ColUserID)) == "" {
			row[store.ColUserID] = before.UserID
		}
		changed++
	}
	if changed > 0 {
		if err := s.store.Overwrite(ctx, store.TableDiaryEntries, entries); err != nil {
			return nil, fmt.Errorf("write diary entries: %w", err)
		}
	}

	identity := identityFromRow(rows[idx])
	s.log.Info("handle renamed", "user_id", identity.UserID, "entries", changed)
	return &identity, nil
}

// ListUsers 返回所有用户的身份信息，仅管理员可用。
func (s *IdentityService) ListUsers(ctx context.Context, actor Identity) ([]Identity, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	rows, err := s.store.ReadTable(ctx, store.TableUsers)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	users := make([]Identity, 0, len(rows))
	for _, row := range rows {
		identity := identityFromRow(row)
		if identity.Username == "" {
			continue
		}
		users = append(users, identity)
	}
	return users, nil
}

// EnsureAdmin 确保存在指定的管理员账号：不存在时创建，存在时提升为管理员。
// 用户名或密码为空时不做任何事。
func (s *IdentityService) EnsureAdmin(ctx context.Context, handle, secret string) error {
	handle = strings.TrimSpace(handle)
	if handle == "" || strings.TrimSpace(secret) == "" {
		return nil
	}

	rows, err := s.store.ReadTable(ctx, store.TableUsers)
	if err != nil {
		return fmt.Errorf("read users: %w", err)
	}

	if idx := findUserByHandle(rows, handle); idx >= 0 {
		if normalizeRole(rows[idx].Value(store.ColRole)) == RoleAdmin {
			return nil
		}
		rows[idx][store.ColRole] = RoleAdmin
		if err := s.store.Overwrite(ctx, store.TableUsers, rows); err != nil {
			return fmt.Errorf("write users: %w", err)
		}
		s.log.Info("user promoted to admin", "user_id", rows[idx].Value(store.ColUserID))
		return nil
	}

	if !handlePattern.MatchString(handle) {
		return fmt.Errorf("%w: 管理员用户名不合法", ErrInvalidIdentityInput)
	}
	if err := validateSecret(secret); err != nil {
		return err
	}
	hashed, err := s.hash(secret)
	if err != nil {
		return err
	}
	row := store.Row{
		store.ColUserID:       uuid.NewString(),
		store.ColUsername:     handle,
		store.ColPasswordHash: hashed,
		store.ColName:         handle,
		store.ColRole:         RoleAdmin,
	}
	if err := s.store.Overwrite(ctx, store.TableUsers, append(rows, row)); err != nil {
		return fmt.Errorf("write users: %w", err)
	}
	s.log.Info("admin account created", "user_id", row[store.ColUserID])
	return nil
}

func (s *IdentityService) hash(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func validateSecret(secret string) error {
	if utf8.RuneCountInString(secret) < minSecretLength {
		return fmt.Errorf("%w: 密码至少 %d 位", ErrInvalidIdentityInput, minSecretLength)
	}
	if len(secret) > maxSecretBytes {
		return fmt.Errorf("%w: 密码过长", ErrInvalidIdentityInput)
	}
	return nil
}

func normalizeDisplayName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if utf8.RuneCountInString(trimmed) > maxNameRunes {
		return "", fmt.Errorf("%w: 显示名称最多 %d 个字符", ErrInvalidIdentityInput, maxNameRunes)
	}
	return EscapeFormula(trimmed), nil
}

func findUserByHandle(rows []store.Row, handle string) int {
	for i, row := range rows {
		if strings.EqualFold(strings.TrimSpace(row.Value(store.ColUsername)), handle) {
			return i
		}
	}
	return -1
}

func findUserByID(rows []store.Row, userID string) int {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return -1
	}
	for i, row := range rows {
		if strings.TrimSpace(row.Value(store.ColUserID)) == userID {
			return i
		}
	}
	return -1
}
