package service

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gameledger/internal/model"
	"gameledger/pkg/money"
)

// ============================================================================
// 账户内存缓存
// ============================================================================
//
// 【为什么余额放内存？】
//
// 余额查询和扣款发生在游戏指令的热路径上，要求交互级延迟，
// 不能每次都打数据库。权威状态放内存，后端只通过批量刷盘异步收敛：
//
//   读:  balance / has          -> 纯内存，永不失败
//   写:  set / add / remove ... -> 内存变更 + 标脏
//   收敛: FlushDirty             -> 脏集合快照批量 upsert
//
// 【并发模型】
//
// 一把互斥锁守护账户表和脏集合。单账户的每次变更在锁内完成，
// 并发读写只会看到变更前或变更后的完整状态，不会读到撕裂的中间态。
//
// ============================================================================

// 格式化代码（&a、§c 之类的颜色码），排序比较名字前先剥掉
var formatCodeRe = regexp.MustCompile(`[&§][0-9A-Fa-fK-Ok-oR-r]`)

// accountState 单个账户的内存状态
type accountState struct {
	name           string
	balance        float64
	notify         bool
	locked         bool
	lastActivityMs int64
	gen            uint64 // 变更代数，每次标脏递增，FlushDirty 据此识别落盘期间的新变更
}

// DisplayRow 列表/排行接口的展示行
type DisplayRow struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Balance float64   `json:"balance"`
}

// AccountStore 账户缓存 + 脏集合
type AccountStore struct {
	repo     AccountsRepo
	decimals int

	mu       sync.RWMutex
	accounts map[uuid.UUID]*accountState
	dirty    map[uuid.UUID]struct{}

	now func() time.Time
}

func NewAccountStore(repo AccountsRepo, decimals int) *AccountStore {
	return &AccountStore{
		repo:     repo,
		decimals: money.ClampDecimals(decimals),
		accounts: make(map[uuid.UUID]*accountState),
		dirty:    make(map[uuid.UUID]struct{}),
		now:      time.Now,
	}
}

// Decimals 返回小数位数 D
func (s *AccountStore) Decimals() int {
	return s.decimals
}

// Warmup 用后端内容整体替换内存状态，仅在启动时调用
func (s *AccountStore) Warmup(ctx context.Context) error {
	rows, err := s.repo.LoadAll(ctx)
	if err != nil {
		return err
	}

	accounts := make(map[uuid.UUID]*accountState, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			continue
		}
		accounts[id] = &accountState{
			name:           r.Name,
			balance:        money.Round(r.Balance, s.decimals),
			notify:         r.Notify,
			locked:         r.Locked,
			lastActivityMs: r.LastActivityMs,
		}
	}

	s.mu.Lock()
	s.accounts = accounts
	s.dirty = make(map[uuid.UUID]struct{})
	s.mu.Unlock()
	return nil
}

// Ensure 懒创建账户，只有真正插入时才标脏
func (s *AccountStore) Ensure(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(id)
}

func (s *AccountStore) ensureLocked(id uuid.UUID) *accountState {
	if st, ok := s.accounts[id]; ok {
		return st
	}
	st := &accountState{notify: true}
	s.accounts[id] = st
	s.markDirtyLocked(id, st)
	return st
}

func (s *AccountStore) markDirtyLocked(id uuid.UUID, st *accountState) {
	st.gen++
	s.dirty[id] = struct{}{}
}

// Exists 账户是否已知
func (s *AccountStore) Exists(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[id]
	return ok
}

// Balance 返回余额，未知账户返回 0
func (s *AccountStore) Balance(id uuid.UUID) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.accounts[id]; ok {
		return st.balance
	}
	return 0
}

// Has 余额是否足以支付 amount，带浮点容差
func (s *AccountStore) Has(id uuid.UUID, amount float64) bool {
	return s.Balance(id)+money.Epsilon >= amount
}

// Name 返回缓存的显示名，没有时回退到ID字符串
func (s *AccountStore) Name(id uuid.UUID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nameLocked(id)
}

func (s *AccountStore) nameLocked(id uuid.UUID) string {
	if st, ok := s.accounts[id]; ok && strings.TrimSpace(st.name) != "" {
		return st.name
	}
	return id.String()
}

// NotifyEnabled 是否接收到账通知，未知账户默认 true
func (s *AccountStore) NotifyEnabled(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.accounts[id]; ok {
		return st.notify
	}
	return true
}

// Locked 账户是否锁定，未知账户默认 false
func (s *AccountStore) Locked(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.accounts[id]; ok {
		return st.locked
	}
	return false
}

// LastActivity 最后变动时间（毫秒），0 表示从未
func (s *AccountStore) LastActivity(id uuid.UUID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.accounts[id]; ok {
		return st.lastActivityMs
	}
	return 0
}

// Set 设置余额为 round(max(0, amount))，总是更新活动时间并标脏
func (s *AccountStore) Set(id uuid.UUID, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureLocked(id)
	if amount < 0 {
		amount = 0
	}
	st.balance = money.Round(amount, s.decimals)
	s.touchLocked(id, st)
}

// Add 入账，amount <= 0 时为空操作
func (s *AccountStore) Add(id uuid.UUID, amount float64) {
	if amount <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureLocked(id)
	st.balance = money.Round(st.balance+amount, s.decimals)
	s.touchLocked(id, st)
}

// Remove 出账
// amount <= 0 视为成功且不变；余额不足（带容差）时返回 false 且不产生任何变更
func (s *AccountStore) Remove(id uuid.UUID, amount float64) bool {
	if amount <= 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureLocked(id)
	if st.balance+money.Epsilon < amount {
		return false
	}

	next := money.Round(st.balance-amount, s.decimals)
	if next < 0 {
		next = 0
	}
	st.balance = next
	s.touchLocked(id, st)
	return true
}

// UpdateName 记录显示名，空白名字忽略，只有真正变化时才标脏
func (s *AccountStore) UpdateName(id uuid.UUID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureLocked(id)
	if strings.TrimSpace(name) == "" {
		return
	}
	if st.name != name {
		st.name = name
		s.markDirtyLocked(id, st)
	}
}

// SetNotify 开关到账通知
func (s *AccountStore) SetNotify(id uuid.UUID, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureLocked(id)
	st.notify = enabled
	s.markDirtyLocked(id, st)
}

// SetLocked 开关账户锁定
func (s *AccountStore) SetLocked(id uuid.UUID, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureLocked(id)
	st.locked = locked
	s.markDirtyLocked(id, st)
}

// Touch 更新活动时间并标脏
func (s *AccountStore) Touch(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureLocked(id)
	s.touchLocked(id, st)
}

func (s *AccountStore) touchLocked(id uuid.UUID, st *accountState) {
	st.lastActivityMs = s.now().UnixMilli()
	s.markDirtyLocked(id, st)
}

// DirtySize 当前脏账户数
func (s *AccountStore) DirtySize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty)
}

// Size 缓存中的账户数
func (s *AccountStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// flushMark 快照时账户的变更代数，成功后据此决定能否摘脏标
type flushMark struct {
	id  uuid.UUID
	gen uint64
}

// FlushDirty 把脏账户批量落盘
//
// 【快照-成功后按代数清除】
// 1. 锁内拍下脏ID快照、账户当前状态和各自的变更代数
// 2. 锁外执行批量 upsert（后端 I/O 不能占着锁）
// 3. 成功后只清掉代数没变的账户 —— 落盘期间又被改写的账户
//    代数已推进，脏标保留，新值留给下一轮收敛
// 4. 失败时脏集合原样保留，下一轮重试
func (s *AccountStore) FlushDirty(ctx context.Context) error {
	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return nil
	}

	marks := make([]flushMark, 0, len(s.dirty))
	rows := make([]model.Account, 0, len(s.dirty))
	for id := range s.dirty {
		st, ok := s.accounts[id]
		if !ok {
			continue
		}
		marks = append(marks, flushMark{id: id, gen: st.gen})
		rows = append(rows, model.Account{
			ID:             id.String(),
			Name:           s.nameLocked(id),
			Balance:        st.balance,
			Notify:         st.notify,
			Locked:         st.locked,
			LastActivityMs: st.lastActivityMs,
		})
	}
	s.mu.Unlock()

	if err := s.repo.UpsertBatch(ctx, rows); err != nil {
		return err
	}

	s.mu.Lock()
	for _, m := range marks {
		if st, ok := s.accounts[m.id]; !ok || st.gen == m.gen {
			delete(s.dirty, m.id)
		}
	}
	s.mu.Unlock()
	return nil
}

// ============================================================================
// 列表 / 排行
// ============================================================================

// CountOnline 在线账户中余额不低于 min 的数量
func (s *AccountStore) CountOnline(online []uuid.UUID, min float64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := 0
	for _, id := range online {
		if st, ok := s.accounts[id]; ok && st.balance+money.Epsilon >= min {
			c++
		}
	}
	return c
}

// ListOnline 对调用方给出的在线集合做内存分页列表
func (s *AccountStore) ListOnline(online []uuid.UUID, min float64, sortKey string, page, perPage int) []DisplayRow {
	rows := s.collectOnline(online, min)
	sortRows(rows, sortKey)

	if page < 1 {
		page = 1
	}
	offset := (page - 1) * perPage
	if offset >= len(rows) {
		return []DisplayRow{}
	}
	end := offset + perPage
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

// TopOnline 在线集合的余额榜前 n 名
func (s *AccountStore) TopOnline(online []uuid.UUID, min float64, n int) []DisplayRow {
	if n < 1 {
		n = 1
	}
	rows := s.collectOnline(online, min)
	sortRows(rows, SortKeyBalDesc)
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

func (s *AccountStore) collectOnline(online []uuid.UUID, min float64) []DisplayRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]DisplayRow, 0, len(online))
	for _, id := range online {
		st, ok := s.accounts[id]
		if !ok || st.balance+money.Epsilon < min {
			continue
		}
		rows = append(rows, DisplayRow{
			ID:      id,
			Name:    s.nameLocked(id),
			Balance: money.Round(st.balance, s.decimals),
		})
	}
	return rows
}

// CountDB 全服统计，走后端
func (s *AccountStore) CountDB(ctx context.Context, min float64) (int64, error) {
	return s.repo.CountByMin(ctx, min)
}

// ListDB 全服分页列表，走后端
func (s *AccountStore) ListDB(ctx context.Context, min float64, sortKey string, page, perPage int) ([]DisplayRow, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * perPage

	rows, err := s.repo.List(ctx, min, sortKey, perPage, offset)
	if err != nil {
		return nil, err
	}
	return s.toDisplayRows(rows), nil
}

// TopDB 全服余额榜，走后端
func (s *AccountStore) TopDB(ctx context.Context, min float64, n int) ([]DisplayRow, error) {
	rows, err := s.repo.Top(ctx, min, n)
	if err != nil {
		return nil, err
	}
	return s.toDisplayRows(rows), nil
}

// RankOf 全服余额排名，走后端
func (s *AccountStore) RankOf(ctx context.Context, id uuid.UUID) (int, error) {
	return s.repo.RankOf(ctx, id)
}

func (s *AccountStore) toDisplayRows(rows []model.Account) []DisplayRow {
	out := make([]DisplayRow, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			continue
		}
		name := r.Name
		if s.Exists(id) {
			name = s.Name(id)
		}
		if strings.TrimSpace(name) == "" {
			name = r.ID
		}
		out = append(out, DisplayRow{
			ID:      id,
			Name:    name,
			Balance: money.Round(r.Balance, s.decimals),
		})
	}
	return out
}

// 排序键
const (
	SortKeyBalDesc  = "BAL_DESC"
	SortKeyBalAsc   = "BAL_ASC"
	SortKeyNameAsc  = "NAME_ASC"
	SortKeyNameDesc = "NAME_DESC"
)

// sortRows 按排序键排序，名字比较剥掉格式化代码且不区分大小写，
// 主键相同的行用另一个维度决出先后
func sortRows(rows []DisplayRow, sortKey string) {
	key := strings.ToUpper(strings.TrimSpace(sortKey))

	nameOf := func(r DisplayRow) string {
		return strings.ToLower(formatCodeRe.ReplaceAllString(r.Name, ""))
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch key {
		case SortKeyBalAsc:
			if a.Balance != b.Balance {
				return a.Balance < b.Balance
			}
			return nameOf(a) < nameOf(b)
		case SortKeyNameAsc:
			if na, nb := nameOf(a), nameOf(b); na != nb {
				return na < nb
			}
			return a.Balance > b.Balance
		case SortKeyNameDesc:
			if na, nb := nameOf(a), nameOf(b); na != nb {
				return na > nb
			}
			return a.Balance > b.Balance
		default: // BAL_DESC
			if a.Balance != b.Balance {
				return a.Balance > b.Balance
			}
			return nameOf(a) < nameOf(b)
		}
	})
}
