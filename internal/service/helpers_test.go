package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gameledger/internal/config"
	"gameledger/internal/model"
)

// 测试用的基准配置，各用例按需修改后包进 Holder
func testConfig() *config.Config {
	return &config.Config{
		Format: config.FormatConfig{Decimals: 2},
		Flush:  config.FlushConfig{DirtyThreshold: 100},
		Pay: config.PayConfig{
			Enabled:               true,
			Min:                   0.01,
			TaxPercent:            0,
			CooldownSeconds:       0,
			TaxMode:               "sink",
			ConfirmTimeoutSeconds: 15,
		},
		AntiAbuse: config.AntiAbuseConfig{},
		TopCache:  config.TopCacheConfig{Enabled: true, Size: 10},
		Balances:  config.BalancesConfig{PerPage: 10, Sort: "BAL_DESC"},
		Audit:     config.AuditConfig{Enabled: true, PerPage: 10, PurgeOlderThanDays: 90},
	}
}

func testHolder() *config.Holder {
	return config.NewHolder(testConfig())
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// fakeAccountsRepo 内存版账户仓储
type fakeAccountsRepo struct {
	mu         sync.Mutex
	rows       map[string]model.Account
	failNext   bool
	failTop    bool
	upserts    int
	upsertHook func() // 写入开始时回调，用来模拟落盘期间的并发事件
}

func newFakeAccountsRepo() *fakeAccountsRepo {
	return &fakeAccountsRepo{rows: make(map[string]model.Account)}
}

func (r *fakeAccountsRepo) LoadAll(_ context.Context) ([]model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Account, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out, nil
}

func (r *fakeAccountsRepo) UpsertBatch(_ context.Context, rows []model.Account) error {
	if r.upsertHook != nil {
		r.upsertHook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		return errors.New("backend down")
	}
	r.upserts++
	for _, row := range rows {
		r.rows[row.ID] = row
	}
	return nil
}

func (r *fakeAccountsRepo) CountByMin(_ context.Context, min float64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.Balance >= min {
			n++
		}
	}
	return n, nil
}

func (r *fakeAccountsRepo) List(_ context.Context, min float64, _ string, limit, offset int) ([]model.Account, error) {
	rows, _ := r.Top(context.Background(), min, limit+offset)
	if offset >= len(rows) {
		return nil, nil
	}
	return rows[offset:], nil
}

func (r *fakeAccountsRepo) Top(_ context.Context, min float64, limit int) ([]model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTop {
		return nil, errors.New("backend down")
	}
	out := make([]model.Account, 0, len(r.rows))
	for _, row := range r.rows {
		if row.Balance >= min {
			out = append(out, row)
		}
	}
	// 余额降序、同额名字升序的简单插入排序
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := out[j-1], out[j]
			if b.Balance > a.Balance || (b.Balance == a.Balance && b.Name < a.Name) {
				out[j-1], out[j] = b, a
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeAccountsRepo) RankOf(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target := r.rows[id.String()].Balance
	rank := 1
	for _, row := range r.rows {
		if row.Balance > target {
			rank++
		}
	}
	return rank, nil
}

// fakeAuditRepo 内存版审计仓储
type fakeAuditRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*model.AuditRecord
	failAll bool
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{records: make(map[int64]*model.AuditRecord)}
}

func (r *fakeAuditRepo) Insert(_ context.Context, rec *model.AuditRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return 0, errors.New("backend down")
	}
	r.nextID++
	cp := *rec
	cp.ID = r.nextID
	r.records[r.nextID] = &cp
	return r.nextID, nil
}

func (r *fakeAuditRepo) Flag(_ context.Context, id int64, by *uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return errors.New("not found")
	}
	rec.Flagged = true
	rec.FlagReason = &reason
	if by != nil {
		s := by.String()
		rec.FlaggedBy = &s
	}
	rec.FlaggedAtMs = time.Now().UnixMilli()
	return nil
}

func (r *fakeAuditRepo) PurgeOlderThan(_ context.Context, days int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().UnixMilli() - int64(days)*86_400_000
	var n int64
	for id, rec := range r.records {
		if rec.AtEpochMs < cutoff {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeAuditRepo) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *fakeAuditRepo) byID(id int64) *model.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}
