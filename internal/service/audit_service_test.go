package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gameledger/internal/config"
	"gameledger/internal/model"
)

func TestAudit_LogPersistsThroughWorker(t *testing.T) {
	repo := newFakeAuditRepo()
	audit := NewAuditService(repo, testHolder(), testLogger())
	audit.Start()

	actor, target := uuid.New(), uuid.New()
	audit.Log(model.SourcePay, model.TypeTransfer, &actor, &target, 42.5, nil)
	audit.Close()

	require.Equal(t, 1, repo.size())
	rec := repo.byID(1)
	assert.Equal(t, model.SourcePay, rec.Source)
	assert.Equal(t, actor.String(), *rec.ActorID)
	assert.Equal(t, target.String(), *rec.TargetID)
	assert.InDelta(t, 42.5, rec.Amount, 1e-9)
}

func TestAudit_FlagInfoFlagsInsertedRow(t *testing.T) {
	repo := newFakeAuditRepo()
	audit := NewAuditService(repo, testHolder(), testLogger())
	audit.Start()

	actor := uuid.New()
	audit.Log(model.SourcePay, model.TypeTransfer, &actor, nil, 10,
		&FlagInfo{Flag: true, Reason: "ANTI_ABUSE:RATE_LIMIT_PER_MINUTE:7", FlaggedBy: &actor})
	audit.Close()

	rec := repo.byID(1)
	require.NotNil(t, rec)
	assert.True(t, rec.Flagged)
	assert.Equal(t, "ANTI_ABUSE:RATE_LIMIT_PER_MINUTE:7", *rec.FlagReason)
	assert.Equal(t, actor.String(), *rec.FlaggedBy)
}

func TestAudit_DisabledDropsSilently(t *testing.T) {
	repo := newFakeAuditRepo()
	audit := NewAuditService(repo, testHolder(), testLogger())
	audit.Start()
	audit.SetEnabled(false)

	audit.Log(model.SourceCommand, model.TypeGive, nil, nil, 10, nil)
	audit.Close()

	assert.Zero(t, repo.size())
	assert.Zero(t, audit.Dropped())
}

func TestAudit_ReenableAtRuntime(t *testing.T) {
	repo := newFakeAuditRepo()
	audit := NewAuditService(repo, testHolder(), testLogger())
	audit.Start()

	audit.SetEnabled(false)
	audit.Log(model.SourceCommand, model.TypeGive, nil, nil, 1, nil)
	audit.SetEnabled(true)
	audit.Log(model.SourceCommand, model.TypeGive, nil, nil, 2, nil)
	audit.Close()

	assert.Equal(t, 1, repo.size())
}

func TestAudit_InsertFailureSwallowed(t *testing.T) {
	repo := newFakeAuditRepo()
	repo.failAll = true
	audit := NewAuditService(repo, testHolder(), testLogger())
	audit.Start()

	// 写入失败不 panic、不传播，调用方无感
	audit.Log(model.SourcePay, model.TypeTransfer, nil, nil, 1, nil)
	audit.Close()
	assert.Zero(t, repo.size())
}

func TestAudit_FullQueueDropsNewest(t *testing.T) {
	repo := newFakeAuditRepo()
	audit := NewAuditService(repo, testHolder(), testLogger())
	// 不启动 worker，队列只进不出

	for i := 0; i < auditQueueCap+5; i++ {
		audit.Log(model.SourceCommand, model.TypeSet, nil, nil, float64(i), nil)
	}

	assert.Equal(t, int64(5), audit.Dropped())
	assert.Equal(t, auditQueueCap, audit.QueueDepth())

	// 补启 worker 把积压写完
	audit.Start()
	audit.Close()
	assert.Equal(t, auditQueueCap, repo.size())
}

func TestAudit_PurgeOnStart(t *testing.T) {
	repo := newFakeAuditRepo()
	old := model.AuditRecord{AtEpochMs: time.Now().UnixMilli() - 100*86_400_000, Source: model.SourcePay, Type: model.TypeTransfer}
	fresh := model.AuditRecord{AtEpochMs: time.Now().UnixMilli(), Source: model.SourcePay, Type: model.TypeTransfer}
	repo.Insert(nil, &old)   //nolint:errcheck
	repo.Insert(nil, &fresh) //nolint:errcheck

	cfg := testConfig()
	cfg.Audit.PurgeOnStart = true
	cfg.Audit.PurgeOlderThanDays = 90

	audit := NewAuditService(repo, config.NewHolder(cfg), testLogger())
	audit.PurgeOnStart()

	deadline := time.Now().Add(2 * time.Second)
	for repo.size() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("启动清理未生效")
		}
		time.Sleep(time.Millisecond)
	}
}
