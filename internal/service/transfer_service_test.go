package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gameledger/internal/config"
	"gameledger/internal/model"
)

type transferFixture struct {
	cfg       *config.Config
	holder    *config.Holder
	store     *AccountStore
	auditRepo *fakeAuditRepo
	audit     *AuditService
	transfer  *TransferService
	now       time.Time
}

func newTransferFixture(t *testing.T, mutate func(*config.Config)) *transferFixture {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	holder := config.NewHolder(cfg)
	log := testLogger()

	store := NewAccountStore(newFakeAccountsRepo(), cfg.Format.Decimals)
	auditRepo := newFakeAuditRepo()
	audit := NewAuditService(auditRepo, holder, log)
	audit.Start()
	t.Cleanup(audit.Close)

	antiAbuse := NewAntiAbuseService(holder)
	flusher := NewFlusher(store, holder, log)
	notifier := NewNotifier(holder, nil, nil, log)

	f := &transferFixture{
		cfg:       cfg,
		holder:    holder,
		store:     store,
		auditRepo: auditRepo,
		audit:     audit,
		transfer:  NewTransferService(holder, store, antiAbuse, audit, flusher, notifier, log),
		now:       time.Now(),
	}
	f.transfer.now = func() time.Time { return f.now }
	antiAbuse.now = f.transfer.now
	return f
}

// drainAudit 等待已投递的流水全部落库
func (f *transferFixture) drainAudit(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.audit.QueueDepth() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("审计队列未按时排空")
		}
		time.Sleep(time.Millisecond)
	}
	// 最后一条可能已出队但尚未写完，再让出一拍
	time.Sleep(10 * time.Millisecond)
}

func TestTransfer_SimplePay(t *testing.T) {
	f := newTransferFixture(t, nil)
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 100)
	f.store.Set(to, 25)

	res, err := f.transfer.Pay(from, to, 25)
	require.NoError(t, err)

	assert.InDelta(t, 25, res.Amount, 1e-9)
	assert.Zero(t, res.Tax)
	assert.InDelta(t, 25, res.Received, 1e-9)
	assert.InDelta(t, 75, f.store.Balance(from), 1e-9)
	assert.InDelta(t, 50, f.store.Balance(to), 1e-9)

	f.drainAudit(t)
	require.Equal(t, 1, f.auditRepo.size())
	rec := f.auditRepo.byID(1)
	assert.Equal(t, model.SourcePay, rec.Source)
	assert.Equal(t, model.TypeTransfer, rec.Type)
	assert.InDelta(t, 25, rec.Amount, 1e-9)
	assert.False(t, rec.Flagged)
}

func TestTransfer_TaxSink(t *testing.T) {
	f := newTransferFixture(t, func(c *config.Config) {
		c.Pay.TaxPercent = 10
	})
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 100)
	f.store.Ensure(to)

	res, err := f.transfer.Pay(from, to, 50)
	require.NoError(t, err)

	assert.InDelta(t, 5, res.Tax, 1e-9)
	assert.InDelta(t, 45, res.Received, 1e-9)
	assert.InDelta(t, 50, f.store.Balance(from), 1e-9)
	assert.InDelta(t, 45, f.store.Balance(to), 1e-9)
}

func TestTransfer_TaxTreasury(t *testing.T) {
	treasury := uuid.New()
	f := newTransferFixture(t, func(c *config.Config) {
		c.Pay.TaxPercent = 10
		c.Pay.TaxMode = "treasury"
		c.Pay.TreasuryID = treasury.String()
	})
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 100)
	f.store.Ensure(to)

	_, err := f.transfer.Pay(from, to, 50)
	require.NoError(t, err)
	assert.InDelta(t, 5, f.store.Balance(treasury), 1e-9)
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	f := newTransferFixture(t, nil)
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 10)
	f.store.Ensure(to)

	_, err := f.transfer.Pay(from, to, 11)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.InDelta(t, 10, f.store.Balance(from), 1e-9)
	assert.Zero(t, f.store.Balance(to))

	f.drainAudit(t)
	assert.Zero(t, f.auditRepo.size())
}

func TestTransfer_RecipientMustExist(t *testing.T) {
	f := newTransferFixture(t, nil)
	from := uuid.New()
	f.store.Set(from, 100)

	_, err := f.transfer.Pay(from, uuid.New(), 10)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestTransfer_SelfPayRejectedByDefault(t *testing.T) {
	f := newTransferFixture(t, nil)
	from := uuid.New()
	f.store.Set(from, 100)

	_, err := f.transfer.Pay(from, from, 10)
	assert.ErrorIs(t, err, ErrSelfPay)
}

func TestTransfer_SelfPayAllowedWhenConfigured(t *testing.T) {
	f := newTransferFixture(t, func(c *config.Config) {
		c.Pay.AllowPaySelf = true
	})
	from := uuid.New()
	f.store.Set(from, 100)

	_, err := f.transfer.Pay(from, from, 10)
	require.NoError(t, err)
	assert.InDelta(t, 100, f.store.Balance(from), 1e-9)
}

func TestTransfer_LockedRecipientRejected(t *testing.T) {
	f := newTransferFixture(t, nil)
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 100)
	f.store.Ensure(to)
	f.store.SetLocked(to, true)

	_, err := f.transfer.Pay(from, to, 10)
	assert.ErrorIs(t, err, ErrTargetLocked)
}

func TestTransfer_DisabledRejected(t *testing.T) {
	f := newTransferFixture(t, func(c *config.Config) {
		c.Pay.Enabled = false
	})
	_, err := f.transfer.Pay(uuid.New(), uuid.New(), 10)
	assert.ErrorIs(t, err, ErrPayDisabled)
}

func TestTransfer_BelowMinRejected(t *testing.T) {
	f := newTransferFixture(t, func(c *config.Config) {
		c.Pay.Min = 5
	})
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 100)
	f.store.Ensure(to)

	_, err := f.transfer.Pay(from, to, 4.99)
	var belowMin *BelowMinError
	require.True(t, errors.As(err, &belowMin))
	assert.InDelta(t, 5, belowMin.Min, 1e-9)
}

func TestTransfer_AmountRoundedBeforeChecks(t *testing.T) {
	f := newTransferFixture(t, nil)
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 100)
	f.store.Ensure(to)

	res, err := f.transfer.Pay(from, to, 10.005)
	require.NoError(t, err)
	assert.InDelta(t, 10.01, res.Amount, 1e-9)
}

func TestTransfer_CooldownConsumedEvenWhenBlocked(t *testing.T) {
	f := newTransferFixture(t, func(c *config.Config) {
		c.Pay.CooldownSeconds = 30
		c.AntiAbuse = config.AntiAbuseConfig{
			Enabled:           true,
			BlockOnTrigger:    true,
			SingleTxMaxAmount: 5,
		}
	})
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 100)
	f.store.Ensure(to)

	// 单笔超限被拦截，但冷却已经盖章
	_, err := f.transfer.Pay(from, to, 50)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))

	_, err = f.transfer.Pay(from, to, 1)
	var cooldown *CooldownError
	require.True(t, errors.As(err, &cooldown))
	assert.Equal(t, int64(30), cooldown.SecondsLeft)

	// 冷却过后可以正常转
	f.now = f.now.Add(31 * time.Second)
	_, err = f.transfer.Pay(from, to, 1)
	require.NoError(t, err)
}

func TestTransfer_RateLimitBlocksFourthAttempt(t *testing.T) {
	f := newTransferFixture(t, func(c *config.Config) {
		c.AntiAbuse = config.AntiAbuseConfig{
			Enabled:        true,
			BlockOnTrigger: true,
			MaxTxPerMinute: 3,
		}
	})
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 1000)
	f.store.Ensure(to)

	for i := 0; i < 3; i++ {
		_, err := f.transfer.Pay(from, to, 1)
		require.NoError(t, err, "transfer %d", i+1)
	}

	_, err := f.transfer.Pay(from, to, 1)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, ReasonRateLimit, blocked.Reason)
	assert.InDelta(t, 997, f.store.Balance(from), 1e-9)
}

func TestTransfer_TriggeredWithoutBlockAutoFlags(t *testing.T) {
	f := newTransferFixture(t, func(c *config.Config) {
		c.AntiAbuse = config.AntiAbuseConfig{
			Enabled:           true,
			BlockOnTrigger:    false,
			AutoFlag:          true,
			SingleTxMaxAmount: 10,
		}
	})
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 100)
	f.store.Ensure(to)

	res, err := f.transfer.Pay(from, to, 50)
	require.NoError(t, err)
	assert.True(t, res.Triggered)

	f.drainAudit(t)
	require.Equal(t, 1, f.auditRepo.size())
	rec := f.auditRepo.byID(1)
	assert.True(t, rec.Flagged)
	require.NotNil(t, rec.FlagReason)
	// 标记原因固定为 ANTI_ABUSE:<触发原因>，下游按这个格式匹配
	assert.Equal(t, "ANTI_ABUSE:"+ReasonSingleTxMaxAmount, *rec.FlagReason)
	require.NotNil(t, rec.FlaggedBy)
	assert.Equal(t, from.String(), *rec.FlaggedBy)
}

func TestTransfer_ConfirmationFlow(t *testing.T) {
	f := newTransferFixture(t, func(c *config.Config) {
		c.Pay.ConfirmAbove = 100
		c.Pay.ConfirmTimeoutSeconds = 15
	})
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 500)
	f.store.Ensure(to)

	_, err := f.transfer.Pay(from, to, 150)
	var confirm *ConfirmationRequiredError
	require.True(t, errors.As(err, &confirm))
	assert.InDelta(t, 150, confirm.Amount, 1e-9)
	assert.True(t, f.transfer.HasPending(from))

	// 挂起阶段不动任何余额
	assert.InDelta(t, 500, f.store.Balance(from), 1e-9)

	res, err := f.transfer.Confirm(from)
	require.NoError(t, err)
	assert.InDelta(t, 150, res.Amount, 1e-9)
	assert.InDelta(t, 350, f.store.Balance(from), 1e-9)
	assert.InDelta(t, 150, f.store.Balance(to), 1e-9)
	assert.False(t, f.transfer.HasPending(from))
}

func TestTransfer_ConfirmWithoutPending(t *testing.T) {
	f := newTransferFixture(t, nil)
	_, err := f.transfer.Confirm(uuid.New())
	assert.ErrorIs(t, err, ErrConfirmationMissing)
}

func TestTransfer_ConfirmExpired(t *testing.T) {
	f := newTransferFixture(t, func(c *config.Config) {
		c.Pay.ConfirmAbove = 100
		c.Pay.ConfirmTimeoutSeconds = 15
	})
	from, to := uuid.New(), uuid.New()
	f.store.Set(from, 500)
	f.store.Ensure(to)

	_, err := f.transfer.Pay(from, to, 150)
	var confirm *ConfirmationRequiredError
	require.True(t, errors.As(err, &confirm))

	f.now = f.now.Add(16 * time.Second)
	_, err = f.transfer.Confirm(from)
	assert.ErrorIs(t, err, ErrConfirmationExpired)
	assert.InDelta(t, 500, f.store.Balance(from), 1e-9)

	// 过期的挂起已被清除
	_, err = f.transfer.Confirm(from)
	assert.ErrorIs(t, err, ErrConfirmationMissing)
}
