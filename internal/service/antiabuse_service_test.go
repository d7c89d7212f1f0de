package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"gameledger/internal/config"
)

func antiAbuseService(c config.AntiAbuseConfig) (*AntiAbuseService, *time.Time) {
	cfg := testConfig()
	cfg.AntiAbuse = c
	s := NewAntiAbuseService(config.NewHolder(cfg))

	now := time.Now()
	s.now = func() time.Time { return now }
	return s, &now
}

func TestAntiAbuse_DisabledNeverTriggers(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{Enabled: false, SingleTxMaxAmount: 1})

	r := s.CheckPay(uuid.New(), 1_000_000)
	assert.False(t, r.Triggered)
	assert.False(t, r.Block)
}

func TestAntiAbuse_RateLimitTripsStrictlyAboveCap(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{Enabled: true, BlockOnTrigger: true, MaxTxPerMinute: 3})
	from := uuid.New()

	for i := 0; i < 3; i++ {
		r := s.CheckPay(from, 1)
		assert.False(t, r.Triggered, "attempt %d should pass", i+1)
	}

	r := s.CheckPay(from, 1)
	assert.True(t, r.Triggered)
	assert.True(t, r.Block)
	assert.Equal(t, ReasonRateLimit, r.Reason)
}

func TestAntiAbuse_RateWindowSlidesWithTime(t *testing.T) {
	s, now := antiAbuseService(config.AntiAbuseConfig{Enabled: true, MaxTxPerMinute: 2})
	from := uuid.New()

	s.CheckPay(from, 1)
	s.CheckPay(from, 1)

	// 61 秒后旧事件滑出窗口
	*now = now.Add(61 * time.Second)
	r := s.CheckPay(from, 1)
	assert.False(t, r.Triggered)
}

func TestAntiAbuse_WindowMaxAmountIncludesCurrentEvent(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{
		Enabled:         true,
		WindowSeconds:   10,
		WindowMaxAmount: 100,
	})
	from := uuid.New()

	// 恰好到顶不触发，带容差
	r := s.CheckPay(from, 100)
	assert.False(t, r.Triggered)

	r = s.CheckPay(from, 0.01)
	assert.True(t, r.Triggered)
	assert.Equal(t, ReasonWindowMaxAmount, r.Reason)
}

func TestAntiAbuse_WindowCheckNeedsWindowSeconds(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{
		Enabled:         true,
		WindowSeconds:   0,
		WindowMaxAmount: 50,
	})

	// window_seconds 为 0 时短窗检查关闭，不退化成单笔比较
	r := s.CheckPay(uuid.New(), 100)
	assert.False(t, r.Triggered)
}

func TestAntiAbuse_DailyMaxAmount(t *testing.T) {
	s, now := antiAbuseService(config.AntiAbuseConfig{Enabled: true, DailyMaxAmount: 500})
	from := uuid.New()

	for i := 0; i < 5; i++ {
		r := s.CheckPay(from, 100)
		assert.False(t, r.Triggered)
		*now = now.Add(2 * time.Minute)
	}

	r := s.CheckPay(from, 1)
	assert.True(t, r.Triggered)
	assert.Equal(t, ReasonDailyMaxAmount, r.Reason)

	// 25 小时后日窗清空
	*now = now.Add(25 * time.Hour)
	r = s.CheckPay(from, 100)
	assert.False(t, r.Triggered)
}

func TestAntiAbuse_SingleTxMaxAmount(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{Enabled: true, SingleTxMaxAmount: 1000})

	r := s.CheckPay(uuid.New(), 1000)
	assert.False(t, r.Triggered)

	r = s.CheckPay(uuid.New(), 1000.01)
	assert.True(t, r.Triggered)
	assert.Equal(t, ReasonSingleTxMaxAmount, r.Reason)
}

func TestAntiAbuse_RateTakesPriorityOverAmountChecks(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{
		Enabled:           true,
		MaxTxPerMinute:    1,
		SingleTxMaxAmount: 10,
	})
	from := uuid.New()

	s.CheckPay(from, 1)
	r := s.CheckPay(from, 100) // 同时超速率和单笔上限
	assert.True(t, r.Triggered)
	assert.Equal(t, ReasonRateLimit, r.Reason)
}

func TestAntiAbuse_BlockFollowsConfig(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{
		Enabled:           true,
		BlockOnTrigger:    false,
		SingleTxMaxAmount: 10,
	})

	r := s.CheckPay(uuid.New(), 100)
	assert.True(t, r.Triggered)
	assert.False(t, r.Block)
}

func TestAntiAbuse_SendersAreIndependent(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{Enabled: true, MaxTxPerMinute: 1})

	a, b := uuid.New(), uuid.New()
	assert.False(t, s.CheckPay(a, 1).Triggered)
	assert.False(t, s.CheckPay(b, 1).Triggered)
	assert.True(t, s.CheckPay(a, 1).Triggered)
}

func TestAntiAbuse_BlockedAttemptStillCountsInWindows(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{Enabled: true, BlockOnTrigger: true, MaxTxPerMinute: 1})
	from := uuid.New()

	s.CheckPay(from, 1)
	assert.True(t, s.CheckPay(from, 1).Block)
	// 被拦截的尝试入了窗，第三次依然触发
	assert.True(t, s.CheckPay(from, 1).Triggered)
}

func TestAntiAbuse_RecheckEvaluatesWithoutRecording(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{Enabled: true, MaxTxPerMinute: 3})
	from := uuid.New()

	for i := 0; i < 3; i++ {
		assert.False(t, s.CheckPay(from, 1).Triggered)
		// 扣款前的二次评估不把本次再记一次
		assert.False(t, s.Recheck(from, 1).Triggered)
	}

	assert.True(t, s.CheckPay(from, 1).Triggered)
}

func TestAntiAbuse_RecheckSeesEventsRecordedSinceEntry(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{
		Enabled:        true,
		BlockOnTrigger: true,
		MaxTxPerMinute: 2,
	})
	from := uuid.New()

	assert.False(t, s.CheckPay(from, 1).Triggered)
	// 挂起确认期间又发生了两笔，第三笔已超速率
	assert.False(t, s.CheckPay(from, 1).Triggered)
	assert.True(t, s.CheckPay(from, 1).Triggered)

	// 回到第一笔的扣款阶段：共享状态已超限，二次评估拦下
	assert.True(t, s.Recheck(from, 1).Block)
}

func TestAntiAbuse_ResetClearsSender(t *testing.T) {
	s, _ := antiAbuseService(config.AntiAbuseConfig{Enabled: true, MaxTxPerMinute: 1})
	from := uuid.New()

	s.CheckPay(from, 1)
	assert.True(t, s.CheckPay(from, 1).Triggered)

	s.Reset(from)
	assert.False(t, s.CheckPay(from, 1).Triggered)
}
