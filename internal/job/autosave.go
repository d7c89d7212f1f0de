package job

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"gameledger/internal/config"
	"gameledger/internal/service"
)

// AutosaveJob 周期刷盘任务
//
// 间隔每轮从配置快照读取，reload_config 后下一轮自动生效。
// 用 time.After 而不是固定 Ticker，间隔变更不需要重建任务。
type AutosaveJob struct {
	flusher *service.Flusher
	cfg     *config.Holder
	log     *logrus.Logger
	stopCh  chan struct{}
}

func NewAutosaveJob(flusher *service.Flusher, cfg *config.Holder, log *logrus.Logger) *AutosaveJob {
	return &AutosaveJob{
		flusher: flusher,
		cfg:     cfg,
		log:     log,
		stopCh:  make(chan struct{}),
	}
}

func (j *AutosaveJob) Start(ctx context.Context) {
	j.log.Info("[AutosaveJob] 周期刷盘任务启动")

	for {
		c := j.cfg.Get()
		interval := time.Duration(c.Autosave.IntervalMinutes) * time.Minute

		select {
		case <-ctx.Done():
			j.log.Info("[AutosaveJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("[AutosaveJob] 任务停止")
			return
		case <-time.After(interval):
			if !j.cfg.Get().Autosave.Enabled {
				continue
			}
			if err := j.flusher.FlushSync(ctx); err != nil {
				j.log.WithError(err).Warn("[AutosaveJob] 周期刷盘失败")
			}
		}
	}
}

func (j *AutosaveJob) Stop() {
	close(j.stopCh)
}
