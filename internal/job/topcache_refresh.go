package job

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"gameledger/internal/config"
	"gameledger/internal/service"
)

// TopCacheRefreshJob 余额榜快照刷新任务
type TopCacheRefreshJob struct {
	cache  *service.TopCacheService
	cfg    *config.Holder
	log    *logrus.Logger
	stopCh chan struct{}
}

func NewTopCacheRefreshJob(cache *service.TopCacheService, cfg *config.Holder, log *logrus.Logger) *TopCacheRefreshJob {
	return &TopCacheRefreshJob{
		cache:  cache,
		cfg:    cfg,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

func (j *TopCacheRefreshJob) Start(ctx context.Context) {
	j.log.Info("[TopCacheRefreshJob] 余额榜刷新任务启动")

	// 启动先刷一轮，榜单接口不用等第一个周期
	if j.cfg.Get().TopCache.Enabled {
		_ = j.cache.Refresh(ctx)
	}

	for {
		c := j.cfg.Get()
		interval := time.Duration(c.TopCache.RefreshMinutes) * time.Minute

		select {
		case <-ctx.Done():
			j.log.Info("[TopCacheRefreshJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("[TopCacheRefreshJob] 任务停止")
			return
		case <-time.After(interval):
			if !j.cfg.Get().TopCache.Enabled {
				continue
			}
			// Refresh 自己记日志，失败保留旧快照
			_ = j.cache.Refresh(ctx)
		}
	}
}

func (j *TopCacheRefreshJob) Stop() {
	close(j.stopCh)
}
