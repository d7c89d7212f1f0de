package service

import (
	"context"

	"github.com/google/uuid"

	"gameledger/internal/model"
)

// AccountsRepo 账户仓储在服务层需要的能力
type AccountsRepo interface {
	LoadAll(ctx context.Context) ([]model.Account, error)
	UpsertBatch(ctx context.Context, rows []model.Account) error
	CountByMin(ctx context.Context, min float64) (int64, error)
	List(ctx context.Context, min float64, sort string, limit, offset int) ([]model.Account, error)
	Top(ctx context.Context, min float64, limit int) ([]model.Account, error)
	RankOf(ctx context.Context, id uuid.UUID) (int, error)
}

// AuditRepo 审计仓储在服务层需要的能力
type AuditRepo interface {
	Insert(ctx context.Context, rec *model.AuditRecord) (int64, error)
	Flag(ctx context.Context, id int64, by *uuid.UUID, reason string) error
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}
