package model

// ============================================================================
// 审计来源 / 操作类型常量
// ============================================================================

const (
	SourcePay     = "PAY"     // 玩家间转账
	SourceCommand = "COMMAND" // 管理员操作
	SourceVault   = "VAULT"   // 外部经济接口
)

const (
	TypeTransfer = "TRANSFER" // 转账
	TypeDeposit  = "DEPOSIT"  // 入账
	TypeWithdraw = "WITHDRAW" // 出账
	TypeGive     = "GIVE"     // 管理员给钱
	TypeTake     = "TAKE"     // 管理员扣钱
	TypeSet      = "SET"      // 管理员设置余额
)

// ============================================================================
// 审计流水实体
// ============================================================================

// AuditRecord 交易审计表
// 记录账本的每一笔资金变动，是对账和反滥用排查的核心依据
//
// 【重要】审计表设计原则：
// 1. 只追加，不修改，不删除 —— 唯一例外是标记四元组（flagged / flag_reason /
//    flagged_by / flagged_at_ms），管理员可以对可疑流水打标、撤标
// 2. actor / target 都可以为空 —— 系统事件没有发起人或目标
// 3. 只按保留期清理（purge），不做单条删除
type AuditRecord struct {
	ID          int64   `gorm:"primaryKey;autoIncrement" json:"id"`                                    // 主键，由后端递增分配
	AtEpochMs   int64   `gorm:"not null;index:idx_tx_at" json:"at_epoch_ms"`                           // 事件时间（毫秒）
	Source      string  `gorm:"type:varchar(32);not null;index:idx_tx_source_type" json:"source"`     // 来源，如 PAY / COMMAND / VAULT
	Type        string  `gorm:"type:varchar(64);not null;index:idx_tx_source_type" json:"type"`       // 操作类型，如 TRANSFER / DEPOSIT
	ActorID     *string `gorm:"type:varchar(36);index:idx_tx_actor" json:"actor_id"`                  // 发起方玩家ID，可为空
	TargetID    *string `gorm:"type:varchar(36);index:idx_tx_target" json:"target_id"`                // 目标玩家ID，可为空
	Amount      float64 `gorm:"not null" json:"amount"`                                                // 金额，>= 0，D 位小数
	Flagged     bool    `gorm:"not null;default:false;index:idx_tx_flagged" json:"flagged"`           // 是否被标记
	FlagReason  *string `gorm:"type:varchar(255)" json:"flag_reason"`                                  // 标记原因
	FlaggedBy   *string `gorm:"type:varchar(36)" json:"flagged_by"`                                    // 标记人玩家ID
	FlaggedAtMs int64   `gorm:"not null;default:0" json:"flagged_at_ms"`                               // 标记时间（毫秒）
}

func (AuditRecord) TableName() string {
	return "transactions"
}
