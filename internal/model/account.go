package model

// Account 玩家账户表
// 每个玩家只有一个账户，余额是整个账本系统的核心数据
//
// 注意：运行期间的权威状态在内存缓存（service.AccountStore）中，
// 这张表只是 write-behind 刷盘的落地目标，updated_ms 记录最后一次落库时间。
type Account struct {
	ID             string  `gorm:"type:varchar(36);primaryKey" json:"id"`                                  // 玩家ID（UUID 字符串）
	Name           string  `gorm:"type:varchar(32);index:idx_accounts_name" json:"name"`                  // 最后已知的显示名，首次加入前可能为空
	Balance        float64 `gorm:"not null;default:0;index:idx_accounts_balance" json:"balance"`          // 余额，始终 >= 0，D 位小数
	UpdatedMs      int64   `gorm:"not null;default:0" json:"updated_ms"`                                   // 最后落库时间（毫秒）
	Notify         bool    `gorm:"not null;default:true" json:"notify"`                                    // 是否接收到账通知
	Locked         bool    `gorm:"not null;default:false" json:"locked"`                                   // 锁定账户无法接收转账
	LastActivityMs int64   `gorm:"not null;default:0;index:idx_accounts_activity" json:"last_activity_ms"` // 最后一次变动时间（毫秒），0 表示从未
}

func (Account) TableName() string {
	return "accounts"
}
