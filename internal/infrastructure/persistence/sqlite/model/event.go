package model

type Event struct {
	EventID     uint64 `gorm:"column:event_id;primaryKey;autoIncrement"`
	Prover      string `gorm:"column:prover;type:text;not null;index"`
	Result      bool   `gorm:"column:result;not null"`
	Timestamp   int64  `gorm:"column:timestamp;not null"`
	BlockNumber uint64 `gorm:"column:block_number;not null;index"`
	TxHash      string `gorm:"column:tx_hash;type:text;not null;uniqueIndex"`
	CreatedAt   string `gorm:"column:created_at;type:text;not null"`
}

func (Event) TableName() string {
	return "events"
}
