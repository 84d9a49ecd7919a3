package model

// Delivery is the (subscriber, event) ledger row. The composite primary key
// is the uniqueness constraint the whole at-most-once guarantee rests on.
type Delivery struct {
	SubscriberID uint64 `gorm:"column:subscriber_id;not null;primaryKey"`
	EventID      uint64 `gorm:"column:event_id;not null;primaryKey"`
	NotifiedAt   string `gorm:"column:notified_at;type:text;not null"`
}

func (Delivery) TableName() string {
	return "deliveries"
}
