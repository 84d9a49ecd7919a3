package model

type Subscriber struct {
	SubscriberID  uint64  `gorm:"column:subscriber_id;primaryKey;autoIncrement"`
	ChatID        int64   `gorm:"column:chat_id;not null;uniqueIndex"`
	UserID        int64   `gorm:"column:user_id;not null;index"`
	Username      *string `gorm:"column:username;type:text"`
	NotifySuccess bool    `gorm:"column:notify_success;not null;default:1"`
	NotifyFailure bool    `gorm:"column:notify_failure;not null;default:0"`
	ProverFilter  *string `gorm:"column:prover_filter;type:text"`
	IsActive      bool    `gorm:"column:is_active;not null;default:1"`
	SubscribedAt  string  `gorm:"column:subscribed_at;type:text;not null"`
}

func (Subscriber) TableName() string {
	return "subscribers"
}
