package application

import (
	"time"

	"github.com/shopspring/decimal"

	"dealhub/internal/pkg/config"
	"dealhub/internal/service/deal/domain"
)

// Settings 是业务规则在应用层的快照，由 config.BusinessConfig 转换而来
type Settings struct {
	Tolerance          time.Duration
	Location           *time.Location
	Defaults           domain.RedemptionDefaults
	ReminderLead       time.Duration
	ReactivateOnCancel bool
	BillingConcurrency int
	// GuardTTL 是兑现互斥锁的最长持有时间
	GuardTTL time.Duration
}

func SettingsFromConfig(b config.BusinessConfig) Settings {
	conc := b.BillingConcurrency
	if conc <= 0 {
		conc = 1
	}
	return Settings{
		Tolerance: b.Tolerance(),
		Location:  b.Location(),
		Defaults: domain.RedemptionDefaults{
			AverageTicket: decimal.NewFromFloat(b.DefaultAverageTicket),
			TakeRate:      decimal.NewFromFloat(b.DefaultTakeRate),
		},
		ReminderLead:       b.ReminderLead,
		ReactivateOnCancel: b.ReactivateOnCancel,
		BillingConcurrency: conc,
		GuardTTL:           30 * time.Second,
	}
}
