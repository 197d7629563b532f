// internal/service/deal/domain/restaurant.go
package domain

import "time"

// Restaurant 只保留本服务需要的字段，完整资料由餐厅目录服务维护
type Restaurant struct {
	ID                     string
	UserID                 string
	Name                   string
	Slug                   string
	Active                 bool
	IsApproved             bool
	HasMinimumRequirements bool
	Address                string
	Phone                  string
	CreatedAt              time.Time
}

// Published 表示餐厅对顾客可见
func (r *Restaurant) Published() bool {
	return r.Active && r.IsApproved
}

// DisplayName 返回餐厅名，没有名字时回退到占位名
func (r *Restaurant) DisplayName() string {
	if r == nil || r.Name == "" {
		return UnknownRestaurantName
	}
	return r.Name
}
