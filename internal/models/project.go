package models

import (
	"time"
)

const (
	ProjectStatusActive = "active"
	ProjectStatusClosed = "closed"
)

// Project is a farm project whose tokens are held by investors. The settlement
// accounts are where distribution legs are paid from and to.
type Project struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	Name             string    `gorm:"size:128;not null" json:"name"`
	Status           string    `gorm:"size:16;not null;default:'active'" json:"status"` // active / closed
	Currency         string    `gorm:"size:8;not null;default:'USD'" json:"currency"`
	RevenueAccount   string    `gorm:"size:100;not null" json:"revenue_account"`  // 项目收入账户，结算转出方
	TreasuryAccount  string    `gorm:"size:100;not null" json:"treasury_account"` // 平台金库
	LpPoolAccount    string    `gorm:"size:100;not null" json:"lp_pool_account"`  // 流动性池补充账户
	TotalTokenSupply int64     `gorm:"not null;default:0" json:"total_token_supply"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Project) TableName() string {
	return "projects"
}

func (p *Project) IsActive() bool {
	return p.Status == ProjectStatusActive
}
