package models

// Establishment is the tenant boundary. It is synced globally; its own id names its fanout room.
type Establishment struct {
	SyncBase
	Name     string `gorm:"size:150;not null" json:"name"`
	TaxId    string `gorm:"size:50" json:"tax_id"`
	Address  string `gorm:"size:255" json:"address"`
	Phone    string `gorm:"size:30" json:"phone"`
	IsActive bool   `gorm:"not null;default:true" json:"is_active"`
}

func (e Establishment) GetEstablishmentId() string { return e.ID }

// Role definitions are shared by every establishment.
type Role struct {
	SyncBase
	Name        string `gorm:"size:50;uniqueIndex;not null" json:"name"`
	Description string `gorm:"size:255" json:"description"`
}

func (Role) GetEstablishmentId() string { return "" }

type User struct {
	SyncBase
	EstablishmentScoped
	RoleId   string `gorm:"type:varchar(36);index" json:"role_id"`
	Username string `gorm:"size:100;index;not null" json:"username"`
	FullName string `gorm:"size:150" json:"full_name"`
	IsActive bool   `gorm:"not null;default:true" json:"is_active"`
}
