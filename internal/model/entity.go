package model

import "time"

// Camera: запись камеры во внешнем каталоге (GORM).
type Camera struct {
	ID          string    `gorm:"size:128;primaryKey"`
	Name        string    `gorm:"size:255;not null;default:''"`
	OwnerUserID string    `gorm:"size:128;not null;index"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (Camera) TableName() string { return "cameras" }

// CameraPermission: право пользователя смотреть камеру (GORM).
type CameraPermission struct {
	CameraID  string    `gorm:"size:128;primaryKey"`
	UserID    string    `gorm:"size:128;primaryKey"`
	GrantedAt time.Time `gorm:"column:granted_at;not null"`
}

func (CameraPermission) TableName() string { return "camera_permissions" }
