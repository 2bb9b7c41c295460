// Package camera is the narrow boundary to the external camera/permission store.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/model"
)

// Directory answers "who owns this camera" and "may this user watch it".
type Directory interface {
	// Owner returns the owner user id, or errs.ErrNotFound for unknown cameras.
	Owner(ctx context.Context, cameraID string) (string, error)
	IsAuthorized(ctx context.Context, userID, cameraID string) (bool, error)
	SaveCamera(ctx context.Context, cam model.Camera) error
	GrantAccess(ctx context.Context, cameraID, userID string) error
}

// GormDirectory reads cameras and camera_permissions from PostgreSQL.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) Owner(ctx context.Context, cameraID string) (string, error) {
	var cam model.Camera
	if err := d.db.WithContext(ctx).Where("id = ?", cameraID).First(&cam).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("camera %s: %w", cameraID, errs.ErrNotFound)
		}
		return "", err
	}
	return cam.OwnerUserID, nil
}

func (d *GormDirectory) IsAuthorized(ctx context.Context, userID, cameraID string) (bool, error) {
	owner, err := d.Owner(ctx, cameraID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if owner == userID {
		return true, nil
	}
	var count int64
	err = d.db.WithContext(ctx).Model(&model.CameraPermission{}).
		Where("camera_id = ? AND user_id = ?", cameraID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *GormDirectory) SaveCamera(ctx context.Context, cam model.Camera) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
	}).Create(&cam).Error
}

func (d *GormDirectory) GrantAccess(ctx context.Context, cameraID, userID string) error {
	perm := model.CameraPermission{CameraID: cameraID, UserID: userID, GrantedAt: time.Now().UTC()}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&perm).Error
}

// MemoryDirectory keeps cameras in process. Used when no database is configured and in tests.
type MemoryDirectory struct {
	mu     sync.RWMutex
	owners map[string]string
	names  map[string]string
	grants map[string]map[string]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		owners: map[string]string{},
		names:  map[string]string{},
		grants: map[string]map[string]struct{}{},
	}
}

func (d *MemoryDirectory) Owner(_ context.Context, cameraID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	owner, ok := d.owners[cameraID]
	if !ok {
		return "", fmt.Errorf("camera %s: %w", cameraID, errs.ErrNotFound)
	}
	return owner, nil
}

func (d *MemoryDirectory) IsAuthorized(_ context.Context, userID, cameraID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.owners[cameraID] == userID && userID != "" {
		return true, nil
	}
	_, ok := d.grants[cameraID][userID]
	return ok, nil
}

// SaveCamera keeps the first owner of a camera id; later saves only rename.
func (d *MemoryDirectory) SaveCamera(_ context.Context, cam model.Camera) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.owners[cam.ID]; !ok {
		d.owners[cam.ID] = cam.OwnerUserID
	}
	d.names[cam.ID] = cam.Name
	return nil
}

func (d *MemoryDirectory) GrantAccess(_ context.Context, cameraID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.grants[cameraID] == nil {
		d.grants[cameraID] = map[string]struct{}{}
	}
	d.grants[cameraID][userID] = struct{}{}
	return nil
}
