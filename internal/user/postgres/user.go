package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	userDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/user"
	"github.com/frahmantamala/zenn-checkout/internal/user"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ user.Repository = (*Repository)(nil)

func (r *Repository) GetByID(ctx context.Context, userID int64) (*user.User, error) {
	var u userDatamodel.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, user.ErrNotFound
		}
		return nil, err
	}
	return user.FromDataModel(&u), nil
}

func (r *Repository) GetPermissions(ctx context.Context, userID int64) ([]string, error) {
	permissions := []string{}
	err := r.db.WithContext(ctx).
		Table("permissions p").
		Joins("JOIN user_permissions up ON p.id = up.permission_id").
		Where("up.user_id = ?", userID).
		Order("p.name").
		Pluck("p.name", &permissions).Error
	return permissions, err
}

// Create stores the user and grants the named permissions, creating missing ones.
func (r *Repository) Create(ctx context.Context, u *user.User, permissions []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := user.ToDataModel(u)
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		u.ID = model.ID
		u.CreatedAt = model.CreatedAt
		u.UpdatedAt = model.UpdatedAt

		for _, name := range permissions {
			perm := userDatamodel.Permission{Name: name}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&perm).Error; err != nil {
				return err
			}
			if err := tx.Where("name = ?", name).First(&perm).Error; err != nil {
				return err
			}
			if err := tx.Create(&userDatamodel.UserPermission{UserID: model.ID, PermissionID: perm.ID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
