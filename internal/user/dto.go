package user

import (
	"github.com/frahmantamala/zenn-checkout/internal/core/common/validation"
)

// CreateUserDTO is used by the seed command to provision operators and customers.
type CreateUserDTO struct {
	Email       string
	Name        string
	Phone       string
	Password    string
	Permissions []string
}

func (d CreateUserDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("email", d.Email).Required().Email()
	v.Field("name", d.Name).Required().MaxLength(100)
	v.Field("password", d.Password).Required()
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}
