// Package users lists users and maintains their optional profile details.
package users

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"boolpress/common"
	"boolpress/database"
	"boolpress/models"
)

// DetailsInput lists the recognised profile fields. A nil field keeps its
// stored value.
type DetailsInput struct {
	Address    *string `json:"address" validate:"omitnil,max=255"`
	City       *string `json:"city" validate:"omitnil,max=255"`
	Province   *string `json:"province" validate:"omitnil,max=255"`
	PostalCode *string `json:"postal_code" validate:"omitnil,max=32"`
	Phone      *string `json:"phone" validate:"omitnil,max=32"`
}

type Service struct {
	store *database.Store
}

func NewService(store *database.Store) *Service {
	return &Service{store: store}
}

func (s *Service) List(ctx context.Context) ([]models.User, error) {
	return s.store.WithContext(ctx).ListUsers()
}

// Get returns the user with its details, or a NotFoundError.
func (s *Service) Get(ctx context.Context, id uint) (*models.User, error) {
	return s.store.WithContext(ctx).FindUser(id)
}

// UpsertDetails creates the user's detail row when missing and merges the
// non-nil fields of in into it.
func (s *Service) UpsertDetails(ctx context.Context, userID uint, in DetailsInput) (*models.User, error) {
	in.trim()
	if err := common.ValidateStruct(in).OrNil(); err != nil {
		return nil, err
	}

	err := s.store.Transaction(ctx, func(tx *database.Store) error {
		user, err := tx.FindUser(userID)
		if err != nil {
			return err
		}

		detail := user.Details
		if detail == nil {
			detail = &models.UserDetail{UserID: user.ID}
		}
		in.apply(detail)

		return tx.SaveUserDetail(detail)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Uint("user_id", userID).Msg("user details updated")
	return s.store.WithContext(ctx).FindUser(userID)
}

func (in *DetailsInput) trim() {
	for _, f := range []**string{&in.Address, &in.City, &in.Province, &in.PostalCode, &in.Phone} {
		if *f != nil {
			v := strings.TrimSpace(**f)
			*f = &v
		}
	}
}

func (in DetailsInput) apply(d *models.UserDetail) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&d.Address, in.Address)
	set(&d.City, in.City)
	set(&d.Province, in.Province)
	set(&d.PostalCode, in.PostalCode)
	set(&d.Phone, in.Phone)
}
