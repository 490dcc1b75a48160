package users

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"boolpress/common"
	"boolpress/database"
	"boolpress/errs"
	"boolpress/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), common.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.RunMigrations(db))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	user := &models.User{Name: "Test User", Email: email}
	require.NoError(t, db.Create(user).Error)
	return user
}

func ptr(s string) *string {
	return &s
}

func TestUpsertDetails_CreatesWhenMissing(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(database.NewStore(db))
	user := createTestUser(t, db, "mario@example.com")

	got, err := svc.UpsertDetails(context.Background(), user.ID, DetailsInput{
		Address: ptr(" Via Roma 1 "),
		City:    ptr("Milano"),
	})
	require.NoError(t, err)
	require.NotNil(t, got.Details)
	assert.Equal(t, user.ID, got.Details.UserID)
	assert.Equal(t, "Via Roma 1", got.Details.Address)
	assert.Equal(t, "Milano", got.Details.City)
	assert.Equal(t, "", got.Details.Phone)
}

func TestUpsertDetails_MergesDisjointUpdates(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(database.NewStore(db))
	user := createTestUser(t, db, "mario@example.com")
	ctx := context.Background()

	_, err := svc.UpsertDetails(ctx, user.ID, DetailsInput{Address: ptr("Via Roma 1"), City: ptr("Milano")})
	require.NoError(t, err)

	got, err := svc.UpsertDetails(ctx, user.ID, DetailsInput{Phone: ptr("+39 02 1234"), Province: ptr("MI")})
	require.NoError(t, err)

	assert.Equal(t, "Via Roma 1", got.Details.Address)
	assert.Equal(t, "Milano", got.Details.City)
	assert.Equal(t, "MI", got.Details.Province)
	assert.Equal(t, "+39 02 1234", got.Details.Phone)

	var count int64
	db.Model(&models.UserDetail{}).Where("user_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUpsertDetails_EmptyStringClearsField(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(database.NewStore(db))
	user := createTestUser(t, db, "mario@example.com")
	ctx := context.Background()

	_, err := svc.UpsertDetails(ctx, user.ID, DetailsInput{City: ptr("Milano")})
	require.NoError(t, err)

	got, err := svc.UpsertDetails(ctx, user.ID, DetailsInput{City: ptr("")})
	require.NoError(t, err)
	assert.Equal(t, "", got.Details.City)
}

func TestUpsertDetails_UnknownUser(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(database.NewStore(db))

	_, err := svc.UpsertDetails(context.Background(), 404, DetailsInput{City: ptr("Milano")})
	assert.True(t, errs.IsNotFound(err))

	var count int64
	db.Model(&models.UserDetail{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestUpsertDetails_Validation(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(database.NewStore(db))
	user := createTestUser(t, db, "mario@example.com")

	_, err := svc.UpsertDetails(context.Background(), user.ID, DetailsInput{
		Address: ptr(strings.Repeat("a", 256)),
		Phone:   ptr(strings.Repeat("1", 40)),
	})
	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"address", "phone"}, verr.FieldNames())
	assert.Equal(t, "may not be greater than 255 characters", verr.First("address"))
}

func TestListAndGet(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(database.NewStore(db))
	ctx := context.Background()
	first := createTestUser(t, db, "a@example.com")
	createTestUser(t, db, "b@example.com")

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a@example.com", list[0].Email)

	user, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, user.Details)

	_, err = svc.Get(ctx, 999)
	assert.True(t, errs.IsNotFound(err))
}
