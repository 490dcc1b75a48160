package database

import (
	"context"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"boolpress/errs"
	"boolpress/models"
)

// Store is the relational storage collaborator. Every error it returns is
// already translated by errs.FromDB.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection (or transaction).
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) WithContext(ctx context.Context) *Store {
	return &Store{db: s.db.WithContext(ctx)}
}

// Transaction runs fn against a store bound to a single transaction. The
// transaction is committed when fn returns nil and rolled back otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// ---- posts

func (s *Store) FindPostBySlug(slug string) (*models.Post, error) {
	var post models.Post
	err := s.db.Preload("User").Preload("Category").Preload("Tags", func(db *gorm.DB) *gorm.DB {
		return db.Order("name ASC")
	}).Where("slug = ?", slug).First(&post).Error
	if err != nil {
		return nil, errs.FromDB("find", "post", slug, err)
	}
	return &post, nil
}

// PostSlugExists reports whether a post other than exceptID uses slug.
// exceptID 0 checks every post.
func (s *Store) PostSlugExists(slug string, exceptID uint) (bool, error) {
	q := s.db.Model(&models.Post{}).Where("slug = ?", slug)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, errs.FromDB("count", "post", slug, err)
	}
	return count > 0, nil
}

func (s *Store) ListPostsByAuthor(userID uint) ([]models.Post, error) {
	var posts []models.Post
	err := s.db.Preload("Category").Preload("Tags").
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&posts).Error
	if err != nil {
		return nil, errs.FromDB("list", "post", "", err)
	}
	return posts, nil
}

func (s *Store) ListPosts() ([]models.Post, error) {
	var posts []models.Post
	err := s.db.Preload("User").Preload("Category").Preload("Tags").
		Order("created_at DESC").Order("id DESC").
		Find(&posts).Error
	if err != nil {
		return nil, errs.FromDB("list", "post", "", err)
	}
	return posts, nil
}

// CreatePost inserts the post row only; tags are attached with SyncPostTags.
func (s *Store) CreatePost(post *models.Post) error {
	err := s.db.Omit(clause.Associations).Create(post).Error
	return errs.FromDB("create", "post", post.Slug, err)
}

// SavePost writes the post's own columns without touching associations.
func (s *Store) SavePost(post *models.Post) error {
	err := s.db.Omit(clause.Associations).Save(post).Error
	return errs.FromDB("save", "post", post.Slug, err)
}

// SyncPostTags replaces the post's tag set with exactly tags.
func (s *Store) SyncPostTags(post *models.Post, tags []models.Tag) error {
	var err error
	if len(tags) == 0 {
		err = s.db.Model(post).Association("Tags").Clear()
	} else {
		err = s.db.Model(post).Association("Tags").Replace(tags)
	}
	return errs.FromDB("sync tags", "post", post.Slug, err)
}

func (s *Store) DetachPostTags(post *models.Post) error {
	err := s.db.Model(post).Association("Tags").Clear()
	return errs.FromDB("detach tags", "post", post.Slug, err)
}

func (s *Store) DeletePost(post *models.Post) error {
	result := s.db.Delete(&models.Post{}, post.ID)
	if result.Error != nil {
		return errs.FromDB("delete", "post", post.Slug, result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.NewNotFound("post", post.Slug)
	}
	return nil
}

func (s *Store) ClearPostCover(post *models.Post) error {
	err := s.db.Model(post).UpdateColumn("cover_img", "").Error
	return errs.FromDB("clear cover", "post", post.Slug, err)
}

// ---- categories and tags

func (s *Store) ListCategories() ([]models.Category, error) {
	var categories []models.Category
	if err := s.db.Order("name ASC").Find(&categories).Error; err != nil {
		return nil, errs.FromDB("list", "category", "", err)
	}
	return categories, nil
}

func (s *Store) FindCategory(id uint) (*models.Category, error) {
	var category models.Category
	if err := s.db.First(&category, id).Error; err != nil {
		return nil, errs.FromDB("find", "category", strconv.FormatUint(uint64(id), 10), err)
	}
	return &category, nil
}

func (s *Store) ListTags() ([]models.Tag, error) {
	var tags []models.Tag
	if err := s.db.Order("name ASC").Find(&tags).Error; err != nil {
		return nil, errs.FromDB("list", "tag", "", err)
	}
	return tags, nil
}

// FindTags returns the tags among ids that exist.
func (s *Store) FindTags(ids []uint) ([]models.Tag, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tags []models.Tag
	if err := s.db.Where("id IN ?", ids).Order("name ASC").Find(&tags).Error; err != nil {
		return nil, errs.FromDB("find", "tag", "", err)
	}
	return tags, nil
}

// ---- users

func (s *Store) FindUser(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.Preload("Details").First(&user, id).Error; err != nil {
		return nil, errs.FromDB("find", "user", strconv.FormatUint(uint64(id), 10), err)
	}
	return &user, nil
}

func (s *Store) ListUsers() ([]models.User, error) {
	var users []models.User
	if err := s.db.Preload("Details").Order("id ASC").Find(&users).Error; err != nil {
		return nil, errs.FromDB("list", "user", "", err)
	}
	return users, nil
}

// SaveUserDetail inserts or updates detail. The unique index on user_id keeps
// one detail row per user.
func (s *Store) SaveUserDetail(detail *models.UserDetail) error {
	err := s.db.Save(detail).Error
	return errs.FromDB("save", "user detail", strconv.FormatUint(uint64(detail.UserID), 10), err)
}
