// Package posts creates, edits and removes blog posts.
package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"boolpress/common"
	"boolpress/database"
	"boolpress/errs"
	"boolpress/files"
	"boolpress/models"
	"boolpress/slug"
)

// CoverPrefix is the storage key prefix of cover images.
const CoverPrefix = "covers"

// Notifier delivers the "new post" message. Failures are logged and dropped.
type Notifier interface {
	SendNewPostNotification(ctx context.Context, to string, post *models.Post) error
}

// PageInvalidator drops rendered public pages of posts.
type PageInvalidator interface {
	Invalidate(slugs ...string) error
}

// Upload is an uploaded file.
type Upload struct {
	Filename string
	Data     []byte
}

type CreateInput struct {
	Title      string  `json:"title" validate:"required,min=10"`
	Content    string  `json:"content" validate:"required,min=10"`
	AuthorID   uint    `json:"author_id" validate:"required"`
	CategoryID *uint   `json:"category_id"`
	TagIDs     []uint  `json:"tags"`
	CoverImage *Upload `json:"cover_img"`
}

// UpdateInput carries an edit. A nil Title or Content leaves the stored value
// alone. CategoryID nil removes the category. TagIDs nil or empty removes
// every tag: the edit form omits the field when no box is ticked.
type UpdateInput struct {
	Title      *string `json:"title" validate:"omitnil,min=10"`
	Content    *string `json:"content" validate:"omitnil,min=10"`
	CategoryID *uint   `json:"category_id"`
	TagIDs     []uint  `json:"tags"`
	CoverImage *Upload `json:"cover_img"`
}

type Service struct {
	store    *database.Store
	files    files.Store
	notifier Notifier
	slugs    *slug.Generator
	pages    PageInvalidator

	// spawn runs fire-and-forget work; tests replace it to run inline.
	spawn func(func())
}

func NewService(store *database.Store, fileStore files.Store, notifier Notifier, slugs *slug.Generator) *Service {
	if slugs == nil {
		slugs = slug.New(slug.DefaultMaxAttempts)
	}
	return &Service{
		store:    store,
		files:    fileStore,
		notifier: notifier,
		slugs:    slugs,
		spawn:    func(fn func()) { go fn() },
	}
}

// UsePageCache makes writes drop the cached public pages they affect.
func (s *Service) UsePageCache(pages PageInvalidator) {
	s.pages = pages
}

// GetBySlug returns the post with its author, category and tags.
func (s *Service) GetBySlug(ctx context.Context, postSlug string) (*models.Post, error) {
	return s.store.WithContext(ctx).FindPostBySlug(postSlug)
}

// List returns every post, newest first.
func (s *Service) List(ctx context.Context) ([]models.Post, error) {
	return s.store.WithContext(ctx).ListPosts()
}

// ListByAuthor returns the posts of authorID, newest first.
func (s *Service) ListByAuthor(ctx context.Context, authorID uint) ([]models.Post, error) {
	return s.store.WithContext(ctx).ListPostsByAuthor(authorID)
}

// FormOptions returns the categories and tags offered by the create and edit forms.
func (s *Service) FormOptions(ctx context.Context) ([]models.Category, []models.Tag, error) {
	store := s.store.WithContext(ctx)
	categories, err := store.ListCategories()
	if err != nil {
		return nil, nil, err
	}
	tags, err := store.ListTags()
	if err != nil {
		return nil, nil, err
	}
	return categories, tags, nil
}

// Create validates in, assigns a unique slug and stores the post with its
// tags in one transaction. The author is notified afterwards, best-effort.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Post, error) {
	in.trim()
	verr := in.Validate()

	var (
		post     *models.Post
		author   *models.User
		coverKey string
	)

	err := s.store.Transaction(ctx, func(tx *database.Store) error {
		tags, err := checkReferences(tx, verr, in.CategoryID, in.TagIDs)
		if err != nil {
			return err
		}
		if err := verr.OrNil(); err != nil {
			return err
		}

		author, err = tx.FindUser(in.AuthorID)
		if err != nil {
			return err
		}

		postSlug, err := s.uniqueSlug(ctx, tx, in.Title, 0)
		if err != nil {
			return err
		}

		post = &models.Post{
			UserID:     author.ID,
			CategoryID: in.CategoryID,
			Title:      in.Title,
			Slug:       postSlug,
			Content:    in.Content,
		}

		if in.CoverImage != nil {
			coverKey, err = s.putCover(ctx, in.CoverImage)
			if err != nil {
				return err
			}
			post.CoverImg = coverKey
		}

		if err := tx.CreatePost(post); err != nil {
			return err
		}
		return tx.SyncPostTags(post, tags)
	})
	if err != nil {
		s.discardCover(ctx, coverKey)
		return nil, err
	}

	log.Info().Str("slug", post.Slug).Uint("author_id", author.ID).Msg("post created")
	s.notifyNewPost(author.Email, post)

	return s.store.WithContext(ctx).FindPostBySlug(post.Slug)
}

// Update edits the post addressed by postSlug. The slug is derived again only
// when the title changes. The previous cover is deleted before the new one is
// stored. The tag set is replaced by in.TagIDs.
func (s *Service) Update(ctx context.Context, postSlug string, in UpdateInput) (*models.Post, error) {
	in.trim()
	verr := in.Validate()

	var (
		post       *models.Post
		newCover   string
		staleCover bool
	)

	err := s.store.Transaction(ctx, func(tx *database.Store) error {
		var err error
		post, err = tx.FindPostBySlug(postSlug)
		if err != nil {
			return err
		}

		tags, err := checkReferences(tx, verr, in.CategoryID, in.TagIDs)
		if err != nil {
			return err
		}
		if err := verr.OrNil(); err != nil {
			return err
		}

		if in.CoverImage != nil {
			// once the previous file is deleted any later failure must not
			// restore a reference to it
			newCover, staleCover, err = s.replaceCover(ctx, post, in.CoverImage)
			if err != nil {
				return err
			}
			post.CoverImg = newCover
		}

		if in.Title != nil && *in.Title != post.Title {
			post.Slug, err = s.uniqueSlug(ctx, tx, *in.Title, post.ID)
			if err != nil {
				return err
			}
			post.Title = *in.Title
		}
		if in.Content != nil {
			post.Content = *in.Content
		}
		post.CategoryID = in.CategoryID
		post.Category = nil

		if err := tx.SavePost(post); err != nil {
			return err
		}
		return tx.SyncPostTags(post, tags)
	})
	if err != nil {
		s.discardCover(ctx, newCover)
		if staleCover {
			// the rollback restored the deleted key; point at nothing instead
			if clearErr := s.store.WithContext(ctx).ClearPostCover(post); clearErr != nil {
				log.Warn().Err(clearErr).Str("slug", postSlug).Msg("could not clear stale cover image")
			}
			s.invalidatePages(postSlug)
		}
		return nil, err
	}

	log.Info().Str("from", postSlug).Str("slug", post.Slug).Msg("post updated")
	s.invalidatePages(postSlug, post.Slug)
	return s.store.WithContext(ctx).FindPostBySlug(post.Slug)
}

// Delete detaches the post's tags and removes it. The cover image is removed
// best-effort once the rows are gone.
func (s *Service) Delete(ctx context.Context, postSlug string) error {
	var cover string

	err := s.store.Transaction(ctx, func(tx *database.Store) error {
		post, err := tx.FindPostBySlug(postSlug)
		if err != nil {
			return err
		}
		cover = post.CoverImg

		if err := tx.DetachPostTags(post); err != nil {
			return err
		}
		return tx.DeletePost(post)
	})
	if err != nil {
		return err
	}

	s.discardCover(ctx, cover)
	s.invalidatePages(postSlug)
	log.Info().Str("slug", postSlug).Msg("post deleted")
	return nil
}

// CoverURL returns where the cover image of post is served from.
func (s *Service) CoverURL(post *models.Post) string {
	if post == nil || post.CoverImg == "" || s.files == nil {
		return ""
	}
	return s.files.URL(post.CoverImg)
}

func (s *Service) uniqueSlug(ctx context.Context, tx *database.Store, title string, exceptID uint) (string, error) {
	taken := slug.CheckerFunc(func(_ context.Context, candidate string) (bool, error) {
		return tx.PostSlugExists(candidate, exceptID)
	})

	postSlug, err := s.slugs.Generate(ctx, title, taken)
	if errors.Is(err, slug.ErrExhausted) {
		return "", errs.NewConflict("post", slug.Make(title), err)
	}
	return postSlug, err
}

// replaceCover deletes the current cover, then stores upload. removed
// reports whether the previous file is gone. A failed delete is logged and
// ignored; there is no rollback of the delete when the put fails.
func (s *Service) replaceCover(ctx context.Context, post *models.Post, upload *Upload) (key string, removed bool, err error) {
	if post.CoverImg != "" && s.files != nil {
		if err := s.files.Delete(ctx, post.CoverImg); err != nil {
			log.Warn().Err(err).Str("key", post.CoverImg).Str("slug", post.Slug).Msg("could not delete previous cover image")
		} else {
			removed = true
		}
	}
	key, err = s.putCover(ctx, upload)
	return key, removed, err
}

func (s *Service) putCover(ctx context.Context, upload *Upload) (string, error) {
	if s.files == nil {
		return "", errs.NewStorage("put", "cover image", errors.New("no file storage configured"))
	}
	key, err := s.files.Put(ctx, CoverPrefix, upload.Data)
	if err != nil {
		return "", errs.NewStorage("put", "cover image", err)
	}
	return key, nil
}

// discardCover removes a cover stored by a write that did not commit, or the
// cover of a deleted post.
func (s *Service) discardCover(ctx context.Context, key string) {
	if key == "" || s.files == nil {
		return
	}
	if err := s.files.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("could not remove cover image")
	}
}

func (s *Service) invalidatePages(slugs ...string) {
	if s.pages == nil {
		return
	}
	if err := s.pages.Invalidate(slugs...); err != nil {
		log.Warn().Err(err).Strs("slugs", slugs).Msg("could not invalidate cached pages")
	}
}

func (s *Service) notifyNewPost(to string, post *models.Post) {
	if s.notifier == nil || to == "" {
		return
	}
	snapshot := *post
	s.spawn(func() {
		if err := s.notifier.SendNewPostNotification(context.Background(), to, &snapshot); err != nil {
			log.Warn().Err(err).Str("slug", snapshot.Slug).Str("to", to).Msg("new post notification failed")
		}
	})
}

// Validate checks the rules of in that need no storage lookup: lengths,
// the author and the cover content.
func (in CreateInput) Validate() *errs.ValidationError {
	in.trim()
	verr := common.ValidateStruct(in)
	checkCover(verr, in.CoverImage)
	return verr
}

func (in *CreateInput) trim() {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
}

// Validate checks the rules of in that need no storage lookup.
func (in UpdateInput) Validate() *errs.ValidationError {
	in.trim()
	verr := common.ValidateStruct(in)
	checkCover(verr, in.CoverImage)
	return verr
}

func (in *UpdateInput) trim() {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		in.Title = &t
	}
	if in.Content != nil {
		c := strings.TrimSpace(*in.Content)
		in.Content = &c
	}
}

func checkCover(verr *errs.ValidationError, upload *Upload) {
	if upload == nil {
		return
	}
	if len(upload.Data) == 0 || !files.IsImage(upload.Data) {
		verr.Add("cover_img", "must be an image")
	}
}

// checkReferences records unknown category or tag ids on verr and returns
// the tags to attach.
func checkReferences(tx *database.Store, verr *errs.ValidationError, categoryID *uint, tagIDs []uint) ([]models.Tag, error) {
	if categoryID != nil {
		if _, err := tx.FindCategory(*categoryID); err != nil {
			if !errs.IsNotFound(err) {
				return nil, err
			}
			verr.Add("category_id", "does not exist")
		}
	}

	ids := uniqueIDs(tagIDs)
	tags, err := tx.FindTags(ids)
	if err != nil {
		return nil, err
	}
	if len(tags) != len(ids) {
		found := make(map[uint]bool, len(tags))
		for _, t := range tags {
			found[t.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				verr.Add("tags", fmt.Sprintf("tag %d does not exist", id))
			}
		}
	}
	return tags, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
