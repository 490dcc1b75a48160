package posts

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"boolpress/common"
	"boolpress/database"
	"boolpress/errs"
	"boolpress/models"
	"boolpress/slug"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type fakeFiles struct {
	ops    []string
	stored map[string][]byte
	n      int
	putErr error
	delErr error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{stored: map[string][]byte{}}
}

func (f *fakeFiles) Put(_ context.Context, prefix string, data []byte) (string, error) {
	if f.putErr != nil {
		f.ops = append(f.ops, "put-failed")
		return "", f.putErr
	}
	f.n++
	key := fmt.Sprintf("%s/%d.png", prefix, f.n)
	f.stored[key] = data
	f.ops = append(f.ops, "put "+key)
	return key, nil
}

func (f *fakeFiles) Delete(_ context.Context, key string) error {
	f.ops = append(f.ops, "delete "+key)
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.stored, key)
	return nil
}

func (f *fakeFiles) URL(key string) string {
	return "/uploads/" + key
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (n *fakeNotifier) SendNewPostNotification(_ context.Context, to string, post *models.Post) error {
	n.sent = append(n.sent, to+" "+post.Slug)
	return n.err
}

type testEnv struct {
	db       *gorm.DB
	svc      *Service
	files    *fakeFiles
	notifier *fakeNotifier
	author   *models.User
}

func setupTestService(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open(":memory:"), common.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.RunMigrations(db))

	author := &models.User{Name: "Author", Email: "author@example.com"}
	require.NoError(t, db.Create(author).Error)

	env := &testEnv{
		db:       db,
		files:    newFakeFiles(),
		notifier: &fakeNotifier{},
		author:   author,
	}
	env.svc = NewService(database.NewStore(db), env.files, env.notifier, nil)
	env.svc.spawn = func(fn func()) { fn() }
	return env
}

func createTestTags(t *testing.T, db *gorm.DB, names ...string) []models.Tag {
	var tags []models.Tag
	for _, name := range names {
		tag := models.Tag{Name: name}
		require.NoError(t, db.Create(&tag).Error)
		tags = append(tags, tag)
	}
	return tags
}

func createTestCategory(t *testing.T, db *gorm.DB, name string) *models.Category {
	category := &models.Category{Name: name}
	require.NoError(t, db.Create(category).Error)
	return category
}

func ptr[T any](v T) *T {
	return &v
}

func (env *testEnv) create(t *testing.T, title string) *models.Post {
	post, err := env.svc.Create(context.Background(), CreateInput{
		Title:    title,
		Content:  "Some content that is long enough",
		AuthorID: env.author.ID,
	})
	require.NoError(t, err)
	return post
}

func TestCreate_AssignsUniqueSlugs(t *testing.T) {
	env := setupTestService(t)

	first := env.create(t, "A great article")
	assert.Equal(t, "a-great-article", first.Slug)
	assert.Equal(t, env.author.ID, first.UserID)
	require.NotNil(t, first.User)
	assert.Equal(t, "author@example.com", first.User.Email)

	second := env.create(t, "A great article")
	assert.Equal(t, "a-great-article-1", second.Slug)

	third := env.create(t, "A great article!")
	assert.Equal(t, "a-great-article-2", third.Slug)
}

func TestCreate_WithCategoryTagsAndCover(t *testing.T) {
	env := setupTestService(t)
	category := createTestCategory(t, env.db, "News")
	tags := createTestTags(t, env.db, "go", "web")

	post, err := env.svc.Create(context.Background(), CreateInput{
		Title:      "  Tagged and covered  ",
		Content:    "Content with a category and tags",
		AuthorID:   env.author.ID,
		CategoryID: &category.ID,
		TagIDs:     []uint{tags[0].ID, tags[1].ID, tags[0].ID},
		CoverImage: &Upload{Filename: "cover.png", Data: pngBytes},
	})
	require.NoError(t, err)

	assert.Equal(t, "Tagged and covered", post.Title)
	assert.Equal(t, "tagged-and-covered", post.Slug)
	require.NotNil(t, post.Category)
	assert.Equal(t, "News", post.Category.Name)
	assert.ElementsMatch(t, []uint{tags[0].ID, tags[1].ID}, post.TagIDs())
	assert.Equal(t, "covers/1.png", post.CoverImg)
	assert.Equal(t, "/uploads/covers/1.png", env.svc.CoverURL(post))
}

func TestCreate_ValidationListsEveryField(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.Create(context.Background(), CreateInput{
		Title:      "short",
		Content:    "   ",
		AuthorID:   env.author.ID,
		CategoryID: ptr(uint(99)),
		TagIDs:     []uint{42},
		CoverImage: &Upload{Filename: "notes.txt", Data: []byte("just some text")},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrValidation))

	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"category_id", "content", "cover_img", "tags", "title"}, verr.FieldNames())
	assert.Equal(t, "must be at least 10 characters", verr.First("title"))
	assert.Equal(t, "is required", verr.First("content"))
	assert.Equal(t, "tag 42 does not exist", verr.First("tags"))

	var count int64
	env.db.Model(&models.Post{}).Count(&count)
	assert.Equal(t, int64(0), count)
	assert.Empty(t, env.files.ops)
	assert.Empty(t, env.notifier.sent)
}

func TestCreate_UnknownAuthor(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.Create(context.Background(), CreateInput{
		Title:    "An orphaned article",
		Content:  "Nobody wrote this one",
		AuthorID: 999,
	})
	assert.True(t, errs.IsNotFound(err))
}

func TestCreate_NotifiesAuthor(t *testing.T) {
	env := setupTestService(t)

	env.create(t, "A great article")
	assert.Equal(t, []string{"author@example.com a-great-article"}, env.notifier.sent)
}

func TestCreate_NotificationFailureIsIgnored(t *testing.T) {
	env := setupTestService(t)
	env.notifier.err = errors.New("smtp down")

	post := env.create(t, "A great article")
	assert.Equal(t, "a-great-article", post.Slug)
	assert.Len(t, env.notifier.sent, 1)
}

func TestCreate_SlugCandidatesExhausted(t *testing.T) {
	env := setupTestService(t)
	env.svc.slugs = slug.New(2)

	env.create(t, "Repeated title here")
	env.create(t, "Repeated title here")

	_, err := env.svc.Create(context.Background(), CreateInput{
		Title:    "Repeated title here",
		Content:  "Some content that is long enough",
		AuthorID: env.author.ID,
	})
	assert.True(t, errs.IsConflict(err))
}

func TestCreate_PutFailureStoresNothing(t *testing.T) {
	env := setupTestService(t)
	env.files.putErr = errors.New("disk full")

	_, err := env.svc.Create(context.Background(), CreateInput{
		Title:      "An article with a cover",
		Content:    "Some content that is long enough",
		AuthorID:   env.author.ID,
		CoverImage: &Upload{Filename: "cover.png", Data: pngBytes},
	})
	assert.True(t, errors.Is(err, errs.ErrStorage))

	var count int64
	env.db.Model(&models.Post{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestUpdate_SlugFollowsTitleChanges(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	env.create(t, "A great article")
	env.create(t, "A great article")

	post, err := env.svc.Update(ctx, "a-great-article-1", UpdateInput{
		Title:   ptr("A great article"),
		Content: ptr("Rewritten content, still long"),
	})
	require.NoError(t, err)
	assert.Equal(t, "a-great-article-1", post.Slug)
	assert.Equal(t, "Rewritten content, still long", post.Content)

	post, err = env.svc.Update(ctx, "a-great-article-1", UpdateInput{
		Title: ptr("A totally different headline"),
	})
	require.NoError(t, err)
	assert.Equal(t, "a-totally-different-headline", post.Slug)
	assert.Equal(t, "A totally different headline", post.Title)

	_, err = env.svc.GetBySlug(ctx, "a-great-article-1")
	assert.True(t, errs.IsNotFound(err))
}

func TestUpdate_TitleChangeKeepsOwnBase(t *testing.T) {
	env := setupTestService(t)

	env.create(t, "Hello world again")

	post, err := env.svc.Update(context.Background(), "hello-world-again", UpdateInput{
		Title: ptr("Hello, World again!"),
	})
	require.NoError(t, err)
	assert.Equal(t, "hello-world-again", post.Slug)
	assert.Equal(t, "Hello, World again!", post.Title)
}

func TestUpdate_ReplacesTagsAndCategory(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	category := createTestCategory(t, env.db, "News")
	tags := createTestTags(t, env.db, "go", "web", "sql")

	_, err := env.svc.Create(ctx, CreateInput{
		Title:      "Tags will change",
		Content:    "Some content that is long enough",
		AuthorID:   env.author.ID,
		CategoryID: &category.ID,
		TagIDs:     []uint{tags[0].ID, tags[1].ID},
	})
	require.NoError(t, err)

	post, err := env.svc.Update(ctx, "tags-will-change", UpdateInput{
		CategoryID: &category.ID,
		TagIDs:     []uint{tags[2].ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint{tags[2].ID}, post.TagIDs())
	require.NotNil(t, post.CategoryID)

	// an omitted tag list clears the tags, a missing category removes it
	post, err = env.svc.Update(ctx, "tags-will-change", UpdateInput{})
	require.NoError(t, err)
	assert.Empty(t, post.Tags)
	assert.Nil(t, post.CategoryID)
	assert.Equal(t, "Tags will change", post.Title)

	_, err = env.svc.Update(ctx, "tags-will-change", UpdateInput{TagIDs: []uint{tags[0].ID}})
	require.NoError(t, err)
	post, err = env.svc.Update(ctx, "tags-will-change", UpdateInput{TagIDs: []uint{}})
	require.NoError(t, err)
	assert.Empty(t, post.Tags)
}

func TestInputValidateNeedsNoStorage(t *testing.T) {
	verr := CreateInput{Title: "  short  ", Content: "x", AuthorID: 1}.Validate()
	assert.Equal(t, []string{"content", "title"}, verr.FieldNames())

	verr = UpdateInput{
		Title:      ptr("tiny"),
		CoverImage: &Upload{Filename: "a.txt", Data: []byte("plain text")},
	}.Validate()
	assert.Equal(t, []string{"cover_img", "title"}, verr.FieldNames())

	assert.False(t, UpdateInput{}.Validate().HasErrors())
}

func TestUpdate_Validation(t *testing.T) {
	env := setupTestService(t)
	env.create(t, "A great article")

	_, err := env.svc.Update(context.Background(), "a-great-article", UpdateInput{
		Title:   ptr(""),
		Content: ptr("tiny"),
		TagIDs:  []uint{7},
	})
	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"content", "tags", "title"}, verr.FieldNames())

	post, err := env.svc.GetBySlug(context.Background(), "a-great-article")
	require.NoError(t, err)
	assert.Equal(t, "A great article", post.Title)
}

func TestUpdate_UnknownPost(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.Update(context.Background(), "missing", UpdateInput{Title: ptr("Whatever title here")})
	assert.True(t, errs.IsNotFound(err))
}

func TestUpdate_ReplaceCoverDeletesOldFirst(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, CreateInput{
		Title:      "Covered article",
		Content:    "Some content that is long enough",
		AuthorID:   env.author.ID,
		CoverImage: &Upload{Filename: "a.png", Data: pngBytes},
	})
	require.NoError(t, err)

	post, err := env.svc.Update(ctx, "covered-article", UpdateInput{
		CoverImage: &Upload{Filename: "b.png", Data: pngBytes},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"put covers/1.png", "delete covers/1.png", "put covers/2.png"}, env.files.ops)
	assert.Equal(t, "covers/2.png", post.CoverImg)
}

func TestUpdate_OldCoverDeleteFailureIsIgnored(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, CreateInput{
		Title:      "Covered article",
		Content:    "Some content that is long enough",
		AuthorID:   env.author.ID,
		CoverImage: &Upload{Filename: "a.png", Data: pngBytes},
	})
	require.NoError(t, err)

	env.files.delErr = errors.New("permission denied")
	post, err := env.svc.Update(ctx, "covered-article", UpdateInput{
		CoverImage: &Upload{Filename: "b.png", Data: pngBytes},
	})
	require.NoError(t, err)
	assert.Equal(t, "covers/2.png", post.CoverImg)
}

func TestUpdate_PutFailureClearsStaleCover(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, CreateInput{
		Title:      "Covered article",
		Content:    "Some content that is long enough",
		AuthorID:   env.author.ID,
		CoverImage: &Upload{Filename: "a.png", Data: pngBytes},
	})
	require.NoError(t, err)

	env.files.putErr = errors.New("bucket unavailable")
	_, err = env.svc.Update(ctx, "covered-article", UpdateInput{
		Title:      ptr("A new title for it"),
		CoverImage: &Upload{Filename: "b.png", Data: pngBytes},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrStorage))

	post, err := env.svc.GetBySlug(ctx, "covered-article")
	require.NoError(t, err)
	assert.Equal(t, "Covered article", post.Title)
	assert.Equal(t, "", post.CoverImg)
	_, stillStored := env.files.stored["covers/1.png"]
	assert.False(t, stillStored)
}

func TestUpdate_FailureAfterCoverSwapClearsStaleCover(t *testing.T) {
	env := setupTestService(t)
	env.svc.slugs = slug.New(1)
	pages := &fakePages{}
	env.svc.UsePageCache(pages)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, CreateInput{
		Title:      "Covered article",
		Content:    "Some content that is long enough",
		AuthorID:   env.author.ID,
		CoverImage: &Upload{Filename: "a.png", Data: pngBytes},
	})
	require.NoError(t, err)
	env.create(t, "Taken title here")

	_, err = env.svc.Update(ctx, "covered-article", UpdateInput{
		Title:      ptr("Taken title here"),
		CoverImage: &Upload{Filename: "b.png", Data: pngBytes},
	})
	assert.True(t, errs.IsConflict(err))
	assert.Equal(t, []string{"put covers/1.png", "delete covers/1.png", "put covers/2.png", "delete covers/2.png"}, env.files.ops)

	post, err := env.svc.GetBySlug(ctx, "covered-article")
	require.NoError(t, err)
	assert.Equal(t, "Covered article", post.Title)
	assert.Equal(t, "", post.CoverImg)
	assert.Empty(t, env.files.stored)
	assert.Equal(t, []string{"covered-article"}, pages.invalidated)
}

func TestUpdate_PutFailureKeepsUndeletedCover(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, CreateInput{
		Title:      "Covered article",
		Content:    "Some content that is long enough",
		AuthorID:   env.author.ID,
		CoverImage: &Upload{Filename: "a.png", Data: pngBytes},
	})
	require.NoError(t, err)

	env.files.delErr = errors.New("permission denied")
	env.files.putErr = errors.New("bucket unavailable")
	_, err = env.svc.Update(ctx, "covered-article", UpdateInput{
		CoverImage: &Upload{Filename: "b.png", Data: pngBytes},
	})
	require.Error(t, err)

	post, err := env.svc.GetBySlug(ctx, "covered-article")
	require.NoError(t, err)
	assert.Equal(t, "covers/1.png", post.CoverImg)
}

func TestDelete(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	tags := createTestTags(t, env.db, "go")

	post, err := env.svc.Create(ctx, CreateInput{
		Title:      "Short lived article",
		Content:    "Some content that is long enough",
		AuthorID:   env.author.ID,
		TagIDs:     []uint{tags[0].ID},
		CoverImage: &Upload{Filename: "a.png", Data: pngBytes},
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(ctx, "short-lived-article"))

	_, err = env.svc.GetBySlug(ctx, "short-lived-article")
	assert.True(t, errs.IsNotFound(err))

	var joins int64
	env.db.Model(&models.PostTag{}).Where("post_id = ?", post.ID).Count(&joins)
	assert.Equal(t, int64(0), joins)

	var tagCount int64
	env.db.Model(&models.Tag{}).Count(&tagCount)
	assert.Equal(t, int64(1), tagCount)

	assert.Contains(t, env.files.ops, "delete covers/1.png")

	assert.True(t, errs.IsNotFound(env.svc.Delete(ctx, "short-lived-article")))
}

func TestListByAuthor(t *testing.T) {
	env := setupTestService(t)
	other := &models.User{Name: "Other", Email: "other@example.com"}
	require.NoError(t, env.db.Create(other).Error)

	env.create(t, "First article here")
	env.create(t, "Second article here")

	posts, err := env.svc.ListByAuthor(context.Background(), env.author.ID)
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	posts, err = env.svc.ListByAuthor(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestFormOptions(t *testing.T) {
	env := setupTestService(t)
	createTestCategory(t, env.db, "Tech")
	createTestCategory(t, env.db, "Art")
	createTestTags(t, env.db, "go")

	categories, tags, err := env.svc.FormOptions(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Art", categories[0].Name)
	assert.Len(t, tags, 1)
}

type fakePages struct {
	invalidated []string
}

func (p *fakePages) Invalidate(slugs ...string) error {
	p.invalidated = append(p.invalidated, slugs...)
	return nil
}

func TestWritesInvalidateCachedPages(t *testing.T) {
	env := setupTestService(t)
	pages := &fakePages{}
	env.svc.UsePageCache(pages)
	ctx := context.Background()

	env.create(t, "A great article")
	assert.Empty(t, pages.invalidated)

	_, err := env.svc.Update(ctx, "a-great-article", UpdateInput{Title: ptr("A totally different headline")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-great-article", "a-totally-different-headline"}, pages.invalidated)

	pages.invalidated = nil
	require.NoError(t, env.svc.Delete(ctx, "a-totally-different-headline"))
	assert.Equal(t, []string{"a-totally-different-headline"}, pages.invalidated)
}
