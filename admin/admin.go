package admin

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"boolpress/blog"
	"boolpress/errs"
	"boolpress/models"
	"boolpress/posts"
	"boolpress/users"
)

// MaxCoverSize is the largest accepted cover image upload.
const MaxCoverSize = 5 << 20

type AdminModule struct {
	posts *posts.Service
	users *users.Service
}

func NewAdminModule(postService *posts.Service, userService *users.Service) *AdminModule {
	return &AdminModule{
		posts: postService,
		users: userService,
	}
}

func (a *AdminModule) RegisterRoutes(router *gin.Engine) {
	adminGroup := router.Group("/admin")
	adminGroup.Use(a.requireUser)
	{
		adminGroup.GET("/posts", a.listPosts)
		adminGroup.GET("/posts/create", a.newPost)
		adminGroup.POST("/posts", a.storePost)
		adminGroup.GET("/posts/:slug", a.showPost)
		adminGroup.GET("/posts/:slug/edit", a.editPost)
		adminGroup.POST("/posts/:slug", a.updatePost)
		adminGroup.PUT("/posts/:slug", a.updatePost)
		adminGroup.DELETE("/posts/:slug", a.deletePost)
		adminGroup.POST("/posts/:slug/delete", a.destroyPost)

		adminGroup.GET("/users", a.listUsers)
		adminGroup.GET("/users/:id/edit", a.editUser)
		adminGroup.POST("/users/:id", a.updateUser)
		adminGroup.PUT("/users/:id", a.updateUser)
	}
}

// requireUser loads the signed-in user id from the session. Signing in is
// handled outside this module.
func (a *AdminModule) requireUser(c *gin.Context) {
	session := sessions.Default(c)

	userID, ok := sessionUserID(session.Get("user_id"))
	if !ok {
		c.Redirect(http.StatusFound, "/login")
		c.Abort()
		return
	}

	c.Set("user_id", userID)
	c.Next()
}

func sessionUserID(v interface{}) (uint, bool) {
	switch id := v.(type) {
	case uint:
		return id, id > 0
	case int:
		return uint(id), id > 0
	case int64:
		return uint(id), id > 0
	case uint64:
		return uint(id), id > 0
	default:
		return 0, false
	}
}

func currentUserID(c *gin.Context) uint {
	return c.GetUint("user_id")
}

// renderError shows the error page with the status matching err.
func renderError(c *gin.Context, err error) {
	status := errs.Status(err)

	message := "Something went wrong"
	switch status {
	case http.StatusNotFound:
		message = "Not found"
	case http.StatusConflict:
		message = "The resource was changed concurrently, please retry"
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("admin request failed")
	}

	c.HTML(status, "admin_error.html", gin.H{"error": message})
}

// ---- posts

func (a *AdminModule) listPosts(c *gin.Context) {
	list, err := a.posts.ListByAuthor(c.Request.Context(), currentUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}

	c.HTML(http.StatusOK, "admin_posts_index.html", gin.H{
		"posts": list,
	})
}

func (a *AdminModule) newPost(c *gin.Context) {
	a.renderPostForm(c, http.StatusOK, nil, postForm{}, nil)
}

func (a *AdminModule) storePost(c *gin.Context) {
	form, verr := parsePostForm(c)
	in := posts.CreateInput{
		Title:      form.Title,
		Content:    form.Content,
		AuthorID:   currentUserID(c),
		CategoryID: form.CategoryID,
		TagIDs:     form.TagIDs,
		CoverImage: form.Cover,
	}
	if verr.HasErrors() {
		verr.Merge(in.Validate())
		a.renderPostForm(c, http.StatusUnprocessableEntity, nil, form, verr)
		return
	}

	post, err := a.posts.Create(c.Request.Context(), in)
	if err != nil {
		var invalid *errs.ValidationError
		if errors.As(err, &invalid) {
			a.renderPostForm(c, http.StatusUnprocessableEntity, nil, form, invalid)
			return
		}
		renderError(c, err)
		return
	}

	c.Redirect(http.StatusFound, "/admin/posts/"+post.Slug)
}

func (a *AdminModule) showPost(c *gin.Context) {
	post, err := a.posts.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.HTML(http.StatusOK, "admin_post_show.html", gin.H{
		"post":        post,
		"contentHTML": blog.RenderMarkdown(post.Content),
		"coverURL":    a.posts.CoverURL(post),
	})
}

func (a *AdminModule) editPost(c *gin.Context) {
	post, err := a.posts.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		renderError(c, err)
		return
	}

	a.renderPostForm(c, http.StatusOK, post, formFromPost(post), nil)
}

func (a *AdminModule) updatePost(c *gin.Context) {
	postSlug := c.Param("slug")

	form, verr := parsePostForm(c)
	in := posts.UpdateInput{
		CategoryID: form.CategoryID,
		TagIDs:     form.TagIDs,
		CoverImage: form.Cover,
	}
	if _, ok := c.GetPostForm("title"); ok {
		in.Title = &form.Title
	}
	if _, ok := c.GetPostForm("content"); ok {
		in.Content = &form.Content
	}
	if verr.HasErrors() {
		verr.Merge(in.Validate())
		a.renderEditFailure(c, postSlug, form, verr)
		return
	}

	post, err := a.posts.Update(c.Request.Context(), postSlug, in)
	if err != nil {
		var invalid *errs.ValidationError
		if errors.As(err, &invalid) {
			a.renderEditFailure(c, postSlug, form, invalid)
			return
		}
		renderError(c, err)
		return
	}

	c.Redirect(http.StatusFound, "/admin/posts/"+post.Slug)
}

func (a *AdminModule) renderEditFailure(c *gin.Context, postSlug string, form postForm, verr *errs.ValidationError) {
	post, err := a.posts.GetBySlug(c.Request.Context(), postSlug)
	if err != nil {
		renderError(c, err)
		return
	}
	a.renderPostForm(c, http.StatusUnprocessableEntity, post, form, verr)
}

func (a *AdminModule) deletePost(c *gin.Context) {
	if err := a.posts.Delete(c.Request.Context(), c.Param("slug")); err != nil {
		status := errs.Status(err)
		if status == http.StatusNotFound {
			c.JSON(status, gin.H{"error": "post not found"})
			return
		}
		log.Error().Err(err).Str("slug", c.Param("slug")).Msg("delete post")
		c.JSON(status, gin.H{"error": "could not delete post"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "post deleted"})
}

func (a *AdminModule) destroyPost(c *gin.Context) {
	if err := a.posts.Delete(c.Request.Context(), c.Param("slug")); err != nil {
		renderError(c, err)
		return
	}

	c.Redirect(http.StatusFound, "/admin/posts")
}

// postForm holds the submitted post fields, kept for re-rendering.
type postForm struct {
	Title      string
	Content    string
	CategoryID *uint
	TagIDs     []uint
	Cover      *posts.Upload
}

func formFromPost(post *models.Post) postForm {
	return postForm{
		Title:      post.Title,
		Content:    post.Content,
		CategoryID: post.CategoryID,
		TagIDs:     post.TagIDs(),
	}
}

// parsePostForm reads the post form. Ids that are not numbers and unreadable
// uploads are reported as field errors; callers add the input's own rules
// so every failing field is listed at once.
func parsePostForm(c *gin.Context) (postForm, *errs.ValidationError) {
	verr := errs.NewValidationError()
	form := postForm{
		Title:   c.PostForm("title"),
		Content: c.PostForm("content"),
	}

	if raw := c.PostForm("category_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			verr.Add("category_id", "must be a number")
		} else {
			categoryID := uint(id)
			form.CategoryID = &categoryID
		}
	}

	rawTags := append(c.PostFormArray("tags"), c.PostFormArray("tags[]")...)
	for _, raw := range rawTags {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			verr.Add("tags", "must be a list of tag ids")
			continue
		}
		form.TagIDs = append(form.TagIDs, uint(id))
	}

	cover, err := readCover(c)
	if err != nil {
		verr.Add("cover_img", err.Error())
	}
	form.Cover = cover

	return form, verr
}

func readCover(c *gin.Context) (*posts.Upload, error) {
	header, err := c.FormFile("cover_img")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New("could not be read")
	}
	if header.Size > MaxCoverSize {
		return nil, errors.New("may not be greater than 5 MB")
	}

	file, err := header.Open()
	if err != nil {
		return nil, errors.New("could not be read")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxCoverSize+1))
	if err != nil {
		return nil, errors.New("could not be read")
	}
	return &posts.Upload{Filename: header.Filename, Data: data}, nil
}

func (a *AdminModule) renderPostForm(c *gin.Context, status int, post *models.Post, form postForm, verr *errs.ValidationError) {
	categories, tags, err := a.posts.FormOptions(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}

	selectedTags := make(map[uint]bool, len(form.TagIDs))
	for _, id := range form.TagIDs {
		selectedTags[id] = true
	}
	var selectedCategory uint
	if form.CategoryID != nil {
		selectedCategory = *form.CategoryID
	}

	action := "/admin/posts"
	if post != nil {
		action = "/admin/posts/" + post.Slug
	}

	var fieldErrors map[string][]string
	if verr != nil {
		fieldErrors = verr.Fields
	}

	c.HTML(status, "admin_post_form.html", gin.H{
		"post":             post,
		"action":           action,
		"form":             form,
		"categories":       categories,
		"tags":             tags,
		"selectedTags":     selectedTags,
		"selectedCategory": selectedCategory,
		"errors":           fieldErrors,
	})
}

// ---- users

func (a *AdminModule) listUsers(c *gin.Context) {
	list, err := a.users.List(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}

	c.HTML(http.StatusOK, "admin_users_index.html", gin.H{
		"users": list,
	})
}

func (a *AdminModule) editUser(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		renderError(c, err)
		return
	}

	user, err := a.users.Get(c.Request.Context(), id)
	if err != nil {
		renderError(c, err)
		return
	}

	c.HTML(http.StatusOK, "admin_user_edit.html", gin.H{
		"user": user,
	})
}

func (a *AdminModule) updateUser(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		renderError(c, err)
		return
	}

	in := users.DetailsInput{
		Address:    optionalField(c, "address"),
		City:       optionalField(c, "city"),
		Province:   optionalField(c, "province"),
		PostalCode: optionalField(c, "postal_code"),
		Phone:      optionalField(c, "phone"),
	}

	user, err := a.users.UpsertDetails(c.Request.Context(), id, in)
	if err != nil {
		var invalid *errs.ValidationError
		if !errors.As(err, &invalid) {
			renderError(c, err)
			return
		}

		current, getErr := a.users.Get(c.Request.Context(), id)
		if getErr != nil {
			renderError(c, getErr)
			return
		}
		c.HTML(http.StatusUnprocessableEntity, "admin_user_edit.html", gin.H{
			"user":   current,
			"errors": invalid.Fields,
		})
		return
	}

	c.HTML(http.StatusOK, "admin_user_edit.html", gin.H{
		"user":  user,
		"saved": true,
	})
}

func userIDParam(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errs.NewNotFound("user", c.Param("id"))
	}
	return uint(id), nil
}

// optionalField returns nil when the field was not submitted at all.
func optionalField(c *gin.Context, name string) *string {
	v, ok := c.GetPostForm(name)
	if !ok {
		return nil
	}
	return &v
}
