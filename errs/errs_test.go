package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestValidationErrorListsEveryField(t *testing.T) {
	verr := NewValidationError()
	assert.False(t, verr.HasErrors())
	assert.Nil(t, verr.OrNil())

	verr.Add("title", "must be at least 10 characters")
	verr.Add("content", "is required")
	verr.Add("content", "must be at least 10 characters")

	assert.True(t, verr.HasErrors())
	assert.Equal(t, []string{"content", "title"}, verr.FieldNames())
	assert.Equal(t, "is required", verr.First("content"))
	assert.Equal(t, "", verr.First("tags"))
	assert.Contains(t, verr.Error(), "content: is required, must be at least 10 characters")
	assert.Contains(t, verr.Error(), "title: must be at least 10 characters")
	assert.True(t, errors.Is(verr.OrNil(), ErrValidation))
}

func TestValidationErrorMerge(t *testing.T) {
	verr := NewValidationError()
	verr.Add("tags", "must be a list of tag ids")

	other := NewValidationError()
	other.Add("title", "must be at least 10 characters")
	other.Add("tags", "tag 9 does not exist")

	verr.Merge(other)
	verr.Merge(nil)

	assert.Equal(t, []string{"tags", "title"}, verr.FieldNames())
	assert.Equal(t, []string{"must be a list of tag ids", "tag 9 does not exist"}, verr.Fields["tags"])
}

func TestFromDB(t *testing.T) {
	assert.Nil(t, FromDB("find", "post", "x", nil))

	err := FromDB("find", "post", "hello-world", gorm.ErrRecordNotFound)
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, "post", nf.Entity)
	assert.Equal(t, "hello-world", nf.Key)
	assert.True(t, IsNotFound(err))

	err = FromDB("create", "post", "hello-world", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey))
	assert.True(t, IsConflict(err))
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))

	cause := errors.New("disk I/O error")
	err = FromDB("save", "post", "", cause)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "save post: disk I/O error", err.Error())

	already := NewNotFound("user", "7")
	assert.Same(t, already, FromDB("find", "post", "", already))
}

func TestStatus(t *testing.T) {
	verr := NewValidationError()
	verr.Add("title", "is required")

	assert.Equal(t, http.StatusOK, Status(nil))
	assert.Equal(t, http.StatusUnprocessableEntity, Status(verr))
	assert.Equal(t, http.StatusNotFound, Status(NewNotFound("post", "a")))
	assert.Equal(t, http.StatusConflict, Status(NewConflict("post", "a", nil)))
	assert.Equal(t, http.StatusInternalServerError, Status(NewStorage("put", "file", errors.New("boom"))))
	assert.Equal(t, http.StatusInternalServerError, Status(errors.New("anything")))
}
