// Package errs defines the error taxonomy shared by the services and the
// HTTP layer.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// Sentinels usable with errors.Is against any error produced by this package.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("resource conflict")
	ErrStorage    = errors.New("storage failure")
)

// ValidationError collects every failing field of an input, not just the first.
type ValidationError struct {
	Fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string][]string{}}
}

// Add records a message for field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// Merge appends every failure of other to e.
func (e *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	for _, name := range other.FieldNames() {
		for _, msg := range other.Fields[name] {
			e.Add(name, msg)
		}
	}
}

func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// FieldNames returns the failing fields in sorted order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// First returns the first message recorded for field, or "".
func (e *ValidationError) First(field string) string {
	if msgs := e.Fields[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, name := range e.FieldNames() {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(e.Fields[name], ", ")))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// OrNil returns e as an error only when it holds failures.
func (e *ValidationError) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

type NotFoundError struct {
	Entity string
	Key    string
}

func NewNotFound(entity, key string) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: key}
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s", e.Entity, ErrNotFound.Error())
	}
	return fmt.Sprintf("%s %q %s", e.Entity, e.Key, ErrNotFound.Error())
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

type ConflictError struct {
	Entity string
	Key    string
	Err    error
}

func NewConflict(entity, key string, err error) *ConflictError {
	return &ConflictError{Entity: entity, Key: key, Err: err}
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%s %q: %s", e.Entity, e.Key, ErrConflict.Error())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// StorageError reports a collaborator failure (database, file storage).
type StorageError struct {
	Op     string
	Entity string
	Err    error
}

func NewStorage(op, entity string, err error) *StorageError {
	return &StorageError{Op: op, Entity: entity, Err: err}
}

func (e *StorageError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// FromDB translates a gorm error into the taxonomy. Errors that already
// belong to it pass through unchanged.
func FromDB(op, entity, key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict), errors.Is(err, ErrStorage):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NewNotFound(entity, key)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return NewConflict(entity, key, err)
	default:
		return NewStorage(op, entity, err)
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Status maps an error to the HTTP status the admin pages answer with.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
