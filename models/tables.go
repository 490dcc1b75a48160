package models

import "time"

type User struct {
	ID        uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string      `gorm:"not null" json:"name"`
	Email     string      `gorm:"unique;not null" json:"email"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Details   *UserDetail `gorm:"foreignKey:UserID" json:"details,omitempty"`
	Posts     []Post      `gorm:"foreignKey:UserID" json:"-"`
}

// UserDetail holds the optional profile fields of a user. One row per user at most.
type UserDetail struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	Address    string    `json:"address"`
	City       string    `json:"city"`
	Province   string    `json:"province"`
	PostalCode string    `json:"postal_code"`
	Phone      string    `json:"phone"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Category struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"unique;not null" json:"name"`
}

type Tag struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"unique;not null" json:"name"`
}

type Post struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"` // author
	CategoryID *uint     `gorm:"index" json:"category_id"`
	Title      string    `gorm:"not null" json:"title"`
	Slug       string    `gorm:"size:255;not null;uniqueIndex" json:"slug"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CoverImg   string    `json:"cover_img"` // storage key, empty when the post has no cover
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	User     *User     `gorm:"foreignKey:UserID" json:"author,omitempty"`
	Category *Category `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Tags     []Tag     `gorm:"many2many:post_tag;" json:"tags"`
}

// PostTag is the join row between posts and tags.
type PostTag struct {
	PostID uint `gorm:"primaryKey"`
	TagID  uint `gorm:"primaryKey;index"`
}

func (PostTag) TableName() string {
	return "post_tag"
}

// TagIDs returns the ids of the tags currently attached to the post.
func (p *Post) TagIDs() []uint {
	ids := make([]uint, 0, len(p.Tags))
	for _, t := range p.Tags {
		ids = append(ids, t.ID)
	}
	return ids
}

func (p *Post) HasTag(id uint) bool {
	for _, t := range p.Tags {
		if t.ID == id {
			return true
		}
	}
	return false
}
