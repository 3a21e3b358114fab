package models

import "time"

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:150;uniqueIndex;not null" json:"username"`
	FirstName    string    `gorm:"size:150" json:"first_name"`
	LastName     string    `gorm:"size:150" json:"last_name"`
	Email        string    `json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"` // json:"-" prevents password from being exposed in API
	IsStaff      bool      `gorm:"not null;default:false" json:"is_staff"`
	DateJoined   time.Time `gorm:"autoCreateTime" json:"date_joined"`
}

type Post struct {
	ID          uint      `gorm:"primaryKey"`
	H1          string    `gorm:"size:200;not null"`
	Title       string    `gorm:"size:200;not null"`
	Slug        string    `gorm:"size:200;uniqueIndex;not null"`
	Description string    `gorm:"type:text"`
	Content     string    `gorm:"type:text"`
	Image       *string   // optional upload path, handled outside this service
	CreatedAt   time.Time `gorm:"index"`
	AuthorID    *uint     `gorm:"index"`
	Author      *User     `gorm:"constraint:OnDelete:SET NULL"` // posts outlive their author
	Tags        []Tag     `gorm:"many2many:post_tags;constraint:OnDelete:CASCADE"`
}

type Comment struct {
	ID        uint      `gorm:"primaryKey"`
	PostID    uint      `gorm:"not null;index"`
	Post      *Post     `gorm:"constraint:OnDelete:CASCADE"`
	UserID    uint      `gorm:"not null;index"`
	User      *User     `gorm:"constraint:OnDelete:CASCADE"`
	Text      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
}

// Relation is the per (user, post) engagement record. The composite unique
// index is what keeps concurrent get-or-create calls from producing two rows.
type Relation struct {
	ID         uint  `gorm:"primaryKey"`
	UserID     uint  `gorm:"not null;uniqueIndex:idx_relation_user_post"`
	User       *User `gorm:"constraint:OnDelete:CASCADE"`
	PostID     uint  `gorm:"not null;uniqueIndex:idx_relation_user_post;index"`
	Post       *Post `gorm:"constraint:OnDelete:CASCADE"`
	Liked      bool  `gorm:"not null;default:false"`
	IsFavorite bool  `gorm:"not null;default:false"`
	Rate       *int
}

func (Relation) TableName() string {
	return "user_post_relations"
}

type Tag struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100;uniqueIndex;not null"`
	Slug string `gorm:"size:100;uniqueIndex;not null"`
}
