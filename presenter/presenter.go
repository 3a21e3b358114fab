// Package presenter turns models into the JSON shapes served by the API.
// Functions here do no I/O and read nothing but their arguments.
package presenter

import (
	"time"

	"blogapi/aggregate"
	"blogapi/models"
)

const dateLayout = "2006-01-02"

type TagRepresentation struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type AppreciatedUser struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type PostRepresentation struct {
	ID             uint                `json:"id"`
	H1             string              `json:"h1"`
	Title          string              `json:"title"`
	Slug           string              `json:"slug"`
	Description    string              `json:"description"`
	Content        string              `json:"content"`
	Image          *string             `json:"image"`
	CreatedAt      string              `json:"created_at"`
	Appreciated    []AppreciatedUser   `json:"appreciated"`
	Author         string              `json:"author"`
	Tags           []TagRepresentation `json:"tags"`
	AnnotatedLikes int                 `json:"annotated_likes"`
	Rating         *string             `json:"rating"`
}

type PostDetailRepresentation struct {
	PostRepresentation
	DescriptionHTML string `json:"description_html"`
	ContentHTML     string `json:"content_html"`
}

type RelationRepresentation struct {
	User        uint `json:"user"`
	Post        uint `json:"post"`
	Like        bool `json:"like"`
	IsFavorites bool `json:"is_favorites"`
	Rate        *int `json:"rate"`
}

type CommentRepresentation struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	Post        string `json:"post"`
	Text        string `json:"text"`
	CreatedDate string `json:"created_date"`
}

type UserRepresentation struct {
	ID         uint      `json:"id"`
	Username   string    `json:"username"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email"`
	IsStaff    bool      `json:"is_staff"`
	DateJoined time.Time `json:"date_joined"`
}

func Tag(tag models.Tag) TagRepresentation {
	return TagRepresentation{Name: tag.Name, Slug: tag.Slug}
}

func Tags(tags []models.Tag) []TagRepresentation {
	out := make([]TagRepresentation, 0, len(tags))
	for _, tag := range tags {
		out = append(out, Tag(tag))
	}
	return out
}

func Post(post models.Post, stats aggregate.Stats) PostRepresentation {
	author := ""
	if post.Author != nil {
		author = post.Author.Username
	}

	appreciated := make([]AppreciatedUser, 0, len(stats.Appreciated))
	for _, u := range stats.Appreciated {
		appreciated = append(appreciated, AppreciatedUser{FirstName: u.FirstName, LastName: u.LastName})
	}

	return PostRepresentation{
		ID:             post.ID,
		H1:             post.H1,
		Title:          post.Title,
		Slug:           post.Slug,
		Description:    post.Description,
		Content:        post.Content,
		Image:          post.Image,
		CreatedAt:      post.CreatedAt.Format(dateLayout),
		Appreciated:    appreciated,
		Author:         author,
		Tags:           Tags(post.Tags),
		AnnotatedLikes: stats.AnnotatedLikes,
		Rating:         stats.FormattedRating(),
	}
}

// Posts keeps the order of posts; a post missing from stats is rendered
// with zero likes and no rating.
func Posts(posts []models.Post, stats map[uint]aggregate.Stats) []PostRepresentation {
	out := make([]PostRepresentation, 0, len(posts))
	for _, post := range posts {
		out = append(out, Post(post, stats[post.ID]))
	}
	return out
}

func PostDetail(post models.Post, stats aggregate.Stats) PostDetailRepresentation {
	return PostDetailRepresentation{
		PostRepresentation: Post(post, stats),
		DescriptionHTML:    renderMarkdown(post.Description),
		ContentHTML:        renderMarkdown(post.Content),
	}
}

func Relation(rel models.Relation) RelationRepresentation {
	return RelationRepresentation{
		User:        rel.UserID,
		Post:        rel.PostID,
		Like:        rel.Liked,
		IsFavorites: rel.IsFavorite,
		Rate:        rel.Rate,
	}
}

func Relations(rels []models.Relation) []RelationRepresentation {
	out := make([]RelationRepresentation, 0, len(rels))
	for _, rel := range rels {
		out = append(out, Relation(rel))
	}
	return out
}

// Comment needs the User and Post associations loaded to fill username and
// post slug.
func Comment(comment models.Comment) CommentRepresentation {
	rep := CommentRepresentation{
		ID:          comment.ID,
		Text:        comment.Text,
		CreatedDate: comment.CreatedAt.Format(dateLayout),
	}
	if comment.User != nil {
		rep.Username = comment.User.Username
	}
	if comment.Post != nil {
		rep.Post = comment.Post.Slug
	}
	return rep
}

func Comments(comments []models.Comment) []CommentRepresentation {
	out := make([]CommentRepresentation, 0, len(comments))
	for _, c := range comments {
		out = append(out, Comment(c))
	}
	return out
}

func User(user models.User) UserRepresentation {
	return UserRepresentation{
		ID:         user.ID,
		Username:   user.Username,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Email:      user.Email,
		IsStaff:    user.IsStaff,
		DateJoined: user.DateJoined,
	}
}
