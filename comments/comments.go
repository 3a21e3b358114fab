package comments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"blogapi/account"
	"blogapi/common"
	"blogapi/models"
	"blogapi/policy"
	"blogapi/presenter"
)

type CommentsModule struct {
	db     *gorm.DB
	policy policy.CommentPolicy
}

func NewCommentsModule(db *gorm.DB, p policy.CommentPolicy) *CommentsModule {
	return &CommentsModule{db: db, policy: p}
}

func (m *CommentsModule) RegisterRoutes(rg *gin.RouterGroup) {
	commentsGroup := rg.Group("/comments")
	{
		commentsGroup.GET("/", m.list)
		commentsGroup.POST("/", m.create)
		commentsGroup.GET("/:post_slug/", m.byPost)
	}
}

// List returns comments newest first. postSlug narrows the result to one
// post; an unknown slug is ErrNotFound.
func (m *CommentsModule) List(ctx context.Context, postSlug string) ([]models.Comment, error) {
	q := m.db.WithContext(ctx).Preload("User").Preload("Post").Order("created_at DESC, id DESC")

	if postSlug != "" {
		var post models.Post
		err := m.db.WithContext(ctx).Select("id").Where("slug = ?", postSlug).First(&post).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("post %q: %w", postSlug, common.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("find post %q: %w", postSlug, err)
		}
		q = q.Where("post_id = ?", post.ID)
	}

	var comments []models.Comment
	if err := q.Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

type createPayload struct {
	Post     string `json:"post"`
	Text     string `json:"text"`
	Username string `json:"username"`
}

// Create stores a comment by author on the post with the given slug.
func (m *CommentsModule) Create(ctx context.Context, author *models.User, postSlug, text string) (*models.Comment, error) {
	verr := &common.ValidationError{}
	if strings.TrimSpace(postSlug) == "" {
		verr.Add("post", "This field is required.")
	}
	if strings.TrimSpace(text) == "" {
		verr.Add("text", "This field may not be blank.")
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	db := m.db.WithContext(ctx)

	var post models.Post
	if err := db.Where("slug = ?", postSlug).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewValidationError("post", fmt.Sprintf("Object with slug=%s does not exist.", postSlug))
		}
		return nil, fmt.Errorf("find post %q: %w", postSlug, err)
	}

	comment := models.Comment{PostID: post.ID, UserID: author.ID, Text: text}
	if err := db.Create(&comment).Error; err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}

	if err := db.Preload("User").Preload("Post").First(&comment, comment.ID).Error; err != nil {
		return nil, fmt.Errorf("reload comment: %w", err)
	}
	return &comment, nil
}

func (m *CommentsModule) list(c *gin.Context) {
	comments, err := m.List(c.Request.Context(), "")
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Comments(comments))
}

func (m *CommentsModule) byPost(c *gin.Context) {
	comments, err := m.List(c.Request.Context(), c.Param("post_slug"))
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Comments(comments))
}

func (m *CommentsModule) create(c *gin.Context) {
	caller := account.Caller(c)
	if err := m.policy.Allow(caller); err != nil {
		common.RespondError(c, err)
		return
	}

	var payload createPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		common.RespondError(c, common.NewValidationError("non_field_errors", "Invalid JSON body."))
		return
	}

	author, err := m.resolveAuthor(c.Request.Context(), caller, payload.Username)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	comment, err := m.Create(c.Request.Context(), author, payload.Post, payload.Text)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	log.Printf("comment %d by %s on %q", comment.ID, author.Username, payload.Post)
	c.JSON(http.StatusCreated, presenter.Comment(*comment))
}

// resolveAuthor prefers the session user; open comment mode falls back to
// the username named in the payload.
func (m *CommentsModule) resolveAuthor(ctx context.Context, caller *models.User, username string) (*models.User, error) {
	if caller != nil {
		return caller, nil
	}
	if strings.TrimSpace(username) == "" {
		return nil, common.NewValidationError("username", "This field is required.")
	}

	var user models.User
	err := m.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewValidationError("username", fmt.Sprintf("Object with username=%s does not exist.", username))
	}
	if err != nil {
		return nil, fmt.Errorf("find user %q: %w", username, err)
	}
	return &user, nil
}
