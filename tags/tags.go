package tags

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"blogapi/common"
	"blogapi/models"
	"blogapi/presenter"
)

// Resolver looks a tag up by slug, failing with common.ErrNotFound.
type Resolver interface {
	Resolve(ctx context.Context, slug string) (*models.Tag, error)
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Resolve(ctx context.Context, slug string) (*models.Tag, error) {
	var tag models.Tag
	err := s.db.WithContext(ctx).Where("slug = ?", strings.ToLower(slug)).First(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("tag %q: %w", slug, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tag %q: %w", slug, err)
	}
	return &tag, nil
}

func (s *Store) List(ctx context.Context) ([]models.Tag, error) {
	var tags []models.Tag
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

// Ensure returns a tag for every name, creating the missing ones. It runs on
// whatever handle it is given so callers can include it in their transaction.
// Names that produce the same slug collapse into one tag.
func Ensure(tx *gorm.DB, names []string) ([]models.Tag, error) {
	out := make([]models.Tag, 0, len(names))
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		name = strings.TrimSpace(name)
		slug := common.GenerateSlug(name)
		if slug == "" {
			return nil, common.NewValidationError("tags", fmt.Sprintf("%q is not a valid tag.", name))
		}
		if seen[slug] {
			continue
		}
		seen[slug] = true

		var tag models.Tag
		if err := tx.Where(models.Tag{Slug: slug}).Attrs(models.Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
			return nil, fmt.Errorf("ensure tag %q: %w", name, err)
		}
		out = append(out, tag)
	}
	return out, nil
}

type TagsModule struct {
	store *Store
}

func NewTagsModule(store *Store) *TagsModule {
	return &TagsModule{store: store}
}

// RegisterRoutes only serves the tag list; posts by tag live with the post
// routes.
func (m *TagsModule) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tags/", m.list)
}

func (m *TagsModule) list(c *gin.Context) {
	tags, err := m.store.List(c.Request.Context())
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Tags(tags))
}
