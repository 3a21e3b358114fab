package posts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"blogapi/aggregate"
	"blogapi/common"
	"blogapi/models"
	"blogapi/policy"
	"blogapi/tags"
)

type Order int

const (
	OrderByID Order = iota
	OrderRecent
)

type Filter struct {
	Search  string
	TagSlug string
	Order   Order
	Limit   int // 0 means no limit
	Offset  int
}

// Page is one slice of a listing together with the aggregates for its posts
// and the size of the whole result set.
type Page struct {
	Posts []models.Post
	Stats map[uint]aggregate.Stats
	Total int64
}

type Annotated struct {
	Post  models.Post
	Stats aggregate.Stats
}

// Input carries post fields from a request. Nil means not supplied.
type Input struct {
	H1          *string   `json:"h1"`
	Title       *string   `json:"title"`
	Slug        *string   `json:"slug"`
	Description *string   `json:"description"`
	Content     *string   `json:"content"`
	Image       *string   `json:"image"`
	Tags        *[]string `json:"tags"`
}

// SearchIndex is an external full-text index over post content and heading.
type SearchIndex interface {
	IndexPost(ctx context.Context, post *models.Post) error
	DeletePost(ctx context.Context, id uint) error
	Search(ctx context.Context, term string) ([]uint, error)
}

type Repository struct {
	db     *gorm.DB
	engine *aggregate.Engine
	tags   tags.Resolver
	index  SearchIndex
}

// NewRepository wires the repository; index may be nil, in which case
// search falls back to substring matching in the database.
func NewRepository(db *gorm.DB, engine *aggregate.Engine, resolver tags.Resolver, index SearchIndex) *Repository {
	return &Repository{db: db, engine: engine, tags: resolver, index: index}
}

func (r *Repository) List(ctx context.Context, f Filter) (*Page, error) {
	q := r.db.WithContext(ctx).Model(&models.Post{})

	if term := strings.TrimSpace(f.Search); term != "" {
		if r.index != nil {
			ids, err := r.index.Search(ctx, term)
			if err != nil {
				return nil, fmt.Errorf("search index: %w", err)
			}
			if len(ids) == 0 {
				return &Page{Stats: map[uint]aggregate.Stats{}}, nil
			}
			q = q.Where("posts.id IN ?", ids)
		} else {
			like := "%" + escapeLike(strings.ToLower(term)) + "%"
			q = q.Where(`LOWER(posts.content) LIKE ? ESCAPE '\' OR LOWER(posts.h1) LIKE ? ESCAPE '\'`, like, like)
		}
	}

	if f.TagSlug != "" {
		tag, err := r.tags.Resolve(ctx, f.TagSlug)
		if err != nil {
			return nil, err
		}
		q = q.Where("posts.id IN (?)", r.db.Table("post_tags").Select("post_id").Where("tag_id = ?", tag.ID))
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}

	order := "posts.id ASC"
	if f.Order == OrderRecent {
		order = "posts.id DESC"
	}

	find := q.Preload("Author").Preload("Tags").Order(order)
	if f.Limit > 0 {
		find = find.Limit(f.Limit).Offset(f.Offset)
	}

	var posts []models.Post
	if err := find.Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	stats, err := r.engine.Compute(ctx, postIDs(posts))
	if err != nil {
		return nil, err
	}
	return &Page{Posts: posts, Stats: stats, Total: total}, nil
}

// Latest returns the n most recent posts, newest first.
func (r *Repository) Latest(ctx context.Context, n int) (*Page, error) {
	return r.List(ctx, Filter{Order: OrderRecent, Limit: n})
}

func (r *Repository) Get(ctx context.Context, slug string) (*Annotated, error) {
	post, err := r.load(r.db.WithContext(ctx), slug)
	if err != nil {
		return nil, err
	}
	return r.annotate(ctx, post)
}

func (r *Repository) Create(ctx context.Context, in Input, author *models.User) (*Annotated, error) {
	if err := policy.Allow(policy.Create, author, nil); err != nil {
		return nil, err
	}
	if err := validate(in, false); err != nil {
		return nil, err
	}

	post := models.Post{
		H1:          strings.TrimSpace(*in.H1),
		Title:       strings.TrimSpace(*in.Title),
		Slug:        *in.Slug,
		Description: *in.Description,
		Content:     *in.Content,
		Image:       in.Image,
		AuthorID:    &author.ID,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureSlugFree(tx, post.Slug, 0); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(&post).Error; err != nil {
			return translate(err)
		}
		if in.Tags != nil {
			return replaceTags(tx, &post, *in.Tags)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	saved, err := r.load(r.db.WithContext(ctx), post.Slug)
	if err != nil {
		return nil, err
	}
	r.reindex(saved)
	log.Printf("post %q created by %s", saved.Slug, author.Username)
	return r.annotate(ctx, saved)
}

// Update checks the policy before touching anything. partial selects PATCH
// semantics; otherwise every required field must be present.
func (r *Repository) Update(ctx context.Context, slug string, in Input, caller *models.User, partial bool) (*Annotated, error) {
	db := r.db.WithContext(ctx)
	post, err := r.load(db, slug)
	if err != nil {
		return nil, err
	}
	if err := policy.Allow(policy.Update, caller, post); err != nil {
		return nil, err
	}
	if err := validate(in, partial); err != nil {
		return nil, err
	}

	cols := map[string]interface{}{}
	if in.H1 != nil {
		cols["h1"] = strings.TrimSpace(*in.H1)
	}
	if in.Title != nil {
		cols["title"] = strings.TrimSpace(*in.Title)
	}
	if in.Slug != nil {
		cols["slug"] = *in.Slug
	}
	if in.Description != nil {
		cols["description"] = *in.Description
	}
	if in.Content != nil {
		cols["content"] = *in.Content
	}
	if in.Image != nil || !partial {
		cols["image"] = in.Image
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if in.Slug != nil && *in.Slug != post.Slug {
			if err := ensureSlugFree(tx, *in.Slug, post.ID); err != nil {
				return err
			}
		}
		if len(cols) > 0 {
			if err := tx.Model(&models.Post{}).Where("id = ?", post.ID).Updates(cols).Error; err != nil {
				return translate(err)
			}
		}
		if in.Tags != nil {
			return replaceTags(tx, post, *in.Tags)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	newSlug := post.Slug
	if in.Slug != nil {
		newSlug = *in.Slug
	}
	saved, err := r.load(db, newSlug)
	if err != nil {
		return nil, err
	}
	r.reindex(saved)
	return r.annotate(ctx, saved)
}

func (r *Repository) Delete(ctx context.Context, slug string, caller *models.User) error {
	db := r.db.WithContext(ctx)
	post, err := r.load(db, slug)
	if err != nil {
		return err
	}
	if err := policy.Allow(policy.Delete, caller, post); err != nil {
		return err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(post).Association("Tags").Clear(); err != nil {
			return fmt.Errorf("clear tags: %w", err)
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Comment{}).Error; err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Relation{}).Error; err != nil {
			return fmt.Errorf("delete relations: %w", err)
		}
		if err := tx.Delete(&models.Post{}, post.ID).Error; err != nil {
			return fmt.Errorf("delete post: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if r.index != nil {
		go func(id uint) {
			if err := r.index.DeletePost(context.Background(), id); err != nil {
				log.Printf("Failed to remove post %d from search index: %v", id, err)
			}
		}(post.ID)
	}
	return nil
}

func (r *Repository) load(db *gorm.DB, slug string) (*models.Post, error) {
	var post models.Post
	err := db.Preload("Author").Preload("Tags").Where("slug = ?", slug).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("post %q: %w", slug, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load post %q: %w", slug, err)
	}
	return &post, nil
}

func (r *Repository) annotate(ctx context.Context, post *models.Post) (*Annotated, error) {
	stats, err := r.engine.Compute(ctx, []uint{post.ID})
	if err != nil {
		return nil, err
	}
	return &Annotated{Post: *post, Stats: stats[post.ID]}, nil
}

func (r *Repository) reindex(post *models.Post) {
	if r.index == nil {
		return
	}
	snapshot := *post
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.index.IndexPost(ctx, &snapshot); err != nil {
			log.Printf("Failed to index post %d: %v", snapshot.ID, err)
		}
	}()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes the LIKE wildcards in term match themselves.
func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}

func postIDs(posts []models.Post) []uint {
	ids := make([]uint, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}

func validate(in Input, partial bool) error {
	verr := &common.ValidationError{}

	required := []struct {
		name  string
		value *string
		limit int
	}{
		{"h1", in.H1, 200},
		{"title", in.Title, 200},
		{"slug", in.Slug, 200},
		{"description", in.Description, 0},
		{"content", in.Content, 0},
	}
	for _, f := range required {
		if f.value == nil {
			if !partial {
				verr.Add(f.name, "This field is required.")
			}
			continue
		}
		if strings.TrimSpace(*f.value) == "" {
			verr.Add(f.name, "This field may not be blank.")
			continue
		}
		if f.limit > 0 && len([]rune(*f.value)) > f.limit {
			verr.Add(f.name, fmt.Sprintf("Ensure this field has no more than %d characters.", f.limit))
		}
	}

	if in.Slug != nil && strings.TrimSpace(*in.Slug) != "" && !common.ValidSlug(*in.Slug) {
		verr.Add("slug", "Enter a valid \"slug\" consisting of letters, numbers, underscores or hyphens.")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func ensureSlugFree(tx *gorm.DB, slug string, exceptID uint) error {
	var n int64
	if err := tx.Model(&models.Post{}).Where("slug = ? AND id <> ?", slug, exceptID).Count(&n).Error; err != nil {
		return fmt.Errorf("check slug: %w", err)
	}
	if n > 0 {
		return common.NewValidationError("slug", "post with this slug already exists.")
	}
	return nil
}

func replaceTags(tx *gorm.DB, post *models.Post, names []string) error {
	resolved, err := tags.Ensure(tx, names)
	if err != nil {
		return err
	}
	if err := tx.Model(post).Association("Tags").Replace(resolved); err != nil {
		return fmt.Errorf("replace tags: %w", err)
	}
	return nil
}

// translate turns a unique violation that slipped past ensureSlugFree (two
// racing creates) into the same validation error.
func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return common.NewValidationError("slug", "post with this slug already exists.")
	}
	return fmt.Errorf("save post: %w", err)
}
