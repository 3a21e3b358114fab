package relations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"blogapi/common"
	"blogapi/models"
)

// RateChoices are the accepted grades, lowest to highest.
var RateChoices = map[int]string{
	1: "Bad",
	2: "Not bad",
	3: "Normal",
	4: "Good",
	5: "Very good",
}

// Patch holds the fields a caller supplied. A nil pointer means "leave the
// column alone"; for the rating, RateSet with a nil Rate means "clear it".
type Patch struct {
	Like       *bool
	IsFavorite *bool
	Rate       *int
	RateSet    bool
}

// ParsePatch decodes a JSON relation update, remembering which keys were
// present. Read-only keys such as "user" and "post" are ignored.
func ParsePatch(body []byte) (Patch, error) {
	var patch Patch
	if len(bytes.TrimSpace(body)) == 0 {
		return patch, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return patch, common.NewValidationError("non_field_errors", "Invalid JSON body.")
	}

	verr := &common.ValidationError{}
	if v, ok := raw["like"]; ok {
		var like bool
		if err := json.Unmarshal(v, &like); err != nil {
			verr.Add("like", "Must be a valid boolean.")
		} else {
			patch.Like = &like
		}
	}
	if v, ok := raw["is_favorites"]; ok {
		var fav bool
		if err := json.Unmarshal(v, &fav); err != nil {
			verr.Add("is_favorites", "Must be a valid boolean.")
		} else {
			patch.IsFavorite = &fav
		}
	}
	if v, ok := raw["rate"]; ok {
		patch.RateSet = true
		if string(bytes.TrimSpace(v)) != "null" {
			var rate int
			if err := json.Unmarshal(v, &rate); err != nil {
				verr.Add("rate", "A valid integer is required.")
			} else {
				patch.Rate = &rate
			}
		}
	}

	if len(verr.Fields) > 0 {
		return Patch{}, verr
	}
	return patch, nil
}

func (p Patch) Validate() error {
	if p.Rate != nil {
		if _, ok := RateChoices[*p.Rate]; !ok {
			return common.NewValidationError("rate", fmt.Sprintf("\"%d\" is not a valid choice.", *p.Rate))
		}
	}
	return nil
}

func (p Patch) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.Like != nil {
		cols["liked"] = *p.Like
	}
	if p.IsFavorite != nil {
		cols["is_favorite"] = *p.IsFavorite
	}
	if p.RateSet {
		if p.Rate != nil {
			cols["rate"] = *p.Rate
		} else {
			cols["rate"] = nil
		}
	}
	return cols
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Upsert makes sure exactly one relation exists for (userID, postID) and
// merges the supplied fields into it. Validation happens before anything is
// written, so a rejected patch leaves the row untouched.
func (s *Store) Upsert(ctx context.Context, userID, postID uint, patch Patch) (*models.Relation, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	rel, err := s.upsert(ctx, userID, postID, patch)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// a concurrent writer created the row between our insert and read
		rel, err = s.upsert(ctx, userID, postID, patch)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, common.NewValidationError("non_field_errors", "The fields user, post must make a unique set.")
	}
	return rel, err
}

func (s *Store) upsert(ctx context.Context, userID, postID uint, patch Patch) (*models.Relation, error) {
	var rel models.Relation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.Select("id").First(&post, postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("post %d: %w", postID, common.ErrNotFound)
			}
			return fmt.Errorf("load post %d: %w", postID, err)
		}

		seed := models.Relation{UserID: userID, PostID: postID}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "post_id"}},
			DoNothing: true,
		}).Omit(clause.Associations).Create(&seed).Error
		if err != nil {
			return fmt.Errorf("seed relation: %w", err)
		}

		if err := tx.Where("user_id = ? AND post_id = ?", userID, postID).First(&rel).Error; err != nil {
			return fmt.Errorf("load relation: %w", err)
		}

		if cols := patch.columns(); len(cols) > 0 {
			if err := tx.Model(&models.Relation{}).Where("id = ?", rel.ID).Updates(cols).Error; err != nil {
				return fmt.Errorf("update relation: %w", err)
			}
			if err := tx.First(&rel, rel.ID).Error; err != nil {
				return fmt.Errorf("reload relation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

// Get reads a relation without creating it.
func (s *Store) Get(ctx context.Context, userID, postID uint) (*models.Relation, error) {
	var rel models.Relation
	err := s.db.WithContext(ctx).Where("user_id = ? AND post_id = ?", userID, postID).First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get relation: %w", err)
	}
	return &rel, nil
}

// Favorites lists relations marked as favorite, for everyone or for one
// username.
func (s *Store) Favorites(ctx context.Context, username string) ([]models.Relation, error) {
	q := s.db.WithContext(ctx).Model(&models.Relation{}).Where("user_post_relations.is_favorite = ?", true)
	if username != "" {
		q = q.Joins("JOIN users ON users.id = user_post_relations.user_id").Where("users.username = ?", username)
	}

	var rels []models.Relation
	if err := q.Order("user_post_relations.id ASC").Find(&rels).Error; err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return rels, nil
}
