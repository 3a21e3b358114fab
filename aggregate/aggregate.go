// Package aggregate derives per-post like counts, average ratings and the
// list of appreciating users from relation rows. Nothing is stored: every
// call reads the current rows.
package aggregate

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"blogapi/models"
)

type Stats struct {
	AnnotatedLikes int
	Rating         *float64
	RateSum        int
	RateCount      int
	Appreciated    []models.User
}

// FormattedRating renders RateSum/RateCount with two fractional digits, or
// nil when nobody has rated the post. Rounding is done on integers, half to
// even, so exact ties such as 2.675 are not skewed by float representation.
func (s Stats) FormattedRating() *string {
	if s.RateCount <= 0 {
		return nil
	}
	scaled := s.RateSum * 100
	q, r := scaled/s.RateCount, scaled%s.RateCount
	if 2*r > s.RateCount || (2*r == s.RateCount && q%2 == 1) {
		q++
	}
	v := fmt.Sprintf("%d.%02d", q/100, q%100)
	return &v
}

// Fold computes stats for every post that appears in relations in one pass.
// Relations should be ordered by id so Appreciated keeps insertion order.
func Fold(relations []models.Relation) map[uint]Stats {
	type acc struct {
		likes       int
		rateSum     int
		rateCount   int
		appreciated []models.User
	}

	accs := make(map[uint]*acc)
	for _, rel := range relations {
		a, ok := accs[rel.PostID]
		if !ok {
			a = &acc{}
			accs[rel.PostID] = a
		}
		if rel.Liked {
			a.likes++
		}
		if rel.Rate != nil {
			a.rateSum += *rel.Rate
			a.rateCount++
		}
		if rel.User != nil {
			a.appreciated = append(a.appreciated, *rel.User)
		}
	}

	out := make(map[uint]Stats, len(accs))
	for postID, a := range accs {
		s := Stats{
			AnnotatedLikes: a.likes,
			RateSum:        a.rateSum,
			RateCount:      a.rateCount,
			Appreciated:    a.appreciated,
		}
		if a.rateCount > 0 {
			mean := float64(a.rateSum) / float64(a.rateCount)
			s.Rating = &mean
		}
		out[postID] = s
	}
	return out
}

type Engine struct {
	db *gorm.DB
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// Compute returns stats for each of postIDs. It issues one relations query
// (plus the users preload) no matter how many posts are asked for. Ids
// without relations map to the zero Stats.
func (e *Engine) Compute(ctx context.Context, postIDs []uint) (map[uint]Stats, error) {
	out := make(map[uint]Stats, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}

	var relations []models.Relation
	err := e.db.WithContext(ctx).
		Preload("User").
		Where("post_id IN ?", postIDs).
		Order("id ASC").
		Find(&relations).Error
	if err != nil {
		return nil, fmt.Errorf("load relations: %w", err)
	}

	folded := Fold(relations)
	for _, id := range postIDs {
		out[id] = folded[id]
	}
	return out, nil
}
