// Package policy decides whether a caller may read or mutate posts,
// relations and comments. Every function here is pure: the caller is passed
// in explicitly and nothing is read from request state.
package policy

import (
	"blogapi/common"
	"blogapi/models"
)

// Action names the operations the post and relation endpoints perform.
type Action int

const (
	List Action = iota
	Get
	Create
	Update
	Delete
	UpsertRelation
)

func (a Action) String() string {
	switch a {
	case List:
		return "list"
	case Get:
		return "get"
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case UpsertRelation:
		return "upsert_relation"
	default:
		return "unknown"
	}
}

func authenticated(caller *models.User) bool {
	return caller != nil && caller.ID != 0
}

// CanRead is open to everyone, anonymous callers included.
func CanRead(caller *models.User, post *models.Post) bool {
	return true
}

// CanWrite allows the post's author and staff users.
func CanWrite(caller *models.User, post *models.Post) bool {
	if !authenticated(caller) || post == nil {
		return false
	}
	if caller.IsStaff {
		return true
	}
	return post.AuthorID != nil && *post.AuthorID == caller.ID
}

// Allow turns the boolean decisions into the error the HTTP layer reports.
// post may be nil for actions that do not target an existing post.
func Allow(action Action, caller *models.User, post *models.Post) error {
	switch action {
	case List, Get:
		if CanRead(caller, post) {
			return nil
		}
		return common.ErrForbidden
	case Create, UpsertRelation:
		if !authenticated(caller) {
			return common.ErrUnauthenticated
		}
		return nil
	case Update, Delete:
		if !authenticated(caller) {
			return common.ErrUnauthenticated
		}
		if !CanWrite(caller, post) {
			return common.ErrForbidden
		}
		return nil
	default:
		return common.ErrForbidden
	}
}

// CommentPolicy controls who may leave comments.
type CommentPolicy struct {
	RequireAuth bool
}

func (p CommentPolicy) Allow(caller *models.User) error {
	if p.RequireAuth && !authenticated(caller) {
		return common.ErrUnauthenticated
	}
	return nil
}
