package relations

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"blogapi/account"
	"blogapi/common"
	"blogapi/policy"
	"blogapi/presenter"
)

type RelationsModule struct {
	store *Store
}

func NewRelationsModule(store *Store) *RelationsModule {
	return &RelationsModule{store: store}
}

// RegisterRoutes serves PUT with the same merge as PATCH: every relation
// field has a default, so a full replace is never needed.
func (m *RelationsModule) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/posts_relations")
	group.Use(account.RequireAuth)
	{
		group.GET("/:post/", m.get)
		group.PATCH("/:post/", m.upsert)
		group.PUT("/:post/", m.upsert)
	}

	rg.GET("/favorites/", m.favorites)
}

func postParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("post"), 10, 64)
	if err != nil || id == 0 {
		common.RespondError(c, common.ErrNotFound)
		return 0, false
	}
	return uint(id), true
}

func (m *RelationsModule) get(c *gin.Context) {
	postID, ok := postParam(c)
	if !ok {
		return
	}

	rel, err := m.store.Get(c.Request.Context(), account.Caller(c).ID, postID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Relation(*rel))
}

func (m *RelationsModule) upsert(c *gin.Context) {
	caller := account.Caller(c)
	if err := policy.Allow(policy.UpsertRelation, caller, nil); err != nil {
		common.RespondError(c, err)
		return
	}

	postID, ok := postParam(c)
	if !ok {
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		common.RespondError(c, common.NewValidationError("non_field_errors", "Could not read request body."))
		return
	}

	patch, err := ParsePatch(body)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	rel, err := m.store.Upsert(c.Request.Context(), caller.ID, postID, patch)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Relation(*rel))
}

func (m *RelationsModule) favorites(c *gin.Context) {
	rels, err := m.store.Favorites(c.Request.Context(), c.Query("user"))
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Relations(rels))
}
