package posts

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"blogapi/account"
	"blogapi/common"
	"blogapi/presenter"
)

const asideSize = 5

type PostsModule struct {
	repo     *Repository
	pageSize int
}

func NewPostsModule(repo *Repository, pageSize int) *PostsModule {
	if pageSize < 1 {
		pageSize = 6
	}
	return &PostsModule{repo: repo, pageSize: pageSize}
}

func (m *PostsModule) RegisterRoutes(rg *gin.RouterGroup) {
	postsGroup := rg.Group("/posts")
	{
		postsGroup.GET("/", m.list)
		postsGroup.POST("/", account.RequireAuth, m.create)
		postsGroup.GET("/:slug/", m.detail)
		postsGroup.PUT("/:slug/", m.update)
		postsGroup.PATCH("/:slug/", m.partialUpdate)
		postsGroup.DELETE("/:slug/", m.delete)
	}

	rg.GET("/tags/:tag_slug/", m.byTag)
	rg.GET("/aside/", m.aside)
}

type pageResponse struct {
	Count    int64                          `json:"count"`
	Next     *string                        `json:"next"`
	Previous *string                        `json:"previous"`
	Results  []presenter.PostRepresentation `json:"results"`
}

func (m *PostsModule) list(c *gin.Context) {
	m.respondPage(c, Filter{Search: c.Query("search")})
}

func (m *PostsModule) byTag(c *gin.Context) {
	m.respondPage(c, Filter{TagSlug: c.Param("tag_slug"), Search: c.Query("search")})
}

func (m *PostsModule) respondPage(c *gin.Context, f Filter) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			common.RespondError(c, common.ErrNotFound)
			return
		}
		page = n
	}

	f.Limit = m.pageSize
	f.Offset = (page - 1) * m.pageSize

	result, err := m.repo.List(c.Request.Context(), f)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	if page > 1 && len(result.Posts) == 0 {
		common.RespondError(c, common.ErrNotFound)
		return
	}

	resp := pageResponse{
		Count:   result.Total,
		Results: presenter.Posts(result.Posts, result.Stats),
	}
	if int64(page*m.pageSize) < result.Total {
		resp.Next = pageURL(c.Request.URL, page+1)
	}
	if page > 1 {
		resp.Previous = pageURL(c.Request.URL, page-1)
	}
	c.JSON(http.StatusOK, resp)
}

func pageURL(current *url.URL, page int) *string {
	u := *current
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	s := u.RequestURI()
	return &s
}

func (m *PostsModule) aside(c *gin.Context) {
	result, err := m.repo.Latest(c.Request.Context(), asideSize)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Posts(result.Posts, result.Stats))
}

func (m *PostsModule) detail(c *gin.Context) {
	post, err := m.repo.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.PostDetail(post.Post, post.Stats))
}

func bindInput(c *gin.Context) (Input, bool) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		common.RespondError(c, common.NewValidationError("non_field_errors", "Invalid JSON body."))
		return in, false
	}
	return in, true
}

func (m *PostsModule) create(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}

	post, err := m.repo.Create(c.Request.Context(), in, account.Caller(c))
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, presenter.Post(post.Post, post.Stats))
}

func (m *PostsModule) update(c *gin.Context) {
	m.save(c, false)
}

func (m *PostsModule) partialUpdate(c *gin.Context) {
	m.save(c, true)
}

func (m *PostsModule) save(c *gin.Context, partial bool) {
	in, ok := bindInput(c)
	if !ok {
		return
	}

	post, err := m.repo.Update(c.Request.Context(), c.Param("slug"), in, account.Caller(c), partial)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Post(post.Post, post.Stats))
}

func (m *PostsModule) delete(c *gin.Context) {
	if err := m.repo.Delete(c.Request.Context(), c.Param("slug"), account.Caller(c)); err != nil {
		common.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
