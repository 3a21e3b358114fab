package server

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"blogapi/account"
	"blogapi/aggregate"
	"blogapi/cache"
	"blogapi/comments"
	"blogapi/common"
	"blogapi/email"
	"blogapi/feedback"
	"blogapi/policy"
	"blogapi/posts"
	"blogapi/relations"
	"blogapi/tags"
)

const sessionName = "blog-session"

type module interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// NewRouter builds the API engine. index may be nil to search in the
// database instead of Elasticsearch.
func NewRouter(db *gorm.DB, cfg *common.Config, mailer email.Mailer, index posts.SearchIndex) *gin.Engine {
	router := gin.Default()

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   false,
	})

	router.Use(sessions.Sessions(sessionName, store))
	router.Use(account.LoadCaller(db))
	router.Use(cache.ETagMiddleware())

	tagStore := tags.NewStore(db)
	repo := posts.NewRepository(db, aggregate.NewEngine(db), tagStore, index)

	modules := []module{
		account.NewAccountModule(db),
		posts.NewPostsModule(repo, cfg.PageSize),
		tags.NewTagsModule(tagStore),
		relations.NewRelationsModule(relations.NewStore(db)),
		comments.NewCommentsModule(db, policy.CommentPolicy{RequireAuth: cfg.CommentsRequireAuth}),
		feedback.NewFeedbackModule(mailer, cfg.FeedbackRecipient),
	}

	for _, prefix := range []string{"/api", "/api/v1"} {
		group := router.Group(prefix)
		for _, m := range modules {
			m.RegisterRoutes(group)
		}
	}

	return router
}
