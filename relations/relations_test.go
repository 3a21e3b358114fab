package relations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"blogapi/account"
	"blogapi/common"
	"blogapi/database"
	"blogapi/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=1"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.RunMigrations(db))
	return db
}

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	store := cookie.NewStore([]byte("secret"))
	router.Use(sessions.Sessions("test-session", store))
	router.Use(account.LoadCaller(db))
	router.GET("/test/login/:id", func(c *gin.Context) {
		id, _ := strconv.Atoi(c.Param("id"))
		account.Login(c, &models.User{ID: uint(id)})
		c.Status(http.StatusNoContent)
	})
	NewRelationsModule(NewStore(db)).RegisterRoutes(&router.RouterGroup)
	return router
}

func loginAs(t *testing.T, router *gin.Engine, user *models.User) []*http.Cookie {
	req, _ := http.NewRequest("GET", fmt.Sprintf("/test/login/%d", user.ID), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	return w.Result().Cookies()
}

func doRequest(router *gin.Engine, method, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createTestUser(db *gorm.DB, username string) *models.User {
	user := &models.User{Username: username, PasswordHash: "hashedpassword"}
	db.Create(user)
	return user
}

func createTestPost(db *gorm.DB, slug string, author *models.User) *models.Post {
	post := &models.Post{H1: "heading", Title: slug, Slug: slug, Description: "d", Content: "c", AuthorID: &author.ID}
	db.Create(post)
	return post
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func countRelations(db *gorm.DB, userID, postID uint) int64 {
	var n int64
	db.Model(&models.Relation{}).Where("user_id = ? AND post_id = ?", userID, postID).Count(&n)
	return n
}

func TestParsePatch(t *testing.T) {
	patch, err := ParsePatch([]byte(`{"like": true, "rate": 4, "user": 99}`))
	require.NoError(t, err)
	require.NotNil(t, patch.Like)
	assert.True(t, *patch.Like)
	assert.Nil(t, patch.IsFavorite)
	assert.True(t, patch.RateSet)
	assert.Equal(t, 4, *patch.Rate)

	patch, err = ParsePatch([]byte(`{"rate": null}`))
	require.NoError(t, err)
	assert.True(t, patch.RateSet)
	assert.Nil(t, patch.Rate)

	patch, err = ParsePatch(nil)
	require.NoError(t, err)
	assert.Empty(t, patch.columns())
}

func TestParsePatch_Invalid(t *testing.T) {
	tests := []struct {
		body  string
		field string
	}{
		{`not json`, "non_field_errors"},
		{`{"like": "yes"}`, "like"},
		{`{"is_favorites": 1}`, "is_favorites"},
		{`{"rate": 4.5}`, "rate"},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			_, err := ParsePatch([]byte(tt.body))

			var verr *common.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestPatchValidate(t *testing.T) {
	for r := 1; r <= 5; r++ {
		assert.NoError(t, Patch{Rate: intPtr(r)}.Validate())
	}
	for _, r := range []int{0, 6, -1} {
		var verr *common.ValidationError
		assert.ErrorAs(t, Patch{Rate: intPtr(r)}.Validate(), &verr)
	}
	assert.NoError(t, Patch{RateSet: true}.Validate())
}

func TestUpsert_CreatesDefaultRow(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	user := createTestUser(db, "reader")
	post := createTestPost(db, "post1", user)

	rel, err := store.Upsert(context.Background(), user.ID, post.ID, Patch{})
	require.NoError(t, err)

	assert.Equal(t, user.ID, rel.UserID)
	assert.Equal(t, post.ID, rel.PostID)
	assert.False(t, rel.Liked)
	assert.False(t, rel.IsFavorite)
	assert.Nil(t, rel.Rate)
	assert.Equal(t, int64(1), countRelations(db, user.ID, post.ID))
}

func TestUpsert_MergesOnlySuppliedFields(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	user := createTestUser(db, "reader")
	post := createTestPost(db, "post1", user)

	_, err := store.Upsert(ctx, user.ID, post.ID, Patch{Like: boolPtr(true), Rate: intPtr(3), RateSet: true})
	require.NoError(t, err)

	rel, err := store.Upsert(ctx, user.ID, post.ID, Patch{IsFavorite: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, rel.Liked)
	assert.True(t, rel.IsFavorite)
	require.NotNil(t, rel.Rate)
	assert.Equal(t, 3, *rel.Rate)

	rel, err = store.Upsert(ctx, user.ID, post.ID, Patch{Like: boolPtr(false), RateSet: true})
	require.NoError(t, err)
	assert.False(t, rel.Liked)
	assert.True(t, rel.IsFavorite)
	assert.Nil(t, rel.Rate)

	assert.Equal(t, int64(1), countRelations(db, user.ID, post.ID))
}

func TestUpsert_OutOfRangeLeavesRowUntouched(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	user := createTestUser(db, "reader")
	post := createTestPost(db, "post1", user)

	_, err := store.Upsert(ctx, user.ID, post.ID, Patch{Rate: intPtr(2), RateSet: true})
	require.NoError(t, err)

	_, err = store.Upsert(ctx, user.ID, post.ID, Patch{Like: boolPtr(true), Rate: intPtr(6), RateSet: true})
	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "rate")

	rel, err := store.Get(ctx, user.ID, post.ID)
	require.NoError(t, err)
	assert.False(t, rel.Liked)
	assert.Equal(t, 2, *rel.Rate)
}

func TestUpsert_OutOfRangeDoesNotCreateRow(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	user := createTestUser(db, "reader")
	post := createTestPost(db, "post1", user)

	_, err := store.Upsert(context.Background(), user.ID, post.ID, Patch{Rate: intPtr(0), RateSet: true})
	assert.Error(t, err)
	assert.Equal(t, int64(0), countRelations(db, user.ID, post.ID))
}

func TestUpsert_UnknownPost(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	user := createTestUser(db, "reader")

	_, err := store.Upsert(context.Background(), user.ID, 999, Patch{Like: boolPtr(true)})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpsert_ManyCallsOneRow(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	user := createTestUser(db, "reader")
	post := createTestPost(db, "post1", user)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Upsert(context.Background(), user.ID, post.ID, Patch{Like: boolPtr(i%2 == 0)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), countRelations(db, user.ID, post.ID))
}

func TestUniqueIndexRejectsDuplicates(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(db, "reader")
	post := createTestPost(db, "post1", user)

	require.NoError(t, db.Create(&models.Relation{UserID: user.ID, PostID: post.ID}).Error)
	err := db.Create(&models.Relation{UserID: user.ID, PostID: post.ID}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestFavorites(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	alice := createTestUser(db, "alice")
	bob := createTestUser(db, "bob")
	post1 := createTestPost(db, "post1", alice)
	post2 := createTestPost(db, "post2", alice)

	store.Upsert(ctx, alice.ID, post1.ID, Patch{IsFavorite: boolPtr(true)})
	store.Upsert(ctx, alice.ID, post2.ID, Patch{Like: boolPtr(true)})
	store.Upsert(ctx, bob.ID, post2.ID, Patch{IsFavorite: boolPtr(true)})

	all, err := store.Favorites(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	bobs, err := store.Favorites(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, post2.ID, bobs[0].PostID)
}

func TestRelationCascadesWithPost(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(db, "reader")
	post := createTestPost(db, "post1", user)
	require.NoError(t, db.Create(&models.Relation{UserID: user.ID, PostID: post.ID, Liked: true}).Error)

	require.NoError(t, db.Delete(&models.Post{}, post.ID).Error)
	assert.Equal(t, int64(0), countRelations(db, user.ID, post.ID))
}

func TestPatchRelation_Unauthenticated(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(db, "author")
	post := createTestPost(db, "post1", user)

	w := doRequest(router, "PATCH", fmt.Sprintf("/posts_relations/%d/", post.ID), `{"like": true}`, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, int64(0), countRelations(db, user.ID, post.ID))
}

func TestPatchRelation_Success(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	author := createTestUser(db, "author")
	reader := createTestUser(db, "reader")
	post := createTestPost(db, "post1", author)
	cookies := loginAs(t, router, reader)

	w := doRequest(router, "PATCH", fmt.Sprintf("/posts_relations/%d/", post.ID), `{"like": true, "rate": 5}`, cookies)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"user":%d,"post":%d,"like":true,"is_favorites":false,"rate":5}`, reader.ID, post.ID), w.Body.String())

	w = doRequest(router, "PATCH", fmt.Sprintf("/posts_relations/%d/", post.ID), `{"is_favorites": true}`, cookies)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["like"])
	assert.Equal(t, true, body["is_favorites"])
	assert.Equal(t, float64(5), body["rate"])

	assert.Equal(t, int64(1), countRelations(db, reader.ID, post.ID))
}

func TestPutRelation_MergesLikePatch(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	author := createTestUser(db, "author")
	reader := createTestUser(db, "reader")
	post := createTestPost(db, "post1", author)
	cookies := loginAs(t, router, reader)

	w := doRequest(router, "PATCH", fmt.Sprintf("/posts_relations/%d/", post.ID), `{"like": true, "rate": 3}`, cookies)
	require.Equal(t, http.StatusOK, w.Code)

	// keys missing from a PUT body keep their stored values
	w = doRequest(router, "PUT", fmt.Sprintf("/posts_relations/%d/", post.ID), `{"is_favorites": true}`, cookies)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"user":%d,"post":%d,"like":true,"is_favorites":true,"rate":3}`, reader.ID, post.ID), w.Body.String())

	assert.Equal(t, int64(1), countRelations(db, reader.ID, post.ID))
}

func TestPatchRelation_RateOutOfRange(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	author := createTestUser(db, "author")
	reader := createTestUser(db, "reader")
	post := createTestPost(db, "post1", author)
	cookies := loginAs(t, router, reader)

	w := doRequest(router, "PATCH", fmt.Sprintf("/posts_relations/%d/", post.ID), `{"rate": 6}`, cookies)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"rate"`)

	w = doRequest(router, "GET", fmt.Sprintf("/posts_relations/%d/", post.ID), "", cookies)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, "PATCH", fmt.Sprintf("/posts_relations/%d/", post.ID), `{}`, cookies)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rate":null`)
}

func TestPatchRelation_UnknownPost(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	reader := createTestUser(db, "reader")
	cookies := loginAs(t, router, reader)

	w := doRequest(router, "PATCH", "/posts_relations/42/", `{"like": true}`, cookies)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, "PATCH", "/posts_relations/abc/", `{"like": true}`, cookies)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFavoritesEndpoint_Open(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(db, "reader")
	post := createTestPost(db, "post1", user)
	db.Create(&models.Relation{UserID: user.ID, PostID: post.ID, IsFavorite: true})

	w := doRequest(router, "GET", "/favorites/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, true, body[0]["is_favorites"])
}
