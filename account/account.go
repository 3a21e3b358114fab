package account

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"blogapi/common"
	"blogapi/models"
	"blogapi/presenter"
)

const (
	sessionUserKey = "user_id"
	callerKey      = "caller"
)

// passwordCost is a variable so tests can use bcrypt.MinCost.
var passwordCost = 14

type AccountModule struct {
	db *gorm.DB
}

func NewAccountModule(db *gorm.DB) *AccountModule {
	return &AccountModule{db: db}
}

func (a *AccountModule) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/register/", a.register)
	rg.POST("/login/", a.login)
	rg.POST("/logout/", a.logout)
	rg.GET("/profile/", RequireAuth, a.profile)
	rg.DELETE("/profile/", RequireAuth, a.deleteProfile)
}

// LoadCaller resolves the session's user id into a *models.User stored on
// the context. Anonymous requests pass through with no caller.
func LoadCaller(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID, ok := sessionUserID(session.Get(sessionUserKey))
		if !ok {
			c.Next()
			return
		}

		var user models.User
		if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
			// the account is gone; drop the stale session
			session.Clear()
			session.Save()
			c.Next()
			return
		}

		c.Set(callerKey, &user)
		c.Next()
	}
}

func sessionUserID(v interface{}) (uint, bool) {
	switch id := v.(type) {
	case uint:
		return id, id != 0
	case int:
		return uint(id), id > 0
	case int64:
		return uint(id), id > 0
	default:
		return 0, false
	}
}

// Caller returns the authenticated user or nil for anonymous requests.
func Caller(c *gin.Context) *models.User {
	v, exists := c.Get(callerKey)
	if !exists {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth(c *gin.Context) {
	if Caller(c) == nil {
		common.RespondError(c, common.ErrUnauthenticated)
		return
	}
	c.Next()
}

// Login binds user to the current session.
func Login(c *gin.Context, user *models.User) error {
	session := sessions.Default(c)
	session.Set(sessionUserKey, user.ID)
	return session.Save()
}

// CreateUser registers a new account; it is shared by the register endpoint
// and the createuser command.
func CreateUser(ctx context.Context, db *gorm.DB, username, password string, staff bool) (*models.User, error) {
	username = strings.TrimSpace(username)
	verr := &common.ValidationError{}
	if username == "" {
		verr.Add("username", "This field is required.")
	}
	if password == "" {
		verr.Add("password", "This field is required.")
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{Username: username, PasswordHash: hash, IsStaff: staff}
	if err := db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, common.NewValidationError("username", "A user with that username already exists.")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// DeleteUser removes the account together with its comments and relations;
// posts it wrote are kept with no author.
func DeleteUser(ctx context.Context, db *gorm.DB, userID uint) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Post{}).Where("author_id = ?", userID).Update("author_id", nil).Error; err != nil {
			return fmt.Errorf("detach posts: %w", err)
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Relation{}).Error; err != nil {
			return fmt.Errorf("delete relations: %w", err)
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Comment{}).Error; err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		res := tx.Delete(&models.User{}, userID)
		if res.Error != nil {
			return fmt.Errorf("delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return common.ErrNotFound
		}
		return nil
	})
}

type registerPayload struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

func (a *AccountModule) register(c *gin.Context) {
	var payload registerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		common.RespondError(c, common.NewValidationError("non_field_errors", "Invalid JSON body."))
		return
	}

	if payload.Password != payload.Password2 {
		common.RespondError(c, common.NewValidationError("password", "Passwords do not match."))
		return
	}

	user, err := CreateUser(c.Request.Context(), a.db, payload.Username, payload.Password, false)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	log.Printf("registered user %s (id=%d)", user.Username, user.ID)
	c.JSON(http.StatusOK, gin.H{
		"user":    presenter.User(*user),
		"message": "User created successfully.",
	})
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *AccountModule) login(c *gin.Context) {
	var payload loginPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		common.RespondError(c, common.NewValidationError("non_field_errors", "Invalid JSON body."))
		return
	}

	var user models.User
	if err := a.db.WithContext(c.Request.Context()).Where("username = ?", payload.Username).First(&user).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid username or password."})
		return
	}

	if !checkPasswordHash(payload.Password, user.PasswordHash) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid username or password."})
		return
	}

	if err := Login(c, &user); err != nil {
		common.RespondError(c, fmt.Errorf("save session: %w", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": presenter.User(user)})
}

func (a *AccountModule) logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()

	c.Status(http.StatusNoContent)
}

func (a *AccountModule) profile(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": presenter.User(*Caller(c))})
}

func (a *AccountModule) deleteProfile(c *gin.Context) {
	caller := Caller(c)
	if err := DeleteUser(c.Request.Context(), a.db, caller.ID); err != nil {
		common.RespondError(c, err)
		return
	}

	session := sessions.Default(c)
	session.Clear()
	session.Save()

	log.Printf("deleted user %s (id=%d)", caller.Username, caller.ID)
	c.Status(http.StatusNoContent)
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
