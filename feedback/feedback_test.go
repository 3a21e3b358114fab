package feedback

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	subject string
	body    string
	from    string
	to      []string
}

type fakeMailer struct {
	sent chan sentMail
}

func (f *fakeMailer) Send(subject, body, from string, to []string) error {
	f.sent <- sentMail{subject: subject, body: body, from: from, to: to}
	return nil
}

func setupTestRouter(mailer *fakeMailer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewFeedbackModule(mailer, "admin@example.com").RegisterRoutes(&router.RouterGroup)
	return router
}

func post(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("POST", "/feedback/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestFeedback_SendsOneMail(t *testing.T) {
	mailer := &fakeMailer{sent: make(chan sentMail, 2)}
	router := setupTestRouter(mailer)

	w := post(router, `{"name":"Ann","email":"ann@example.com","subject":"Hi","message":"Nice blog"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":"Sent"}`, w.Body.String())

	select {
	case mail := <-mailer.sent:
		assert.Equal(t, "From Ann | Hi", mail.subject)
		assert.Equal(t, "Nice blog", mail.body)
		assert.Equal(t, "ann@example.com", mail.from)
		assert.Equal(t, []string{"admin@example.com"}, mail.to)
	case <-time.After(2 * time.Second):
		t.Fatal("no mail sent")
	}

	select {
	case <-mailer.sent:
		t.Fatal("more than one mail sent")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedback_Validation(t *testing.T) {
	mailer := &fakeMailer{sent: make(chan sentMail, 1)}
	router := setupTestRouter(mailer)

	w := post(router, `{"name":"Ann","email":"not-an-address","subject":"","message":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"subject":"This field is required."`)
	assert.Contains(t, w.Body.String(), `"email":"Enter a valid email address."`)

	w = post(router, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Len(t, mailer.sent, 0)
}

func TestFeedback_RejectsHeaderLineBreaks(t *testing.T) {
	mailer := &fakeMailer{sent: make(chan sentMail, 1)}
	router := setupTestRouter(mailer)

	bodies := []string{
		`{"name":"Eve\r\nBcc: victim@example.com","email":"eve@example.com","subject":"hi","message":"x"}`,
		`{"name":"Eve","email":"eve@example.com\nBcc: victim@example.com","subject":"hi","message":"x"}`,
		`{"name":"Eve","email":"eve@example.com","subject":"hi\r\nBcc: victim@example.com","message":"x"}`,
	}
	for _, body := range bodies {
		w := post(router, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), "Line breaks are not allowed in this field.")
	}

	w := post(router, `{"name":"Eve","email":"eve@example.com","subject":"hi","message":"line one\nline two"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	select {
	case mail := <-mailer.sent:
		assert.Equal(t, "From Eve | hi", mail.subject)
	case <-time.After(2 * time.Second):
		t.Fatal("no mail sent")
	}
}
