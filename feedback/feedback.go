package feedback

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"blogapi/common"
	"blogapi/email"
)

type FeedbackModule struct {
	mailer    email.Mailer
	recipient string
}

func NewFeedbackModule(mailer email.Mailer, recipient string) *FeedbackModule {
	return &FeedbackModule{mailer: mailer, recipient: recipient}
}

func (m *FeedbackModule) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/feedback/", m.send)
}

type Message struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (msg Message) validate() error {
	verr := &common.ValidationError{}
	fields := []struct {
		name  string
		value string
	}{
		{"name", msg.Name},
		{"email", msg.Email},
		{"subject", msg.Subject},
		{"message", msg.Message},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			verr.Add(f.name, "This field is required.")
		}
	}
	if msg.Email != "" && !strings.Contains(msg.Email, "@") {
		verr.Add("email", "Enter a valid email address.")
	}
	// these end up in mail headers
	for _, f := range fields[:3] {
		if strings.ContainsAny(f.value, "\r\n") {
			verr.Add(f.name, "Line breaks are not allowed in this field.")
		}
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// MailSubject is the subject line the recipient sees.
func (msg Message) MailSubject() string {
	return fmt.Sprintf("From %s | %s", msg.Name, msg.Subject)
}

func (m *FeedbackModule) send(c *gin.Context) {
	var msg Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		common.RespondError(c, common.NewValidationError("non_field_errors", "Invalid JSON body."))
		return
	}
	if err := msg.validate(); err != nil {
		common.RespondError(c, err)
		return
	}

	// the response does not wait for the SMTP round trip
	go func(msg Message) {
		if err := m.mailer.Send(msg.MailSubject(), msg.Message, msg.Email, []string{m.recipient}); err != nil {
			log.Printf("Failed to relay feedback from %s: %v", msg.Email, err)
		}
	}(msg)

	c.JSON(http.StatusOK, gin.H{"success": "Sent"})
}
