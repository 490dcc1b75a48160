package email

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"boolpress/common"
	"boolpress/models"
)

var ErrNotConfigured = errors.New("smtp host not configured")

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
	domain   string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailService(cfg common.SMTPConfig, domain string) *EmailService {
	return &EmailService{
		host:     cfg.Host,
		port:     cfg.Port,
		user:     cfg.User,
		password: cfg.Password,
		from:     cfg.From,
		domain:   strings.TrimRight(domain, "/"),
		send:     smtp.SendMail,
	}
}

// SendNewPostNotification tells the author their post was published.
func (e *EmailService) SendNewPostNotification(ctx context.Context, to string, post *models.Post) error {
	if e.host == "" {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	message := e.newPostMessage(to, post)

	var auth smtp.Auth
	if e.user != "" {
		auth = smtp.PlainAuth("", e.user, e.password, e.host)
	}
	addr := fmt.Sprintf("%s:%s", e.host, e.port)

	if err := e.send(addr, auth, e.from, []string{to}, message); err != nil {
		return fmt.Errorf("send new post email to %s: %w", to, err)
	}
	return nil
}

func (e *EmailService) newPostMessage(to string, post *models.Post) []byte {
	link := fmt.Sprintf("%s/admin/posts/%s", e.domain, post.Slug)

	subject := mime.QEncoding.Encode("utf-8", headerText("New post published: "+post.Title))
	body := fmt.Sprintf(`
Hello!

Your post "%s" has been created.

You can review it here:

%s

---
Boolpress
`, post.Title, link)

	return []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"\r\n"+
		"%s\r\n", headerText(e.from), headerText(to), subject, body))
}

// headerText folds line breaks into spaces so a value cannot start a new
// header line.
func headerText(v string) string {
	return strings.Join(strings.Fields(v), " ")
}
