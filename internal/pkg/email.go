package pkg

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string // 发件人邮箱
	Password string // 授权码/密码
	From     string // 显示的发件人，可与 Username 相同
}

//go:generate mockgen -source=email.go -destination=../mocks/mock_mailer.go -package=mocks

// Mailer 发信抽象，校验邮件通过它发送
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type SMTPMailer struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &SMTPMailer{cfg: cfg, dialer: d}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

// LogMailer 未配置 SMTP 时使用，只把邮件写进日志
type LogMailer struct {
	Log *zap.SugaredLogger
}

func (m LogMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.Log.Infow("mail not sent, smtp disabled", "to", to, "subject", subject, "body", htmlBody)
	return nil
}

func EmailCodeHTML(subject, code string, ttl time.Duration) string {
	minM := int(ttl.Minutes())
	return fmt.Sprintf(`<p>Hello,</p><p>You are completing <b>%s</b> on ChalkBoard. Your code is <b style="font-size:18px;">%s</b>.</p><p>It expires in %d minutes. Do not share it.</p>`,
		html.EscapeString(subject), html.EscapeString(code), minM)
}
