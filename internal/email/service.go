package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"net/url"
	"time"

	"github.com/unlockscore/unlockscore-api/internal/config"
	"github.com/unlockscore/unlockscore-api/internal/logging"
)

const (
	verificationSubject  = "Verify Your UnlockScore AI Account"
	passwordResetSubject = "UnlockScore AI Password Reset OTP"
)

var codeTemplate = template.Must(template.New("code").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body {
            font-family: Arial, sans-serif;
            line-height: 1.6;
            color: #333;
            max-width: 600px;
            margin: 0 auto;
            padding: 20px;
        }
        .header {
            background-color: #4F46E5;
            color: white;
            padding: 20px;
            text-align: center;
            border-radius: 5px 5px 0 0;
        }
        .content {
            background-color: #f9f9f9;
            padding: 30px;
            border-radius: 0 0 5px 5px;
        }
        .code {
            font-size: 32px;
            font-weight: bold;
            letter-spacing: 8px;
            color: #4F46E5;
            text-align: center;
            margin: 20px 0;
        }
        .footer {
            margin-top: 30px;
            font-size: 12px;
            color: #666;
            text-align: center;
        }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Heading}}</h1>
    </div>
    <div class="content">
        <p>{{.Intro}}</p>

        <p class="code"><strong>{{.Code}}</strong></p>

        <p>Enter this code at <a href="{{.Link}}">{{.Link}}</a>.</p>

        <p style="margin-top: 30px;">{{.Ignore}}</p>
    </div>
    <div class="footer">
        <p>This code will expire in {{.ExpiresIn}}.</p>
        <p>&copy; {{.Year}} {{.FromName}}. All rights reserved.</p>
    </div>
</body>
</html>
`))

type codeEmail struct {
	Heading   string
	Intro     string
	Code      string
	Link      string
	Ignore    string
	ExpiresIn string
	FromName  string
	Year      int
}

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPService delivers one-time codes over SMTP.
type SMTPService struct {
	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	fromName     string
	fromEmail    string
	frontendURL  string
	codeTTL      time.Duration
	sendMail     sendMailFunc
}

func NewSMTPService(cfg config.EmailConfig, codeTTL time.Duration) *SMTPService {
	return &SMTPService{
		smtpHost:     cfg.SMTPHost,
		smtpPort:     cfg.SMTPPort,
		smtpUser:     cfg.SMTPUser,
		smtpPassword: cfg.SMTPPassword,
		fromName:     cfg.FromName,
		fromEmail:    cfg.SMTPUser,
		frontendURL:  cfg.FrontendURL,
		codeTTL:      codeTTL,
		sendMail:     smtp.SendMail,
	}
}

// SendVerificationCode emails the registration code.
func (s *SMTPService) SendVerificationCode(ctx context.Context, toEmail, code string) error {
	return s.sendCode(ctx, toEmail, verificationSubject, codeEmail{
		Heading: "Welcome to " + s.fromName,
		Intro:   "Thank you for signing up! Use the code below to verify your email address.",
		Code:    code,
		Link:    s.link("/verify-otp", toEmail),
		Ignore:  "If you didn't create an account, you can safely ignore this email.",
	})
}

// SendPasswordResetCode emails the password reset code.
func (s *SMTPService) SendPasswordResetCode(ctx context.Context, toEmail, code string) error {
	return s.sendCode(ctx, toEmail, passwordResetSubject, codeEmail{
		Heading: "Password Reset Request",
		Intro:   "You requested to reset your password. Use the code below to choose a new one.",
		Code:    code,
		Link:    s.link("/reset-password", toEmail),
		Ignore:  "If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.",
	})
}

func (s *SMTPService) sendCode(ctx context.Context, toEmail, subject string, data codeEmail) error {
	logger := logging.GetLoggerFromContext(ctx)

	data.ExpiresIn = s.codeTTL.String()
	data.FromName = s.fromName
	data.Year = time.Now().Year()

	body, err := renderCodeEmail(data)
	if err != nil {
		logger.Error("failed to render email template", "error", err.Error())
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.send(toEmail, subject, body); err != nil {
		logger.Error("failed to send email", "email", toEmail, "subject", subject, "error", err.Error())
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("email sent", "email", toEmail, "subject", subject)
	return nil
}

func (s *SMTPService) send(to, subject, body string) error {
	auth := smtp.PlainAuth("", s.smtpUser, s.smtpPassword, s.smtpHost)

	msg := []byte(fmt.Sprintf(
		"From: %q <%s>\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		s.fromName, s.fromEmail, to, subject, body,
	))

	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)
	return s.sendMail(addr, auth, s.fromEmail, []string{to}, msg)
}

func (s *SMTPService) link(path, email string) string {
	return s.frontendURL + path + "?email=" + url.QueryEscape(email)
}

func renderCodeEmail(data codeEmail) (string, error) {
	var buf bytes.Buffer
	if err := codeTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// LogService writes codes to the log instead of sending them. It is used
// when no SMTP host is configured.
type LogService struct {
	logger *logging.Logger
}

func NewLogService(logger *logging.Logger) *LogService {
	return &LogService{logger: logger}
}

func (s *LogService) SendVerificationCode(_ context.Context, toEmail, code string) error {
	s.logger.Info("verification code", "email", toEmail, "otp", code)
	return nil
}

func (s *LogService) SendPasswordResetCode(_ context.Context, toEmail, code string) error {
	s.logger.Info("password reset code", "email", toEmail, "otp", code)
	return nil
}
