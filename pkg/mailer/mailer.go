// Package mailer sends transactional email through the Resend API.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/pkg/client"
	"github.com/hallcall/hallcall-api/pkg/logger"
)

const VendorName = "resend"

// Sender delivers one-time codes by email.
type Sender interface {
	SendSignupCode(ctx context.Context, to, name, code string) error
	SendPasswordResetCode(ctx context.Context, to, code string) error
}

type Mailer struct {
	http   *client.HTTPClient
	from   string
	apiKey string
	logger *zap.Logger
}

func New(baseURL, apiKey, from string, timeout time.Duration, log *zap.Logger) *Mailer {
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	return &Mailer{
		http: client.NewHTTPClient(VendorName, baseURL, timeout, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+apiKey)
		}),
		from:   from,
		apiKey: apiKey,
		logger: log,
	}
}

var codeEmail = template.Must(template.New("code").Parse(`<!doctype html>
<html><body style="font-family:Arial,sans-serif;color:#111">
<p>{{if .Name}}Bonjour {{.Name}},{{else}}Bonjour,{{end}}</p>
<p>{{.Intro}}</p>
<p style="font-size:28px;font-weight:bold;letter-spacing:6px">{{.Code}}</p>
<p>Ce code expire dans 10 minutes. Si vous n'êtes pas à l'origine de cette demande, ignorez cet email.</p>
<p>L'équipe HallCall</p>
</body></html>`))

type codeData struct {
	Name  string
	Intro string
	Code  string
}

func (m *Mailer) SendSignupCode(ctx context.Context, to, name, code string) error {
	return m.sendCode(ctx, to, "Votre code de vérification HallCall", codeData{
		Name:  name,
		Intro: "Voici votre code pour activer votre compte HallCall :",
		Code:  code,
	})
}

func (m *Mailer) SendPasswordResetCode(ctx context.Context, to, code string) error {
	return m.sendCode(ctx, to, "Réinitialisation de votre mot de passe HallCall", codeData{
		Intro: "Voici votre code pour réinitialiser votre mot de passe :",
		Code:  code,
	})
}

func (m *Mailer) sendCode(ctx context.Context, to, subject string, data codeData) error {
	var html bytes.Buffer
	if err := codeEmail.Execute(&html, data); err != nil {
		return fmt.Errorf("render email: %w", err)
	}
	text := fmt.Sprintf("%s %s\nCe code expire dans 10 minutes.", data.Intro, data.Code)
	return m.Send(ctx, to, subject, html.String(), text)
}

// Send delivers one email.
func (m *Mailer) Send(ctx context.Context, to, subject, html, text string) error {
	if m.apiKey == "" {
		m.logger.Warn("Email not sent: RESEND_API_KEY is not set", logger.MaskEmail("to", to), zap.String("subject", subject))
		return nil
	}

	var out struct {
		ID string `json:"id"`
	}
	err := m.http.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/emails",
		JSON: map[string]interface{}{
			"from":    m.from,
			"to":      []string{to},
			"subject": subject,
			"html":    html,
			"text":    text,
		},
	}, &out)
	if err != nil {
		return err
	}
	m.logger.Info("Email sent", logger.MaskEmail("to", to), zap.String("email_id", out.ID))
	return nil
}
