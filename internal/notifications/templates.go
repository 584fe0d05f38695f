package notifications

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/localpros/localpros-backend/pkg/enums"
)

// Message is a rendered email.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

type templateData struct {
	CompanyName  string
	Amount       string
	Currency     string
	Tier         string
	Cycle        string
	Reason       string
	InvoiceURL   string
	DashboardURL string
}

type emailTemplate struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

var templates = map[enums.EmailKind]emailTemplate{
	enums.EmailKindPaymentSucceeded: mustTemplate("payment_succeeded",
		`Payment received: {{.Amount}} {{.Currency}}`,
		`Hi {{.CompanyName}},

We received your payment of {{.Amount}} {{.Currency}} for the {{.Tier}} plan ({{.Cycle}}).

Manage your subscription: {{.DashboardURL}}
`,
		`<p>Hi {{.CompanyName}},</p>
<p>We received your payment of <strong>{{.Amount}} {{.Currency}}</strong> for the {{.Tier}} plan ({{.Cycle}}).</p>
<p><a href="{{.DashboardURL}}">Manage your subscription</a></p>
`),
	enums.EmailKindPaymentFailed: mustTemplate("payment_failed",
		`Action needed: payment of {{.Amount}} {{.Currency}} failed`,
		`Hi {{.CompanyName}},

We could not collect your payment of {{.Amount}} {{.Currency}}.{{if .Reason}}
Reason: {{.Reason}}{{end}}
{{if .InvoiceURL}}
Update your payment details and pay the invoice here: {{.InvoiceURL}}
{{else}}
Update your payment details from your dashboard: {{.DashboardURL}}
{{end}}`,
		`<p>Hi {{.CompanyName}},</p>
<p>We could not collect your payment of <strong>{{.Amount}} {{.Currency}}</strong>.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>
{{end}}{{if .InvoiceURL}}<p><a href="{{.InvoiceURL}}">Pay the invoice</a></p>
{{else}}<p><a href="{{.DashboardURL}}">Update your payment details</a></p>
{{end}}`),
	enums.EmailKindSubscriptionActivated: mustTemplate("subscription_activated",
		`Your {{.Tier}} plan is active`,
		`Hi {{.CompanyName}},

Your {{.Tier}} plan ({{.Cycle}}) is now active. Your listings will show the new plan benefits right away.

Go to your dashboard: {{.DashboardURL}}
`,
		`<p>Hi {{.CompanyName}},</p>
<p>Your <strong>{{.Tier}}</strong> plan ({{.Cycle}}) is now active. Your listings will show the new plan benefits right away.</p>
<p><a href="{{.DashboardURL}}">Go to your dashboard</a></p>
`),
}

func mustTemplate(name, subject, text, html string) emailTemplate {
	return emailTemplate{
		subject: texttemplate.Must(texttemplate.New(name + "_subject").Parse(subject)),
		text:    texttemplate.Must(texttemplate.New(name + "_text").Parse(text)),
		html:    htmltemplate.Must(htmltemplate.New(name + "_html").Parse(html)),
	}
}

// Render builds the subject and bodies for req.
func Render(req EmailRequest, dashboardURL string) (Message, error) {
	tmpl, ok := templates[req.Kind]
	if !ok {
		return Message{}, fmt.Errorf("no template for email kind %q", req.Kind)
	}

	data := templateData{
		CompanyName:  req.CompanyName,
		Currency:     strings.ToUpper(req.Currency),
		Tier:         req.Tier.Title(),
		Cycle:        string(req.Cycle),
		Reason:       req.Reason,
		InvoiceURL:   req.InvoiceURL,
		DashboardURL: strings.TrimRight(dashboardURL, "/") + "/partner/billing",
	}
	if req.Amount != nil {
		data.Amount = req.Amount.StringFixed(2)
	}

	var subject, text, html bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tmpl.text.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	if err := tmpl.html.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	return Message{
		Subject: strings.TrimSpace(subject.String()),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
