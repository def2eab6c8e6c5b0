// internal/compose/compose.go
package compose

import (
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"bill_split_automation/internal/domain/bill"
	"bill_split_automation/internal/domain/notify"
)

// Config carries everything needed to render a payment request.
type Config struct {
	ServiceName    string // payment service key, e.g. "venmo"
	Recipient      string // handle the charge request is addressed to
	ProviderName   string // display name on notifications, e.g. "PG&E"
	PartyAName     string // the person being asked to pay
	PartyBName     string // the account owner signing the email
	IncludeAppLink bool   // append the app-scheme link to SMS bodies
}

// Links are the pre-filled payment request URLs for one bill.
type Links struct {
	Web string // https form, survives email and chat clients
	App string // app-scheme form, useful only in SMS on a phone
}

// Composer renders payment-request notifications for bills. All rendering is
// pure string work; nothing here talks to the network.
type Composer struct {
	cfg       Config
	emailTmpl *template.Template
}

func New(cfg Config) *Composer {
	return &Composer{
		cfg:       cfg,
		emailTmpl: template.Must(template.New("bill_email").Parse(emailBodyTmpl)),
	}
}

// Links builds both payment URLs. The note parameter is assembled with its
// newlines pre-encoded as %0A while $ and / stay raw: the payment app parses
// exactly this form and a full URL-escape breaks the pre-filled note.
func (c *Composer) Links(b *bill.Bill) Links {
	note := fmt.Sprintf("Balance--$%s%%0ATotal--$%s%%0ADue--%s",
		b.PartyAPortion.StringFixed(2),
		b.Amount.StringFixed(2),
		b.DueDate.Format("01/02/2006"),
	)
	amount := b.PartyAPortion.StringFixed(2)
	return Links{
		Web: fmt.Sprintf("https://%s.com/%s?txn=charge&amount=%s&note=%s",
			c.cfg.ServiceName, url.PathEscape(c.cfg.Recipient), amount, note),
		App: fmt.Sprintf("%s://paycharge?txn=charge&recipients=%s&amount=%s&note=%s",
			c.cfg.ServiceName, url.PathEscape(c.cfg.Recipient), amount, note),
	}
}

// SMSBody renders the short notification for the carrier gateway:
// provider and period, total, the recipient's share, then the payment links.
func (c *Composer) SMSBody(b *bill.Bill) string {
	links := c.Links(b)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", c.cfg.ProviderName, b.PeriodLabel())
	fmt.Fprintf(&sb, "Total: $%s\n", b.Amount.StringFixed(2))
	fmt.Fprintf(&sb, "Pay: $%s\n", b.PartyAPortion.StringFixed(2))
	sb.WriteString(links.Web)
	if c.cfg.IncludeAppLink {
		sb.WriteString("\n")
		sb.WriteString(links.App)
	}
	return sb.String()
}

// Request renders the full multi-channel notification for a bill: Text is the
// SMS body, Subject and HTML the email form.
func (c *Composer) Request(b *bill.Bill) (notify.Message, error) {
	links := c.Links(b)
	var html strings.Builder
	err := c.emailTmpl.Execute(&html, emailData{
		Provider: c.cfg.ProviderName,
		Period:   b.PeriodLabel(),
		PartyA:   c.cfg.PartyAName,
		PartyB:   c.cfg.PartyBName,
		Total:    b.Amount.StringFixed(2),
		Share:    b.PartyAPortion.StringFixed(2),
		Due:      b.DueDate.Format("01/02/2006"),
		PayLink:  links.Web,
	})
	if err != nil {
		return notify.Message{}, fmt.Errorf("render bill email: %w", err)
	}
	return notify.Message{
		Subject: fmt.Sprintf("%s bill split - %s", c.cfg.ProviderName, b.PeriodLabel()),
		Text:    c.SMSBody(b),
		HTML:    html.String(),
	}, nil
}

type emailData struct {
	Provider string
	Period   string
	PartyA   string
	PartyB   string
	Total    string
	Share    string
	Due      string
	PayLink  string
}

const emailBodyTmpl = `<div style="font-family:Arial,Helvetica,sans-serif;max-width:480px;margin:0 auto;color:#333">
  <h2 style="color:#0074de">{{.Provider}} bill for {{.Period}}</h2>
  <p>Hi {{.PartyA}},</p>
  <p>The new {{.Provider}} bill came in. Here is the breakdown:</p>
  <table style="border-collapse:collapse;width:100%">
    <tr><td style="padding:6px 0;color:#777">Total</td><td style="padding:6px 0;text-align:right">${{.Total}}</td></tr>
    <tr><td style="padding:6px 0;color:#777">Your share</td><td style="padding:6px 0;text-align:right;font-weight:bold">${{.Share}}</td></tr>
    <tr><td style="padding:6px 0;color:#777">Due date</td><td style="padding:6px 0;text-align:right">{{.Due}}</td></tr>
  </table>
  <p style="text-align:center;margin:24px 0">
    <a href="{{.PayLink}}" style="background:#0074de;color:#fff;padding:12px 28px;border-radius:4px;text-decoration:none">Pay ${{.Share}}</a>
  </p>
  <p>Thanks!<br>{{.PartyB}}</p>
</div>
`
