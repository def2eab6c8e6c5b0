// internal/infra/gmail/client.go
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"bill_split_automation/internal/domain/email"

	"github.com/sirupsen/logrus"
)

const (
	defaultAPIBase  = "https://gmail.googleapis.com/gmail/v1"
	defaultTokenURL = "https://oauth2.googleapis.com/token"

	defaultHTTPTimeout = 30 * time.Second
	defaultMaxResults  = 50

	// Refresh the access token this long before Google says it expires.
	tokenExpiryMargin = time.Minute
)

// Config holds the OAuth2 refresh-token credentials for the mailbox account.
// The refresh token is minted once, out of band, with the gmail.readonly
// scope; the client exchanges it for short-lived access tokens as needed.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Client reads the user's mailbox through the Gmail REST API. It implements
// email.Mailbox.
type Client struct {
	cfg        Config
	apiBase    string
	tokenURL   string
	httpClient *http.Client
	logger     *logrus.Entry

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg Config, logger *logrus.Entry) *Client {
	return &Client{
		cfg:        cfg,
		apiBase:    defaultAPIBase,
		tokenURL:   defaultTokenURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}
}

// Search lists the messages matching the query and fetches each one in full.
// A message that cannot be fetched or decoded is logged and skipped; a failed
// list call or token refresh is returned and aborts the caller's run.
func (c *Client) Search(ctx context.Context, q email.Query, limit int) ([]email.Message, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("gmail token refresh: %w", err)
	}

	ids, err := c.listMessageIDs(ctx, token, buildQuery(q), limit)
	if err != nil {
		return nil, fmt.Errorf("gmail message list: %w", err)
	}

	msgs := make([]email.Message, 0, len(ids))
	for _, id := range ids {
		raw, err := c.getMessage(ctx, token, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.WithError(err).WithField("message_id", id).Warn("message fetch failed, skipped")
			continue
		}
		msgs = append(msgs, decodeMessage(raw))
	}
	return msgs, nil
}

// token returns a valid access token, exchanging the refresh token with
// Google's token endpoint when the cached one is missing or near expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("refresh_token", c.cfg.RefreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty access token")
	}

	c.accessToken = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenExpiryMargin)
	return c.accessToken, nil
}

func (c *Client) listMessageIDs(ctx context.Context, token, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultMaxResults
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", fmt.Sprintf("%d", limit))

	var listResp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := c.getJSON(ctx, token, "/users/me/messages?"+params.Encode(), &listResp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(listResp.Messages))
	for _, m := range listResp.Messages {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Client) getMessage(ctx context.Context, token, id string) (*gmailMessage, error) {
	var msg gmailMessage
	if err := c.getJSON(ctx, token, "/users/me/messages/"+id+"?format=full", &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) getJSON(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gmail API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// buildQuery renders a mailbox query in Gmail search syntax. Zero-valued
// fields are left out.
func buildQuery(q email.Query) string {
	var parts []string
	if q.From != "" {
		parts = append(parts, "from:"+q.From)
	}
	if !q.After.IsZero() {
		parts = append(parts, "after:"+q.After.Format("2006/01/02"))
	}
	if !q.Before.IsZero() {
		parts = append(parts, "before:"+q.Before.Format("2006/01/02"))
	}
	if q.Terms != "" {
		parts = append(parts, q.Terms)
	}
	return strings.Join(parts, " ")
}

// Gmail API response shapes, reduced to the fields read here.

type gmailMessage struct {
	ID           string       `json:"id"`
	InternalDate int64        `json:"internalDate,string"`
	Payload      gmailPayload `json:"payload"`
}

type gmailPayload struct {
	MimeType string        `json:"mimeType"`
	Headers  []gmailHeader `json:"headers"`
	Body     gmailBody     `json:"body"`
	Parts    []gmailPart   `json:"parts"`
}

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailBody struct {
	Data string `json:"data"` // base64url encoded
}

type gmailPart struct {
	MimeType string      `json:"mimeType"`
	Body     gmailBody   `json:"body"`
	Parts    []gmailPart `json:"parts"`
}

// decodeMessage flattens a raw Gmail message into the domain value: headers
// picked out, date parsed, body decoded to plain text.
func decodeMessage(raw *gmailMessage) email.Message {
	headers := make(map[string]string, len(raw.Payload.Headers))
	for _, h := range raw.Payload.Headers {
		headers[strings.ToLower(h.Name)] = h.Value
	}

	return email.Message{
		ID:      raw.ID,
		Sender:  headers["from"],
		Subject: headers["subject"],
		Body:    decodeBody(raw.Payload),
		Date:    parseDate(headers["date"], raw.InternalDate),
	}
}

// dateLayouts are the header formats seen in real mail, most common first.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 -0700",
}

func parseDate(header string, internalDate int64) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, header); err == nil {
			return t
		}
	}
	if internalDate > 0 {
		return time.UnixMilli(internalDate)
	}
	return time.Time{}
}

// decodeBody returns the message text: the first text/plain part wins, an
// html part is the fallback with tags stripped and entities unescaped.
func decodeBody(p gmailPayload) string {
	if plain := findPart(p.MimeType, p.Body, p.Parts, "text/plain"); plain != "" {
		return plain
	}
	if htmlBody := findPart(p.MimeType, p.Body, p.Parts, "text/html"); htmlBody != "" {
		return stripHTML(htmlBody)
	}
	return ""
}

func findPart(mimeType string, body gmailBody, parts []gmailPart, want string) string {
	if strings.HasPrefix(mimeType, want) {
		if text, err := decodeBase64URL(body.Data); err == nil && text != "" {
			return text
		}
	}
	for _, part := range parts {
		if text := findPart(part.MimeType, part.Body, part.Parts, want); text != "" {
			return text
		}
	}
	return ""
}

func decodeBase64URL(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
	}
	return string(data), nil
}

var htmlTags = regexp.MustCompile(`<[^>]*>`)

func stripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlTags.ReplaceAllString(s, " ")))
}
