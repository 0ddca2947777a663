package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"studyshelf/config"
	"studyshelf/models"

	"go.uber.org/zap"
)

const apiURL = "https://api.resend.com/emails"

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Client sends transactional mail through the Resend REST API.
type Client struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewClient creates a new Resend client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{Config: cfg, Logger: logger}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// SendUploadNotification mails the configured recipient about a new
// material. Without an API key or recipient it is a silent no-op; the
// caller treats any returned error as best-effort and only logs it.
func (c *Client) SendUploadNotification(ctx context.Context, m *models.Material) error {
	if c.Config.ResendAPIKey == "" || c.Config.ResendToEmail == "" {
		return nil
	}

	html := fmt.Sprintf(`<div style="font-family:sans-serif;line-height:1.6">
<h2>New material uploaded</h2>
<p><strong>Uploader:</strong> %s</p>
<p><strong>Book:</strong> %s</p>
<p><strong>Subject:</strong> %s</p>
<p><strong>Semester:</strong> %d</p>
<p><strong>When:</strong> %s</p>
<p><strong>File:</strong> <a href="%s">%s</a></p>
</div>`, m.UploaderEmail, m.BookName, m.Subject, m.Semester,
		m.CreatedAt.Format(time.RFC3339), m.FileURL, m.FileURL)

	payload, err := json.Marshal(sendRequest{
		From:    c.Config.ResendFromEmail,
		To:      []string{c.Config.ResendToEmail},
		Subject: "Material upload: " + m.BookName,
		HTML:    html,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Config.ResendAPIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("resend returned status %d: %s", resp.StatusCode, string(body))
	}

	c.Logger.Info("Upload notification sent", zap.String("book_name", m.BookName))
	return nil
}
