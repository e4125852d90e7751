package scheduler

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/config"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/retry"
)

// webhookDeadline bounds each webhook delivery attempt.
const webhookDeadline = 10 * time.Second

// ObjectStore persists report artifacts under a key. The filesystem
// implementation below is the default; S3-style backends satisfy the same
// interface.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// FSStore writes artifacts under a base directory.
type FSStore struct {
	BaseDir string
}

func (s *FSStore) Put(_ context.Context, key, _ string, data []byte) error {
	path := filepath.Join(s.BaseDir, filepath.Clean("/"+key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// Delivery fans one artifact out to a schedule's channels.
type Delivery struct {
	smtp       *config.SMTPConfig
	store      ObjectStore
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDelivery creates the delivery fan-out. store may be nil to disable
// object-store channels.
func NewDelivery(smtpCfg *config.SMTPConfig, store ObjectStore, logger *zap.Logger) *Delivery {
	return &Delivery{
		smtp:       smtpCfg,
		store:      store,
		httpClient: &http.Client{Timeout: webhookDeadline},
		logger:     logger,
	}
}

// Deliver runs every channel and records its outcome. Channel failures never
// abort the remaining channels.
func (d *Delivery) Deliver(ctx context.Context, channels []models.DeliveryChannel, artifact *models.Artifact) map[string]models.DeliveryOutcome {
	outcomes := make(map[string]models.DeliveryOutcome, len(channels))
	for i, ch := range channels {
		key := fmt.Sprintf("%s[%d]", ch.Type, i)

		var err error
		switch ch.Type {
		case models.ChannelEmail:
			err = d.deliverEmail(&ch, artifact)
		case models.ChannelWebhook:
			err = d.deliverWebhook(ctx, &ch, artifact)
		case models.ChannelObjectStore:
			err = d.deliverObjectStore(ctx, &ch, artifact)
		default:
			err = fmt.Errorf("unknown channel type %q", ch.Type)
		}

		if err != nil {
			d.logger.Warn("Delivery channel failed",
				zap.String("channel", key),
				zap.String("report_id", artifact.ReportID.String()),
				zap.Error(err))
			outcomes[key] = models.DeliveryOutcome{Success: false, Error: err.Error()}
		} else {
			outcomes[key] = models.DeliveryOutcome{Success: true}
		}
	}
	return outcomes
}

func (d *Delivery) deliverEmail(ch *models.DeliveryChannel, artifact *models.Artifact) error {
	if d.smtp == nil || d.smtp.Host == "" {
		return fmt.Errorf("smtp is not configured")
	}

	recipients := stringList(ch.Config["recipients"])
	if len(recipients) == 0 {
		return fmt.Errorf("email channel has no recipients")
	}

	subject, _ := ch.Config["subject"].(string)
	if subject == "" {
		subject = fmt.Sprintf("Report: %s", artifact.Name)
	}

	msg := buildEmail(d.smtp.From, recipients, subject, artifact)

	addr := fmt.Sprintf("%s:%d", d.smtp.Host, d.smtp.Port)
	var auth smtp.Auth
	if d.smtp.User != "" {
		auth = smtp.PlainAuth("", d.smtp.User, d.smtp.Password, d.smtp.Host)
	}
	if err := smtp.SendMail(addr, auth, d.smtp.From, recipients, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// buildEmail assembles a multipart MIME message with the artifact attached.
func buildEmail(from string, to []string, subject string, artifact *models.Artifact) []byte {
	const boundary = "pulse-report-boundary"
	filename := fmt.Sprintf("%s.%s", sanitizeFilename(artifact.Name), artifact.Format)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&buf, "Scheduled report %q generated at %s (%d rows).\r\n\r\n",
		artifact.Name, artifact.GeneratedAt.Format(time.RFC3339), artifact.RowCount)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: %s\r\n", artifact.ContentType)
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", filename)

	encoded := base64.StdEncoding.EncodeToString(artifact.Content)
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	fmt.Fprintf(&buf, "\r\n--%s--\r\n", boundary)

	return buf.Bytes()
}

func (d *Delivery) deliverWebhook(ctx context.Context, ch *models.DeliveryChannel, artifact *models.Artifact) error {
	url, _ := ch.Config["url"].(string)
	if url == "" {
		return fmt.Errorf("webhook channel has no url")
	}

	return retry.Do(ctx, retry.DefaultConfig(), func() error {
		reqCtx, cancel := context.WithTimeout(ctx, webhookDeadline)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(artifact.Content))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", artifact.ContentType)
		req.Header.Set("X-Pulse-Report", artifact.ReportID.String())
		if secret, _ := ch.Config["secret"].(string); secret != "" {
			req.Header.Set("Authorization", "Bearer "+secret)
		}

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}

func (d *Delivery) deliverObjectStore(ctx context.Context, ch *models.DeliveryChannel, artifact *models.Artifact) error {
	if d.store == nil {
		return fmt.Errorf("object store is not configured")
	}

	prefix, _ := ch.Config["prefix"].(string)
	key := filepath.Join(prefix,
		artifact.GeneratedAt.Format("2006/01/02"),
		fmt.Sprintf("%s-%s.%s",
			sanitizeFilename(artifact.Name),
			artifact.GeneratedAt.Format("150405"),
			artifact.Format))

	return d.store.Put(ctx, key, artifact.ContentType, artifact.Content)
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}
