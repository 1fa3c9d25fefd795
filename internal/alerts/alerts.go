// Package alerts records operator notifications. Every alert lands in the
// alerts table; when Twilio credentials are configured the message is also
// sent as an SMS.
package alerts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/storage"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioConfig carries SMS delivery credentials. Empty AccountSID disables
// SMS and alerts stay database-only.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

func (c TwilioConfig) enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != "" && c.To != ""
}

// Notifier persists alerts and optionally forwards them over SMS.
type Notifier struct {
	store  *storage.Store
	twilio TwilioConfig
	client *http.Client
	logger *logrus.Logger
}

func New(store *storage.Store, twilio TwilioConfig, logger *logrus.Logger) *Notifier {
	return &Notifier{
		store:  store,
		twilio: twilio,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Notify writes the alert row and sends the SMS when configured. SMS failure
// is logged, not returned: the database row is the system of record.
func (n *Notifier) Notify(ctx context.Context, a *models.Alert) error {
	if err := n.store.InsertAlert(ctx, a); err != nil {
		return err
	}
	if !n.twilio.enabled() {
		return nil
	}
	if err := n.sendSMS(ctx, a.Message); err != nil {
		n.logger.WithError(err).Error("alert SMS failed")
	}
	return nil
}

func (n *Notifier) sendSMS(ctx context.Context, message string) error {
	form := url.Values{
		"From": {n.twilio.From},
		"To":   {n.twilio.To},
		"Body": {message},
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", twilioBaseURL, n.twilio.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(n.twilio.AccountSID, n.twilio.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("twilio responded %d: %s", resp.StatusCode, body)
	}
	return nil
}
