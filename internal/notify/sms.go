package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/Additional-Code/allot/internal/config"
	"github.com/Additional-Code/allot/internal/entity"
)

const countryPrefix = "+91"

// SMSNotifier posts vouchers to a Twilio-compatible messaging API.
type SMSNotifier struct {
	cfg        config.Notification
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSMSNotifier validates cfg and builds an SMSNotifier.
func NewSMSNotifier(cfg config.Notification, logger *zap.Logger) (*SMSNotifier, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("sms notifier: account sid and auth token are required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("sms notifier: sender is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sms notifier: base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMSNotifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(zap.String("notifier", "sms")),
	}, nil
}

type gatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type gatewayMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (n *SMSNotifier) Send(ctx context.Context, voucher entity.Voucher) (Result, error) {
	if voucher.RecipientMobile == "" {
		return Reject("recipient mobile missing"), nil
	}

	form := url.Values{}
	form.Set("To", countryPrefix+voucher.RecipientMobile)
	form.Set("From", n.cfg.From)
	form.Set("Body", Render(n.cfg.Template, voucher))

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", n.cfg.BaseURL, n.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("sms gateway request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Result{}, fmt.Errorf("read sms gateway response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var msg gatewayMessage
		if err := json.Unmarshal(raw, &msg); err == nil && msg.SID != "" {
			n.logger.Debug("sms accepted",
				zap.Int64("voucher.id", voucher.ID),
				zap.String("sid", msg.SID),
				zap.String("status", msg.Status),
			)
		}
		return Sent(), nil
	}

	reason := describeFailure(resp.StatusCode, raw)
	if retryableStatus(resp.StatusCode) {
		return Retry(reason), nil
	}
	return Reject(reason), nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

func describeFailure(status int, raw []byte) string {
	var ge gatewayError
	if json.Unmarshal(raw, &ge) == nil && strings.TrimSpace(ge.Message) != "" {
		if ge.Code != 0 {
			return fmt.Sprintf("sms gateway http %d: %s (code=%d)", status, ge.Message, ge.Code)
		}
		return fmt.Sprintf("sms gateway http %d: %s", status, ge.Message)
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return fmt.Sprintf("sms gateway http %d: %s", status, msg)
}
