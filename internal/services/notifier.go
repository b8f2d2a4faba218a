package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	pkglogger "github.com/BradenHooton/autobot/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// Category groups admin notifications so they can be filtered
type Category string

const (
	CategoryReady    Category = "ready"
	CategoryThrottle Category = "throttle"
	CategoryError    Category = "error"
	CategoryUpdate   Category = "update"
)

// Notifier sends fire-and-forget notifications to the bot's admins.
// Notify must return without waiting on the network.
type Notifier interface {
	Notify(ctx context.Context, category Category, message string)
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(ctx context.Context, category Category, message string) {
	level := slog.LevelInfo
	if category == CategoryError || category == CategoryThrottle {
		level = slog.LevelWarn
	}
	n.logger.LogAttrs(ctx, level, "admin notification",
		slog.String("category", string(category)),
		slog.String("message", message),
	)
}

// MultiNotifier fans a notification out to several notifiers
type MultiNotifier []Notifier

// Notify implements Notifier
func (m MultiNotifier) Notify(ctx context.Context, category Category, message string) {
	for _, n := range m {
		n.Notify(ctx, category, message)
	}
}

// FilterNotifier forwards only the allowed categories
type FilterNotifier struct {
	next    Notifier
	allowed map[Category]struct{}
}

// NewFilterNotifier creates a FilterNotifier. An empty allow list forwards everything.
func NewFilterNotifier(next Notifier, allowed []string) *FilterNotifier {
	set := make(map[Category]struct{}, len(allowed))
	for _, c := range allowed {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			set[Category(c)] = struct{}{}
		}
	}
	return &FilterNotifier{next: next, allowed: set}
}

// Notify implements Notifier
func (f *FilterNotifier) Notify(ctx context.Context, category Category, message string) {
	if len(f.allowed) > 0 {
		if _, ok := f.allowed[category]; !ok {
			return
		}
	}
	f.next.Notify(ctx, category, message)
}

type webhookPayload struct {
	Username string    `json:"username,omitempty"`
	Content  string    `json:"content"`
	Category Category  `json:"category"`
	SentAt   time.Time `json:"sent_at"`
}

// WebhookNotifier posts notifications as JSON to a webhook URL. Delivery is
// paced by a token bucket; notifications over the limit are dropped.
type WebhookNotifier struct {
	url      string
	username string
	client   *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	clock    clock.PassiveClock
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewWebhookNotifier creates a new WebhookNotifier allowing perMinute
// notifications per minute with a burst of burst.
func NewWebhookNotifier(url, username string, perMinute, burst int, client *http.Client, clk clock.PassiveClock, logger *slog.Logger) *WebhookNotifier {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 5
	}
	return &WebhookNotifier{
		url:      url,
		username: username,
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
		timeout:  10 * time.Second,
		clock:    clk,
		logger:   logger,
	}
}

// Notify implements Notifier
func (w *WebhookNotifier) Notify(ctx context.Context, category Category, message string) {
	if !w.limiter.Allow() {
		w.logger.Warn("webhook notification dropped by rate limit", slog.String("category", string(category)))
		return
	}

	payload := webhookPayload{
		Username: w.username,
		Content:  message,
		Category: category,
		SentAt:   w.clock.Now().UTC(),
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.send(payload); err != nil {
			w.logger.Error("failed to send webhook notification", slog.Any("error", err))
		}
	}()
}

// Wait blocks until in-flight notifications have been sent
func (w *WebhookNotifier) Wait() {
	w.wg.Wait()
}

func (w *WebhookNotifier) send(payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailSender is the part of the SES client the notifier uses
type EmailSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier e-mails notifications to the admins using AWS SES. Each e-mail
// is sent on its own goroutine under a timeout.
type SESNotifier struct {
	sender      EmailSender
	fromAddress string
	recipients  []string
	botName     string
	timeout     time.Duration
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewSESNotifier creates a new SES notifier using the default AWS credential chain
func NewSESNotifier(region, fromAddress string, recipients []string, botName string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESNotifierWithSender(ses.NewFromConfig(cfg), fromAddress, recipients, botName, logger), nil
}

// NewSESNotifierWithSender creates a SES notifier around an existing sender
func NewSESNotifierWithSender(sender EmailSender, fromAddress string, recipients []string, botName string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{
		sender:      sender,
		fromAddress: fromAddress,
		recipients:  recipients,
		botName:     botName,
		timeout:     10 * time.Second,
		logger:      logger,
	}
}

// Notify implements Notifier
func (s *SESNotifier) Notify(ctx context.Context, category Category, message string) {
	if len(s.recipients) == 0 {
		return
	}

	subject := fmt.Sprintf("[%s] %s", s.botName, category)
	textBody := fmt.Sprintf("%s\n\nThis is an automated message from %s.\n", message, s.botName)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: s.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.send(context.WithoutCancel(ctx), category, input)
	}()
}

// Wait blocks until in-flight e-mails have been sent or timed out
func (s *SESNotifier) Wait() {
	s.wg.Wait()
}

func (s *SESNotifier) send(ctx context.Context, category Category, input *ses.SendEmailInput) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.sender.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send notification via SES",
			slog.String("category", string(category)),
			slog.Any("error", err))
		return
	}

	masked := make([]string, len(s.recipients))
	for i, r := range s.recipients {
		masked[i] = pkglogger.SanitizedEmail(r)
	}

	s.logger.Info("notification email sent",
		slog.Any("recipients", masked),
		slog.String("message_id", aws.ToString(result.MessageId)))
}
