package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func TestFilterNotifier(t *testing.T) {
	next := &recordingNotifier{}
	f := NewFilterNotifier(next, []string{" Throttle", "error", ""})

	f.Notify(context.Background(), CategoryThrottle, "slow down")
	f.Notify(context.Background(), CategoryReady, "ready")
	f.Notify(context.Background(), CategoryError, "boom")

	assert.Equal(t, []Category{CategoryThrottle, CategoryError}, next.Categories())
}

func TestFilterNotifier_EmptyAllowListForwardsAll(t *testing.T) {
	next := &recordingNotifier{}
	f := NewFilterNotifier(next, nil)

	f.Notify(context.Background(), CategoryUpdate, "v2")
	f.Notify(context.Background(), CategoryReady, "ready")

	assert.Len(t, next.Categories(), 2)
}

func TestMultiNotifier(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	m := MultiNotifier{a, b, NewLogNotifier(newTestLogger())}

	m.Notify(context.Background(), CategoryError, "boom")

	assert.Equal(t, []string{"boom"}, a.Messages())
	assert.Equal(t, []string{"boom"}, b.Messages())
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	received := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var p webhookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	clk := testingclock.NewFakePassiveClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	n := NewWebhookNotifier(server.URL, "autobot", 60, 5, server.Client(), clk, newTestLogger())
	n.Notify(context.Background(), CategoryUpdate, "a new version is available")
	n.Wait()

	p := <-received
	assert.Equal(t, "autobot", p.Username)
	assert.Equal(t, CategoryUpdate, p.Category)
	assert.Equal(t, "a new version is available", p.Content)
	assert.True(t, clk.Now().Equal(p.SentAt), "sent_at comes from the injected clock")
}

func TestWebhookNotifier_RateLimitDropsExcess(t *testing.T) {
	hits := make(chan struct{}, 10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "", 1, 2, server.Client(), nil, newTestLogger())
	for i := 0; i < 5; i++ {
		n.Notify(context.Background(), CategoryThrottle, "throttled")
	}
	n.Wait()

	assert.Len(t, hits, 2)
}

type fakeEmailSender struct {
	mu     sync.Mutex
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeEmailSender) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func (f *fakeEmailSender) Inputs() []*ses.SendEmailInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ses.SendEmailInput(nil), f.inputs...)
}

// hangingEmailSender never answers; it returns only when ctx is done
type hangingEmailSender struct {
	calls    chan struct{}
	deadline chan bool
}

func newHangingEmailSender() *hangingEmailSender {
	return &hangingEmailSender{calls: make(chan struct{}, 10), deadline: make(chan bool, 10)}
}

func (h *hangingEmailSender) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	h.calls <- struct{}{}
	_, ok := ctx.Deadline()
	h.deadline <- ok
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSESNotifier_SendsEmail(t *testing.T) {
	sender := &fakeEmailSender{}
	n := NewSESNotifierWithSender(sender, "bot@example.com", []string{"admin@example.com"}, "autobot", newTestLogger())

	n.Notify(context.Background(), CategoryError, "the account is locked")
	n.Wait()

	inputs := sender.Inputs()
	require.Len(t, inputs, 1)
	input := inputs[0]
	assert.Equal(t, "bot@example.com", aws.ToString(input.Source))
	assert.Equal(t, []string{"admin@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, "[autobot] error", aws.ToString(input.Message.Subject.Data))
	assert.Contains(t, aws.ToString(input.Message.Body.Text.Data), "the account is locked")
}

func TestSESNotifier_NoRecipientsOrErrors(t *testing.T) {
	sender := &fakeEmailSender{}
	silent := NewSESNotifierWithSender(sender, "bot@example.com", nil, "autobot", newTestLogger())
	silent.Notify(context.Background(), CategoryError, "ignored")
	silent.Wait()
	assert.Empty(t, sender.Inputs())

	sender.err = errors.New("throttled by SES")
	failing := NewSESNotifierWithSender(sender, "bot@example.com", []string{"a@b.com"}, "autobot", newTestLogger())
	assert.NotPanics(t, func() {
		failing.Notify(context.Background(), CategoryError, "boom")
		failing.Wait()
	})
	assert.Len(t, sender.Inputs(), 1)
}

func TestSESNotifier_HangingSenderDoesNotBlockNotify(t *testing.T) {
	sender := newHangingEmailSender()
	n := NewSESNotifierWithSender(sender, "bot@example.com", []string{"admin@example.com"}, "autobot", newTestLogger())
	n.timeout = 50 * time.Millisecond

	returned := make(chan struct{})
	go func() {
		n.Notify(context.Background(), CategoryThrottle, "throttled")
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on the e-mail sender")
	}

	<-sender.calls
	assert.True(t, <-sender.deadline, "the send must run under a deadline")

	waited := make(chan struct{})
	go func() {
		n.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the send timed out")
	}
}

func TestSESNotifier_CallerCancellationDoesNotAbortSend(t *testing.T) {
	sender := &fakeEmailSender{}
	n := NewSESNotifierWithSender(sender, "bot@example.com", []string{"admin@example.com"}, "autobot", newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Notify(ctx, CategoryError, "stopping")
	n.Wait()

	assert.Len(t, sender.Inputs(), 1)
}
