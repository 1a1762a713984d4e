package service

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"resizeme/internal/model"
	"resizeme/internal/plan"
	"resizeme/internal/pubsub"
	"resizeme/internal/recent"

	"github.com/rs/zerolog"
)

type harness struct {
	clock     *testClock
	usageRepo *fakeUsageRepo
	subRepo   *fakeSubscriptionRepo
	gateway   *fakeGateway
	billing   *recordingBilling
	verifier  *SignatureVerifier
	recent    *recent.MemoryStore
	subs      SubscriptionService
	usage     UsageService
	ent       EntitlementService
}

var testStart = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, opts SubscriptionOptions) *harness {
	t.Helper()
	h := &harness{
		clock:     newTestClock(testStart),
		usageRepo: newFakeUsageRepo(),
		gateway:   newFakeGateway(),
		billing:   &recordingBilling{},
		verifier:  NewSignatureVerifier("key_secret", "webhook_secret"),
		recent:    recent.NewMemoryStore(),
	}
	h.subRepo = newFakeSubscriptionRepo(h.usageRepo)
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	logger := zerolog.Nop()
	h.subs = NewSubscriptionService(h.subRepo, h.gateway, testPlans, h.verifier, h.billing, opts, h.clock.Now, logger)
	h.usage = NewUsageService(h.usageRepo, h.recent, h.clock.Now, logger)
	h.ent = NewEntitlementService(h.subs, h.usage, logger)
	return h
}

// addGatewaySub registers a subscription the gateway would report after checkout.
func (h *harness) addGatewaySub(id, userID string, tier model.Tier, status string) {
	planID, _ := testPlans.GatewayPlanID(tier)
	h.gateway.subs[id] = &GatewaySubscription{
		ID:            id,
		GatewayPlanID: planID,
		Status:        status,
		UserID:        userID,
		Tier:          tier,
		CurrentStart:  h.clock.Now(),
		CurrentEnd:    h.clock.Now().AddDate(0, 1, 0),
	}
}

func (h *harness) verify(t *testing.T, userID, subID, paymentID string) *model.Subscription {
	t.Helper()
	sub, err := h.subs.VerifyPayment(context.Background(), userID, VerifyPaymentInput{
		PaymentID:      paymentID,
		SubscriptionID: subID,
		Signature:      h.verifier.PaymentSignature(paymentID, subID),
	})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	return sub
}

func (h *harness) tier(t *testing.T, userID string) model.Tier {
	t.Helper()
	tier, err := h.subs.EffectiveTier(context.Background(), userID)
	if err != nil {
		t.Fatalf("EffectiveTier: %v", err)
	}
	return tier
}

type webhookPayload struct {
	event     string
	subID     string
	planID    string
	userID    string
	start     time.Time
	end       time.Time
	paymentID string
	amount    int64
}

func (p webhookPayload) body(t *testing.T) []byte {
	t.Helper()
	payload := map[string]any{}
	if p.subID != "" && p.event != EventPaymentFailed {
		entity := map[string]any{
			"id":      p.subID,
			"plan_id": p.planID,
			"status":  "active",
			"notes":   []any{},
		}
		if p.userID != "" {
			entity["notes"] = map[string]string{"user_id": p.userID}
		}
		if !p.end.IsZero() {
			entity["current_start"] = p.start.Unix()
			entity["current_end"] = p.end.Unix()
		}
		payload["subscription"] = map[string]any{"entity": entity}
	}
	if p.paymentID != "" {
		payload["payment"] = map[string]any{"entity": map[string]any{
			"id":              p.paymentID,
			"amount":          p.amount,
			"currency":        "INR",
			"status":          "captured",
			"subscription_id": p.subID,
		}}
	}
	data, err := json.Marshal(map[string]any{"event": p.event, "payload": payload})
	if err != nil {
		t.Fatalf("marshal webhook: %v", err)
	}
	return data
}

func (h *harness) webhook(t *testing.T, p webhookPayload, eventID string) bool {
	t.Helper()
	body := p.body(t)
	applied, err := h.subs.HandleWebhook(context.Background(), body, h.verifier.WebhookSignature(body), eventID)
	if err != nil {
		t.Fatalf("HandleWebhook(%s): %v", p.event, err)
	}
	return applied
}

func flipLastHex(s string) string {
	b := []byte(s)
	if b[len(b)-1] == '0' {
		b[len(b)-1] = '1'
	} else {
		b[len(b)-1] = '0'
	}
	return string(b)
}

func TestCreateSubscription(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{TotalCountMonthly: 120, TotalCountYearly: 10})
	ctx := context.Background()

	if _, err := h.subs.CreateSubscription(ctx, "user-1", plan.Free, plan.Monthly); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("free plan: got %v, want ErrInvalidPlan", err)
	}
	if _, err := h.subs.CreateSubscription(ctx, "user-1", plan.Pro, "weekly"); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("bad cycle: got %v, want ErrInvalidPlan", err)
	}

	ref, err := h.subs.CreateSubscription(ctx, "user-1", plan.Pro, plan.Yearly)
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if ref.SubscriptionID == "" || ref.KeyID != "rzp_test_key" {
		t.Fatalf("unexpected checkout ref %+v", ref)
	}
	req := h.gateway.created[0]
	if req.GatewayPlanID != "plan_pro_y" || req.TotalCount != 10 || req.UserID != "user-1" {
		t.Fatalf("unexpected gateway request %+v", req)
	}
	// Creating a checkout grants nothing until payment is verified.
	if got := h.tier(t, "user-1"); got != model.FreeTier {
		t.Fatalf("tier after checkout = %+v, want free", got)
	}
}

func TestVerifyPaymentActivatesSubscription(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	h.addGatewaySub("sub_1", "user-1", proMonthly, "authenticated")

	sub := h.verify(t, "user-1", "sub_1", "pay_1")
	if sub.Status != model.SubscriptionActive || sub.Tier != proMonthly {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if got := h.tier(t, "user-1"); got != proMonthly {
		t.Fatalf("tier = %+v, want pro monthly", got)
	}

	payments, err := h.subs.Payments(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("Payments: %v", err)
	}
	if len(payments) != 1 || payments[0].Amount != 49900 || payments[0].Status != model.PaymentSuccess {
		t.Fatalf("unexpected payments %+v", payments)
	}
	if !slices.Contains(h.billing.types(), pubsub.BillingSubscriptionActivated) {
		t.Fatalf("activation not published: %v", h.billing.types())
	}

	// A repeated verification of the same payment is harmless.
	h.verify(t, "user-1", "sub_1", "pay_1")
	if n := h.subRepo.paymentCount(); n != 1 {
		t.Fatalf("payments after replay = %d, want 1", n)
	}
}

func TestVerifyPaymentRejectsTamperedSignature(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	h.addGatewaySub("sub_1", "user-1", proMonthly, "active")

	good := h.verifier.PaymentSignature("pay_1", "sub_1")
	cases := map[string]VerifyPaymentInput{
		"flipped digit":  {PaymentID: "pay_1", SubscriptionID: "sub_1", Signature: flipLastHex(good)},
		"other payment":  {PaymentID: "pay_2", SubscriptionID: "sub_1", Signature: good},
		"empty":          {PaymentID: "pay_1", SubscriptionID: "sub_1"},
		"not hex":        {PaymentID: "pay_1", SubscriptionID: "sub_1", Signature: "zz"},
		"wrong key used": {PaymentID: "pay_1", SubscriptionID: "sub_1", Signature: NewSignatureVerifier("other", "").PaymentSignature("pay_1", "sub_1")},
	}
	for name, in := range cases {
		if _, err := h.subs.VerifyPayment(context.Background(), "user-1", in); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("%s: got %v, want ErrInvalidSignature", name, err)
		}
	}
	if h.subRepo.commits != 0 {
		t.Fatalf("commits = %d, want 0", h.subRepo.commits)
	}
	if got := h.tier(t, "user-1"); got != model.FreeTier {
		t.Fatalf("tier = %+v, want free", got)
	}
}

func TestVerifyPaymentRejectsOtherUsersSubscription(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	h.addGatewaySub("sub_1", "user-2", proMonthly, "active")

	_, err := h.subs.VerifyPayment(context.Background(), "user-1", VerifyPaymentInput{
		PaymentID:      "pay_1",
		SubscriptionID: "sub_1",
		Signature:      h.verifier.PaymentSignature("pay_1", "sub_1"),
	})
	if !errors.Is(err, ErrSubscriptionMismatch) {
		t.Fatalf("got %v, want ErrSubscriptionMismatch", err)
	}
	if got := h.tier(t, "user-1"); got != model.FreeTier {
		t.Fatalf("tier = %+v, want free", got)
	}
}

func TestVerifyPaymentRejectsClosedSubscription(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	h.addGatewaySub("sub_1", "user-1", proMonthly, "cancelled")

	_, err := h.subs.VerifyPayment(context.Background(), "user-1", VerifyPaymentInput{
		PaymentID:      "pay_1",
		SubscriptionID: "sub_1",
		Signature:      h.verifier.PaymentSignature("pay_1", "sub_1"),
	})
	if !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("got %v, want ErrNoActiveSubscription", err)
	}
}

func TestVerifyPaymentTimesOutClosed(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{VerifyTimeout: 20 * time.Millisecond})
	h.addGatewaySub("sub_1", "user-1", proMonthly, "active")
	h.gateway.block = true

	start := time.Now()
	_, err := h.subs.VerifyPayment(context.Background(), "user-1", VerifyPaymentInput{
		PaymentID:      "pay_1",
		SubscriptionID: "sub_1",
		Signature:      h.verifier.PaymentSignature("pay_1", "sub_1"),
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("got %v, want ErrGatewayUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("verification took %v, timeout not enforced", elapsed)
	}
	if h.subRepo.commits != 0 {
		t.Fatal("timed out verification must not commit")
	}
	if got := h.tier(t, "user-1"); got != model.FreeTier {
		t.Fatalf("tier = %+v, want free", got)
	}
}

func TestWebhookIsIdempotent(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	p := webhookPayload{
		event:     EventSubscriptionCharged,
		subID:     "sub_1",
		planID:    "plan_pro_m",
		userID:    "user-1",
		start:     testStart,
		end:       testStart.AddDate(0, 1, 0),
		paymentID: "pay_1",
		amount:    49900,
	}

	if !h.webhook(t, p, "evt_1") {
		t.Fatal("first delivery should apply")
	}
	commits := h.subRepo.commits
	if h.webhook(t, p, "evt_1") {
		t.Fatal("duplicate delivery should be ignored")
	}
	if h.subRepo.commits != commits {
		t.Fatal("duplicate delivery wrote state")
	}
	if n := h.subRepo.paymentCount(); n != 1 {
		t.Fatalf("payments = %d, want 1", n)
	}
	if got := h.tier(t, "user-1"); got != proMonthly {
		t.Fatalf("tier = %+v, want pro monthly", got)
	}

	// Without an event id header identical bodies share a key.
	p.event = EventSubscriptionActivated
	p.paymentID = ""
	if !h.webhook(t, p, "") {
		t.Fatal("first header-less delivery should apply")
	}
	if h.webhook(t, p, "") {
		t.Fatal("identical header-less delivery should be ignored")
	}
}

func TestWebhookRejectsBadInput(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	body := webhookPayload{event: EventSubscriptionActivated, subID: "sub_1", planID: "plan_pro_m", userID: "user-1"}.body(t)

	if _, err := h.subs.HandleWebhook(context.Background(), body, flipLastHex(h.verifier.WebhookSignature(body)), "evt_1"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered signature: got %v", err)
	}
	if _, err := h.subs.HandleWebhook(context.Background(), body, "", "evt_1"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("missing signature: got %v", err)
	}
	garbage := []byte(`{"event":`)
	if _, err := h.subs.HandleWebhook(context.Background(), garbage, h.verifier.WebhookSignature(garbage), "evt_2"); !errors.Is(err, ErrMalformedWebhook) {
		t.Fatalf("malformed body: got %v", err)
	}
	if h.subRepo.commits != 0 {
		t.Fatal("rejected webhooks must not write")
	}
}

func TestCancelKeepsTierUntilPeriodEnd(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	ctx := context.Background()
	h.addGatewaySub("sub_1", "user-1", proMonthly, "active")
	sub := h.verify(t, "user-1", "sub_1", "pay_1")

	canceled, err := h.subs.Cancel(ctx, "user-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !canceled.CancelAtPeriodEnd || !slices.Equal(h.gateway.canceled, []string{"sub_1"}) {
		t.Fatalf("cancel not forwarded: %+v %v", canceled, h.gateway.canceled)
	}
	// Cancelling twice is a no-op.
	if _, err := h.subs.Cancel(ctx, "user-1"); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if len(h.gateway.canceled) != 1 {
		t.Fatalf("gateway cancel called %d times", len(h.gateway.canceled))
	}

	h.clock.Set(sub.CurrentPeriodEnd.Add(-time.Minute))
	if got := h.tier(t, "user-1"); got != proMonthly {
		t.Fatalf("tier before period end = %+v, want pro", got)
	}

	h.clock.Set(sub.CurrentPeriodEnd.Add(time.Minute))
	if got := h.tier(t, "user-1"); got != model.FreeTier {
		t.Fatalf("tier after period end = %+v, want free", got)
	}
	if st := h.subRepo.sub("sub_1").Status; st != model.SubscriptionCanceled {
		t.Fatalf("status = %s, want canceled", st)
	}
	types := h.billing.types()
	if !slices.Contains(types, pubsub.BillingSubscriptionCanceling) || !slices.Contains(types, pubsub.BillingSubscriptionCanceled) {
		t.Fatalf("unexpected billing events %v", types)
	}
	if _, err := h.subs.Cancel(ctx, "user-1"); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("cancel after end: got %v", err)
	}

	current, err := h.subs.Current(ctx, "user-1")
	if err != nil || current == nil || current.Status != model.SubscriptionCanceled {
		t.Fatalf("Current = %+v, %v", current, err)
	}
}

func TestCancelledWebhookIsTerminal(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	base := webhookPayload{subID: "sub_1", planID: "plan_pro_m", userID: "user-1", start: testStart, end: testStart.AddDate(0, 1, 0)}

	activated := base
	activated.event = EventSubscriptionActivated
	h.webhook(t, activated, "evt_1")

	cancelled := base
	cancelled.event = EventSubscriptionCancelled
	if !h.webhook(t, cancelled, "evt_2") {
		t.Fatal("cancel should apply")
	}
	if got := h.tier(t, "user-1"); got != model.FreeTier {
		t.Fatalf("tier after cancel = %+v, want free", got)
	}

	// A late activation delivered after cancellation is recorded but changes nothing.
	if !h.webhook(t, activated, "evt_3") {
		t.Fatal("late event should be recorded")
	}
	if st := h.subRepo.sub("sub_1").Status; st != model.SubscriptionCanceled {
		t.Fatalf("status = %s, want canceled", st)
	}
}

func TestPaymentFailedKeepsTierUntilPeriodEnd(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	base := webhookPayload{subID: "sub_1", planID: "plan_pro_m", userID: "user-1", start: testStart, end: testStart.AddDate(0, 1, 0)}
	activated := base
	activated.event = EventSubscriptionActivated
	h.webhook(t, activated, "evt_1")

	failed := webhookPayload{event: EventPaymentFailed, subID: "sub_1", paymentID: "pay_9", amount: 49900}
	h.webhook(t, failed, "evt_2")

	if st := h.subRepo.sub("sub_1").Status; st != model.SubscriptionPastDue {
		t.Fatalf("status = %s, want past_due", st)
	}
	if got := h.tier(t, "user-1"); got != proMonthly {
		t.Fatalf("past due tier = %+v, want pro", got)
	}
	payments, _ := h.subs.Payments(context.Background(), "user-1", 10)
	if len(payments) != 1 || payments[0].Status != model.PaymentFailed {
		t.Fatalf("unexpected payments %+v", payments)
	}

	h.clock.Set(base.end.Add(time.Hour))
	if got := h.tier(t, "user-1"); got != model.FreeTier {
		t.Fatalf("lapsed tier = %+v, want free", got)
	}
}

func TestNewSubscriptionSupersedesOld(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	h.addGatewaySub("sub_1", "user-1", proMonthly, "active")
	h.verify(t, "user-1", "sub_1", "pay_1")

	business := model.Tier{PlanID: plan.Business, BillingCycle: plan.Yearly}
	h.addGatewaySub("sub_2", "user-1", business, "active")
	h.verify(t, "user-1", "sub_2", "pay_2")

	if st := h.subRepo.sub("sub_1").Status; st != model.SubscriptionCanceled {
		t.Fatalf("old subscription status = %s, want canceled", st)
	}
	if got := h.tier(t, "user-1"); got != business {
		t.Fatalf("tier = %+v, want business yearly", got)
	}
	if !slices.Equal(h.gateway.canceledNow, []string{"sub_1"}) {
		t.Fatalf("gateway immediate cancels = %v, want [sub_1]", h.gateway.canceledNow)
	}
}

func TestChargeOnSupersededSubscriptionIsRecorded(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	h.addGatewaySub("sub_1", "user-1", proMonthly, "active")
	h.verify(t, "user-1", "sub_1", "pay_1")
	business := model.Tier{PlanID: plan.Business, BillingCycle: plan.Monthly}
	h.addGatewaySub("sub_2", "user-1", business, "active")
	h.verify(t, "user-1", "sub_2", "pay_2")

	// A renewal of the old plan that raced its cancellation.
	charged := webhookPayload{
		event:     EventSubscriptionCharged,
		subID:     "sub_1",
		planID:    "plan_pro_m",
		userID:    "user-1",
		start:     testStart.AddDate(0, 1, 0),
		end:       testStart.AddDate(0, 2, 0),
		paymentID: "pay_3",
		amount:    49900,
	}
	before := h.subRepo.paymentCount()
	if !h.webhook(t, charged, "evt_late_charge") {
		t.Fatal("charge should be applied")
	}
	if after := h.subRepo.paymentCount(); after != before+1 {
		t.Fatalf("payments = %d, want %d", after, before+1)
	}
	if st := h.subRepo.sub("sub_1").Status; st != model.SubscriptionCanceled {
		t.Fatalf("old subscription status = %s, want canceled", st)
	}
	if got := h.tier(t, "user-1"); got != business {
		t.Fatalf("tier = %+v, want business", got)
	}
}

func TestUpgradeAbortsWhenOldSubscriptionCannotBeCanceled(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	h.addGatewaySub("sub_1", "user-1", proMonthly, "active")
	h.verify(t, "user-1", "sub_1", "pay_1")
	business := model.Tier{PlanID: plan.Business, BillingCycle: plan.Monthly}
	h.addGatewaySub("sub_2", "user-1", business, "active")
	h.gateway.failCancel = true

	_, err := h.subs.VerifyPayment(context.Background(), "user-1", VerifyPaymentInput{
		PaymentID:      "pay_2",
		SubscriptionID: "sub_2",
		Signature:      h.verifier.PaymentSignature("pay_2", "sub_2"),
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
	if st := h.subRepo.sub("sub_1").Status; st != model.SubscriptionActive {
		t.Fatalf("old subscription status = %s, want active", st)
	}
	if _, ok := h.subRepo.subs["sub_2"]; ok {
		t.Fatal("new subscription must not be stored")
	}
	if got := h.tier(t, "user-1"); got != proMonthly {
		t.Fatalf("tier = %+v, want pro monthly", got)
	}
}

func TestWebhookActivationCancelsSupersededOnGateway(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	h.addGatewaySub("sub_1", "user-1", proMonthly, "active")
	h.verify(t, "user-1", "sub_1", "pay_1")

	activated := webhookPayload{
		event:  EventSubscriptionActivated,
		subID:  "sub_2",
		planID: "plan_biz_m",
		userID: "user-1",
		start:  testStart,
		end:    testStart.AddDate(0, 1, 0),
	}
	if !h.webhook(t, activated, "evt_new") {
		t.Fatal("activation should apply")
	}
	if !slices.Equal(h.gateway.canceledNow, []string{"sub_1"}) {
		t.Fatalf("gateway immediate cancels = %v, want [sub_1]", h.gateway.canceledNow)
	}
	// Redelivery finds sub_2 live and cancels nothing more.
	h.webhook(t, activated, "evt_new")
	if len(h.gateway.canceledNow) != 1 {
		t.Fatalf("gateway immediate cancels = %v", h.gateway.canceledNow)
	}
}

func TestFinalizeElapsedSweepsAllUsers(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	ctx := context.Background()
	for _, u := range []string{"user-1", "user-2", "user-3"} {
		id := "sub_" + u
		h.addGatewaySub(id, u, proMonthly, "active")
		h.verify(t, u, id, "pay_"+u)
	}
	for _, u := range []string{"user-1", "user-2"} {
		if _, err := h.subs.Cancel(ctx, u); err != nil {
			t.Fatalf("Cancel(%s): %v", u, err)
		}
	}

	h.clock.Advance(40 * 24 * time.Hour)
	n, err := h.subs.FinalizeElapsed(ctx)
	if err != nil {
		t.Fatalf("FinalizeElapsed: %v", err)
	}
	if n != 2 {
		t.Fatalf("finalized %d, want 2", n)
	}
	// A renewing subscription is untouched even after its period end.
	if st := h.subRepo.sub("sub_user-3").Status; st != model.SubscriptionActive {
		t.Fatalf("renewing subscription status = %s", st)
	}
}
