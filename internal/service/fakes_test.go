package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"resizeme/internal/config"
	"resizeme/internal/model"
	"resizeme/internal/plan"
	"resizeme/internal/pubsub"
	"resizeme/internal/repository"

	"golang.org/x/oauth2"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

var testPlans = NewPlanMap(&config.Config{
	RazorpayPlanProMonthly:      "plan_pro_m",
	RazorpayPlanProYearly:       "plan_pro_y",
	RazorpayPlanBusinessMonthly: "plan_biz_m",
	RazorpayPlanBusinessYearly:  "plan_biz_y",
})

var proMonthly = model.Tier{PlanID: plan.Pro, BillingCycle: plan.Monthly}

// fakeUsageRepo mirrors the conditional SQL updates of the real repository under one mutex.
type fakeUsageRepo struct {
	mu      sync.Mutex
	rows    map[string]*model.UsageRecord
	history []model.DownloadEvent
	failAdd error
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{rows: map[string]*model.UsageRecord{}}
}

func (r *fakeUsageRepo) Ensure(_ context.Context, userID string, start, end time.Time) (*model.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[userID]
	if !ok {
		u = &model.UsageRecord{UserID: userID, Tier: model.FreeTier, PeriodStart: start, PeriodEnd: end, BillingAnchor: start}
		r.rows[userID] = u
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUsageRepo) Get(_ context.Context, userID string) (*model.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUsageRepo) IncrementDownloads(_ context.Context, ev model.DownloadEvent, limit int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[ev.UserID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if limit >= 0 && u.DownloadsThisMonth >= limit {
		return 0, repository.ErrDownloadLimitReached
	}
	u.DownloadsThisMonth++
	ev.ID = int64(len(r.history) + 1)
	r.history = append(r.history, ev)
	return u.DownloadsThisMonth, nil
}

func (r *fakeUsageRepo) ReserveStorage(_ context.Context, userID string, delta, limit int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAdd != nil {
		return 0, r.failAdd
	}
	u, ok := r.rows[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if limit >= 0 && u.StorageUsedBytes+delta > limit {
		return 0, repository.ErrStorageLimitReached
	}
	u.StorageUsedBytes += delta
	return u.StorageUsedBytes, nil
}

func (r *fakeUsageRepo) AddStorage(_ context.Context, userID string, delta int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAdd != nil {
		return 0, r.failAdd
	}
	u, ok := r.rows[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	u.StorageUsedBytes = max(u.StorageUsedBytes+delta, 0)
	return u.StorageUsedBytes, nil
}

func (r *fakeUsageRepo) ResetPeriod(_ context.Context, userID string, oldEnd, newStart, newEnd time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[userID]
	if !ok || !u.PeriodEnd.Equal(oldEnd) {
		return false, nil
	}
	u.DownloadsThisMonth = 0
	u.PeriodStart, u.PeriodEnd = newStart, newEnd
	return true, nil
}

func (r *fakeUsageRepo) ResetElapsed(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, u := range r.rows {
		if !now.After(u.PeriodEnd) {
			continue
		}
		u.PeriodStart, u.PeriodEnd = model.PeriodAt(u.Anchor(), now)
		u.DownloadsThisMonth = 0
		n++
	}
	return n, nil
}

func (r *fakeUsageRepo) History(_ context.Context, userID string, limit, offset int) ([]model.DownloadEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DownloadEvent
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].UserID == userID {
			out = append(out, r.history[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeUsageRepo) setTier(userID string, t model.Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.rows[userID]; ok {
		u.Tier = t
	}
}

// fakeSubscriptionRepo keeps rows keyed by gateway subscription id.
type fakeSubscriptionRepo struct {
	mu        sync.Mutex
	subs      map[string]*model.Subscription
	order     []string
	payments  []model.Payment
	processed map[string]bool
	tiers     map[string]model.Tier
	usage     *fakeUsageRepo
	commits   int
}

func newFakeSubscriptionRepo(usage *fakeUsageRepo) *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{
		subs:      map[string]*model.Subscription{},
		processed: map[string]bool{},
		tiers:     map[string]model.Tier{},
		usage:     usage,
	}
}

func (r *fakeSubscriptionRepo) GetLive(_ context.Context, userID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		s := r.subs[id]
		if s.UserID == userID && s.Status.Live() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeSubscriptionRepo) GetLatest(_ context.Context, userID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		s := r.subs[r.order[i]]
		if s.UserID == userID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeSubscriptionRepo) GetByGatewayID(_ context.Context, gatewayID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[gatewayID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSubscriptionRepo) Commit(_ context.Context, c repository.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitLocked(c)
	return nil
}

func (r *fakeSubscriptionRepo) commitLocked(c repository.Change) {
	r.commits++
	if sub := c.Subscription; sub != nil {
		if c.Supersede {
			for id, other := range r.subs {
				if id != sub.GatewaySubscriptionID && other.UserID == c.UserID && other.Status.Live() {
					other.Status = model.SubscriptionCanceled
				}
			}
		}
		cp := *sub
		if _, ok := r.subs[sub.GatewaySubscriptionID]; !ok {
			r.order = append(r.order, sub.GatewaySubscriptionID)
		}
		r.subs[sub.GatewaySubscriptionID] = &cp
	}
	if p := c.Payment; p != nil {
		dup := false
		for _, existing := range r.payments {
			if existing.GatewayPaymentID == p.GatewayPaymentID {
				dup = true
			}
		}
		if !dup {
			r.payments = append(r.payments, *p)
		}
	}
	if c.Tier != nil {
		r.tiers[c.UserID] = *c.Tier
		if r.usage != nil {
			r.usage.setTier(c.UserID, *c.Tier)
		}
	}
}

func (r *fakeSubscriptionRepo) ApplyEvent(_ context.Context, eventID, _, gatewayID string, fn repository.TransitionFunc) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.processed[eventID] {
		return false, nil
	}
	var current *model.Subscription
	if s, ok := r.subs[gatewayID]; ok {
		cp := *s
		current = &cp
	}
	change, err := fn(current)
	if err != nil {
		return false, err
	}
	if change != nil {
		r.commitLocked(*change)
	}
	r.processed[eventID] = true
	return true, nil
}

func (r *fakeSubscriptionRepo) SetCancelAtPeriodEnd(_ context.Context, subscriptionID string, cancel bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ID == subscriptionID && s.Status.Live() {
			s.CancelAtPeriodEnd = cancel
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeSubscriptionRepo) FinalizeElapsed(_ context.Context, userID string, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var users []string
	for _, id := range r.order {
		s := r.subs[id]
		if userID != "" && s.UserID != userID {
			continue
		}
		if !s.Status.Live() || !now.After(s.CurrentPeriodEnd) {
			continue
		}
		if !s.CancelAtPeriodEnd && s.Status != model.SubscriptionPastDue {
			continue
		}
		s.Status = model.SubscriptionCanceled
		r.tiers[s.UserID] = model.FreeTier
		if r.usage != nil {
			r.usage.setTier(s.UserID, model.FreeTier)
		}
		users = append(users, s.UserID)
	}
	return users, nil
}

func (r *fakeSubscriptionRepo) ListPayments(_ context.Context, userID string, limit int) ([]model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Payment
	for _, p := range r.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSubscriptionRepo) sub(gatewayID string) model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.subs[gatewayID]
}

func (r *fakeSubscriptionRepo) paymentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

// fakeGateway serves subscriptions from memory. When block is set every call
// waits for the context like a slow network call would.
type fakeGateway struct {
	mu      sync.Mutex
	subs    map[string]*GatewaySubscription
	created []GatewaySubscriptionRequest
	// canceled holds cancellations at cycle end, canceledNow immediate ones.
	canceled    []string
	canceledNow []string
	failCancel  bool
	block       bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{subs: map[string]*GatewaySubscription{}}
}

func (g *fakeGateway) KeyID() string { return "rzp_test_key" }

func (g *fakeGateway) wait(ctx context.Context) error {
	if !g.block {
		return nil
	}
	<-ctx.Done()
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, ctx.Err())
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, req GatewaySubscriptionRequest) (*GatewaySubscription, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	gs := &GatewaySubscription{
		ID:            fmt.Sprintf("sub_%d", len(g.created)),
		GatewayPlanID: req.GatewayPlanID,
		Status:        "created",
		UserID:        req.UserID,
		Tier:          req.Tier,
	}
	g.subs[gs.ID] = gs
	return gs, nil
}

func (g *fakeGateway) FetchSubscription(ctx context.Context, id string) (*GatewaySubscription, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	gs, ok := g.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s not found", ErrGatewayUnavailable, id)
	}
	cp := *gs
	return &cp, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, id string, atCycleEnd bool) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCancel {
		return fmt.Errorf("%w: cancel %s refused", ErrGatewayUnavailable, id)
	}
	if !atCycleEnd {
		g.canceledNow = append(g.canceledNow, id)
		if gs, ok := g.subs[id]; ok {
			gs.Status = "cancelled"
		}
		return nil
	}
	g.canceled = append(g.canceled, id)
	return nil
}

type recordingBilling struct {
	mu     sync.Mutex
	events []pubsub.BillingEvent
}

func (r *recordingBilling) PublishBilling(_ context.Context, ev pubsub.BillingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingBilling) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (s *fakeObjectStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	s.objects[key] = data
	return nil
}

func (s *fakeObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeObjectStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://objects.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func (s *fakeObjectStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeSavedFileRepo struct {
	mu        sync.Mutex
	files     map[string]model.SavedFile
	failInsert error
}

func newFakeSavedFileRepo() *fakeSavedFileRepo {
	return &fakeSavedFileRepo{files: map[string]model.SavedFile{}}
}

func (r *fakeSavedFileRepo) Insert(_ context.Context, f *model.SavedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsert != nil {
		return r.failInsert
	}
	f.CreatedAt = time.Now()
	r.files[f.ID] = *f
	return nil
}

func (r *fakeSavedFileRepo) List(_ context.Context, userID string, limit, offset int) ([]model.SavedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.SavedFile
	for _, f := range r.files {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSavedFileRepo) Get(_ context.Context, userID, id string) (*model.SavedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || f.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &f, nil
}

func (r *fakeSavedFileRepo) Delete(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || f.UserID != userID {
		return repository.ErrNotFound
	}
	delete(r.files, id)
	return nil
}

func (r *fakeSavedFileRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

type fakeDriveRepo struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[string]*model.DriveAccount
	files    map[string]model.DriveFile
}

func newFakeDriveRepo() *fakeDriveRepo {
	return &fakeDriveRepo{accounts: map[string]*model.DriveAccount{}, files: map[string]model.DriveFile{}}
}

func (r *fakeDriveRepo) GetAccount(_ context.Context, userID string) (*model.DriveAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeDriveRepo) SaveAccount(_ context.Context, userID string, tokenJSON []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[userID]
	if !ok {
		a = &model.DriveAccount{UserID: userID, ConnectedAt: time.Now()}
		r.accounts[userID] = a
	}
	a.TokenJSON = tokenJSON
	return nil
}

func (r *fakeDriveRepo) SetFolder(_ context.Context, userID, folderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[userID]
	if !ok {
		return repository.ErrNotFound
	}
	a.FolderID = &folderID
	return nil
}

func (r *fakeDriveRepo) DeleteAccount(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, userID)
	return nil
}

func (r *fakeDriveRepo) InsertFile(_ context.Context, f *model.DriveFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	f.ID = r.nextID
	r.files[f.DriveFileID] = *f
	return nil
}

func (r *fakeDriveRepo) ListFiles(_ context.Context, userID string, limit, offset int) ([]model.DriveFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DriveFile
	for _, f := range r.files {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeDriveRepo) GetFile(_ context.Context, userID, driveFileID string) (*model.DriveFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[driveFileID]
	if !ok || f.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &f, nil
}

func (r *fakeDriveRepo) DeleteFile(_ context.Context, userID, driveFileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[driveFileID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.files, driveFileID)
	return nil
}

// fakeDriveAPI hands out ids from a counter, so a recreated folder never
// reuses a trashed folder's id.
type fakeDriveAPI struct {
	mu         sync.Mutex
	nextID     int
	folders    map[string]bool
	files      map[string][]byte
	failUpload error
}

func newFakeDriveAPI() *fakeDriveAPI {
	return &fakeDriveAPI{folders: map[string]bool{}, files: map[string][]byte{}}
}

func (d *fakeDriveAPI) CreateFolder(_ context.Context, _ oauth2.TokenSource, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := fmt.Sprintf("folder_%d", d.nextID)
	d.folders[id] = true
	return id, nil
}

func (d *fakeDriveAPI) FolderExists(_ context.Context, _ oauth2.TokenSource, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.folders[id], nil
}

func (d *fakeDriveAPI) Upload(_ context.Context, _ oauth2.TokenSource, _, name, _ string, data []byte) (*DriveUpload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failUpload != nil {
		return nil, d.failUpload
	}
	d.nextID++
	id := fmt.Sprintf("file_%d", d.nextID)
	d.files[id] = data
	return &DriveUpload{ID: id, WebViewLink: "https://drive.test/" + id, Size: int64(len(data))}, nil
}

func (d *fakeDriveAPI) Delete(_ context.Context, _ oauth2.TokenSource, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, id)
	return nil
}

func (d *fakeDriveAPI) folderExists(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.folders[id]
}

func (d *fakeDriveAPI) trashFolder(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.folders, id)
}
