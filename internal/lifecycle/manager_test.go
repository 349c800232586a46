package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ach-settlement-backend/internal/mapping"
	"ach-settlement-backend/internal/models"
	"ach-settlement-backend/internal/nacha"
	"ach-settlement-backend/internal/repository"
	"ach-settlement-backend/internal/transport"
	"ach-settlement-backend/internal/vault"
)

type testSettings map[string]string

func (s testSettings) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

type fakeOrderSource struct {
	auths []models.PaymentAuthorization
	err   error
}

func (s *fakeOrderSource) GetVerifiedUnbatched(asOf time.Time) ([]models.PaymentAuthorization, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.auths, nil
}

func (s *fakeOrderSource) GetAuthorization(orderRef string) (*models.PaymentAuthorization, error) {
	for i := range s.auths {
		if s.auths[i].OrderRef == orderRef {
			return &s.auths[i], nil
		}
	}
	return nil, fmt.Errorf("no authorization for %s", orderRef)
}

type fakeTransport struct {
	mu          sync.Mutex
	files       map[string][]byte
	failUploads int
	uploads     int
	block       chan struct{}
	connected   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{files: make(map[string][]byte)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) TestConnection(ctx context.Context) error { return nil }

func (f *fakeTransport) Upload(ctx context.Context, dir, name string, data []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.failUploads > 0 {
		f.failUploads--
		return &transport.TransportError{Op: "upload", Reason: "connection reset"}
	}
	f.files[dir+"/"+name] = data
	return nil
}

func (f *fakeTransport) Download(ctx context.Context, dir, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[dir+"/"+name]
	if !ok {
		return nil, &transport.TransportError{Op: "download", Reason: "no such file"}
	}
	return data, nil
}

func (f *fakeTransport) List(ctx context.Context, dir string) ([]string, error) { return nil, nil }

func (f *fakeTransport) Exists(ctx context.Context, dir, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[dir+"/"+name]
	return ok, nil
}

func (f *fakeTransport) Delete(ctx context.Context, dir, name string) error { return nil }

func (f *fakeTransport) fileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 7)
	}
	v, err := vault.New(key)
	require.NoError(t, err)
	return v
}

func testAuth(t *testing.T, v *vault.Vault, ref string, dollars string, direction string) models.PaymentAuthorization {
	t.Helper()
	routing, err := v.Encrypt([]byte("021000021"))
	require.NoError(t, err)
	account, err := v.Encrypt([]byte("000123456789"))
	require.NoError(t, err)
	amount, err := decimal.NewFromString(dollars)
	require.NoError(t, err)
	verified := time.Now()
	return models.PaymentAuthorization{
		ID:               uuid.New(),
		OrderRef:         ref,
		Amount:           amount,
		Direction:        direction,
		RoutingEncrypted: routing,
		AccountEncrypted: account,
		AccountLast4:     "6789",
		AccountType:      "checking",
		ReceiverName:     "Pat Doe",
		VerifiedAt:       &verified,
	}
}

type fixture struct {
	manager *Manager
	repo    *repository.MemoryBatchRepository
	source  *fakeOrderSource
	client  *fakeTransport
	vault   *vault.Vault
	events  []string
}

// newFixture builds a manager over in-memory collaborators. Each spec
// is "dollars:direction"; order refs are ORD-1, ORD-2, ...
func newFixture(t *testing.T, specs []string) *fixture {
	t.Helper()
	v := testVault(t)

	var auths []models.PaymentAuthorization
	for i, spec := range specs {
		parts := strings.SplitN(spec, ":", 2)
		require.Len(t, parts, 2)
		dollars, direction := parts[0], parts[1]
		auths = append(auths, testAuth(t, v, fmt.Sprintf("ORD-%d", i+1), dollars, direction))
	}

	store := mapping.NewStore(testSettings{
		"odfi_routing_number":       "076401251",
		"origin_id":                 "1234567890",
		"origin_name":               "ACME SETTLEMENT",
		"company_id":                "1234567890",
		"company_entry_description": "SETTLEMENT",
	})
	repo := repository.NewMemoryBatchRepository()
	source := &fakeOrderSource{auths: auths}
	client := newFakeTransport()

	f := &fixture{repo: repo, source: source, client: client, vault: v}
	f.manager = NewManager(
		repo,
		source,
		store,
		nacha.NewEncoder(store, v),
		v,
		client,
		time.Now,
		zap.NewNop(),
		Config{
			ODFIRoutingNumber: "076401251",
			OutboundDir:       "/outbound",
			MaxUploadAttempts: 3,
			RetryInterval:     time.Millisecond,
		},
	)
	f.manager.Observe(func(action string, _ uuid.UUID, _ map[string]interface{}) {
		f.events = append(f.events, action)
	})
	return f
}

func TestRunOnceHappyPath(t *testing.T) {
	f := newFixture(t, []string{"10.00:debit", "25.50:debit", "5.00:credit"})

	report, err := f.manager.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.SelectedCount)
	assert.Equal(t, 3, report.ItemCount)
	assert.Equal(t, int64(3550), report.TotalDebit)
	assert.Equal(t, int64(500), report.TotalCredit)
	assert.True(t, report.Uploaded)
	require.NotNil(t, report.BatchID)

	batch, err := f.repo.FindBatch(*report.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchUploaded, batch.Status)
	assert.NotNil(t, batch.ExportedAt)
	assert.NotNil(t, batch.UploadedAt)

	items, err := f.repo.FindItemsByBatch(batch.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "076401250000001", items[0].TraceNumber)
	assert.Equal(t, "076401250000002", items[1].TraceNumber)
	assert.Equal(t, "076401250000003", items[2].TraceNumber)
	for _, item := range items {
		assert.Equal(t, models.ItemUploaded, item.Status)
	}

	assert.Equal(t, 1, f.client.fileCount())

	assert.Contains(t, f.events, "batch.build")
	assert.Contains(t, f.events, "batch.export")
	assert.Contains(t, f.events, "batch.upload")
}

func TestBuildBatchPartialFailure(t *testing.T) {
	f := newFixture(t, []string{"10.00:debit", "0.00:debit", "5.00:credit"})

	batch, items, failures, err := f.manager.BuildBatch(f.source.auths)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	require.Len(t, failures, 1)
	assert.Equal(t, "ORD-2", failures[0].OrderRef)
	assert.Contains(t, failures[0].Reason, "positive")
	assert.Equal(t, 2, batch.ItemCount)
}

func TestBuildBatchAllInvalid(t *testing.T) {
	f := newFixture(t, []string{"0.00:debit"})

	_, _, failures, err := f.manager.BuildBatch(f.source.auths)
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.Len(t, failures, 1)
}

func TestEntryHashStampedAtBuild(t *testing.T) {
	f := newFixture(t, []string{"10.00:debit", "20.00:debit"})

	batch, _, _, err := f.manager.BuildBatch(f.source.auths)
	require.NoError(t, err)
	// Two entries, routing 021000021: 2 * 2100002.
	assert.Equal(t, int64(4200004), batch.EntryHash)
}

func TestUploadRetriesThenFails(t *testing.T) {
	f := newFixture(t, []string{"10.00:debit"})
	f.client.failUploads = 10

	report, err := f.manager.RunOnce(context.Background())
	require.Error(t, err)
	var terr *transport.TransportError
	assert.ErrorAs(t, err, &terr)
	assert.False(t, report.Uploaded)
	assert.Equal(t, 3, f.client.uploads)

	batch, ferr := f.repo.FindBatch(*report.BatchID)
	require.NoError(t, ferr)
	assert.Equal(t, models.BatchFailed, batch.Status)
	assert.Equal(t, 3, batch.UploadAttempts)
	assert.NotEmpty(t, batch.LastError)
}

func TestUploadRecoversWithinBudget(t *testing.T) {
	f := newFixture(t, []string{"10.00:debit"})
	f.client.failUploads = 2

	report, err := f.manager.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Uploaded)

	batch, err := f.repo.FindBatch(*report.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchUploaded, batch.Status)
	assert.Equal(t, 3, batch.UploadAttempts)
}

func TestConcurrentRunRejected(t *testing.T) {
	f := newFixture(t, []string{"10.00:debit"})
	f.client.block = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = f.manager.RunOnce(context.Background())
	}()

	// Wait for the first run to reach the blocked upload.
	require.Eventually(t, func() bool {
		f.client.mu.Lock()
		defer f.client.mu.Unlock()
		return f.client.connected
	}, time.Second, time.Millisecond)

	_, err := f.manager.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrConcurrentRun)

	close(f.client.block)
	wg.Wait()
	require.NoError(t, firstErr)

	batches, err := f.repo.ListBatches(repository.BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, batches, 1, "exactly one batch built")
}

func TestSecondRunExcludesInFlightOrders(t *testing.T) {
	f := newFixture(t, []string{"10.00:debit"})

	_, err := f.manager.RunOnce(context.Background())
	require.NoError(t, err)

	report, err := f.manager.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.NoWork)
	assert.Equal(t, 1, report.ExcludedInFlight)
}

func TestRunOnceSourceError(t *testing.T) {
	f := newFixture(t, nil)
	f.source.err = errors.New("order store offline")

	report, err := f.manager.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, report.Error, "order store offline")
}

func TestExportRejectsWrongStatus(t *testing.T) {
	f := newFixture(t, []string{"10.00:debit"})
	batch, _, _, err := f.manager.BuildBatch(f.source.auths)
	require.NoError(t, err)

	batch.Status = models.BatchUploaded
	_, err = f.manager.Export(batch)
	assert.Error(t, err)
}
