package service

import (
	"context"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/DukeRupert/aiscan/internal/ai"
	"github.com/DukeRupert/aiscan/internal/ai/mock"
	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/repository/repotest"
	"github.com/DukeRupert/aiscan/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scanFixture struct {
	store    *repotest.Store
	provider *mock.Provider
	svc      ScanService
}

func newScanFixture(t *testing.T, store storage.Storage) *scanFixture {
	t.Helper()
	repo := repotest.New()
	provider := mock.New(testLogger())

	svc := NewScanService(ScanServiceConfig{
		Entitlements:   newTestEntitlements(repo),
		Recorder:       NewUsageRecorder(repo, testLogger()),
		Detector:       ai.NewFallbackDetector(provider, testLogger(), nil),
		Preparer:       NewImagePreparer(),
		Storage:        store,
		MaxUploadBytes: 10 << 20,
	}, testLogger())

	return &scanFixture{store: repo, provider: provider, svc: svc}
}

func (f *scanFixture) user(t *testing.T, plan string, used int32) *domain.User {
	t.Helper()
	id := seedUser(t, f.store, plan, used)
	u, _ := f.store.User(id)
	return repoUserToDomain(u)
}

func TestScan_FreeUserSecondScanDenied(t *testing.T) {
	f := newScanFixture(t, nil)
	user := f.user(t, "free", 0)
	img := pngImage(t, 32, 32)

	res, err := f.svc.Scan(context.Background(), ScanParams{User: user, Image: img, IP: "198.51.100.4"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.ScansRemaining)
	assert.Equal(t, domain.PlanFree, res.PlanType)
	assert.Equal(t, ai.IsAI(res.AIScore), res.IsAI)
	assert.False(t, res.Fallback)

	_, err = f.svc.Scan(context.Background(), ScanParams{User: user, Image: img})
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))
	assert.Equal(t, domain.ReasonScanLimitReached, domain.ErrorReason(err))

	assert.Equal(t, 1, f.provider.Calls(), "denied scans never reach the detector")
	assert.Equal(t, 1, f.store.ScanCount())
}

func TestScan_UsesCreditAfterPlan(t *testing.T) {
	f := newScanFixture(t, nil)
	user := f.user(t, "free", 1)
	f.store.Credits[user.ID] = 2

	res, err := f.svc.Scan(context.Background(), ScanParams{User: user, Image: pngImage(t, 16, 16)})
	require.NoError(t, err)
	assert.Equal(t, domain.PlanCredit, res.PlanType)
	assert.Equal(t, 1, res.ScansRemaining)

	assert.Equal(t, int32(1), f.store.CreditBalance(user.ID))
	u, _ := f.store.User(user.ID)
	assert.Equal(t, int32(1), u.MonthlyScanCount, "plan usage untouched by credit scan")
}

func TestScan_DetectorFailureFallsBack(t *testing.T) {
	f := newScanFixture(t, nil)
	f.provider.DetectError = ai.EAIUnavailable
	user := f.user(t, "pro", 0)

	res, err := f.svc.Scan(context.Background(), ScanParams{User: user, Image: pngImage(t, 16, 16)})
	require.NoError(t, err)
	assert.Equal(t, ai.FallbackScore, res.AIScore)
	assert.False(t, res.IsAI)
	assert.True(t, res.Fallback)
	assert.Equal(t, 1, f.store.ScanCount())
}

func TestScan_SendsPreparedJPEG(t *testing.T) {
	f := newScanFixture(t, nil)
	user := f.user(t, "pro", 0)

	_, err := f.svc.Scan(context.Background(), ScanParams{User: user, Image: pngImage(t, 16, 16)})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", f.provider.LastParams.ContentType)
	assert.Equal(t, user.ID, f.provider.LastParams.UserID)
}

func TestScan_RejectsBeforeEvaluating(t *testing.T) {
	f := newScanFixture(t, nil)
	user := f.user(t, "free", 0)

	_, err := f.svc.Scan(context.Background(), ScanParams{User: user, Image: nil})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = f.svc.Scan(context.Background(), ScanParams{User: user, Image: []byte("plain text, not an image")})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	unverified := *user
	unverified.EmailVerified = false
	_, err = f.svc.Scan(context.Background(), ScanParams{User: &unverified, Image: pngImage(t, 8, 8)})
	assert.Equal(t, domain.ReasonEmailNotVerified, domain.ErrorReason(err))

	u, _ := f.store.User(user.ID)
	assert.Equal(t, int32(0), u.MonthlyScanCount)
	assert.Equal(t, 0, f.provider.Calls())
}

func TestScan_ArchivesImage(t *testing.T) {
	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)

	f := newScanFixture(t, local)
	user := f.user(t, "starter", 0)

	_, err = f.svc.Scan(context.Background(), ScanParams{User: user, Image: pngImage(t, 8, 8)})
	require.NoError(t, err)

	require.Len(t, f.store.Scans, 1)
	key := f.store.Scans[0].ImageKey
	require.True(t, key.Valid)
	assert.Contains(t, key.String, "scans/"+user.ID.String()+"/")

	exists, err := local.Exists(context.Background(), key.String)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestScan_RemovesArchiveWhenRecordFails(t *testing.T) {
	base := t.TempDir()
	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: base}, testLogger())
	require.NoError(t, err)

	f := newScanFixture(t, local)
	user := f.user(t, "starter", 0)
	f.store.Errors["CreateScan"] = assert.AnError

	_, err = f.svc.Scan(context.Background(), ScanParams{User: user, Image: pngImage(t, 8, 8)})
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))

	files := 0
	require.NoError(t, filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files++
		}
		return err
	}))
	assert.Zero(t, files, "orphaned image left behind")

	u, _ := f.store.User(user.ID)
	assert.Equal(t, int32(0), u.MonthlyScanCount)
}

func TestScan_RequiresUser(t *testing.T) {
	f := newScanFixture(t, nil)
	_, err := f.svc.Scan(context.Background(), ScanParams{Image: pngImage(t, 8, 8)})
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
}
