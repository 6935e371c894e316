package service

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DukeRupert/aiscan/internal/repository"
	"github.com/DukeRupert/aiscan/internal/repository/repotest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedClock is the "now" used by tests: mid-month so rollover tests can
// step back a month without crossing a year unless they mean to.
var fixedClock = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedClock }

// seedUser stores a verified user on plan with used scans this month.
func seedUser(t *testing.T, store *repotest.Store, plan string, used int32) uuid.UUID {
	t.Helper()
	id := uuid.New()
	store.PutUser(repository.User{
		ID:               id,
		Email:            "user@example.com",
		EmailVerified:    true,
		PlanType:         plan,
		MonthlyScanCount: used,
		MonthlyResetAt:   fixedClock.AddDate(0, 0, -10),
		CreatedAt:        fixedClock.AddDate(0, -3, 0),
		UpdatedAt:        fixedClock.AddDate(0, 0, -10),
	})
	return id
}

// pngImage encodes a solid w x h PNG.
func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
