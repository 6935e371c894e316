package handler

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/DukeRupert/aiscan/internal/auth"
	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/repository"
	"github.com/DukeRupert/aiscan/internal/repository/repotest"
	"github.com/google/uuid"
)

// =============================================================================
// Shared Test Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedUser stores a verified user with used scans in the current month and
// returns its domain view.
func seedUser(t *testing.T, store *repotest.Store, plan string, used int32) *domain.User {
	t.Helper()
	now := time.Now().UTC()
	row := repository.User{
		ID:               uuid.New(),
		Email:            "grace@example.com",
		EmailVerified:    true,
		PlanType:         plan,
		MonthlyScanCount: used,
		MonthlyResetAt:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	store.PutUser(row)
	return &domain.User{
		ID:               row.ID,
		Email:            row.Email,
		EmailVerified:    true,
		PlanType:         domain.ParsePlanType(plan),
		MonthlyScanCount: int(used),
		MonthlyResetAt:   now,
	}
}

// withUser attaches user to the request the way RequireUser does.
func withUser(r *http.Request, user *domain.User) *http.Request {
	ctx := auth.SetIdentity(r.Context(), &domain.Identity{ID: user.ID, Email: user.Email, EmailVerified: user.EmailVerified})
	return r.WithContext(auth.SetUser(ctx, user))
}

// pngImage encodes a w x h gradient PNG.
func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
