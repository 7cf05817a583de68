package checkcode

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/DayanFA/MedCheck/internal/clock"
)

// Validity is how long a freshly minted code can be redeemed. The product
// requirement is exactly one minute; it is intentionally not configurable.
const Validity = 60 * time.Second

// Characters that read unambiguously on a phone screen: no 0/O, 1/I/L.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

var (
	// ErrNoActiveCode is returned by Peek when the supervisor has no
	// unexpired code.
	ErrNoActiveCode = errors.New("no active code")

	// ErrCodeInvalidOrExpired is returned by Redeem when the code does not
	// match the supervisor's current unexpired code.
	ErrCodeInvalidOrExpired = errors.New("code invalid or expired")
)

// Code is a rotating check-in code scoped to one supervisor. At most one
// unexpired code exists per supervisor at any instant.
type Code struct {
	SupervisorID   int64
	Code           string
	GeneratedAt    time.Time
	ExpiresAt      time.Time
	UsageCount     int
	LastAccessedAt *time.Time
}

// Response is the wire shape for code issuance and peeking.
type Response struct {
	Code             string    `json:"code"`
	ExpiresAt        time.Time `json:"expiresAt"`
	SecondsRemaining int64     `json:"secondsRemaining"`
}

// Store is the persistence surface the issuer needs. Mint must guarantee
// that two concurrent first-calls cannot both insert a valid code for the
// same supervisor.
type Store interface {
	// Active returns the supervisor's unexpired code, or nil.
	Active(ctx context.Context, supervisorID int64, now time.Time) (*Code, error)
	// Mint atomically replaces the supervisor's code when the stored one
	// has expired (or none exists). It returns the winning row, which may
	// be a still-valid code minted by a concurrent caller.
	Mint(ctx context.Context, c Code) (*Code, error)
	// Redeem bumps the usage counter of a matching unexpired code
	// (case-insensitive) and returns it, or nil when nothing matches.
	Redeem(ctx context.Context, supervisorID int64, code string, now time.Time) (*Code, error)
	// DeleteUnused removes never-redeemed codes older than the threshold.
	DeleteUnused(ctx context.Context, threshold time.Time) (int64, error)
}

// Service issues and validates rotating codes.
type Service struct {
	store Store
	clk   clock.Clock
	log   *slog.Logger
}

// NewService creates a code issuer.
func NewService(store Store, clk clock.Clock, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, clk: clk, log: log}
}

// GetOrCreate returns the supervisor's current code, minting a fresh one
// only when no unexpired code exists. Repeated calls inside the validity
// window return the identical code.
func (s *Service) GetOrCreate(ctx context.Context, supervisorID int64) (Response, error) {
	now := s.clk.Now()

	if active, err := s.store.Active(ctx, supervisorID, now); err != nil {
		return Response{}, err
	} else if active != nil {
		return s.response(*active, now), nil
	}

	generated, err := generate()
	if err != nil {
		return Response{}, err
	}
	minted, err := s.store.Mint(ctx, Code{
		SupervisorID:   supervisorID,
		Code:           generated,
		GeneratedAt:    now,
		ExpiresAt:      now.Add(Validity),
		LastAccessedAt: &now,
	})
	if err != nil {
		return Response{}, err
	}
	codesIssued.Inc()
	return s.response(*minted, now), nil
}

// Peek returns the supervisor's active code without minting.
func (s *Service) Peek(ctx context.Context, supervisorID int64) (Response, error) {
	now := s.clk.Now()
	active, err := s.store.Active(ctx, supervisorID, now)
	if err != nil {
		return Response{}, err
	}
	if active == nil {
		return Response{}, ErrNoActiveCode
	}
	return s.response(*active, now), nil
}

// Redeem validates a code for a supervisor, case-insensitively. A successful
// redemption increments the usage counter and stamps last access; it does
// not extend expiry.
func (s *Service) Redeem(ctx context.Context, supervisorID int64, code string) (*Code, error) {
	now := s.clk.Now()
	redeemed, err := s.store.Redeem(ctx, supervisorID, code, now)
	if err != nil {
		return nil, err
	}
	if redeemed == nil {
		return nil, ErrCodeInvalidOrExpired
	}
	return redeemed, nil
}

// SweepUnused evicts codes that were never redeemed and whose generation
// (and last access, when set) happened before now minus maxAge. Redeemed
// codes are kept for their usage counters.
func (s *Service) SweepUnused(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := s.clk.Now().Add(-maxAge)
	removed, err := s.store.DeleteUnused(ctx, threshold)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		codesSwept.Add(float64(removed))
		s.log.Info("swept unused check codes", "removed", removed)
	}
	return removed, nil
}

// QR renders the current code (minting if needed) as a PNG. The companion
// app scans it instead of typing the six characters.
func (s *Service) QR(ctx context.Context, supervisorID int64, size int) ([]byte, error) {
	resp, err := s.GetOrCreate(ctx, supervisorID)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(resp.Code, qrcode.Medium, size)
}

func (s *Service) response(c Code, now time.Time) Response {
	remaining := int64(c.ExpiresAt.Sub(now) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return Response{
		Code:             c.Code,
		ExpiresAt:        c.ExpiresAt.In(clock.Zone),
		SecondsRemaining: remaining,
	}
}

func generate() (string, error) {
	buf := make([]byte, codeLength)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}
