package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psds-microservice/homecam-relay/internal/clock"
	"github.com/psds-microservice/homecam-relay/internal/codestore"
	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/model"
)

const (
	DefaultPINTTL      = 600 * time.Second
	DefaultQRTTL       = 300 * time.Second
	DefaultMaxAttempts = 5
)

var pinPattern = regexp.MustCompile(`^[0-9]{6}$`)

func codeKey(code string) string             { return "connection:" + code }
func viewerKey(code, viewerID string) string { return "viewer_connection:" + code + ":" + viewerID }
func viewersKey(code string) string          { return "connection_viewers:" + code }
func cameraCodeKey(cameraID string) string   { return "camera_code:" + cameraID }

// codeHint is what gets logged instead of the code itself.
func codeHint(code string) string {
	if len(code) <= 2 {
		return "**"
	}
	return strings.Repeat("*", len(code)-2) + code[len(code)-2:]
}

// CodeServiceConfig tunes code lifetimes and the collision retry budget.
type CodeServiceConfig struct {
	PINTTL      time.Duration
	QRTTL       time.Duration
	MaxAttempts int
}

// CodeService issues and resolves pairing codes. It keeps no state of its own;
// everything lives in the shared store under TTL.
type CodeService struct {
	store       codestore.Store
	clock       clock.Clock
	log         *zap.Logger
	pinTTL      time.Duration
	qrTTL       time.Duration
	maxAttempts int
	newPIN      func() (string, error)
}

// NewCodeService creates a code service.
func NewCodeService(store codestore.Store, cfg CodeServiceConfig, clk clock.Clock, log *zap.Logger) *CodeService {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.PINTTL <= 0 {
		cfg.PINTTL = DefaultPINTTL
	}
	if cfg.QRTTL <= 0 {
		cfg.QRTTL = DefaultQRTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &CodeService{
		store:       store,
		clock:       clk,
		log:         log,
		pinTTL:      cfg.PINTTL,
		qrTTL:       cfg.QRTTL,
		maxAttempts: cfg.MaxAttempts,
		newPIN:      randomPIN,
	}
}

// randomPIN draws uniformly from 000000-999999.
func randomPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *CodeService) ttlFor(t model.CodeType) time.Duration {
	if t == model.CodeTypeQR {
		return s.qrTTL
	}
	return s.pinTTL
}

// Generate stores a new code for the camera. A non-empty requested code is used as-is
// and overwrites whatever held that value.
func (s *CodeService) Generate(ctx context.Context, info model.CameraInfo, typ model.CodeType, requested string) (*model.GenerateResult, error) {
	if typ == "" {
		typ = model.CodeTypePIN
	}
	if typ != model.CodeTypePIN && typ != model.CodeTypeQR {
		return nil, fmt.Errorf("%w: unknown code type %q", errs.ErrInvalidMessage, typ)
	}
	if info.CameraID == "" {
		return nil, fmt.Errorf("%w: cameraId is required", errs.ErrInvalidMessage)
	}
	ttl := s.ttlFor(typ)
	now := s.clock.Now()
	rec := model.ConnectionCode{
		Type:        typ,
		CameraID:    info.CameraID,
		CameraName:  info.CameraName,
		OwnerUserID: info.OwnerUserID,
		Status:      model.ConnectionStatusWaiting,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	if requested != "" {
		if typ == model.CodeTypePIN && !pinPattern.MatchString(requested) {
			return nil, fmt.Errorf("%w: pin must be 6 digits", errs.ErrInvalidMessage)
		}
		rec.Code = requested
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		if err := s.store.Set(ctx, codeKey(requested), raw, ttl); err != nil {
			return nil, fmt.Errorf("store code: %w", err)
		}
	} else {
		stored := false
		for attempt := 1; attempt <= s.maxAttempts; attempt++ {
			code, err := s.candidate(typ)
			if err != nil {
				return nil, err
			}
			rec.Code = code
			raw, err := json.Marshal(rec)
			if err != nil {
				return nil, err
			}
			ok, err := s.store.SetNX(ctx, codeKey(code), raw, ttl)
			if err != nil {
				return nil, fmt.Errorf("store code: %w", err)
			}
			if ok {
				stored = true
				break
			}
			s.log.Debug("code collision", zap.String("camera_id", info.CameraID), zap.Int("attempt", attempt))
		}
		if !stored {
			s.log.Warn("code generation exhausted retries", zap.String("camera_id", info.CameraID), zap.Int("attempts", s.maxAttempts))
			return nil, errs.ErrCodeGenerationFailed
		}
	}

	if err := s.store.Set(ctx, cameraCodeKey(info.CameraID), []byte(rec.Code), ttl); err != nil {
		s.log.Warn("camera code index write failed", zap.String("camera_id", info.CameraID), zap.Error(err))
	}

	s.log.Info("connection code generated",
		zap.String("camera_id", info.CameraID),
		zap.String("type", string(typ)),
		zap.String("code_hint", codeHint(rec.Code)))

	res := &model.GenerateResult{
		Code:      rec.Code,
		Type:      typ,
		CameraID:  info.CameraID,
		ExpiresAt: rec.ExpiresAt,
		TTL:       int(ttl / time.Second),
	}
	if typ == model.CodeTypeQR {
		res.QRPayload = qrPayload(rec)
	}
	return res, nil
}

func (s *CodeService) candidate(typ model.CodeType) (string, error) {
	if typ == model.CodeTypeQR {
		return uuid.NewString(), nil
	}
	return s.newPIN()
}

func qrPayload(rec model.ConnectionCode) string {
	raw, _ := json.Marshal(struct {
		App        string `json:"app"`
		Code       string `json:"code"`
		CameraID   string `json:"cameraId"`
		CameraName string `json:"cameraName,omitempty"`
		ExpiresAt  int64  `json:"expiresAt"`
	}{"homecam", rec.Code, rec.CameraID, rec.CameraName, rec.ExpiresAt.UnixMilli()})
	return string(raw)
}

// Lookup is a single read; an expired code is reported as errs.ErrNotFound.
func (s *CodeService) Lookup(ctx context.Context, code string) (*model.ConnectionCode, error) {
	if code == "" {
		return nil, errs.ErrNotFound
	}
	raw, err := s.store.Get(ctx, codeKey(code))
	if err != nil {
		if errors.Is(err, codestore.ErrNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("load code: %w", err)
	}
	var rec model.ConnectionCode
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode code: %w", err)
	}
	return &rec, nil
}

// Connect attaches a viewer to a live code. Records written here expire together with the code.
func (s *CodeService) Connect(ctx context.Context, code, viewerID, deviceID string) (*model.ConnectResult, error) {
	rec, err := s.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	ttl, err := s.store.TTL(ctx, codeKey(code))
	if err != nil {
		if errors.Is(err, codestore.ErrNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("code ttl: %w", err)
	}
	if ttl <= 0 {
		ttl = rec.ExpiresAt.Sub(s.clock.Now())
		if ttl <= 0 {
			return nil, errs.ErrNotFound
		}
	}
	if viewerID == "" {
		viewerID = uuid.NewString()
	}

	vc := model.ViewerConnection{
		ConnectionID: code,
		ViewerID:     viewerID,
		DeviceID:     deviceID,
		ConnectedAt:  s.clock.Now(),
		Status:       model.ConnectionStatusConnected,
	}
	raw, err := json.Marshal(vc)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, viewerKey(code, viewerID), raw, ttl); err != nil {
		return nil, fmt.Errorf("store viewer connection: %w", err)
	}
	if err := s.store.AddMember(ctx, viewersKey(code), viewerID, ttl); err != nil {
		return nil, fmt.Errorf("index viewer connection: %w", err)
	}

	if rec.Status != model.ConnectionStatusConnected {
		rec.Status = model.ConnectionStatusConnected
		updated, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		if err := s.store.Set(ctx, codeKey(code), updated, ttl); err != nil {
			return nil, fmt.Errorf("update code status: %w", err)
		}
	}

	s.log.Info("viewer connected by code",
		zap.String("camera_id", rec.CameraID),
		zap.String("viewer_id", viewerID),
		zap.String("code_hint", codeHint(code)))

	return &model.ConnectResult{
		ConnectionID: vc.ConnectionID,
		CameraID:     rec.CameraID,
		CameraName:   rec.CameraName,
		Status:       model.ConnectionStatusConnected,
		ViewerID:     viewerID,
		DeviceID:     deviceID,
		ConnectedAt:  vc.ConnectedAt,
	}, nil
}

// Refresh issues a replacement code of the same type and deletes the old one.
// Viewers paired through the old code are not carried over.
func (s *CodeService) Refresh(ctx context.Context, code string, info model.CameraInfo) (*model.GenerateResult, error) {
	typ := model.CodeTypePIN
	if old, err := s.Lookup(ctx, code); err == nil {
		typ = old.Type
		if info.CameraID == "" {
			info.CameraID = old.CameraID
		}
		if info.CameraName == "" {
			info.CameraName = old.CameraName
		}
		if info.OwnerUserID == "" {
			info.OwnerUserID = old.OwnerUserID
		}
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	res, err := s.Generate(ctx, info, typ, "")
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, codeKey(code)); err != nil {
		return nil, fmt.Errorf("delete old code: %w", err)
	}
	return res, nil
}

// Disconnect removes one viewer connection, or tears the code down entirely when viewerID is empty.
func (s *CodeService) Disconnect(ctx context.Context, code, viewerID string) error {
	if viewerID != "" {
		if err := s.store.Delete(ctx, viewerKey(code, viewerID)); err != nil {
			return fmt.Errorf("delete viewer connection: %w", err)
		}
		if err := s.store.RemoveMember(ctx, viewersKey(code), viewerID); err != nil {
			return fmt.Errorf("unindex viewer connection: %w", err)
		}
		s.log.Info("viewer disconnected", zap.String("viewer_id", viewerID), zap.String("code_hint", codeHint(code)))
		return nil
	}

	members, err := s.store.Members(ctx, viewersKey(code))
	if err != nil {
		return fmt.Errorf("list viewer connections: %w", err)
	}
	keys := make([]string, 0, len(members)+2)
	for _, v := range members {
		keys = append(keys, viewerKey(code, v))
	}
	keys = append(keys, viewersKey(code))

	// the camera index only goes if it still points at this code
	if rec, err := s.Lookup(ctx, code); err == nil {
		if cur, err := s.store.Get(ctx, cameraCodeKey(rec.CameraID)); err == nil && string(cur) == code {
			keys = append(keys, cameraCodeKey(rec.CameraID))
		}
	}
	keys = append(keys, codeKey(code))
	if err := s.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("delete code: %w", err)
	}
	s.log.Info("connection code revoked", zap.String("code_hint", codeHint(code)), zap.Int("viewers", len(members)))
	return nil
}

// ActiveCode returns the camera's most recently generated code if it is still live.
func (s *CodeService) ActiveCode(ctx context.Context, cameraID string) (*model.ConnectionCode, error) {
	raw, err := s.store.Get(ctx, cameraCodeKey(cameraID))
	if err != nil {
		if errors.Is(err, codestore.ErrNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	rec, err := s.Lookup(ctx, string(raw))
	if err != nil {
		return nil, err
	}
	if rec.CameraID != cameraID {
		return nil, errs.ErrNotFound
	}
	return rec, nil
}

// Viewers lists the live viewer connections made through code.
func (s *CodeService) Viewers(ctx context.Context, code string) ([]model.ViewerConnection, error) {
	members, err := s.store.Members(ctx, viewersKey(code))
	if err != nil {
		return nil, err
	}
	out := make([]model.ViewerConnection, 0, len(members))
	for _, id := range members {
		raw, err := s.store.Get(ctx, viewerKey(code, id))
		if err != nil {
			if errors.Is(err, codestore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var vc model.ViewerConnection
		if err := json.Unmarshal(raw, &vc); err != nil {
			return nil, fmt.Errorf("decode viewer connection: %w", err)
		}
		out = append(out, vc)
	}
	return out, nil
}
