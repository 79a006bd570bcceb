package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/vpn-shop/internal/common"
)

type ctxKey int

const (
	adminKeyCtx ctxKey = iota
	claimsKeyCtx
)

func adminFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(adminKeyCtx).(int64)
	return id, ok
}

// Revocations — отозванные токены (выход из админки).
type Revocations interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryRevocations — список отзыва в памяти процесса.
type MemoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{revoked: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevocations) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, until := range m.revoked {
		if now.After(until) {
			delete(m.revoked, id)
		}
	}
	m.revoked[tokenID] = now.Add(ttl)
	return nil
}

func (m *MemoryRevocations) Revoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[tokenID]
	return ok && m.now().Before(until), nil
}

// RedisRevocations хранит отозванные токены в Redis до истечения их срока.
type RedisRevocations struct {
	client *redis.Client
	prefix string
}

func NewRedisRevocations(client *redis.Client, prefix string) *RedisRevocations {
	return &RedisRevocations{client: client, prefix: prefix}
}

func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+tokenID, "1", ttl).Err()
}

func (r *RedisRevocations) Revoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// tokens выдаёт и проверяет JWT админ-API. sub — id админа, jti — id токена.
type tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (t *tokens) issue(adminID int64) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(adminID, 10),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (t *tokens) parse(raw string) (*jwt.RegisteredClaims, int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", common.ErrBadCredentials, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: sub %q", common.ErrBadCredentials, claims.Subject)
	}
	return claims, id, nil
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// authenticate пропускает запрос с действующим JWT от текущего админа.
// Права перепроверяются на каждый запрос: удалённый админ теряет доступ сразу.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r)
		if !ok {
			writeError(w, fmt.Errorf("%w: нужен заголовок Authorization: Bearer", common.ErrBadCredentials))
			return
		}
		claims, adminID, err := s.tokens.parse(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		revoked, err := s.revocations.Revoked(r.Context(), claims.ID)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", common.ErrInternal, err))
			return
		}
		if revoked {
			writeError(w, fmt.Errorf("%w: токен отозван", common.ErrBadCredentials))
			return
		}
		if err := s.admins.RequireAdmin(r.Context(), adminID); err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), adminKeyCtx, adminID)
		ctx = context.WithValue(ctx, claimsKeyCtx, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type loginRequest struct {
	AdminID int64  `json:"admin_id" validate:"required"`
	Token   string `json:"token" validate:"required,min=8,max=256"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.admins.VerifyToken(r.Context(), req.AdminID, req.Token); err != nil {
		log.WithField("admin", req.AdminID).WithError(err).Warn("Неудачный вход в админ-API")
		writeError(w, err)
		return
	}
	token, exp, err := s.tokens.issue(req.AdminID)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", common.ErrInternal, err))
		return
	}
	log.WithField("admin", req.AdminID).Info("Вход в админ-API")
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token, ExpiresAt: exp})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(claimsKeyCtx).(*jwt.RegisteredClaims)
	if !ok {
		writeError(w, errors.New("нет токена в контексте"))
		return
	}
	ttl := claims.ExpiresAt.Sub(s.now())
	if err := s.revocations.Revoke(r.Context(), claims.ID, ttl); err != nil {
		writeError(w, fmt.Errorf("%w: %v", common.ErrInternal, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
