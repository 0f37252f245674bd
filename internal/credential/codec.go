// Package credential は署名付きセッション資格情報（HS256 JWT）の発行と検証を行う。
// I/Oを持たない純粋な処理のみを扱う。
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authbridge/internal/model"
)

// ErrInvalidToken は署名不正・期限切れ・形式不正など、資格情報を受理できない場合のエラー。
// 呼び出し側は常に「未認証」として扱う。
var ErrInvalidToken = errors.New("invalid credential token")

// Claims はトークンに埋め込むクレーム。
// ユーザー情報の投影はClaimsFromUserで静的に定義する。
type Claims struct {
	jwt.RegisteredClaims

	UserID     string     `json:"id"`
	Email      string     `json:"email"`
	Role       model.Role `json:"role"`
	Name       string     `json:"name,omitempty"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	Collection string     `json:"collection"`
}

// ClaimsFromUser はユーザーからトークンに保存するフィールドを取り出す。
func ClaimsFromUser(u *model.User) Claims {
	return Claims{
		UserID:     u.ID,
		Email:      u.Email,
		Role:       u.Role,
		Name:       u.Name,
		ImageURL:   u.AvatarURL,
		Collection: model.UsersCollection,
	}
}

// Option はCodecの生成オプション。
type Option func(*Codec)

// WithClock は現在時刻の取得関数を差し替える（テスト用）。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// Codec はHS256共有鍵でトークンを発行・検証する。
type Codec struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// NewCodec は共有鍵を使うCodecを生成する。
func NewCodec(secret []byte, opts ...Option) *Codec {
	c := &Codec{
		secret: secret,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	return c
}

// Mint はクレームにiat/exp/subを設定し、署名済みトークンを返す。
func (c *Codec) Mint(claims Claims, ttl time.Duration) (string, error) {
	if claims.UserID == "" {
		return "", fmt.Errorf("mint credential: empty user id")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("mint credential: ttl must be positive, got %v", ttl)
	}

	now := c.now()
	claims.Subject = claims.UserID
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Verify はアルゴリズム・署名・有効期限を検証し、クレームを返す。
// どのような失敗でもErrInvalidTokenを返す。
func (c *Codec) Verify(token string) (claims *Claims, err error) {
	defer func() {
		if r := recover(); r != nil {
			claims = nil
			err = fmt.Errorf("%w: panic during verification", ErrInvalidToken)
		}
	}()

	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed := &Claims{}
	tok, err := c.parser.ParseWithClaims(token, parsed, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !tok.Valid || parsed.UserID == "" {
		return nil, ErrInvalidToken
	}
	return parsed, nil
}

// Parse は署名を検証せずにクレームを取り出す。
// 診断用であり、認可判断には使用しないこと。
func (c *Codec) Parse(token string) (*Claims, bool) {
	parsed := &Claims{}
	if _, _, err := c.parser.ParseUnverified(token, parsed); err != nil {
		return nil, false
	}
	return parsed, true
}
