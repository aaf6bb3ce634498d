package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gestaozabele/painelvendas/internal/session"
)

// Claims representa as informações presentes no access token do BaaS.
type Claims struct {
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	Role         string         `json:"role"`
	UserRole     string         `json:"user_role"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

// ClaimsDecoder extrai claims do token. Com segredo, valida assinatura HS256;
// sem segredo, apenas decodifica (o BaaS é a autoridade).
type ClaimsDecoder struct {
	secret []byte
}

// NewClaimsDecoder cria decodificador; secret vazio desativa verificação.
func NewClaimsDecoder(secret string) *ClaimsDecoder {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &ClaimsDecoder{}
	}
	return &ClaimsDecoder{secret: []byte(secret)}
}

// Verifies indica se a assinatura é conferida.
func (d *ClaimsDecoder) Verifies() bool {
	return len(d.secret) > 0
}

// Decode interpreta o token.
func (d *ClaimsDecoder) Decode(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, errors.New("token ausente")
	}

	claims := &Claims{}
	if !d.Verifies() {
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
			return nil, err
		}
		return claims, nil
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return d.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token inválido")
	}
	return claims, nil
}

// Expiry devolve a expiração declarada no token (zero quando ausente).
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ResolveRole aplica a precedência por primeira ocorrência:
// app_metadata.role, user_metadata.role, user_role e, por último, role
// (esse só quando for um papel do painel, já que normalmente vale "authenticated").
func ResolveRole(appMetadata, userMetadata map[string]any, claims *Claims) session.Role {
	candidates := []string{metadataRole(appMetadata), metadataRole(userMetadata)}
	if claims != nil {
		candidates = append(candidates,
			metadataRole(claims.AppMetadata),
			metadataRole(claims.UserMetadata),
			claims.UserRole,
			claims.Role,
		)
	}
	for _, raw := range candidates {
		if role := session.ParseRole(raw); role != "" {
			return role
		}
	}
	return ""
}

func metadataRole(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta["role"].(string); ok {
		return v
	}
	return ""
}
