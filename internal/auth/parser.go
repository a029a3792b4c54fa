package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/marcoshache/grain-canje-triangular/internal/model"
)

// Parser validates access tokens and extracts the caller principal.
type Parser struct {
	secret []byte
}

func NewParser(secret string) *Parser {
	return &Parser{secret: []byte(secret)}
}

type claims struct {
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

func (p *Parser) Parse(token string) (model.Principal, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return model.Principal{}, err
	}
	if !parsed.Valid {
		return model.Principal{}, fmt.Errorf("invalid token")
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return model.Principal{}, fmt.Errorf("invalid subject: %w", err)
	}
	companyID, err := uuid.Parse(c.CompanyID)
	if err != nil {
		return model.Principal{}, fmt.Errorf("invalid company_id: %w", err)
	}
	return model.Principal{UserID: userID, CompanyID: companyID, Role: c.Role}, nil
}
