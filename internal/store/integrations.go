package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/oauth2"

	"github.com/hallcall/hallcall-api/internal/models"
)

// SaveIntegration upserts the (user, provider) integration. A token without
// a refresh token keeps the stored one: providers only send it on first consent.
func (s *Store) SaveIntegration(ctx context.Context, userID, provider string, tok *oauth2.Token, accountEmail string) error {
	now := s.now()
	set := bson.M{
		"access_token": tok.AccessToken,
		"token_type":   tok.TokenType,
		"expiry":       tok.Expiry,
		"updated_at":   now,
	}
	if tok.RefreshToken != "" {
		set["refresh_token"] = tok.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		set["scope"] = scope
	}
	if accountEmail != "" {
		set["account_email"] = accountEmail
	}
	return s.owned(colIntegrations, userID).Eq("provider", provider).Upsert(ctx, set, bson.M{
		"_id":        NewID(),
		"created_at": now,
	})
}

func (s *Store) UpdateIntegrationToken(ctx context.Context, userID, provider string, tok *oauth2.Token) error {
	return s.SaveIntegration(ctx, userID, provider, tok, "")
}

func (s *Store) ListIntegrations(ctx context.Context, userID string) ([]models.Integration, error) {
	out := []models.Integration{}
	err := s.owned(colIntegrations, userID).Sort("provider", true).All(ctx, &out)
	return out, err
}

func (s *Store) Integration(ctx context.Context, userID, provider string) (*models.Integration, error) {
	var i models.Integration
	if err := one(ctx, s.owned(colIntegrations, userID).Eq("provider", provider), &i); err != nil {
		return nil, err
	}
	return &i, nil
}

// FirstIntegration returns any calendar the user connected, for the booking tool.
func (s *Store) FirstIntegration(ctx context.Context, userID string) (*models.Integration, error) {
	var i models.Integration
	if err := one(ctx, s.owned(colIntegrations, userID).Sort("created_at", true), &i); err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *Store) DeleteIntegration(ctx context.Context, userID, provider string) error {
	return s.owned(colIntegrations, userID).Eq("provider", provider).DeleteOne(ctx)
}
