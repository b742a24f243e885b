// Package credential locates the caller's bearer credential. Resolution
// order is fixed:
//
//  1. the explicit call-site argument,
//  2. the storage slots in Slots order,
//  3. the user-profile blobs in ProfileKeys order,
//  4. a freshly minted token from the federated identity TokenSource.
//
// A federated token is never written back to storage. Credentials are never
// logged.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/propnest/marketsync/client/internal/storage"
)

// Source names where a credential was found.
type Source string

const (
	SourceNone      Source = ""
	SourceExplicit  Source = "explicit"
	SourceSlot      Source = "slot"
	SourceProfile   Source = "profile"
	SourceFederated Source = "federated"
)

var (
	// Slots are the well-known credential keys, highest priority first.
	// Slots[0] is the primary slot written by Store and by migration.
	Slots = []string{"token", "authToken", "accessToken", "jwt"}

	// ProfileKeys hold JSON user-profile blobs that may embed a credential.
	ProfileKeys = []string{"user", "currentUser"}

	// LegacyKeys are read once at construction and migrated into Slots[0].
	LegacyKeys = []string{"userToken", "sellerToken", "adminToken"}
)

// federatedTimeout bounds a federated token refresh.
const federatedTimeout = 10 * time.Second

// Resolver resolves credentials. Safe for concurrent use.
type Resolver struct {
	store     storage.Store
	federated oauth2.TokenSource
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFederated installs the federated identity token source used when no
// stored credential is available.
func WithFederated(ts oauth2.TokenSource) Option {
	return func(r *Resolver) { r.federated = ts }
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the resolver's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// New constructs a Resolver over store and migrates legacy keys.
func New(store storage.Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, now: time.Now, log: log.Logger}
	for _, opt := range opts {
		opt(r)
	}
	r.migrateLegacy()
	return r
}

// Resolve returns the credential to attach to one request and where it came
// from. An empty token means the request goes out unauthenticated.
func (r *Resolver) Resolve(ctx context.Context, explicit string) (string, Source) {
	if tok := strings.TrimSpace(explicit); tok != "" {
		return tok, SourceExplicit
	}
	for _, key := range Slots {
		if tok := r.usable(storage.GetString(r.store, key)); tok != "" {
			return tok, SourceSlot
		}
	}
	for _, key := range ProfileKeys {
		if tok := r.usable(profileCredential(storage.GetString(r.store, key))); tok != "" {
			return tok, SourceProfile
		}
	}
	if tok, err := r.mintFederated(ctx); err == nil && tok != "" {
		return tok, SourceFederated
	} else if err != nil {
		r.log.Debug().Err(err).Msg("federated credential unavailable")
	}
	return "", SourceNone
}

// Store writes token into the primary slot.
func (r *Resolver) Store(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("credential: empty token")
	}
	return r.store.Set(Slots[0], []byte(token))
}

// Clear deletes every slot, profile blob and legacy key. It attempts all
// keys and returns the first failure.
func (r *Resolver) Clear() error {
	var first error
	for _, group := range [][]string{Slots, ProfileKeys, LegacyKeys} {
		for _, key := range group {
			if err := r.store.Delete(key); err != nil && first == nil {
				first = fmt.Errorf("clear %s: %w", key, err)
			}
		}
	}
	return first
}

// Identity returns the subject behind the currently stored credential: JWT
// claims first, then the profile blob.
func (r *Resolver) Identity(ctx context.Context) (Identity, bool) {
	tok, _ := r.Resolve(ctx, "")
	if id, ok := Claims(tok); ok && id.Subject != "" {
		return id, true
	}
	for _, key := range ProfileKeys {
		if id, ok := profileIdentity(storage.GetString(r.store, key)); ok {
			return id, true
		}
	}
	return Identity{}, false
}

// usable filters out empty values and JWTs that have already expired.
func (r *Resolver) usable(tok string) string {
	tok = strings.TrimSpace(tok)
	if tok == "" || tok == "null" || tok == "undefined" {
		return ""
	}
	if expired(tok, r.now()) {
		return ""
	}
	return tok
}

func (r *Resolver) mintFederated(ctx context.Context) (string, error) {
	if r.federated == nil {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	type result struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		t, err := r.federated.Token()
		ch <- result{t, err}
	}()
	timer := time.NewTimer(federatedTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", errors.New("federated token refresh timed out")
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		if res.tok == nil {
			return "", nil
		}
		if idTok, ok := res.tok.Extra("id_token").(string); ok && idTok != "" {
			return idTok, nil
		}
		return res.tok.AccessToken, nil
	}
}

func (r *Resolver) migrateLegacy() {
	if storage.GetString(r.store, Slots[0]) != "" {
		return
	}
	for _, key := range LegacyKeys {
		tok := strings.TrimSpace(storage.GetString(r.store, key))
		if tok == "" {
			continue
		}
		if err := r.store.Set(Slots[0], []byte(tok)); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("credential migration failed")
			return
		}
		_ = r.store.Delete(key)
		r.log.Info().Str("from", key).Msg("migrated legacy credential slot")
		return
	}
}

// profileCredential digs a token out of a stored profile blob. Blobs may
// keep the token at the top level or under "user" / "data".
func profileCredential(blob string) string {
	doc := decodeProfile(blob)
	for doc != nil {
		for _, k := range []string{"token", "accessToken", "jwt"} {
			if s, ok := doc[k].(string); ok && s != "" {
				return s
			}
		}
		doc = innerProfile(doc)
	}
	return ""
}

func profileIdentity(blob string) (Identity, bool) {
	doc := decodeProfile(blob)
	for doc != nil {
		if id := subjectFrom(doc); id != "" {
			role, _ := doc["role"].(string)
			return Identity{Subject: id, Role: normalizeRole(role)}, true
		}
		doc = innerProfile(doc)
	}
	return Identity{}, false
}

func decodeProfile(blob string) map[string]any {
	blob = strings.TrimSpace(blob)
	if blob == "" || blob[0] != '{' {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(blob), &doc); err != nil {
		return nil
	}
	return doc
}

func innerProfile(doc map[string]any) map[string]any {
	for _, k := range []string{"user", "data"} {
		if inner, ok := doc[k].(map[string]any); ok {
			return inner
		}
	}
	return nil
}
