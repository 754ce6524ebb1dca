// Package intel classifies monitored social posts: a model-backed classifier
// produces a short summary plus a criticality verdict, and an optional cache
// keyed by post-content hash makes repeated classification of the same text
// idempotent and cheap.
package intel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"goa.design/clue/log"
)

type (
	// Summary is the classification of one post. IsCritical marks posts that
	// signal a business event worth a high-priority alert.
	Summary struct {
		Summary    string `json:"summary" bson:"summary"`
		IsCritical bool   `json:"is_critical" bson:"is_critical"`
	}

	// Classifier produces a Summary for raw post text.
	Classifier interface {
		SummarizePost(ctx context.Context, text string) (*Summary, error)
	}

	// Cache stores summaries keyed by content hash. Implementations live in
	// subpackages (summarycache).
	Cache interface {
		Get(ctx context.Context, key string) (*Summary, bool, error)
		Put(ctx context.Context, key string, s Summary) error
	}

	// Service is a Classifier with a cache-aside layer in front. Cache
	// failures degrade to a direct classifier call; they never fail the
	// request.
	Service struct {
		classifier Classifier
		cache      Cache
	}
)

var _ Classifier = (*Service)(nil)

// NewService builds a Service. cache may be nil to disable caching.
func NewService(classifier Classifier, cache Cache) (*Service, error) {
	if classifier == nil {
		return nil, errors.New("intel: classifier is required")
	}
	return &Service{classifier: classifier, cache: cache}, nil
}

// SummarizePost returns the cached classification for text when present and
// classifies then stores it otherwise.
func (s *Service) SummarizePost(ctx context.Context, text string) (*Summary, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("intel: post text is required")
	}
	key := ContentKey(text)
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "summary cache read failed"}, log.KV{K: "err", V: err.Error()})
		} else if ok {
			return cached, nil
		}
	}
	sum, err := s.classifier.SummarizePost(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("intel: classify post: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, key, *sum); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "summary cache write failed"}, log.KV{K: "err", V: err.Error()})
		}
	}
	return sum, nil
}

// ContentKey derives the cache key for post text.
func ContentKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
