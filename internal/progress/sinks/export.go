package sinks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

const defaultExportContentType = "text/html; charset=utf-8"

// ExportConfig controls object naming for exported bodies.
type ExportConfig struct {
	Prefix      string
	ContentType string
}

// ExportSink uploads the body of every completed resource to a BlobStore.
// Bodies already externalized to a file:// URI are read back from disk.
type ExportSink struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	cfg    ExportConfig
	logger *zap.Logger
}

// NewExportSink wires a blob store and hasher.
func NewExportSink(store crawler.BlobStore, hasher crawler.Hasher, cfg ExportConfig, logger *zap.Logger) (*ExportSink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultExportContentType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportSink{store: store, hasher: hasher, cfg: cfg, logger: logger}, nil
}

// Consume uploads bodies of processing-completed events.
func (s *ExportSink) Consume(ctx context.Context, batch []crawler.Event) error {
	var errs []error
	for _, evt := range batch {
		if evt.Kind != crawler.EventProcessingCompleted || evt.Resource == nil || evt.Resource.Body == "" {
			continue
		}
		uri, err := s.export(ctx, evt.Resource)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("resource body exported", zap.String("url", evt.Resource.URL), zap.String("uri", uri))
	}
	return errors.Join(errs...)
}

func (s *ExportSink) export(ctx context.Context, r *crawler.Resource) (string, error) {
	data, err := readBody(r.Body)
	if err != nil {
		return "", fmt.Errorf("read body of %s: %w", r.URL, err)
	}
	key, err := s.hasher.Hash([]byte(r.URL))
	if err != nil {
		return "", fmt.Errorf("hash url %s: %w", r.URL, err)
	}
	objectPath := path.Join(s.cfg.Prefix, r.RunName, key+".html")
	uri, err := s.store.PutObject(ctx, objectPath, s.cfg.ContentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", objectPath, err)
	}
	return uri, nil
}

func readBody(body string) ([]byte, error) {
	if !strings.HasPrefix(body, "file://") {
		return []byte(body), nil
	}
	u, err := url.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse body uri: %w", err)
	}
	// #nosec G304 -- the path was produced by the body persister.
	data, err := os.ReadFile(u.Path)
	if err != nil {
		return nil, fmt.Errorf("read externalized body: %w", err)
	}
	return data, nil
}

// Close implements the Subscriber interface; it performs no action.
func (s *ExportSink) Close(context.Context) error {
	return nil
}
