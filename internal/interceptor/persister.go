package interceptor

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// BodyPersister moves page bodies out of memory: after processing, a
// non-empty body is written to a file in a private temp directory and the
// resource's Body becomes a file:// URI. The directory is removed when the
// run stops cleanly and kept after an abnormal stop for inspection.
type BodyPersister struct {
	dir    string
	logger *zap.Logger
}

// NewBodyPersister creates the temp directory below parent, or the system
// temp dir when parent is empty.
func NewBodyPersister(parent string, logger *zap.Logger) (*BodyPersister, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir, err := os.MkdirTemp(parent, "page_source_persister")
	if err != nil {
		return nil, fmt.Errorf("create body dir: %w", err)
	}
	return &BodyPersister{dir: dir, logger: logger}, nil
}

// Dir is the directory holding persisted bodies.
func (p *BodyPersister) Dir() string {
	return p.dir
}

// Priority implements crawler.Interceptor.
func (p *BodyPersister) Priority() int {
	return PriorityBodyPersister
}

// AfterProcessing implements crawler.AfterHook. A failed write leaves the
// body in memory.
func (p *BodyPersister) AfterProcessing(_ context.Context, r *crawler.Resource, _ []*crawler.Resource) {
	if strings.TrimSpace(r.Body) == "" {
		p.logger.Debug("page body is empty", zap.String("name", r.Name))
		return
	}
	if strings.HasPrefix(r.Body, "file://") {
		return
	}
	uri, err := p.save(r)
	if err != nil {
		p.logger.Error("persist page body failed", zap.String("name", r.Name), zap.String("url", r.URL), zap.Error(err))
		return
	}
	r.Body = uri
}

func (p *BodyPersister) save(r *crawler.Resource) (string, error) {
	prefix := nameReplacer.Replace(r.Name)
	f, err := os.CreateTemp(p.dir, prefix+"-*.html")
	if err != nil {
		return "", fmt.Errorf("create body file: %w", err)
	}
	if _, err := f.WriteString(r.Body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write body file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close body file: %w", err)
	}
	abs, err := filepath.Abs(f.Name())
	if err != nil {
		return "", fmt.Errorf("resolve body path: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

var nameReplacer = strings.NewReplacer("/", "_", `\`, "_", "*", "_")

// Consume implements progress.Subscriber and tears the directory down on a
// clean run stop.
func (p *BodyPersister) Consume(_ context.Context, batch []crawler.Event) error {
	for _, evt := range batch {
		if evt.Kind != crawler.EventRunStopped {
			continue
		}
		if evt.Abnormal {
			p.logger.Info("run crashed, page bodies kept", zap.String("dir", p.dir))
			continue
		}
		if err := os.RemoveAll(p.dir); err != nil {
			return fmt.Errorf("remove body dir: %w", err)
		}
		p.logger.Debug("page bodies removed", zap.String("dir", p.dir))
	}
	return nil
}

// Close implements progress.Subscriber.
func (p *BodyPersister) Close(context.Context) error {
	return nil
}
