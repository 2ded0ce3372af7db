package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// pageStub serves canned bodies keyed by URL substring and records every
// request.
type pageStub struct {
	mu    sync.Mutex
	pages map[string]string
	urls  []string
}

func newPageStub(pages map[string]string) *pageStub {
	return &pageStub{pages: pages}
}

func (p *pageStub) Fetch(_ context.Context, url string) ([]byte, error) {
	p.mu.Lock()
	p.urls = append(p.urls, url)
	p.mu.Unlock()
	for key, body := range p.pages {
		if strings.Contains(url, key) {
			return []byte(body), nil
		}
	}
	return nil, errors.New("no page configured for " + url)
}

func (p *pageStub) requested() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

func testLogger() *zap.Logger { return zap.NewNop() }
