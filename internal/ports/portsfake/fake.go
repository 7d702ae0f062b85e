// Package portsfake provides in-memory collaborators for tests.
package portsfake

import (
	"context"
	"errors"
	"fmt"
	"smartlocate/internal/entity"
	"sync"
)

// Service is a scriptable ClassificationService. Unset hooks behave like a
// service that knows nothing.
type Service struct {
	mu sync.Mutex

	CheckKnownFn    func(hash, selector string) (*entity.KnownScreenshot, error)
	UploadFn        func(screenshot []byte, selector, testCaseID string) (*entity.Upload, error)
	RequestBoxFn    func(req entity.ClassificationRequest, call int) (*entity.BoxResponse, error)
	CheckFrozenFn   func(selector string) (bool, error)
	ClassifySyncFn  func(screenshot []byte, selector, testCaseID string) (*entity.BoxResponse, error)
	UpdateElementFn func(box entity.BoundaryBox, hash, selector, testCaseID string) error

	calls map[string]int
	last  map[string]any
}

func (s *Service) record(name string, arg any) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calls == nil {
		s.calls = make(map[string]int)
		s.last = make(map[string]any)
	}

	s.calls[name]++
	s.last[name] = arg

	return s.calls[name]
}

func (s *Service) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[name]
}

func (s *Service) Last(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last[name]
}

func (s *Service) CheckKnown(_ context.Context, contentHash, selector string) (*entity.KnownScreenshot, error) {
	s.record("CheckKnown", contentHash)

	if s.CheckKnownFn == nil {
		return &entity.KnownScreenshot{}, nil
	}

	return s.CheckKnownFn(contentHash, selector)
}

func (s *Service) Upload(_ context.Context, screenshot []byte, selector, testCaseID string) (*entity.Upload, error) {
	s.record("Upload", selector)

	if s.UploadFn == nil {
		return &entity.Upload{UploadID: "upload-1"}, nil
	}

	return s.UploadFn(screenshot, selector, testCaseID)
}

func (s *Service) RequestBox(ctx context.Context, req entity.ClassificationRequest) (*entity.BoxResponse, error) {
	call := s.record("RequestBox", req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.RequestBoxFn == nil {
		return &entity.BoxResponse{}, nil
	}

	return s.RequestBoxFn(req, call)
}

func (s *Service) CheckFrozen(_ context.Context, selector string) (bool, error) {
	s.record("CheckFrozen", selector)

	if s.CheckFrozenFn == nil {
		return false, nil
	}

	return s.CheckFrozenFn(selector)
}

func (s *Service) ClassifySync(_ context.Context, screenshot []byte, selector, testCaseID string) (*entity.BoxResponse, error) {
	s.record("ClassifySync", selector)

	if s.ClassifySyncFn == nil {
		return &entity.BoxResponse{Message: "no classifier configured"}, nil
	}

	return s.ClassifySyncFn(screenshot, selector, testCaseID)
}

func (s *Service) UpdateElement(_ context.Context, box entity.BoundaryBox, contentHash, selector, testCaseID string) error {
	s.record("UpdateElement", box)

	if s.UpdateElementFn == nil {
		return nil
	}

	return s.UpdateElementFn(box, contentHash, selector, testCaseID)
}

func (s *Service) CheckIn(_ context.Context, testCaseID string) error {
	s.record("CheckIn", testCaseID)

	return nil
}

// Page is a static DOM: Elements are the candidates in document order and
// Selectors maps structural selectors to an index into Elements.
type Page struct {
	mu sync.Mutex

	Elements   []entity.BoundaryBox
	Selectors  map[string]int
	PixelRatio float64
	Screenshot []byte

	captures int
}

var ErrNoElement = errors.New("no element matches selector")

func (p *Page) CaptureViewport(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.captures++

	if p.Screenshot == nil {
		return []byte("\x89PNG static page"), nil
	}

	return p.Screenshot, nil
}

func (p *Page) Captures() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.captures
}

func (p *Page) Candidates(context.Context) ([]entity.BoundaryBox, error) {
	out := make([]entity.BoundaryBox, len(p.Elements))

	for i, el := range p.Elements {
		el.ElementRef = i
		out[i] = el
	}

	return out, nil
}

func (p *Page) DevicePixelRatio(context.Context) (float64, error) {
	if p.PixelRatio == 0 {
		return 1, nil
	}

	return p.PixelRatio, nil
}

func (p *Page) Query(_ context.Context, selector string) (*entity.Element, error) {
	idx, ok := p.Selectors[selector]
	if !ok || idx >= len(p.Elements) {
		return nil, fmt.Errorf("%w: %s", ErrNoElement, selector)
	}

	box := p.Elements[idx]
	box.ElementRef = idx

	return &entity.Element{
		Tag:         box.TagName,
		Selector:    selector,
		BoundingBox: box,
		Ref:         idx,
		Source:      entity.SourceDom,
	}, nil
}

type Opener struct {
	mu   sync.Mutex
	URLs []string
}

func (o *Opener) Open(_ context.Context, url string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.URLs = append(o.URLs, url)
}

func (o *Opener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.URLs...)
}

type ScreenshotStore struct {
	mu     sync.Mutex
	Saved  map[string][]byte
	Purges int
}

func (s *ScreenshotStore) Save(name string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Saved == nil {
		s.Saved = make(map[string][]byte)
	}

	s.Saved[name] = content

	return name, nil
}

func (s *ScreenshotStore) Purge() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.Saved))
	for name := range s.Saved {
		names = append(names, name)
	}

	clear(s.Saved)
	s.Purges++

	return names, nil
}
