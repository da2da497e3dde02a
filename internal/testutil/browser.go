package testutil

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Belphemur/Sublynk/internal/browser"
)

// StubSession is a scripted browser.Session. Selectors listed in Present exist
// on every page; Pages maps URLs to the HTML returned after navigating there.
// OnClick runs for every click and typically drops a file into Dir.
type StubSession struct {
	mu sync.Mutex

	Dir     string
	Present map[string]bool
	Pages   map[string]string
	Cookie  []*http.Cookie
	OnClick func(s *StubSession, selector string) error
	// OnType runs after text is typed; it may add selectors to Present.
	OnType func(s *StubSession, selector, text string)

	PollAttempts int
	PollInterval time.Duration

	current   string
	Navigated []string
	Clicked   []string
	Typed     []string
	Closed    bool
}

func (s *StubSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = url
	s.Navigated = append(s.Navigated, url)
	return nil
}

func (s *StubSession) WaitFor(ctx context.Context, selector string) error {
	if ok, _ := s.Exists(ctx, selector); ok {
		return nil
	}
	return fmt.Errorf("selector %q never appeared", selector)
}

func (s *StubSession) Exists(_ context.Context, selector string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Present[selector], nil
}

// SetPresent marks selector as present or absent.
func (s *StubSession) SetPresent(selector string, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Present == nil {
		s.Present = make(map[string]bool)
	}
	s.Present[selector] = present
}

func (s *StubSession) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	s.Clicked = append(s.Clicked, selector)
	hook := s.OnClick
	s.mu.Unlock()
	if hook != nil {
		return hook(s, selector)
	}
	return nil
}

func (s *StubSession) Type(_ context.Context, selector, text string) error {
	s.mu.Lock()
	s.Typed = append(s.Typed, text)
	hook := s.OnType
	s.mu.Unlock()
	if hook != nil {
		hook(s, selector, text)
	}
	return nil
}

func (s *StubSession) HTML(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Pages[s.current], nil
}

func (s *StubSession) Cookies(_ context.Context) ([]*http.Cookie, error) {
	return s.Cookie, nil
}

func (s *StubSession) DownloadedFile(ctx context.Context, ext string) (string, error) {
	attempts, interval := s.PollAttempts, s.PollInterval
	if attempts <= 0 {
		attempts = 3
	}
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return browser.WaitForFile(ctx, s.Dir, ext, attempts, interval)
}

func (s *StubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// WriteDownload drops a file into the session's download directory, the way
// a browser download would.
func (s *StubSession) WriteDownload(name string, content []byte) error {
	return os.WriteFile(filepath.Join(s.Dir, name), content, 0o644)
}

// StubLauncher hands out StubSessions configured by Configure and remembers
// each one.
type StubLauncher struct {
	mu        sync.Mutex
	Configure func(s *StubSession)
	Sessions  []*StubSession
	Err       error
}

func (l *StubLauncher) NewSession(_ context.Context, downloadDir string) (browser.Session, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	s := &StubSession{Dir: downloadDir, Present: make(map[string]bool), Pages: make(map[string]string)}
	if l.Configure != nil {
		l.Configure(s)
	}
	l.mu.Lock()
	l.Sessions = append(l.Sessions, s)
	l.mu.Unlock()
	return s, nil
}

// SessionCount returns how many sessions were opened.
func (l *StubLauncher) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Sessions)
}
