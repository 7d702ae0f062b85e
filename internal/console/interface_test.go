package console

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"smartlocate/internal/classify"
	"smartlocate/internal/config"
	"smartlocate/internal/entity"
	"smartlocate/internal/ports/portsfake"
	"smartlocate/internal/usecase"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeBrowser struct {
	navigateFn func(ctx context.Context) error

	visited []string
	clicks  [][2]float64
	typed   []string
}

func (b *fakeBrowser) Launch(context.Context) error { return nil }
func (b *fakeBrowser) Close(context.Context) error  { return nil }
func (b *fakeBrowser) IsReady() bool                { return true }

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error {
	b.visited = append(b.visited, url)

	if b.navigateFn != nil {
		return b.navigateFn(ctx)
	}

	return nil
}

func (b *fakeBrowser) ClickAtCoordinates(_ context.Context, x, y float64) error {
	b.clicks = append(b.clicks, [2]float64{x, y})

	return nil
}

func (b *fakeBrowser) TypeText(_ context.Context, text string) error {
	b.typed = append(b.typed, text)

	return nil
}

func newConsole(t *testing.T, input string, retries int) (*Interface, *fakeBrowser, *portsfake.Service, *bytes.Buffer) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	page := &portsfake.Page{
		Elements: []entity.BoundaryBox{
			{X: 0, Y: 0, Width: 1280, Height: 720, TagName: "div"},
			{X: 100, Y: 100, Width: 80, Height: 30, TagName: "input"},
		},
		Selectors: map[string]int{"#email": 1},
	}
	service := &portsfake.Service{
		ClassifySyncFn: func([]byte, string, string) (*entity.BoxResponse, error) {
			return &entity.BoxResponse{Success: true, Box: &entity.BoundaryBox{X: 100, Y: 100, Width: 80, Height: 30}}, nil
		},
	}
	store := &portsfake.ScreenshotStore{}
	registry := classify.NewRegistry()

	session := usecase.NewSession(usecase.SessionParams{
		Logger:   logger,
		Service:  service,
		Store:    store,
		Registry: registry,
		Native: usecase.NewNativeLocator(usecase.NativeLocatorParams{
			Page:    page,
			Service: service,
			Store:   store,
			Logger:  logger,
		}),
		AI: usecase.NewResolver(usecase.ResolverParams{
			Page:    page,
			Service: service,
			Store:   store,
			Waiter: classify.NewWaiter(classify.Params{
				Options:  classify.Options{Ceiling: time.Minute, PollInterval: time.Second},
				Service:  service,
				Opener:   &portsfake.Opener{},
				Registry: registry,
				Logger:   logger,
			}),
			Logger: logger,
		}),
	})

	browser := &fakeBrowser{}
	out := &bytes.Buffer{}

	i := newInterface(Params{
		Config:  &config.Config{ClassifyConfig: &config.ClassifyConfig{TestRetries: retries}},
		Logger:  logger,
		Usecase: &usecase.Service{Session: session, Browser: browser},
	}, strings.NewReader(input), out)

	return i, browser, service, out
}

func TestConsoleDrivesSession(t *testing.T) {
	script := strings.Join([]string{
		"test signs up",
		"visit https://example.test/signup",
		"get #email",
		"type user@example.test",
		"fail value was not kept",
		"get #email",
		"history",
		"exit",
		"get #never-reached",
	}, "\n")

	i, browser, service, out := newConsole(t, script, 0)

	require.NoError(t, i.run())

	assert.Equal(t, []string{"https://example.test/signup"}, browser.visited)
	assert.Equal(t, [][2]float64{{140, 115}}, browser.clicks)
	assert.Equal(t, []string{"user@example.test"}, browser.typed)
	assert.Equal(t, 1, service.Calls("ClassifySync"))

	output := out.String()
	assert.Contains(t, output, `Test "signs up" started`)
	assert.Contains(t, output, "Found <input> via dom")
	assert.Contains(t, output, "Found <input> via ai")
	assert.Contains(t, output, "backup mode: true")
	assert.NotContains(t, output, "never-reached")
}

func TestConsoleReportsErrors(t *testing.T) {
	i, _, _, out := newConsole(t, "get #email\nclick\nbogus\n", 0)

	require.NoError(t, i.run())

	output := out.String()
	assert.Contains(t, output, "no test is running")
	assert.Contains(t, output, "no element located yet")
	assert.Contains(t, output, `unknown command "bogus"`)
}

func TestStopEndsRunningTest(t *testing.T) {
	i, _, _, _ := newConsole(t, "test checkout\n", 0)

	require.NoError(t, i.run())

	_, running := i.usecase.Session.CurrentTest()
	require.True(t, running)

	require.NoError(t, i.Stop())
	require.NoError(t, i.Stop())

	_, running = i.usecase.Session.CurrentTest()
	assert.False(t, running)
}

func writeScript(t *testing.T, lines ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "signup.steps")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))

	return path
}

func TestRunRetriesScriptWithAI(t *testing.T) {
	script := writeScript(t,
		"# sign up flow",
		"visit https://example.test/signup",
		"get #email-field",
		"type user@example.test",
	)

	i, browser, service, out := newConsole(t, "run signs up "+script+"\n", 1)

	require.NoError(t, i.run())

	output := out.String()
	assert.Contains(t, output, `Attempt 2 of "signs up"`)
	assert.Contains(t, output, "Found <input> via ai")
	assert.Contains(t, output, `Test "signs up" passed after 2 attempt(s)`)

	assert.Len(t, browser.visited, 2)
	assert.Equal(t, []string{"user@example.test"}, browser.typed)
	assert.Equal(t, 1, service.Calls("ClassifySync"))
	assert.Equal(t, 1, service.Calls("CheckIn"))

	_, running := i.usecase.Session.CurrentTest()
	assert.False(t, running)
}

func TestRunWithoutRetriesFails(t *testing.T) {
	script := writeScript(t, "get #email-field")

	i, _, service, out := newConsole(t, "run signs up "+script+"\nrun missing-args\n", 0)

	require.NoError(t, i.run())

	output := out.String()
	assert.Contains(t, output, `test "signs up" failed after 1 attempt(s)`)
	assert.Contains(t, output, "usage: run <name> <script-file>")
	assert.Zero(t, service.Calls("ClassifySync"))
}

func TestStopWaitsForRunningCommand(t *testing.T) {
	i, browser, _, _ := newConsole(t, "", 0)

	started := make(chan struct{})
	var returned atomic.Bool

	browser.navigateFn = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		returned.Store(true)

		return ctx.Err()
	}

	require.NoError(t, i.handleCommand("test checkout"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- i.handleCommand("visit https://example.test/slow")
	}()

	<-started
	require.NoError(t, i.Stop())
	assert.True(t, returned.Load(), "Stop returned before the command finished")

	_, running := i.usecase.Session.CurrentTest()
	assert.False(t, running)

	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.ErrorIs(t, i.handleCommand("get #email"), errExit)
}
