package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"smartlocate/internal/config"
	"smartlocate/internal/entity"
	"smartlocate/internal/usecase"
	"smartlocate/pkg/logg"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var errExit = errors.New("exit")

// Interface is an interactive shell that drives one browser session: start a
// test, visit pages, locate elements and report failures by hand.
type Interface struct {
	config   *config.Config
	logger   *zap.Logger
	usecase  *usecase.Service
	in       io.Reader
	out      io.Writer
	sigChan  chan os.Signal
	stopping atomic.Bool
	retries  int

	// running is held while a command executes.
	running sync.Mutex

	mu            sync.Mutex
	cancelCommand context.CancelFunc
	last          *entity.Element
}

type Params struct {
	fx.In

	Config  *config.Config
	Logger  *zap.Logger
	Usecase *usecase.Service
}

func NewInterface(params Params) *Interface {
	return newInterface(params, os.Stdin, os.Stdout)
}

func newInterface(params Params, in io.Reader, out io.Writer) *Interface {
	var retries int
	if params.Config != nil && params.Config.ClassifyConfig != nil {
		retries = params.Config.ClassifyConfig.TestRetries
	}

	return &Interface{
		config:  params.Config,
		logger:  params.Logger.With(zap.String(logg.Layer, "Console")),
		usecase: params.Usecase,
		in:      in,
		out:     out,
		sigChan: make(chan os.Signal, 1),
		retries: retries,
	}
}

func (i *Interface) Start() error {
	i.printBanner()
	i.printHelp()

	signal.Notify(i.sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(i.sigChan)

	go func() {
		<-i.sigChan
		fmt.Fprintln(i.out, "\n\nInterrupt received, stopping...")

		if n := i.abortCommand(); n > 0 {
			i.logger.Info("Cancelled pending classifications", zap.Int("count", n))
		}
	}()

	return i.run()
}

func (i *Interface) run() error {
	scanner := bufio.NewScanner(i.in)

	for !i.stopping.Load() {
		fmt.Fprint(i.out, "\n> ")

		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if err := i.handleCommand(input); err != nil {
			if errors.Is(err, errExit) {
				break
			}

			i.logger.Error("Command error", zap.Error(err))
			fmt.Fprintf(i.out, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

// Stop cancels the running command, waits for it to return and ends the
// current test.
func (i *Interface) Stop() error {
	if !i.stopping.CompareAndSwap(false, true) {
		return nil
	}

	i.logger.Info("Stopping console interface...")
	i.abortCommand()

	i.running.Lock()
	defer i.running.Unlock()

	if _, running := i.usecase.Session.CurrentTest(); running {
		return i.usecase.Session.EndTest(context.Background())
	}

	return nil
}

func (i *Interface) abortCommand() int {
	i.mu.Lock()
	if i.cancelCommand != nil {
		i.cancelCommand()
	}
	i.mu.Unlock()

	return i.usecase.Session.Abort()
}

func (i *Interface) commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	i.mu.Lock()
	i.cancelCommand = cancel
	i.mu.Unlock()

	return ctx, func() {
		i.mu.Lock()
		i.cancelCommand = nil
		i.mu.Unlock()

		cancel()
	}
}

func parseCommand(input string) (string, string) {
	name, arg, _ := strings.Cut(strings.TrimSpace(input), " ")

	return strings.ToLower(name), strings.TrimSpace(arg)
}

func (i *Interface) handleCommand(input string) error {
	// The session has a single owner: commands never overlap with Stop.
	i.running.Lock()
	defer i.running.Unlock()

	if i.stopping.Load() {
		return errExit
	}

	name, arg := parseCommand(input)

	ctx, done := i.commandContext()
	defer done()

	session := i.usecase.Session

	switch name {
	case "help", "h":
		i.printHelp()

		return nil
	case "exit", "quit", "q":
		fmt.Fprintln(i.out, "Shutting down...")

		return errExit
	case "test":
		if err := i.endRunning(ctx); err != nil {
			return err
		}

		if err := session.StartTest(ctx, arg); err != nil {
			return err
		}

		fmt.Fprintf(i.out, "Test %q started\n", arg)

		return nil
	case "end":
		i.setLast(nil)

		if err := session.EndTest(ctx); err != nil {
			return err
		}

		fmt.Fprintln(i.out, "Test ended")

		return nil
	case "run":
		return i.runScript(ctx, arg)
	case "fail":
		reason := arg
		if reason == "" {
			reason = "reported from console"
		}

		session.Fail(errors.New(reason))
		fmt.Fprintf(i.out, "Failure recorded, backup mode: %t\n", session.BackupMode())

		return nil
	case "history":
		for _, record := range session.History() {
			fmt.Fprintf(i.out, "%3d  %-10s %-7s %s\n", record.Index, record.Kind, record.Mode, record.Selector)
		}

		return nil
	default:
		err := i.step(ctx, name, arg)
		if err != nil && isLocate(name) {
			// A failed locate counts as a test failure.
			session.Fail(err)
		}

		return err
	}
}

func isLocate(name string) bool {
	switch name {
	case "get", "find", "getai", "findai":
		return true
	default:
		return false
	}
}

// step runs one page command. Steps are what a script may contain.
func (i *Interface) step(ctx context.Context, name, arg string) error {
	session := i.usecase.Session

	switch name {
	case "visit":
		return i.usecase.Browser.Navigate(ctx, arg)
	case "get":
		return i.locate(func() (*entity.Element, error) { return session.Get(ctx, arg) })
	case "find":
		return i.locate(func() (*entity.Element, error) { return session.Find(ctx, arg) })
	case "getai":
		return i.locate(func() (*entity.Element, error) { return session.GetByAI(ctx, arg) })
	case "findai":
		return i.locate(func() (*entity.Element, error) { return session.FindByAI(ctx, arg) })
	case "click":
		return i.click(ctx)
	case "type":
		if err := i.click(ctx); err != nil {
			return err
		}

		return i.usecase.Browser.TypeText(ctx, arg)
	default:
		return fmt.Errorf("unknown command %q, type help for the list of commands", name)
	}
}

func (i *Interface) locate(fn func() (*entity.Element, error)) error {
	el, err := fn()
	if err != nil {
		return err
	}

	i.setLast(el)

	box := el.BoundingBox
	fmt.Fprintf(i.out, "Found <%s> via %s at (%.0f, %.0f) %.0fx%.0f\n",
		el.Tag, el.Source, box.X, box.Y, box.Width, box.Height)

	return nil
}

func (i *Interface) endRunning(ctx context.Context) error {
	i.setLast(nil)

	if _, running := i.usecase.Session.CurrentTest(); running {
		return i.usecase.Session.EndTest(ctx)
	}

	return nil
}

// runScript replays the steps of a script file as one test. A failed attempt
// is retried with the failure recorded, so the step that broke is resolved
// with AI on the next attempt.
func (i *Interface) runScript(ctx context.Context, arg string) error {
	idx := strings.LastIndex(arg, " ")
	if idx <= 0 {
		return errors.New("usage: run <name> <script-file>")
	}

	name, path := strings.TrimSpace(arg[:idx]), arg[idx+1:]

	steps, err := readScript(path)
	if err != nil {
		return err
	}

	if err := i.endRunning(ctx); err != nil {
		return err
	}

	attempt := 0

	err = i.usecase.Session.Run(ctx, name, i.retries+1, func(ctx context.Context) error {
		attempt++
		i.setLast(nil)
		fmt.Fprintf(i.out, "Attempt %d of %q\n", attempt, name)

		for _, line := range steps {
			stepName, stepArg := parseCommand(line)

			if err := i.step(ctx, stepName, stepArg); err != nil {
				fmt.Fprintf(i.out, "Step %q failed: %v\n", line, err)

				return err
			}
		}

		return nil
	})
	i.setLast(nil)

	if err != nil {
		return fmt.Errorf("test %q failed after %d attempt(s): %w", name, attempt, err)
	}

	fmt.Fprintf(i.out, "Test %q passed after %d attempt(s)\n", name, attempt)

	return nil
}

// readScript returns the non-empty lines of a script, skipping # comments.
func readScript(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	var steps []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		steps = append(steps, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	return steps, nil
}

func (i *Interface) click(ctx context.Context) error {
	i.mu.Lock()
	el := i.last
	i.mu.Unlock()

	if el == nil {
		return errors.New("no element located yet, use get or find first")
	}

	x, y := el.BoundingBox.Center()

	return i.usecase.Browser.ClickAtCoordinates(ctx, x, y)
}

func (i *Interface) setLast(el *entity.Element) {
	i.mu.Lock()
	i.last = el
	i.mu.Unlock()
}

func (i *Interface) printBanner() {
	banner := `
+-----------------------------------------------------------+
|                                                           |
|                      smartlocate                          |
|                                                           |
|     Element resolution with structural and AI lookup      |
|                                                           |
+-----------------------------------------------------------+
`
	fmt.Fprintln(i.out, banner)
}

func (i *Interface) printHelp() {
	help := `
Available commands:
  test <name>          - Start a test case (ends the running one)
  end                  - End the test case and remove its screenshots
  visit <url>          - Open a page
  get <selector>       - Locate an element, AI fallback after failures
  find <selector>      - Same as get
  getai <selector>     - Locate an element from a screenshot
  findai <description> - Locate an element by description
  click                - Click the last located element
  type <text>          - Click the last located element and type text
  run <name> <file>    - Replay the steps in file as a test, with retries
  fail [reason]        - Report a test failure
  history              - Show the locate calls of this test
  help, h              - Show this help message
  exit, quit, q        - Exit the application
`
	fmt.Fprintln(i.out, help)
}
