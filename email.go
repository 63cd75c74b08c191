package auth

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
)

type EmailFormat string

const (
	EmailFormatHTML EmailFormat = "html"
	EmailFormatText EmailFormat = "text"

	verificationTemplate = "verification_code"
	defaultSendTimeout   = 30 * time.Second
)

// EmailMessage is a single rendered message in one format
type EmailMessage struct {
	To      string
	Subject string
	Format  EmailFormat
	Body    string
}

// CodeEmailRenderer renders the HTML verification email from the
// embedded templates.
type CodeEmailRenderer struct {
	engine *django.Engine
}

func NewCodeEmailRenderer() (*CodeEmailRenderer, error) {
	engine := django.NewFileSystem(http.FS(GetTemplatesFS()), ".html")
	if err := engine.Load(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load email templates")
	}
	return &CodeEmailRenderer{engine: engine}, nil
}

func (r *CodeEmailRenderer) RenderHTML(code string, purpose Purpose, ttl time.Duration) (string, error) {
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, verificationTemplate, TemplateHelpers(code, purpose, ttl)); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render verification email")
	}
	return buf.String(), nil
}

// EmailDispatcher delivers verification codes without blocking the
// caller. HTML goes first, plain text is tried once if that fails, and
// after that the message is dropped with a log line.
type EmailDispatcher struct {
	sender   EmailSender
	renderer *CodeEmailRenderer
	logger   Logger
	codeTTL  time.Duration
	timeout  time.Duration
	wg       sync.WaitGroup
}

type EmailDispatcherOption func(*EmailDispatcher)

func WithDispatcherLogger(logger Logger) EmailDispatcherOption {
	return func(d *EmailDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithDispatcherRenderer(renderer *CodeEmailRenderer) EmailDispatcherOption {
	return func(d *EmailDispatcher) {
		d.renderer = renderer
	}
}

func WithDispatcherTimeout(timeout time.Duration) EmailDispatcherOption {
	return func(d *EmailDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func NewEmailDispatcher(sender EmailSender, opts ...EmailDispatcherOption) *EmailDispatcher {
	d := &EmailDispatcher{
		sender:  sender,
		logger:  defLogger{},
		codeTTL: DefaultCodeTTL,
		timeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.renderer == nil {
		renderer, err := NewCodeEmailRenderer()
		if err != nil {
			d.logger.Warn("email templates unavailable, using plain text only: %v", err)
		} else {
			d.renderer = renderer
		}
	}
	return d
}

// SendCode schedules delivery of code to email and returns at once
func (d *EmailDispatcher) SendCode(email, code string, purpose Purpose) {
	if d == nil || d.sender == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.deliver(ctx, email, code, purpose)
	}()
}

// Wait blocks until every scheduled delivery has finished
func (d *EmailDispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *EmailDispatcher) deliver(ctx context.Context, email, code string, purpose Purpose) {
	subject := EmailSubject(purpose)

	if d.renderer != nil {
		body, err := d.renderer.RenderHTML(code, purpose, d.codeTTL)
		if err == nil {
			err = d.sender.Send(ctx, EmailMessage{
				To:      email,
				Subject: subject,
				Format:  EmailFormatHTML,
				Body:    body,
			})
		}
		if err == nil {
			return
		}
		d.logger.Warn("html verification email failed, falling back to text: %v", err)
	}

	err := d.sender.Send(ctx, EmailMessage{
		To:      email,
		Subject: subject,
		Format:  EmailFormatText,
		Body:    PlainTextEmail(code, purpose, d.codeTTL),
	})
	if err != nil {
		d.logger.Error("verification email dropped for purpose %s: %v", purpose, err)
	}
}
