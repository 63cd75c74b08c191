package auth

import (
	"time"
)

// Service wires the credential commands over one repository manager and
// token service. Transports call into it.
type Service struct {
	Repo     RepositoryManager
	Tokens   TokenService
	Workflow *VerificationWorkflow

	Login          *LoginHandler
	Refresh        *RefreshTokenHandler
	Logout         *LogoutHandler
	Verification   *AccountVerificationHandler
	ResetInit      *InitializePasswordResetHandler
	ResetFinalize  *FinalizePasswordResetHandler
	ChangePassword *ChangePasswordHandler
	Register       *RegisterCredentialHandler
	Delete         *DeleteCredentialHandler

	clock  Clock
	logger Logger
}

type serviceOptions struct {
	clock          Clock
	logger         Logger
	activity       ActivitySink
	hasher         PasswordAuthenticator
	generator      CodeGenerator
	codeTTL        time.Duration
	resendInterval time.Duration
}

type ServiceOption func(*serviceOptions)

func WithServiceClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) { o.clock = clock }
}

func WithServiceLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) { o.logger = logger }
}

func WithServiceActivity(sink ActivitySink) ServiceOption {
	return func(o *serviceOptions) { o.activity = sink }
}

func WithServiceHasher(hasher PasswordAuthenticator) ServiceOption {
	return func(o *serviceOptions) { o.hasher = hasher }
}

func WithServiceCodeGenerator(gen CodeGenerator) ServiceOption {
	return func(o *serviceOptions) { o.generator = gen }
}

func WithServiceCodeTimings(ttl, resend time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		o.codeTTL = ttl
		o.resendInterval = resend
	}
}

func NewService(repo RepositoryManager, tokens TokenService, mailer CodeDispatcher, opts ...ServiceOption) *Service {
	o := serviceOptions{
		clock:  SystemClock(),
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.clock == nil {
		o.clock = SystemClock()
	}
	if o.logger == nil {
		o.logger = defLogger{}
	}

	handlerOpts := []HandlerOption{
		WithHandlerClock(o.clock),
		WithHandlerLogger(o.logger),
		WithActivitySink(o.activity),
		WithPasswordAuthenticator(o.hasher),
	}

	workflow := NewVerificationWorkflow(repo, tokens, mailer,
		WithWorkflowClock(o.clock),
		WithWorkflowLogger(o.logger),
		WithWorkflowActivity(o.activity),
		WithCodeGenerator(o.generator),
		WithCodeTimings(o.codeTTL, o.resendInterval),
	)

	return &Service{
		Repo:           repo,
		Tokens:         tokens,
		Workflow:       workflow,
		Login:          NewLoginHandler(repo, tokens, handlerOpts...),
		Refresh:        NewRefreshTokenHandler(repo, tokens, handlerOpts...),
		Logout:         NewLogoutHandler(repo, tokens, handlerOpts...),
		Verification:   NewAccountVerificationHandler(workflow),
		ResetInit:      NewInitializePasswordResetHandler(workflow),
		ResetFinalize:  NewFinalizePasswordResetHandler(repo, tokens, handlerOpts...),
		ChangePassword: NewChangePasswordHandler(repo, handlerOpts...),
		Register:       NewRegisterCredentialHandler(repo, workflow, handlerOpts...),
		Delete:         NewDeleteCredentialHandler(repo, handlerOpts...),
		clock:          o.clock,
		logger:         o.logger,
	}
}

func (s *Service) Clock() Clock {
	return s.clock
}

func (s *Service) Logger() Logger {
	return s.logger
}
