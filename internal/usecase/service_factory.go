package usecase

import (
	"smartlocate/internal/usecase/adapters"
)

type serviceFactory struct {
	deps Params
}

func newServiceFactory(deps Params) *serviceFactory {
	return &serviceFactory{
		deps: deps,
	}
}

func (f *serviceFactory) CreateNativeLocator() *NativeLocator {
	return NewNativeLocator(NativeLocatorParams{
		Page:       f.deps.Browser,
		Service:    f.deps.Service,
		Store:      f.deps.Store,
		AutoIngest: f.deps.Config.ClassifyConfig.AutoIngest,
		Logger:     f.deps.Logger,
	})
}

func (f *serviceFactory) CreateResolver() *Resolver {
	return NewResolver(ResolverParams{
		Page:    f.deps.Browser,
		Service: f.deps.Service,
		Store:   f.deps.Store,
		Waiter:  f.deps.Waiter,
		Logger:  f.deps.Logger,
	})
}

func (f *serviceFactory) CreateSessionService() adapters.SessionService {
	return NewSession(SessionParams{
		Logger:   f.deps.Logger,
		Service:  f.deps.Service,
		Store:    f.deps.Store,
		Registry: f.deps.Registry,
		Native:   f.CreateNativeLocator(),
		AI:       f.CreateResolver(),
	})
}

func (f *serviceFactory) CreateBrowserService() adapters.BrowserService {
	return f.deps.Browser
}
