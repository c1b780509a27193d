// Package discovery advertises the lightshow server on the local network
// with DNS-SD, so devices can find it without typing an address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/grandcat/zeroconf"
	pkglog "github.com/tuchoir/lightshow/pkg/log"
)

// Config describes the advertised service.
type Config struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	Version  string
	// Path of the websocket endpoint, published as a TXT record.
	Path string
}

// Registration is a live advertisement.
type Registration interface {
	Shutdown()
}

// RegisterFunc publishes an advertisement.
type RegisterFunc func(instance, service, domain string, port int, txt []string) (Registration, error)

// Option configures an Advertiser.
type Option func(*Advertiser)

// WithRegisterFunc replaces the zeroconf responder, mostly for tests.
func WithRegisterFunc(f RegisterFunc) Option {
	return func(a *Advertiser) {
		a.register = f
	}
}

// Advertiser publishes the server for the lifetime of the process.
type Advertiser struct {
	cfg      Config
	register RegisterFunc

	mu  sync.Mutex
	reg Registration
}

// NewAdvertiser creates an advertiser; nothing is published until Start.
func NewAdvertiser(cfg Config, opts ...Option) *Advertiser {
	if cfg.Domain == "" {
		cfg.Domain = "local."
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	a := &Advertiser{
		cfg:      cfg,
		register: zeroconfRegister,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func zeroconfRegister(instance, service, domain string, port int, txt []string) (Registration, error) {
	return zeroconf.Register(instance, service, domain, port, txt, nil)
}

// TXT returns the TXT records published with the service.
func (a *Advertiser) TXT() []string {
	txt := []string{"path=" + a.cfg.Path}
	if a.cfg.Version != "" {
		txt = append(txt, "version="+a.cfg.Version)
	}
	return txt
}

// Start publishes the advertisement. A failure is logged as a warning and
// returned; the server keeps running without discovery.
func (a *Advertiser) Start(ctx context.Context) error {
	l := pkglog.Ctx(ctx)

	if err := a.validate(); err != nil {
		l.Warn().Err(err).Msg("service discovery disabled")
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reg != nil {
		return nil
	}

	reg, err := a.register(a.cfg.Instance, a.cfg.Service, a.cfg.Domain, a.cfg.Port, a.TXT())
	if err != nil {
		err = fmt.Errorf("advertise %s: %w", a.cfg.Service, err)
		l.Warn().Err(err).Msg("service discovery unavailable")
		return err
	}
	a.reg = reg

	l.Info().
		Str("instance", a.cfg.Instance).
		Str("service", a.cfg.Service).
		Str("domain", a.cfg.Domain).
		Int("port", a.cfg.Port).
		Msg("advertising on local network")
	return nil
}

// Stop withdraws the advertisement. It is safe to call more than once.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reg == nil {
		return
	}
	a.reg.Shutdown()
	a.reg = nil
}

func (a *Advertiser) validate() error {
	var errs []error
	if a.cfg.Instance == "" {
		errs = append(errs, errors.New("instance name is required"))
	}
	if a.cfg.Service == "" {
		errs = append(errs, errors.New("service type is required"))
	}
	if a.cfg.Port < 1 || a.cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", a.cfg.Port))
	}
	return errors.Join(errs...)
}
