// Package discovery advertises the media relay on the local network so cameras
// on the same LAN can find it without a configured URL.
package discovery

import (
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

// ServiceType is the DNS-SD service type of the relay.
const ServiceType = "_homecam-relay._tcp"

var ErrAlreadyStarted = errors.New("discovery: already advertising")

// Server is a running mDNS registration.
type Server interface {
	Shutdown()
}

// ServerFactory creates Server instances. Tests inject a fake.
type ServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (Server, error)
}

type zeroconfFactory struct{}

func (zeroconfFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (Server, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Config for the Advertiser.
type Config struct {
	Instance string
	Port     int
	// PublicURL goes into the TXT record as url=...
	PublicURL string
	Factory   ServerFactory
}

// Advertiser publishes a single relay service record.
type Advertiser struct {
	cfg     Config
	factory ServerFactory
	log     *zap.Logger

	mu     sync.Mutex
	server Server
}

func NewAdvertiser(cfg Config, log *zap.Logger) *Advertiser {
	f := cfg.Factory
	if f == nil {
		f = zeroconfFactory{}
	}
	if cfg.Instance == "" {
		cfg.Instance = "homecam-relay"
	}
	return &Advertiser{cfg: cfg, factory: f, log: log}
}

// TXT returns the TXT record entries advertised with the service.
func (a *Advertiser) TXT() []string {
	txt := []string{"path=/", "port=" + strconv.Itoa(a.cfg.Port)}
	if a.cfg.PublicURL != "" {
		txt = append(txt, "url="+a.cfg.PublicURL)
	}
	return txt
}

func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return ErrAlreadyStarted
	}
	srv, err := a.factory.Register(a.cfg.Instance, ServiceType, "local.", a.cfg.Port, a.TXT(), nil)
	if err != nil {
		return err
	}
	a.server = srv
	a.log.Info("mdns advertising", zap.String("instance", a.cfg.Instance), zap.String("service", ServiceType), zap.Int("port", a.cfg.Port))
	return nil
}

// Stop is safe to call when not started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
