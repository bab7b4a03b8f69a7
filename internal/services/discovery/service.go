// Package discovery finds a reachable local network address for a named peer.
//
// Three legs run concurrently: mDNS service-advertisement resolution, a
// brute-force probe of the common private /24 ranges, and an identity check
// of the peer's registered URL. The first confirmed IPv4 address wins; all
// results funnel through a single channel so there is exactly one writer of
// the final answer.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

const (
	// mdnsService is the advertisement tag voicelink nodes announce under.
	mdnsService = "_voicelink._tcp"

	// probeTimeout bounds each individual identity-check request.
	probeTimeout = 500 * time.Millisecond

	// DefaultDiscoveryTimeout bounds the whole discovery run.
	DefaultDiscoveryTimeout = 10 * time.Second
)

// defaultPrefixes are the private /24 ranges probed for peers.
var defaultPrefixes = []string{
	"192.168.0.",
	"192.168.1.",
	"192.168.2.",
	"10.0.0.",
	"172.16.0.",
}

// Service defines the interface for peer discovery.
type Service interface {
	Discover(ctx context.Context, peerID, registeredURL string) (*models.DiscoveryResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// MDNSResolver wraps hashicorp/mdns queries for mocking.
type MDNSResolver interface {
	Query(ctx context.Context, service string, entries chan<- *mdns.ServiceEntry) error
}

// DefaultMDNSResolver queries the local network via multicast DNS.
type DefaultMDNSResolver struct{}

// Query runs one mDNS query for the given service, IPv4 only.
func (r *DefaultMDNSResolver) Query(ctx context.Context, service string, entries chan<- *mdns.ServiceEntry) error {
	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.DisableIPv6 = true
	if deadline, ok := ctx.Deadline(); ok {
		params.Timeout = time.Until(deadline)
	}
	return mdns.Query(params)
}

// found is one confirmed address from any leg.
type found struct {
	address string
	source  string
}

// Impl implements the discovery Service interface.
type Impl struct {
	httpClient HTTPClient
	resolver   MDNSResolver
	logger     zerolog.Logger
	prefixes   []string
	probePort  int
	timeout    time.Duration
}

// New creates a new discovery service probing the given control port.
func New(logger zerolog.Logger, probePort int) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: probeTimeout,
		},
		resolver:  &DefaultMDNSResolver{},
		logger:    logger,
		prefixes:  defaultPrefixes,
		probePort: probePort,
		timeout:   DefaultDiscoveryTimeout,
	}
}

// NewWithClients creates a new discovery service with custom clients,
// prefixes and timeout (for testing).
func NewWithClients(logger zerolog.Logger, httpClient HTTPClient, resolver MDNSResolver, prefixes []string, probePort int, timeout time.Duration) *Impl {
	if prefixes == nil {
		prefixes = defaultPrefixes
	}
	return &Impl{
		httpClient: httpClient,
		resolver:   resolver,
		logger:     logger,
		prefixes:   prefixes,
		probePort:  probePort,
		timeout:    timeout,
	}
}

// Discover races the three legs and returns the first confirmed IPv4
// address, or a not-found result once every leg has finished or the
// discovery timeout elapses.
func (s *Impl) Discover(ctx context.Context, peerID, registeredURL string) (*models.DiscoveryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Buffered so late probes never block on a decided race.
	results := make(chan found, 8)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.resolveAdvertisement(ctx, peerID, results)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.probeSubnets(ctx, peerID, results)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.probeRegistered(ctx, peerID, registeredURL, results)
	}()

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case r := <-results:
		cancel()
		s.logger.Info().
			Str("peer", peerID).
			Str("address", r.address).
			Str("source", r.source).
			Msg("peer discovered")
		return &models.DiscoveryResult{Found: true, Address: r.address, Source: r.source}, nil

	case <-allDone:
		// Every leg finished without a confirmed match. A drained result may
		// still be waiting if a probe won the race with allDone.
		select {
		case r := <-results:
			return &models.DiscoveryResult{Found: true, Address: r.address, Source: r.source}, nil
		default:
		}
		if addr := registeredPrivateAddr(registeredURL); addr != "" {
			s.logger.Debug().Str("peer", peerID).Str("address", addr).Msg("falling back to registered address")
			return &models.DiscoveryResult{Found: true, Address: addr, Source: "registered"}, nil
		}
		return &models.DiscoveryResult{Found: false}, nil

	case <-ctx.Done():
		return &models.DiscoveryResult{Found: false}, models.ErrDiscoveryTimeout
	}
}

// resolveAdvertisement listens for mDNS announcements matching the peer.
func (s *Impl) resolveAdvertisement(ctx context.Context, peerID string, results chan<- found) {
	entries := make(chan *mdns.ServiceEntry, 16)

	go func() {
		if err := s.resolver.Query(ctx, mdnsService, entries); err != nil {
			s.logger.Debug().Err(err).Msg("mdns query failed")
		}
		close(entries)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if entry == nil || entry.AddrV4 == nil {
				continue // IPv4 only
			}
			if !entryMatches(entry, peerID) {
				continue
			}
			addr := net.JoinHostPort(entry.AddrV4.String(), fmt.Sprintf("%d", entry.Port))
			select {
			case results <- found{address: addr, source: "mdns"}:
			default:
			}
			return
		}
	}
}

func entryMatches(entry *mdns.ServiceEntry, peerID string) bool {
	for _, f := range entry.InfoFields {
		if f == "id="+peerID {
			return true
		}
	}
	return strings.HasPrefix(entry.Name, peerID+".")
}

// probeSubnets fans out identity checks across the private prefixes.
func (s *Impl) probeSubnets(ctx context.Context, peerID string, results chan<- found) {
	var wg sync.WaitGroup
	for _, prefix := range s.prefixes {
		for host := 1; host <= 254; host++ {
			addr := net.JoinHostPort(fmt.Sprintf("%s%d", prefix, host), fmt.Sprintf("%d", s.probePort))
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.checkIdentity(ctx, addr, peerID) {
					select {
					case results <- found{address: addr, source: "probe"}:
					default:
					}
				}
			}()
		}
	}
	wg.Wait()
}

// probeRegistered identity-checks the peer's last-known URL host when it is
// in a private range.
func (s *Impl) probeRegistered(ctx context.Context, peerID, registeredURL string, results chan<- found) {
	addr := registeredPrivateAddr(registeredURL)
	if addr == "" {
		return
	}
	if s.checkIdentity(ctx, addr, peerID) {
		select {
		case results <- found{address: addr, source: "registered"}:
		default:
		}
	}
}

type deviceIDResponse struct {
	DeviceID string `json:"deviceId"`
}

// checkIdentity asks the candidate for its device id and matches it against
// the peer we are looking for.
func (s *Impl) checkIdentity(ctx context.Context, addr, peerID string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+addr+"/api/device-id", nil)
	if err != nil {
		return false
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var out deviceIDResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.DeviceID == peerID
}

// registeredPrivateAddr returns host:port of the registered URL when its
// host is an IPv4 address in a private range, otherwise "".
func registeredPrivateAddr(registeredURL string) string {
	if registeredURL == "" {
		return ""
	}
	u, err := url.Parse(registeredURL)
	if err != nil || u.Host == "" {
		return ""
	}

	host := u.Hostname()
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil || !ip.IsPrivate() {
		return ""
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(host, port)
}
