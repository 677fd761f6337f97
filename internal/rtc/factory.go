package rtc

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/broadcomms/meeting-ledger/internal/conference"
	"github.com/broadcomms/meeting-ledger/internal/config"
	"github.com/broadcomms/meeting-ledger/internal/logging"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	pion "github.com/pion/webrtc/v4"
)

const keyframeInterval = 3 * time.Second

// Options tunes the ICE agent of every peer connection.
type Options struct {
	// IncludeLoopback gathers 127.0.0.1 candidates, for same-host meetings.
	IncludeLoopback bool
	// ForceRelay restricts ICE to TURN candidates.
	ForceRelay bool
}

// Factory creates one pion PeerConnection per remote participant.
type Factory struct {
	config pion.Configuration
	opts   Options
	log    *slog.Logger
}

// NewFactory builds a factory from the client configuration. cfg may be nil
// for host-only connectivity.
func NewFactory(cfg *config.Config, opts Options, log *slog.Logger) *Factory {
	f := &Factory{opts: opts, log: logging.OrDefault(log).With("component", "rtc")}
	if cfg != nil {
		opts.ForceRelay = opts.ForceRelay || cfg.ForceRelay
		f.opts = opts
		f.config = Configuration(cfg, opts.ForceRelay)
	}
	return f
}

// Configuration maps STUN/TURN settings to ICE servers. Relay-only policy is
// applied when TURN is configured and either forced or the host looks like it
// sits behind a VPN or carrier NAT.
func Configuration(cfg *config.Config, forceRelay bool) pion.Configuration {
	var servers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		servers = append(servers, pion.ICEServer{URLs: stun})
	}

	turn := cfg.GetTURNServers()
	if turn != nil {
		username, password := cfg.GetTURNCredentials()
		servers = append(servers, pion.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turn != nil && (forceRelay || ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}

	return pion.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}

// newAPI assembles a fresh media engine and interceptor chain. Pion does not
// allow re-registering codecs on a shared engine.
func (f *Factory) newAPI() (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(keyframeInterval))
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	registry.Add(pli)

	se := pion.SettingEngine{LoggerFactory: logging.NewPionFactory(f.log)}
	if f.opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
		se.SetNetworkTypes([]pion.NetworkType{pion.NetworkTypeUDP4})
	}

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(registry),
		pion.WithSettingEngine(se),
	), nil
}

// NewTransport opens a peer connection to peerID that reports through events.
func (f *Factory) NewTransport(peerID string, events conference.TransportEvents) (conference.Transport, error) {
	return f.NewPeer(peerID, events)
}

func (f *Factory) NewPeer(peerID string, events conference.TransportEvents) (*Peer, error) {
	api, err := f.newAPI()
	if err != nil {
		return nil, &Error{Op: "create peer connection", Peer: peerID, Err: err}
	}

	pc, err := api.NewPeerConnection(f.config)
	if err != nil {
		return nil, &Error{Op: "create peer connection", Peer: peerID, Err: err}
	}

	p := &Peer{id: peerID, pc: pc, log: f.log.With("peer", peerID)}
	p.bind(events)
	return p, nil
}
