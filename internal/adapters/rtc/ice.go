// Package rtc turns configured ICE servers into the pion configuration the
// browser peers are told to use. The relay itself never opens a peer connection.
package rtc

import (
	"fmt"

	"github.com/dkeye/Rendezvous/internal/config"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// NewWebRTCConfig validates every URL and requires credentials for TURN.
// An empty list falls back to DefaultWebRTCConfig.
func NewWebRTCConfig(servers []config.ICEServer) (webrtc.Configuration, error) {
	if len(servers) == 0 {
		return DefaultWebRTCConfig(), nil
	}
	out := webrtc.Configuration{ICEServers: make([]webrtc.ICEServer, 0, len(servers))}
	for i, s := range servers {
		if len(s.URLs) == 0 {
			return webrtc.Configuration{}, fmt.Errorf("ice_servers[%d]: no urls", i)
		}
		for _, raw := range s.URLs {
			uri, err := stun.ParseURI(raw)
			if err != nil {
				return webrtc.Configuration{}, fmt.Errorf("ice_servers[%d]: %q: %w", i, raw, err)
			}
			isTURN := uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS
			if isTURN && (s.Username == "" || s.Credential == "") {
				return webrtc.Configuration{}, fmt.Errorf("ice_servers[%d]: %q needs username and credential", i, raw)
			}
		}
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out.ICEServers = append(out.ICEServers, srv)
	}
	log.Info().Str("module", "rtc").Int("ice_servers", len(out.ICEServers)).Msg("ice configuration ready")
	return out, nil
}
