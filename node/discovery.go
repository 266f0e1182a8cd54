package node

import (
	"context"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/discovery"
	"github.com/sirupsen/logrus"
)

// shuttleTag protects shuttle connections from the connection manager.
const shuttleTag = "accountd-shuttle"

// startDiscovery wires the discovery strategy into h. Connection attempts run
// in the background and are best effort.
func startDiscovery(ctx context.Context, h host.Host, cfg Config) (*dht.IpfsDHT, error) {
	switch cfg.Discovery.Kind {
	case discovery.KindDHT:
		peers := addrInfos(cfg.Discovery.Addresses)
		if cfg.Bootstrap == backend.BootstrapDefault {
			peers = append(peers, dht.GetDefaultBootstrapPeerAddrInfos()...)
		}
		kdht, err := dht.New(ctx, h, dht.Mode(dht.ModeAuto), dht.BootstrapPeers(peers...))
		if err != nil {
			return nil, err
		}
		go func() {
			connectAll(ctx, h, peers, "")
			if err := kdht.Bootstrap(ctx); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "startDiscovery",
					"error":    err.Error(),
				}).Warn("DHT bootstrap failed")
				return
			}
			dutil.Advertise(ctx, routing.NewRoutingDiscovery(kdht), Namespace)
		}()
		return kdht, nil

	case discovery.KindRendezvous:
		peers := addrInfos(cfg.Discovery.Addresses)
		kdht, err := dht.New(ctx, h, dht.Mode(dht.ModeClient), dht.BootstrapPeers(peers...))
		if err != nil {
			return nil, err
		}
		go func() {
			connectAll(ctx, h, peers, "")
			_ = kdht.Bootstrap(ctx)
		}()
		return kdht, nil

	case discovery.KindShuttle:
		go connectAll(ctx, h, addrInfos(cfg.Discovery.Addresses), shuttleTag)
		return nil, nil

	default:
		return nil, nil
	}
}

// addrInfos converts p2p multiaddrs, skipping those without a peer ID.
func addrInfos(addrs []multiaddr.Multiaddr) []peer.AddrInfo {
	infos := make([]peer.AddrInfo, 0, len(addrs))
	for _, a := range addrs {
		info, err := peer.AddrInfoFromP2pAddr(a)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "addrInfos",
				"addr":     a.String(),
			}).Debug("Skipping discovery address without peer ID")
			continue
		}
		infos = append(infos, *info)
	}
	return infos
}

// connectAll dials every peer, protecting the connection under tag if set.
func connectAll(ctx context.Context, h host.Host, peers []peer.AddrInfo, tag string) {
	for _, info := range peers {
		if tag != "" {
			h.ConnManager().Protect(info.ID, tag)
		}
		if err := h.Connect(ctx, info); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "connectAll",
				"peer":     info.ID.String(),
				"error":    err.Error(),
			}).Debug("Failed to connect to discovery peer")
			continue
		}
		logrus.WithFields(logrus.Fields{
			"function": "connectAll",
			"peer":     info.ID.String(),
		}).Debug("Connected to discovery peer")
	}
}
