// Package node runs the libp2p host shared by the identity, messaging and
// calling backends of one generation.
//
// A Node is created idle and started once the account keypair exists. Start
// returns immediately; the host is built in the background and the node
// moves from starting to ready or failed:
//
//	n := node.New(node.ConfigFrom(cfg))
//	if err := n.Start(ctx, privateKey); err != nil {
//	    return err
//	}
//	n.OnReady(func(h host.Host) {
//	    h.SetStreamHandler(protocolID, handler)
//	})
//
// Discovery follows the resolved discovery.Config: a kad-dht advertising the
// accountd namespace, a DHT client seeded only from a fixed point, a set of
// protected shuttle connections, or nothing at all.
package node
