// Package av is the production calling backend. Calls are WebRTC peer
// connections negotiated through pion with a single Opus audio track in each
// direction. Signaling is left to the caller: Offer and Accept return the
// local SDP after ICE gathering has finished, and Complete applies the remote
// answer.
//
// Inbound Opus packets are decoded with pion/opus and counted per call.
package av
