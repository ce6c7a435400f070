package tracker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/ntran/leechcore/internal/bencode"
)

const compactPeerStride = 6 // 4-byte IPv4 address + 2-byte port

// decodePeers extracts the peer list from an announce response dict. Only
// the compact IPv4 ("peers") and dictionary-list forms are supported;
// "peers6" (IPv6) is a Non-goal for this client.
func decodePeers(dict map[string]any) ([]netip.AddrPort, error) {
	v, ok := dict["peers"]
	if !ok {
		return nil, nil
	}

	switch t := v.(type) {
	case string:
		return decodeCompactPeers([]byte(t))
	case []any:
		return decodeDictPeers(t)
	default:
		return nil, fmt.Errorf("tracker: unsupported peers type %T", v)
	}
}

func decodeCompactPeers(b []byte) ([]netip.AddrPort, error) {
	if len(b)%compactPeerStride != 0 {
		return nil, errors.New("tracker: compact peer list length not a multiple of 6")
	}

	n := len(b) / compactPeerStride
	peers := make([]netip.AddrPort, n)

	for i, off := 0, 0; i < n; i, off = i+1, off+compactPeerStride {
		addr := netip.AddrFrom4([4]byte{b[off], b[off+1], b[off+2], b[off+3]})
		port := binary.BigEndian.Uint16(b[off+4 : off+6])
		peers[i] = netip.AddrPortFrom(addr, port)
	}

	return peers, nil
}

func decodeDictPeers(list []any) ([]netip.AddrPort, error) {
	peers := make([]netip.AddrPort, 0, len(list))

	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tracker: peer[%d] not a dict", i)
		}

		ipStr, err := bencode.ToString(m["ip"])
		if err != nil {
			return nil, fmt.Errorf("tracker: peer[%d] ip: %w", i, err)
		}
		addr, err := netip.ParseAddr(ipStr)
		if err != nil {
			return nil, fmt.Errorf("tracker: peer[%d] bad ip %q: %w", i, ipStr, err)
		}

		port, err := bencode.ToInt(m["port"])
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("tracker: peer[%d] invalid port %v", i, m["port"])
		}

		peers = append(peers, netip.AddrPortFrom(addr, uint16(port)))
	}

	return peers, nil
}
