package stealing

import "github.com/cuemby/gridbalance/pkg/types"

// AttributeMatcher decides whether jobs may move between two nodes
type AttributeMatcher func(local, peer *types.Node) bool

// MatchAttributes requires both nodes to advertise every required attribute
// with the configured value. An empty requirement matches any pair.
func MatchAttributes(required map[string]string) AttributeMatcher {
	return func(local, peer *types.Node) bool {
		if local == nil || peer == nil {
			return false
		}
		for key, want := range required {
			if v, ok := local.Attribute(key); !ok || v != want {
				return false
			}
			if v, ok := peer.Attribute(key); !ok || v != want {
				return false
			}
		}
		return true
	}
}

// MatchAny allows stealing between any two nodes
func MatchAny(local, peer *types.Node) bool {
	return local != nil && peer != nil
}
