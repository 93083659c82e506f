// Package jid splits chat identities of the form node@domain/resource.
//
// In a multi-user-chat address the node is the room and the resource is the
// participant handle, e.g. dmxchat@conference.weather.im/daryl. Node and
// domain are normalized (case-folded) so identities compare by value; the
// resource keeps its case.
package jid

import (
	"strings"

	xmppjid "mellium.im/xmpp/jid"
)

type JID struct {
	Node     string
	Domain   string
	Resource string
}

// Parse never fails; missing parts are left empty. Addresses the XMPP
// address rules reject are split as-is with node and domain lowercased.
func Parse(s string) JID {
	if j, err := xmppjid.Parse(s); err == nil {
		return JID{
			Node:     j.Localpart(),
			Domain:   j.Domainpart(),
			Resource: j.Resourcepart(),
		}
	}

	var j JID
	rest := s
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		j.Resource = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		j.Node = strings.ToLower(rest[:i])
		rest = rest[i+1:]
	}
	j.Domain = strings.ToLower(rest)
	return j
}

// Bare returns node@domain, or just the domain when there is no node.
func (j JID) Bare() string {
	if j.Node == "" {
		return j.Domain
	}
	return j.Node + "@" + j.Domain
}

func (j JID) String() string {
	if j.Resource == "" {
		return j.Bare()
	}
	return j.Bare() + "/" + j.Resource
}

// SameBare reports whether a and b name the same node@domain after
// normalization.
func SameBare(a, b string) bool {
	return Parse(a).Bare() == Parse(b).Bare()
}
