// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package resource

import (
	"github.com/juju/errors"
)

// Kind identifies one of the VPC resource kinds the capture engine
// understands. The set is closed: a snapshot containing any other kind
// is malformed.
type Kind string

const (
	KindVPC                  Kind = "vpc"
	KindSubnet               Kind = "subnet"
	KindRouteTable           Kind = "route-table"
	KindRoute                Kind = "route"
	KindInternetGateway      Kind = "internet-gateway"
	KindNatGateway           Kind = "nat-gateway"
	KindSecurityGroup        Kind = "security-group"
	KindSecurityGroupRule    Kind = "security-group-rule"
	KindNetworkAcl           Kind = "network-acl"
	KindNetworkAclEntry      Kind = "network-acl-entry"
	KindVpcPeeringConnection Kind = "vpc-peering-connection"
)

// Kinds lists every resource kind in the order the topology reader
// enumerates them. Container kinds come before the kinds they own so
// that parent attributes always resolve during graph assembly.
var Kinds = []Kind{
	KindVPC,
	KindSubnet,
	KindRouteTable,
	KindRoute,
	KindInternetGateway,
	KindNatGateway,
	KindSecurityGroup,
	KindSecurityGroupRule,
	KindNetworkAcl,
	KindNetworkAclEntry,
	KindVpcPeeringConnection,
}

// ParseKind converts the wire representation of a resource kind back to
// a Kind, rejecting anything outside the closed set.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", errors.NotValidf("resource kind %q", s)
}

// ParentAttr returns the attribute naming the owner of a resource of
// this kind, and whether the kind has an owner at all. Ownership edges
// in a topology graph are built exclusively from these attributes.
func (k Kind) ParentAttr() (string, bool) {
	switch k {
	case KindSubnet, KindRouteTable, KindInternetGateway,
		KindSecurityGroup, KindNetworkAcl, KindVpcPeeringConnection:
		return "vpcId", true
	case KindNatGateway:
		// NAT gateways live inside a subnet and cannot exist before it.
		return "subnetId", true
	case KindRoute:
		return "routeTableId", true
	case KindSecurityGroupRule:
		return "groupId", true
	case KindNetworkAclEntry:
		return "networkAclId", true
	}
	return "", false
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}
