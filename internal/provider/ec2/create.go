// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ec2

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/juju/vpchron/core/controlplane"
	"github.com/juju/vpchron/core/resource"
)

const pendingPrefix = controlplane.PendingPrefix

// Some EC2 resources cannot exist at all without the resource they
// reference: a route needs its target, a rule granting to a peer
// group needs that group, a peering needs its far side. Their
// "skeleton" is therefore a pending marker held in memory; the attach
// step supplies the missing attribute and the real create happens
// then. The cache keeps creation attributes and tags so the deferred
// create (and rule modifications) can be issued with the full
// resource, and maps pending markers to the real ids they became.
type createdCache struct {
	mu      sync.Mutex
	attrs   map[string]map[string]string
	tags    map[string]map[string]string
	aliases map[string]string
}

func newCreatedCache() *createdCache {
	return &createdCache{
		attrs:   make(map[string]map[string]string),
		tags:    make(map[string]map[string]string),
		aliases: make(map[string]string),
	}
}

func (c *createdCache) put(id string, attrs, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[id] = attrs
	c.tags[id] = tags
}

func (c *createdCache) get(id string) (map[string]string, map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	attrs, ok := c.attrs[id]
	return attrs, c.tags[id], ok
}

func (c *createdCache) alias(pendingID, realID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[pendingID] = realID
}

func (c *createdCache) resolve(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if real, ok := c.aliases[id]; ok {
		return real
	}
	return id
}

// CreateResource implements controlplane.ControlPlane.
func (p *Provider) CreateResource(ctx context.Context, kind resource.Kind, attrs, tags map[string]string) (string, error) {
	resolved := make(map[string]string, len(attrs))
	for k, v := range attrs {
		resolved[k] = p.created.resolve(v)
	}
	id, err := p.create(ctx, kind, resolved, tags)
	if err != nil {
		return "", errors.Trace(err)
	}
	p.created.put(id, resolved, tags)
	return id, nil
}

// PatchResource implements controlplane.ControlPlane. For pending
// resources the patch completes the deferred create; for real ones it
// modifies in place.
func (p *Provider) PatchResource(ctx context.Context, kind resource.Kind, id string, attrs map[string]string) error {
	id = p.created.resolve(id)
	merged, tags, ok := p.created.get(id)
	if !ok {
		merged = make(map[string]string)
	}
	for k, v := range attrs {
		merged[k] = p.created.resolve(v)
	}

	if strings.HasPrefix(id, pendingPrefix) {
		realID, err := p.create(ctx, kind, merged, tags)
		if err != nil {
			return errors.Trace(err)
		}
		p.created.put(realID, merged, tags)
		p.created.alias(id, realID)
		logger.Debugf("deferred %s create completed as %s", kind, realID)
		return nil
	}

	switch kind {
	case resource.KindRouteTable:
		return errors.Trace(p.associateRouteTable(ctx, id, attrs))
	case resource.KindRoute:
		return errors.Trace(p.replaceRoute(ctx, merged))
	case resource.KindSecurityGroupRule:
		return errors.Trace(p.modifyRule(ctx, id, merged))
	}
	return errors.NotSupportedf("patching %s %q", kind, id)
}

func (p *Provider) create(ctx context.Context, kind resource.Kind, attrs, tags map[string]string) (string, error) {
	switch kind {
	case resource.KindVPC:
		return p.createVpc(ctx, attrs, tags)
	case resource.KindSubnet:
		out, err := p.client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
			VpcId:             aws.String(attrs["vpcId"]),
			CidrBlock:         aws.String(attrs["cidrBlock"]),
			AvailabilityZone:  optString(attrs, "availabilityZone"),
			TagSpecifications: tagSpec(types.ResourceTypeSubnet, tags),
		})
		if err != nil {
			return "", maybeTransient(err)
		}
		return aws.ToString(out.Subnet.SubnetId), nil
	case resource.KindRouteTable:
		out, err := p.client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
			VpcId:             aws.String(attrs["vpcId"]),
			TagSpecifications: tagSpec(types.ResourceTypeRouteTable, tags),
		})
		if err != nil {
			return "", maybeTransient(err)
		}
		return aws.ToString(out.RouteTable.RouteTableId), nil
	case resource.KindRoute:
		return p.createRoute(ctx, attrs)
	case resource.KindInternetGateway:
		out, err := p.client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
			TagSpecifications: tagSpec(types.ResourceTypeInternetGateway, tags),
		})
		if err != nil {
			return "", maybeTransient(err)
		}
		id := aws.ToString(out.InternetGateway.InternetGatewayId)
		_, err = p.client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
			InternetGatewayId: aws.String(id),
			VpcId:             aws.String(attrs["vpcId"]),
		})
		if err != nil {
			return "", maybeTransient(err)
		}
		return id, nil
	case resource.KindNatGateway:
		in := &ec2.CreateNatGatewayInput{
			SubnetId:          aws.String(attrs["subnetId"]),
			TagSpecifications: tagSpec(types.ResourceTypeNatgateway, tags),
		}
		if ct := attrs["connectivityType"]; ct != "" {
			in.ConnectivityType = types.ConnectivityType(ct)
		}
		out, err := p.client.CreateNatGateway(ctx, in)
		if err != nil {
			return "", maybeTransient(err)
		}
		return aws.ToString(out.NatGateway.NatGatewayId), nil
	case resource.KindSecurityGroup:
		out, err := p.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
			GroupName:         aws.String(attrs["groupName"]),
			Description:       aws.String(attrs["description"]),
			VpcId:             aws.String(attrs["vpcId"]),
			TagSpecifications: tagSpec(types.ResourceTypeSecurityGroup, tags),
		})
		if err != nil {
			return "", maybeTransient(err)
		}
		return aws.ToString(out.GroupId), nil
	case resource.KindSecurityGroupRule:
		return p.createRule(ctx, attrs, tags)
	case resource.KindNetworkAcl:
		out, err := p.client.CreateNetworkAcl(ctx, &ec2.CreateNetworkAclInput{
			VpcId:             aws.String(attrs["vpcId"]),
			TagSpecifications: tagSpec(types.ResourceTypeNetworkAcl, tags),
		})
		if err != nil {
			return "", maybeTransient(err)
		}
		return aws.ToString(out.NetworkAcl.NetworkAclId), nil
	case resource.KindNetworkAclEntry:
		return p.createAclEntry(ctx, attrs)
	case resource.KindVpcPeeringConnection:
		if attrs["peerVpcId"] == "" {
			return pendingPrefix + uuid.NewString(), nil
		}
		out, err := p.client.CreateVpcPeeringConnection(ctx, &ec2.CreateVpcPeeringConnectionInput{
			VpcId:             aws.String(attrs["vpcId"]),
			PeerVpcId:         aws.String(attrs["peerVpcId"]),
			PeerOwnerId:       optString(attrs, "peerOwnerId"),
			PeerRegion:        optString(attrs, "peerRegion"),
			TagSpecifications: tagSpec(types.ResourceTypeVpcPeeringConnection, tags),
		})
		if err != nil {
			return "", maybeTransient(err)
		}
		return aws.ToString(out.VpcPeeringConnection.VpcPeeringConnectionId), nil
	}
	return "", errors.NotSupportedf("creating %s resources", kind)
}

func (p *Provider) createVpc(ctx context.Context, attrs, tags map[string]string) (string, error) {
	out, err := p.client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         aws.String(attrs["cidrBlock"]),
		TagSpecifications: tagSpec(types.ResourceTypeVpc, tags),
	})
	if err != nil {
		return "", maybeTransient(err)
	}
	id := aws.ToString(out.Vpc.VpcId)
	for attr, field := range map[string]string{
		"enableDnsSupport":   "support",
		"enableDnsHostnames": "hostnames",
	} {
		if attrs[attr] != "true" {
			continue
		}
		in := &ec2.ModifyVpcAttributeInput{VpcId: aws.String(id)}
		value := &types.AttributeBooleanValue{Value: aws.Bool(true)}
		if field == "support" {
			in.EnableDnsSupport = value
		} else {
			in.EnableDnsHostnames = value
		}
		if _, err := p.client.ModifyVpcAttribute(ctx, in); err != nil {
			return "", maybeTransient(err)
		}
	}
	return id, nil
}

func (p *Provider) createRoute(ctx context.Context, attrs map[string]string) (string, error) {
	in := &ec2.CreateRouteInput{
		RouteTableId:           aws.String(attrs["routeTableId"]),
		DestinationCidrBlock:   aws.String(attrs["destinationCidrBlock"]),
		GatewayId:              optString(attrs, "gatewayId"),
		NatGatewayId:           optString(attrs, "natGatewayId"),
		VpcPeeringConnectionId: optString(attrs, "vpcPeeringConnectionId"),
	}
	if in.GatewayId == nil && in.NatGatewayId == nil && in.VpcPeeringConnectionId == nil {
		// No target yet; the attach step brings one.
		return pendingPrefix + uuid.NewString(), nil
	}
	if _, err := p.client.CreateRoute(ctx, in); err != nil {
		return "", maybeTransient(err)
	}
	return "route:" + attrs["routeTableId"] + ":" + attrs["destinationCidrBlock"], nil
}

func (p *Provider) replaceRoute(ctx context.Context, attrs map[string]string) error {
	_, err := p.client.ReplaceRoute(ctx, &ec2.ReplaceRouteInput{
		RouteTableId:           aws.String(attrs["routeTableId"]),
		DestinationCidrBlock:   aws.String(attrs["destinationCidrBlock"]),
		GatewayId:              optString(attrs, "gatewayId"),
		NatGatewayId:           optString(attrs, "natGatewayId"),
		VpcPeeringConnectionId: optString(attrs, "vpcPeeringConnectionId"),
	})
	return maybeTransient(err)
}

func (p *Provider) createRule(ctx context.Context, attrs, tags map[string]string) (string, error) {
	if attrs["cidrIpv4"] == "" && attrs["referencedGroupId"] == "" {
		return pendingPrefix + uuid.NewString(), nil
	}
	perm := types.IpPermission{
		IpProtocol: aws.String(attrs["ipProtocol"]),
	}
	if _, ok := attrs["fromPort"]; ok {
		from, err := int32Attr(attrs, "fromPort")
		if err != nil {
			return "", errors.Trace(err)
		}
		perm.FromPort = aws.Int32(from)
	}
	if _, ok := attrs["toPort"]; ok {
		to, err := int32Attr(attrs, "toPort")
		if err != nil {
			return "", errors.Trace(err)
		}
		perm.ToPort = aws.Int32(to)
	}
	if cidr := attrs["cidrIpv4"]; cidr != "" {
		perm.IpRanges = []types.IpRange{{CidrIp: aws.String(cidr)}}
	}
	if peer := attrs["referencedGroupId"]; peer != "" {
		perm.UserIdGroupPairs = []types.UserIdGroupPair{{GroupId: aws.String(peer)}}
	}

	if attrs["isEgress"] == "true" {
		out, err := p.client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:           aws.String(attrs["groupId"]),
			IpPermissions:     []types.IpPermission{perm},
			TagSpecifications: tagSpec(types.ResourceTypeSecurityGroupRule, tags),
		})
		if err != nil {
			return "", maybeTransient(err)
		}
		return ruleID(out.SecurityGroupRules), nil
	}
	out, err := p.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:           aws.String(attrs["groupId"]),
		IpPermissions:     []types.IpPermission{perm},
		TagSpecifications: tagSpec(types.ResourceTypeSecurityGroupRule, tags),
	})
	if err != nil {
		return "", maybeTransient(err)
	}
	return ruleID(out.SecurityGroupRules), nil
}

func (p *Provider) modifyRule(ctx context.Context, id string, attrs map[string]string) error {
	request := &types.SecurityGroupRuleRequest{
		IpProtocol: aws.String(attrs["ipProtocol"]),
	}
	if _, ok := attrs["fromPort"]; ok {
		from, err := int32Attr(attrs, "fromPort")
		if err != nil {
			return errors.Trace(err)
		}
		request.FromPort = aws.Int32(from)
	}
	if _, ok := attrs["toPort"]; ok {
		to, err := int32Attr(attrs, "toPort")
		if err != nil {
			return errors.Trace(err)
		}
		request.ToPort = aws.Int32(to)
	}
	if cidr := attrs["cidrIpv4"]; cidr != "" {
		request.CidrIpv4 = aws.String(cidr)
	}
	if peer := attrs["referencedGroupId"]; peer != "" {
		request.ReferencedGroupId = aws.String(peer)
	}
	_, err := p.client.ModifySecurityGroupRules(ctx, &ec2.ModifySecurityGroupRulesInput{
		GroupId: aws.String(attrs["groupId"]),
		SecurityGroupRules: []types.SecurityGroupRuleUpdate{{
			SecurityGroupRuleId: aws.String(id),
			SecurityGroupRule:   request,
		}},
	})
	return maybeTransient(err)
}

func (p *Provider) createAclEntry(ctx context.Context, attrs map[string]string) (string, error) {
	ruleNumber, err := int32Attr(attrs, "ruleNumber")
	if err != nil {
		return "", errors.Trace(err)
	}
	in := &ec2.CreateNetworkAclEntryInput{
		NetworkAclId: aws.String(attrs["networkAclId"]),
		RuleNumber:   aws.Int32(ruleNumber),
		Protocol:     aws.String(attrs["protocol"]),
		RuleAction:   types.RuleAction(attrs["ruleAction"]),
		Egress:       aws.Bool(attrs["egress"] == "true"),
		CidrBlock:    optString(attrs, "cidrBlock"),
	}
	if attrs["portFrom"] != "" {
		from, err := int32Attr(attrs, "portFrom")
		if err != nil {
			return "", errors.Trace(err)
		}
		to, err := int32Attr(attrs, "portTo")
		if err != nil {
			return "", errors.Trace(err)
		}
		in.PortRange = &types.PortRange{
			From: aws.Int32(from),
			To:   aws.Int32(to),
		}
	}
	if _, err := p.client.CreateNetworkAclEntry(ctx, in); err != nil {
		return "", maybeTransient(err)
	}
	id := "aclentry:" + attrs["networkAclId"] + ":" + attrs["egress"] + ":" + attrs["ruleNumber"]
	return id, nil
}

func (p *Provider) associateRouteTable(ctx context.Context, tableID string, attrs map[string]string) error {
	for attr, subnetID := range attrs {
		if !strings.HasPrefix(attr, "association.") {
			continue
		}
		_, err := p.client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
			RouteTableId: aws.String(tableID),
			SubnetId:     aws.String(p.created.resolve(subnetID)),
		})
		if err != nil {
			return maybeTransient(err)
		}
	}
	return nil
}

// taggableResourceTypes maps kinds to the EC2 tag resource type used
// in tag specifications and tag-based lookup. Kinds with synthetic
// ids are absent.
var taggableResourceTypes = map[resource.Kind]types.ResourceType{
	resource.KindVPC:                  types.ResourceTypeVpc,
	resource.KindSubnet:               types.ResourceTypeSubnet,
	resource.KindRouteTable:           types.ResourceTypeRouteTable,
	resource.KindInternetGateway:      types.ResourceTypeInternetGateway,
	resource.KindNatGateway:           types.ResourceTypeNatgateway,
	resource.KindSecurityGroup:        types.ResourceTypeSecurityGroup,
	resource.KindSecurityGroupRule:    types.ResourceTypeSecurityGroupRule,
	resource.KindNetworkAcl:           types.ResourceTypeNetworkAcl,
	resource.KindVpcPeeringConnection: types.ResourceTypeVpcPeeringConnection,
}

func tagSpec(resourceType types.ResourceType, tags map[string]string) []types.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	return []types.TagSpecification{{
		ResourceType: resourceType,
		Tags:         toEC2Tags(tags),
	}}
}

func ruleID(rules []types.SecurityGroupRule) string {
	if len(rules) == 0 {
		return pendingPrefix + uuid.NewString()
	}
	return aws.ToString(rules[0].SecurityGroupRuleId)
}

func optString(attrs map[string]string, key string) *string {
	if v := attrs[key]; v != "" {
		return aws.String(v)
	}
	return nil
}

func int32Attr(attrs map[string]string, key string) (int32, error) {
	n, err := strconv.Atoi(attrs[key])
	if err != nil {
		return 0, errors.NotValidf("attribute %s=%q", key, attrs[key])
	}
	return int32(n), nil
}
