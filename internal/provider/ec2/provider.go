// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ec2 implements the control plane over the AWS EC2 API.
// Describe output is flattened into the neutral attribute form the
// topology reader consumes: one attributes map per resource, values
// that are ids of other resources kept verbatim so the reader can
// discover the edges.
package ec2

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/vpchron/core/controlplane"
	"github.com/juju/vpchron/core/resource"
)

var logger = loggo.GetLogger("vpchron.provider.ec2")

// Provider implements controlplane.ControlPlane and
// controlplane.TagFinder over EC2.
type Provider struct {
	client Client

	// created remembers the attributes each resource of this process
	// was created with, so a later patch can merge them into calls
	// (ModifySecurityGroupRules and friends need the full rule, not
	// just the changed fields).
	created *createdCache
}

// NewProvider returns a Provider using the given EC2 client.
func NewProvider(client Client) (*Provider, error) {
	if client == nil {
		return nil, errors.NotValidf("missing client")
	}
	return &Provider{
		client:  client,
		created: newCreatedCache(),
	}, nil
}

// ListResources implements controlplane.ControlPlane.
func (p *Provider) ListResources(ctx context.Context, vpcID string, kind resource.Kind) ([]controlplane.RawResource, error) {
	switch kind {
	case resource.KindVPC:
		return p.listVpcs(ctx, vpcID)
	case resource.KindSubnet:
		return p.listSubnets(ctx, vpcID)
	case resource.KindRouteTable, resource.KindRoute:
		return p.listRouteTableResources(ctx, vpcID, kind)
	case resource.KindInternetGateway:
		return p.listInternetGateways(ctx, vpcID)
	case resource.KindNatGateway:
		return p.listNatGateways(ctx, vpcID)
	case resource.KindSecurityGroup:
		return p.listSecurityGroups(ctx, vpcID)
	case resource.KindSecurityGroupRule:
		return p.listSecurityGroupRules(ctx, vpcID)
	case resource.KindNetworkAcl, resource.KindNetworkAclEntry:
		return p.listNetworkAclResources(ctx, vpcID, kind)
	case resource.KindVpcPeeringConnection:
		return p.listPeeringConnections(ctx, vpcID)
	}
	return nil, errors.NotSupportedf("resource kind %q", kind)
}

func vpcFilter(vpcID string) []types.Filter {
	return []types.Filter{{
		Name:   aws.String("vpc-id"),
		Values: []string{vpcID},
	}}
}

func (p *Provider) listVpcs(ctx context.Context, vpcID string) ([]controlplane.RawResource, error) {
	in := &ec2.DescribeVpcsInput{}
	if vpcID != "" {
		in.VpcIds = []string{vpcID}
	}
	var out []controlplane.RawResource
	for {
		resp, err := p.client.DescribeVpcs(ctx, in)
		if err != nil {
			return nil, errors.Trace(maybeTransient(err))
		}
		for _, vpc := range resp.Vpcs {
			id := aws.ToString(vpc.VpcId)
			attrs := map[string]string{
				"cidrBlock":       aws.ToString(vpc.CidrBlock),
				"instanceTenancy": string(vpc.InstanceTenancy),
				"isDefault":       strconv.FormatBool(aws.ToBool(vpc.IsDefault)),
			}
			if err := p.addVpcDnsAttributes(ctx, id, attrs); err != nil {
				return nil, errors.Trace(err)
			}
			out = append(out, controlplane.RawResource{
				Kind:       resource.KindVPC,
				ID:         id,
				Attributes: attrs,
				Tags:       fromEC2Tags(vpc.Tags),
			})
		}
		if resp.NextToken == nil {
			return out, nil
		}
		in.NextToken = resp.NextToken
	}
}

func (p *Provider) addVpcDnsAttributes(ctx context.Context, vpcID string, attrs map[string]string) error {
	for _, name := range []types.VpcAttributeName{
		types.VpcAttributeNameEnableDnsSupport,
		types.VpcAttributeNameEnableDnsHostnames,
	} {
		resp, err := p.client.DescribeVpcAttribute(ctx, &ec2.DescribeVpcAttributeInput{
			VpcId:     aws.String(vpcID),
			Attribute: name,
		})
		if err != nil {
			return errors.Trace(maybeTransient(err))
		}
		switch name {
		case types.VpcAttributeNameEnableDnsSupport:
			if resp.EnableDnsSupport != nil {
				attrs["enableDnsSupport"] = strconv.FormatBool(aws.ToBool(resp.EnableDnsSupport.Value))
			}
		case types.VpcAttributeNameEnableDnsHostnames:
			if resp.EnableDnsHostnames != nil {
				attrs["enableDnsHostnames"] = strconv.FormatBool(aws.ToBool(resp.EnableDnsHostnames.Value))
			}
		}
	}
	return nil
}

func (p *Provider) listSubnets(ctx context.Context, vpcID string) ([]controlplane.RawResource, error) {
	in := &ec2.DescribeSubnetsInput{Filters: vpcFilter(vpcID)}
	var out []controlplane.RawResource
	for {
		resp, err := p.client.DescribeSubnets(ctx, in)
		if err != nil {
			return nil, errors.Trace(maybeTransient(err))
		}
		for _, subnet := range resp.Subnets {
			out = append(out, controlplane.RawResource{
				Kind: resource.KindSubnet,
				ID:   aws.ToString(subnet.SubnetId),
				Attributes: map[string]string{
					"vpcId":               aws.ToString(subnet.VpcId),
					"cidrBlock":           aws.ToString(subnet.CidrBlock),
					"availabilityZone":    aws.ToString(subnet.AvailabilityZone),
					"mapPublicIpOnLaunch": strconv.FormatBool(aws.ToBool(subnet.MapPublicIpOnLaunch)),
				},
				Tags: fromEC2Tags(subnet.Tags),
			})
		}
		if resp.NextToken == nil {
			return out, nil
		}
		in.NextToken = resp.NextToken
	}
}

// listRouteTableResources serves both the route-table kind and the
// route kind from the same describe call: EC2 nests routes inside
// their table and gives them no identity of their own, so routes get
// a synthetic source id derived from table and destination.
func (p *Provider) listRouteTableResources(ctx context.Context, vpcID string, kind resource.Kind) ([]controlplane.RawResource, error) {
	in := &ec2.DescribeRouteTablesInput{Filters: vpcFilter(vpcID)}
	var out []controlplane.RawResource
	for {
		resp, err := p.client.DescribeRouteTables(ctx, in)
		if err != nil {
			return nil, errors.Trace(maybeTransient(err))
		}
		for _, table := range resp.RouteTables {
			tableID := aws.ToString(table.RouteTableId)
			if kind == resource.KindRouteTable {
				attrs := map[string]string{
					"vpcId": aws.ToString(table.VpcId),
				}
				i := 0
				for _, assoc := range table.Associations {
					if assoc.SubnetId == nil {
						continue
					}
					attrs[fmt.Sprintf("association.%d.subnetId", i)] = aws.ToString(assoc.SubnetId)
					i++
				}
				out = append(out, controlplane.RawResource{
					Kind:       resource.KindRouteTable,
					ID:         tableID,
					Attributes: attrs,
					Tags:       fromEC2Tags(table.Tags),
				})
				continue
			}
			for _, route := range table.Routes {
				// The local route exists from table creation; it is
				// not describable work to redo.
				if aws.ToString(route.GatewayId) == "local" {
					continue
				}
				dest := aws.ToString(route.DestinationCidrBlock)
				attrs := map[string]string{
					"routeTableId":         tableID,
					"destinationCidrBlock": dest,
				}
				setIfPresent(attrs, "gatewayId", route.GatewayId)
				setIfPresent(attrs, "natGatewayId", route.NatGatewayId)
				setIfPresent(attrs, "vpcPeeringConnectionId", route.VpcPeeringConnectionId)
				out = append(out, controlplane.RawResource{
					Kind:       resource.KindRoute,
					ID:         fmt.Sprintf("route:%s:%s", tableID, dest),
					Attributes: attrs,
				})
			}
		}
		if resp.NextToken == nil {
			return out, nil
		}
		in.NextToken = resp.NextToken
	}
}

func (p *Provider) listInternetGateways(ctx context.Context, vpcID string) ([]controlplane.RawResource, error) {
	in := &ec2.DescribeInternetGatewaysInput{
		Filters: []types.Filter{{
			Name:   aws.String("attachment.vpc-id"),
			Values: []string{vpcID},
		}},
	}
	var out []controlplane.RawResource
	for {
		resp, err := p.client.DescribeInternetGateways(ctx, in)
		if err != nil {
			return nil, errors.Trace(maybeTransient(err))
		}
		for _, igw := range resp.InternetGateways {
			out = append(out, controlplane.RawResource{
				Kind: resource.KindInternetGateway,
				ID:   aws.ToString(igw.InternetGatewayId),
				Attributes: map[string]string{
					"vpcId": vpcID,
				},
				Tags: fromEC2Tags(igw.Tags),
			})
		}
		if resp.NextToken == nil {
			return out, nil
		}
		in.NextToken = resp.NextToken
	}
}

func (p *Provider) listNatGateways(ctx context.Context, vpcID string) ([]controlplane.RawResource, error) {
	in := &ec2.DescribeNatGatewaysInput{Filter: vpcFilter(vpcID)}
	var out []controlplane.RawResource
	for {
		resp, err := p.client.DescribeNatGateways(ctx, in)
		if err != nil {
			return nil, errors.Trace(maybeTransient(err))
		}
		for _, nat := range resp.NatGateways {
			if nat.State == types.NatGatewayStateDeleted || nat.State == types.NatGatewayStateDeleting {
				continue
			}
			out = append(out, controlplane.RawResource{
				Kind: resource.KindNatGateway,
				ID:   aws.ToString(nat.NatGatewayId),
				Attributes: map[string]string{
					"subnetId":         aws.ToString(nat.SubnetId),
					"connectivityType": string(nat.ConnectivityType),
				},
				Tags: fromEC2Tags(nat.Tags),
			})
		}
		if resp.NextToken == nil {
			return out, nil
		}
		in.NextToken = resp.NextToken
	}
}

func (p *Provider) listSecurityGroups(ctx context.Context, vpcID string) ([]controlplane.RawResource, error) {
	in := &ec2.DescribeSecurityGroupsInput{Filters: vpcFilter(vpcID)}
	var out []controlplane.RawResource
	for {
		resp, err := p.client.DescribeSecurityGroups(ctx, in)
		if err != nil {
			return nil, errors.Trace(maybeTransient(err))
		}
		for _, group := range resp.SecurityGroups {
			out = append(out, controlplane.RawResource{
				Kind: resource.KindSecurityGroup,
				ID:   aws.ToString(group.GroupId),
				Attributes: map[string]string{
					"vpcId":       aws.ToString(group.VpcId),
					"groupName":   aws.ToString(group.GroupName),
					"description": aws.ToString(group.Description),
				},
				Tags: fromEC2Tags(group.Tags),
			})
		}
		if resp.NextToken == nil {
			return out, nil
		}
		in.NextToken = resp.NextToken
	}
}

func (p *Provider) listSecurityGroupRules(ctx context.Context, vpcID string) ([]controlplane.RawResource, error) {
	groups, err := p.listSecurityGroups(ctx, vpcID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var out []controlplane.RawResource
	for _, group := range groups {
		in := &ec2.DescribeSecurityGroupRulesInput{
			Filters: []types.Filter{{
				Name:   aws.String("group-id"),
				Values: []string{group.ID},
			}},
		}
		for {
			resp, err := p.client.DescribeSecurityGroupRules(ctx, in)
			if err != nil {
				return nil, errors.Trace(maybeTransient(err))
			}
			for _, rule := range resp.SecurityGroupRules {
				attrs := map[string]string{
					"groupId":    aws.ToString(rule.GroupId),
					"isEgress":   strconv.FormatBool(aws.ToBool(rule.IsEgress)),
					"ipProtocol": aws.ToString(rule.IpProtocol),
				}
				if rule.FromPort != nil {
					attrs["fromPort"] = strconv.Itoa(int(aws.ToInt32(rule.FromPort)))
				}
				if rule.ToPort != nil {
					attrs["toPort"] = strconv.Itoa(int(aws.ToInt32(rule.ToPort)))
				}
				setIfPresent(attrs, "cidrIpv4", rule.CidrIpv4)
				if rule.ReferencedGroupInfo != nil {
					setIfPresent(attrs, "referencedGroupId", rule.ReferencedGroupInfo.GroupId)
				}
				out = append(out, controlplane.RawResource{
					Kind:       resource.KindSecurityGroupRule,
					ID:         aws.ToString(rule.SecurityGroupRuleId),
					Attributes: attrs,
					Tags:       fromEC2Tags(rule.Tags),
				})
			}
			if resp.NextToken == nil {
				break
			}
			in.NextToken = resp.NextToken
		}
	}
	return out, nil
}

func (p *Provider) listNetworkAclResources(ctx context.Context, vpcID string, kind resource.Kind) ([]controlplane.RawResource, error) {
	in := &ec2.DescribeNetworkAclsInput{Filters: vpcFilter(vpcID)}
	var out []controlplane.RawResource
	for {
		resp, err := p.client.DescribeNetworkAcls(ctx, in)
		if err != nil {
			return nil, errors.Trace(maybeTransient(err))
		}
		for _, acl := range resp.NetworkAcls {
			aclID := aws.ToString(acl.NetworkAclId)
			if kind == resource.KindNetworkAcl {
				out = append(out, controlplane.RawResource{
					Kind: resource.KindNetworkAcl,
					ID:   aclID,
					Attributes: map[string]string{
						"vpcId":     aws.ToString(acl.VpcId),
						"isDefault": strconv.FormatBool(aws.ToBool(acl.IsDefault)),
					},
					Tags: fromEC2Tags(acl.Tags),
				})
				continue
			}
			for _, entry := range acl.Entries {
				ruleNumber := int(aws.ToInt32(entry.RuleNumber))
				// 32767 is the provider's own catch-all deny; it
				// exists on every ACL from birth.
				if ruleNumber == 32767 {
					continue
				}
				egress := aws.ToBool(entry.Egress)
				attrs := map[string]string{
					"networkAclId": aclID,
					"ruleNumber":   strconv.Itoa(ruleNumber),
					"protocol":     aws.ToString(entry.Protocol),
					"ruleAction":   string(entry.RuleAction),
					"egress":       strconv.FormatBool(egress),
				}
				setIfPresent(attrs, "cidrBlock", entry.CidrBlock)
				if entry.PortRange != nil {
					attrs["portFrom"] = strconv.Itoa(int(aws.ToInt32(entry.PortRange.From)))
					attrs["portTo"] = strconv.Itoa(int(aws.ToInt32(entry.PortRange.To)))
				}
				out = append(out, controlplane.RawResource{
					Kind:       resource.KindNetworkAclEntry,
					ID:         fmt.Sprintf("aclentry:%s:%t:%d", aclID, egress, ruleNumber),
					Attributes: attrs,
				})
			}
		}
		if resp.NextToken == nil {
			return out, nil
		}
		in.NextToken = resp.NextToken
	}
}

// listPeeringConnections describes peerings where the VPC is either
// side. Attributes are normalised so vpcId is always the captured
// side; peerVpcId is the far side, which is frequently outside the
// graph and stays an external reference.
func (p *Provider) listPeeringConnections(ctx context.Context, vpcID string) ([]controlplane.RawResource, error) {
	seen := make(map[string]bool)
	var out []controlplane.RawResource
	for _, filterName := range []string{"requester-vpc-info.vpc-id", "accepter-vpc-info.vpc-id"} {
		in := &ec2.DescribeVpcPeeringConnectionsInput{
			Filters: []types.Filter{{
				Name:   aws.String(filterName),
				Values: []string{vpcID},
			}},
		}
		for {
			resp, err := p.client.DescribeVpcPeeringConnections(ctx, in)
			if err != nil {
				return nil, errors.Trace(maybeTransient(err))
			}
			for _, pcx := range resp.VpcPeeringConnections {
				id := aws.ToString(pcx.VpcPeeringConnectionId)
				if seen[id] {
					continue
				}
				seen[id] = true
				attrs := map[string]string{"vpcId": vpcID}
				far := pcx.AccepterVpcInfo
				if far != nil && aws.ToString(far.VpcId) == vpcID {
					far = pcx.RequesterVpcInfo
				}
				if far != nil {
					setIfPresent(attrs, "peerVpcId", far.VpcId)
					setIfPresent(attrs, "peerOwnerId", far.OwnerId)
					setIfPresent(attrs, "peerRegion", far.Region)
				}
				out = append(out, controlplane.RawResource{
					Kind:       resource.KindVpcPeeringConnection,
					ID:         id,
					Attributes: attrs,
					Tags:       fromEC2Tags(pcx.Tags),
				})
			}
			if resp.NextToken == nil {
				break
			}
			in.NextToken = resp.NextToken
		}
	}
	return out, nil
}

// FindByTags implements controlplane.TagFinder by intersecting a
// DescribeTags listing per required tag. Kinds with synthetic ids
// (routes, ACL entries) cannot carry tags and are always NotFound.
func (p *Provider) FindByTags(ctx context.Context, kind resource.Kind, tags map[string]string) (string, error) {
	resourceType, ok := taggableResourceTypes[kind]
	if !ok {
		return "", errors.NotFoundf("%s resources by tag", kind)
	}
	var candidates map[string]bool
	for key, value := range tags {
		matched := make(map[string]bool)
		in := &ec2.DescribeTagsInput{
			Filters: []types.Filter{
				{Name: aws.String("resource-type"), Values: []string{string(resourceType)}},
				{Name: aws.String("key"), Values: []string{key}},
				{Name: aws.String("value"), Values: []string{value}},
			},
		}
		for {
			resp, err := p.client.DescribeTags(ctx, in)
			if err != nil {
				return "", errors.Trace(maybeTransient(err))
			}
			for _, desc := range resp.Tags {
				matched[aws.ToString(desc.ResourceId)] = true
			}
			if resp.NextToken == nil {
				break
			}
			in.NextToken = resp.NextToken
		}
		if candidates == nil {
			candidates = matched
		} else {
			for id := range candidates {
				if !matched[id] {
					delete(candidates, id)
				}
			}
		}
		if len(candidates) == 0 {
			return "", errors.NotFoundf("%s bearing tags %v", kind, tags)
		}
	}
	for id := range candidates {
		if len(candidates) > 1 {
			logger.Warningf("%d %s resources bear tags %v; using %s", len(candidates), kind, tags, id)
		}
		return id, nil
	}
	return "", errors.NotFoundf("%s bearing tags %v", kind, tags)
}

func setIfPresent(attrs map[string]string, key string, value *string) {
	if value != nil && *value != "" {
		attrs[key] = *value
	}
}

func fromEC2Tags(tags []types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		out[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return out
}

func toEC2Tags(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for key, value := range tags {
		out = append(out, types.Tag{Key: aws.String(key), Value: aws.String(value)})
	}
	return out
}
