// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ec2

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/vpchron/core/controlplane"
	"github.com/juju/vpchron/core/resource"
)

type providerSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&providerSuite{})

func newTestProvider(c *gc.C, client *fakeClient) *Provider {
	p, err := NewProvider(client)
	c.Assert(err, jc.ErrorIsNil)
	return p
}

func (s *providerSuite) TestListVpcsFlattensAttributes(c *gc.C) {
	client := &fakeClient{
		describeVpcs: func(in *awsec2.DescribeVpcsInput) (*awsec2.DescribeVpcsOutput, error) {
			c.Check(in.VpcIds, jc.DeepEquals, []string{"vpc-1"})
			return &awsec2.DescribeVpcsOutput{Vpcs: []types.Vpc{{
				VpcId:           aws.String("vpc-1"),
				CidrBlock:       aws.String("10.0.0.0/16"),
				InstanceTenancy: types.TenancyDefault,
				IsDefault:       aws.Bool(false),
				Tags:            []types.Tag{{Key: aws.String("Name"), Value: aws.String("prod")}},
			}}}, nil
		},
		describeVpcAttribute: func(in *awsec2.DescribeVpcAttributeInput) (*awsec2.DescribeVpcAttributeOutput, error) {
			out := &awsec2.DescribeVpcAttributeOutput{}
			switch in.Attribute {
			case types.VpcAttributeNameEnableDnsSupport:
				out.EnableDnsSupport = &types.AttributeBooleanValue{Value: aws.Bool(true)}
			case types.VpcAttributeNameEnableDnsHostnames:
				out.EnableDnsHostnames = &types.AttributeBooleanValue{Value: aws.Bool(false)}
			}
			return out, nil
		},
	}

	raw, err := newTestProvider(c, client).ListResources(context.Background(), "vpc-1", resource.KindVPC)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(raw, gc.HasLen, 1)
	c.Check(raw[0].ID, gc.Equals, "vpc-1")
	c.Check(raw[0].Attributes, jc.DeepEquals, map[string]string{
		"cidrBlock":          "10.0.0.0/16",
		"instanceTenancy":    "default",
		"isDefault":          "false",
		"enableDnsSupport":   "true",
		"enableDnsHostnames": "false",
	})
	c.Check(raw[0].Tags, jc.DeepEquals, map[string]string{"Name": "prod"})
}

func (s *providerSuite) TestListRoutesSkipsLocalRoute(c *gc.C) {
	client := &fakeClient{
		describeRouteTables: func(in *awsec2.DescribeRouteTablesInput) (*awsec2.DescribeRouteTablesOutput, error) {
			return &awsec2.DescribeRouteTablesOutput{RouteTables: []types.RouteTable{{
				RouteTableId: aws.String("rtb-1"),
				VpcId:        aws.String("vpc-1"),
				Routes: []types.Route{
					{GatewayId: aws.String("local"), DestinationCidrBlock: aws.String("10.0.0.0/16")},
					{GatewayId: aws.String("igw-1"), DestinationCidrBlock: aws.String("0.0.0.0/0")},
					{NatGatewayId: aws.String("nat-1"), DestinationCidrBlock: aws.String("10.1.0.0/16")},
				},
			}}}, nil
		},
	}

	raw, err := newTestProvider(c, client).ListResources(context.Background(), "vpc-1", resource.KindRoute)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(raw, gc.HasLen, 2)
	c.Check(raw[0].ID, gc.Equals, "route:rtb-1:0.0.0.0/0")
	c.Check(raw[0].Attributes, jc.DeepEquals, map[string]string{
		"routeTableId":         "rtb-1",
		"destinationCidrBlock": "0.0.0.0/0",
		"gatewayId":            "igw-1",
	})
	c.Check(raw[1].Attributes["natGatewayId"], gc.Equals, "nat-1")
}

func (s *providerSuite) TestListRouteTablesRecordsAssociations(c *gc.C) {
	client := &fakeClient{
		describeRouteTables: func(in *awsec2.DescribeRouteTablesInput) (*awsec2.DescribeRouteTablesOutput, error) {
			return &awsec2.DescribeRouteTablesOutput{RouteTables: []types.RouteTable{{
				RouteTableId: aws.String("rtb-1"),
				VpcId:        aws.String("vpc-1"),
				Associations: []types.RouteTableAssociation{
					{SubnetId: aws.String("subnet-1")},
					{SubnetId: nil}, // the main association has no subnet
					{SubnetId: aws.String("subnet-2")},
				},
			}}}, nil
		},
	}

	raw, err := newTestProvider(c, client).ListResources(context.Background(), "vpc-1", resource.KindRouteTable)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(raw, gc.HasLen, 1)
	c.Check(raw[0].Attributes, jc.DeepEquals, map[string]string{
		"vpcId":                "vpc-1",
		"association.0.subnetId": "subnet-1",
		"association.1.subnetId": "subnet-2",
	})
}

func (s *providerSuite) TestListNatGatewaysSkipsDeleted(c *gc.C) {
	client := &fakeClient{
		describeNatGateways: func(in *awsec2.DescribeNatGatewaysInput) (*awsec2.DescribeNatGatewaysOutput, error) {
			c.Check(aws.ToString(in.Filter[0].Name), gc.Equals, "vpc-id")
			return &awsec2.DescribeNatGatewaysOutput{NatGateways: []types.NatGateway{
				{NatGatewayId: aws.String("nat-1"), SubnetId: aws.String("subnet-1"),
					State: types.NatGatewayStateAvailable, ConnectivityType: types.ConnectivityTypePublic},
				{NatGatewayId: aws.String("nat-2"), SubnetId: aws.String("subnet-1"),
					State: types.NatGatewayStateDeleted},
			}}, nil
		},
	}

	raw, err := newTestProvider(c, client).ListResources(context.Background(), "vpc-1", resource.KindNatGateway)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(raw, gc.HasLen, 1)
	c.Check(raw[0].ID, gc.Equals, "nat-1")
	c.Check(raw[0].Attributes["subnetId"], gc.Equals, "subnet-1")
}

func (s *providerSuite) TestListSecurityGroupRules(c *gc.C) {
	client := &fakeClient{
		describeSecurityGroups: func(in *awsec2.DescribeSecurityGroupsInput) (*awsec2.DescribeSecurityGroupsOutput, error) {
			return &awsec2.DescribeSecurityGroupsOutput{SecurityGroups: []types.SecurityGroup{{
				GroupId: aws.String("sg-1"), GroupName: aws.String("app"),
				Description: aws.String("app tier"), VpcId: aws.String("vpc-1"),
			}}}, nil
		},
		describeSecurityGroupRules: func(in *awsec2.DescribeSecurityGroupRulesInput) (*awsec2.DescribeSecurityGroupRulesOutput, error) {
			c.Check(aws.ToString(in.Filters[0].Name), gc.Equals, "group-id")
			c.Check(in.Filters[0].Values, jc.DeepEquals, []string{"sg-1"})
			return &awsec2.DescribeSecurityGroupRulesOutput{SecurityGroupRules: []types.SecurityGroupRule{{
				SecurityGroupRuleId: aws.String("sgr-1"),
				GroupId:             aws.String("sg-1"),
				IsEgress:            aws.Bool(false),
				IpProtocol:          aws.String("tcp"),
				FromPort:            aws.Int32(443),
				ToPort:              aws.Int32(443),
				ReferencedGroupInfo: &types.ReferencedSecurityGroup{GroupId: aws.String("sg-2")},
			}}}, nil
		},
	}

	raw, err := newTestProvider(c, client).ListResources(context.Background(), "vpc-1", resource.KindSecurityGroupRule)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(raw, gc.HasLen, 1)
	c.Check(raw[0].Attributes, jc.DeepEquals, map[string]string{
		"groupId":           "sg-1",
		"isEgress":          "false",
		"ipProtocol":        "tcp",
		"fromPort":          "443",
		"toPort":            "443",
		"referencedGroupId": "sg-2",
	})
}

func (s *providerSuite) TestListAclEntriesSkipsCatchAllDeny(c *gc.C) {
	client := &fakeClient{
		describeNetworkAcls: func(in *awsec2.DescribeNetworkAclsInput) (*awsec2.DescribeNetworkAclsOutput, error) {
			return &awsec2.DescribeNetworkAclsOutput{NetworkAcls: []types.NetworkAcl{{
				NetworkAclId: aws.String("acl-1"),
				VpcId:        aws.String("vpc-1"),
				Entries: []types.NetworkAclEntry{
					{RuleNumber: aws.Int32(100), Protocol: aws.String("6"),
						RuleAction: types.RuleActionAllow, Egress: aws.Bool(false),
						CidrBlock: aws.String("0.0.0.0/0"),
						PortRange: &types.PortRange{From: aws.Int32(443), To: aws.Int32(443)}},
					{RuleNumber: aws.Int32(32767), Protocol: aws.String("-1"),
						RuleAction: types.RuleActionDeny, Egress: aws.Bool(false)},
				},
			}}}, nil
		},
	}

	raw, err := newTestProvider(c, client).ListResources(context.Background(), "vpc-1", resource.KindNetworkAclEntry)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(raw, gc.HasLen, 1)
	c.Check(raw[0].ID, gc.Equals, "aclentry:acl-1:false:100")
	c.Check(raw[0].Attributes, jc.DeepEquals, map[string]string{
		"networkAclId": "acl-1",
		"ruleNumber":   "100",
		"protocol":     "6",
		"ruleAction":   "allow",
		"egress":       "false",
		"cidrBlock":    "0.0.0.0/0",
		"portFrom":     "443",
		"portTo":       "443",
	})
}

func (s *providerSuite) TestListPeeringsNormalisesSides(c *gc.C) {
	calls := 0
	client := &fakeClient{
		describeVpcPeeringConnections: func(in *awsec2.DescribeVpcPeeringConnectionsInput) (*awsec2.DescribeVpcPeeringConnectionsOutput, error) {
			calls++
			// The same peering comes back from both filters; once
			// with the captured VPC as requester, once as accepter.
			return &awsec2.DescribeVpcPeeringConnectionsOutput{VpcPeeringConnections: []types.VpcPeeringConnection{{
				VpcPeeringConnectionId: aws.String("pcx-1"),
				RequesterVpcInfo:       &types.VpcPeeringConnectionVpcInfo{VpcId: aws.String("vpc-1")},
				AccepterVpcInfo: &types.VpcPeeringConnectionVpcInfo{
					VpcId: aws.String("vpc-far"), OwnerId: aws.String("999999999999"), Region: aws.String("us-east-1"),
				},
			}}}, nil
		},
	}

	raw, err := newTestProvider(c, client).ListResources(context.Background(), "vpc-1", resource.KindVpcPeeringConnection)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(calls, gc.Equals, 2)
	c.Assert(raw, gc.HasLen, 1)
	c.Check(raw[0].Attributes, jc.DeepEquals, map[string]string{
		"vpcId":       "vpc-1",
		"peerVpcId":   "vpc-far",
		"peerOwnerId": "999999999999",
		"peerRegion":  "us-east-1",
	})
}

func (s *providerSuite) TestFindByTagsIntersects(c *gc.C) {
	client := &fakeClient{
		describeTags: func(in *awsec2.DescribeTagsInput) (*awsec2.DescribeTagsOutput, error) {
			var key string
			for _, f := range in.Filters {
				if aws.ToString(f.Name) == "key" {
					key = f.Values[0]
				}
			}
			switch key {
			case "vpchron:restore-run":
				return &awsec2.DescribeTagsOutput{Tags: []types.TagDescription{
					{ResourceId: aws.String("subnet-a")},
					{ResourceId: aws.String("subnet-b")},
				}}, nil
			case "vpchron:source-id":
				return &awsec2.DescribeTagsOutput{Tags: []types.TagDescription{
					{ResourceId: aws.String("subnet-b")},
				}}, nil
			}
			return &awsec2.DescribeTagsOutput{}, nil
		},
	}

	id, err := newTestProvider(c, client).FindByTags(context.Background(), resource.KindSubnet, map[string]string{
		"vpchron:restore-run": "run-1",
		"vpchron:source-id":   "subnet-old",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(id, gc.Equals, "subnet-b")
}

func (s *providerSuite) TestFindByTagsNotFound(c *gc.C) {
	client := &fakeClient{
		describeTags: func(in *awsec2.DescribeTagsInput) (*awsec2.DescribeTagsOutput, error) {
			return &awsec2.DescribeTagsOutput{}, nil
		},
	}

	_, err := newTestProvider(c, client).FindByTags(context.Background(), resource.KindSubnet, map[string]string{"k": "v"})
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *providerSuite) TestFindByTagsSyntheticKindsNotFound(c *gc.C) {
	_, err := newTestProvider(c, &fakeClient{}).FindByTags(context.Background(), resource.KindRoute, map[string]string{"k": "v"})
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *providerSuite) TestUnknownKindNotSupported(c *gc.C) {
	_, err := newTestProvider(c, &fakeClient{}).ListResources(context.Background(), "vpc-1", resource.Kind("mystery"))
	c.Assert(err, jc.ErrorIs, errors.NotSupported)
}

type errorsSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&errorsSuite{})

func (s *errorsSuite) TestThrottleCodesTransient(c *gc.C) {
	err := maybeTransient(&smithy.GenericAPIError{Code: "RequestLimitExceeded", Message: "slow down"})
	c.Assert(err, jc.ErrorIs, controlplane.ErrTransient)
}

func (s *errorsSuite) TestEventualConsistencyTransient(c *gc.C) {
	err := maybeTransient(&smithy.GenericAPIError{Code: "InvalidSubnetID.NotFound", Message: "not yet"})
	c.Assert(err, jc.ErrorIs, controlplane.ErrTransient)
}

func (s *errorsSuite) TestOtherAPIErrorsPassThrough(c *gc.C) {
	apiErr := &smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "no"}
	err := maybeTransient(apiErr)
	c.Assert(errors.Is(err, controlplane.ErrTransient), jc.IsFalse)
	c.Assert(err, gc.Equals, error(apiErr))
}

func (s *errorsSuite) TestNonAPIErrorsPassThrough(c *gc.C) {
	plain := errors.New("conn reset")
	err := maybeTransient(plain)
	c.Assert(errors.Is(err, controlplane.ErrTransient), jc.IsFalse)
	c.Assert(err, gc.Equals, plain)
}

func (s *errorsSuite) TestNilError(c *gc.C) {
	c.Assert(maybeTransient(nil), jc.ErrorIsNil)
}
