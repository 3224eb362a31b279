// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ec2

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/vpchron/core/resource"
	"github.com/juju/vpchron/internal/plan"
	"github.com/juju/vpchron/internal/restore"
)

// resumeSuite exercises the provider under the restore engine across
// a simulated process restart, where the deferred-create cache is
// lost but the progress records survive.
type resumeSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&resumeSuite{})

// routedGraph holds a VPC, a route table, an internet gateway and a
// default route whose target is a reference, so the route's creation
// is deferred until its attach step.
func routedGraph() *resource.Graph {
	return &resource.Graph{
		VPCID: "vpc-1",
		Nodes: []resource.Node{
			{Kind: resource.KindVPC, SourceID: "vpc-1",
				Attributes: map[string]string{"cidrBlock": "10.0.0.0/16"}},
			{Kind: resource.KindRouteTable, SourceID: "rtb-1",
				Attributes: map[string]string{"vpcId": "vpc-1"}},
			{Kind: resource.KindInternetGateway, SourceID: "igw-1",
				Attributes: map[string]string{"vpcId": "vpc-1"}},
			{Kind: resource.KindRoute, SourceID: "route:rtb-1:0.0.0.0/0",
				Attributes: map[string]string{
					"routeTableId":         "rtb-1",
					"destinationCidrBlock": "0.0.0.0/0",
					"gatewayId":            "igw-1",
				}},
		},
		Edges: []resource.Edge{
			{From: "vpc-1", To: "rtb-1", Relation: resource.RelationContains, Attr: "vpcId"},
			{From: "vpc-1", To: "igw-1", Relation: resource.RelationContains, Attr: "vpcId"},
			{From: "rtb-1", To: "route:rtb-1:0.0.0.0/0", Relation: resource.RelationContains, Attr: "routeTableId"},
			{From: "route:rtb-1:0.0.0.0/0", To: "igw-1", Relation: resource.RelationReferences, Attr: "gatewayId"},
		},
	}
}

func (s *resumeSuite) TestDeferredCreateReplaysAfterRestart(c *gc.C) {
	var (
		vpcCreates   int
		failRoute    = true
		createdRoute *awsec2.CreateRouteInput
	)
	client := &fakeClient{
		createVpc: func(in *awsec2.CreateVpcInput) (*awsec2.CreateVpcOutput, error) {
			vpcCreates++
			return &awsec2.CreateVpcOutput{Vpc: &types.Vpc{VpcId: aws.String("vpc-new")}}, nil
		},
		createRouteTable: func(in *awsec2.CreateRouteTableInput) (*awsec2.CreateRouteTableOutput, error) {
			return &awsec2.CreateRouteTableOutput{
				RouteTable: &types.RouteTable{RouteTableId: aws.String("rtb-new")},
			}, nil
		},
		createInternetGateway: func(in *awsec2.CreateInternetGatewayInput) (*awsec2.CreateInternetGatewayOutput, error) {
			return &awsec2.CreateInternetGatewayOutput{
				InternetGateway: &types.InternetGateway{InternetGatewayId: aws.String("igw-new")},
			}, nil
		},
		attachInternetGateway: func(in *awsec2.AttachInternetGatewayInput) (*awsec2.AttachInternetGatewayOutput, error) {
			return &awsec2.AttachInternetGatewayOutput{}, nil
		},
		describeTags: func(in *awsec2.DescribeTagsInput) (*awsec2.DescribeTagsOutput, error) {
			return &awsec2.DescribeTagsOutput{}, nil
		},
		createRoute: func(in *awsec2.CreateRouteInput) (*awsec2.CreateRouteOutput, error) {
			if failRoute {
				failRoute = false
				return nil, errors.New("socket closed")
			}
			createdRoute = in
			return &awsec2.CreateRouteOutput{}, nil
		},
	}

	p, err := plan.Build(routedGraph())
	c.Assert(err, jc.ErrorIsNil)
	progress := restore.NewMemoryProgressStore()

	run := func() *restore.Report {
		// A fresh provider and remap table per run, as after a
		// process restart; only the progress records carry over.
		executor, err := restore.NewExecutor(restore.ExecutorConfig{
			ControlPlane: newTestProvider(c, client),
			Progress:     progress,
			Clock:        clock.WallClock,
			RetryDelay:   time.Millisecond,
		})
		c.Assert(err, jc.ErrorIsNil)
		report, err := executor.Execute(context.Background(), "run-1", p, restore.NewRemapTable())
		c.Assert(err, jc.ErrorIsNil)
		return report
	}

	// First run: the route's deferred create fails at the attach step.
	report := run()
	c.Assert(report.Succeeded(), jc.IsFalse)

	// The resumed run replays the route skeleton, so the deferred
	// create is issued with the merged attributes, all translated to
	// the restored identities.
	report = run()
	c.Assert(report.Succeeded(), jc.IsTrue)
	c.Assert(createdRoute, gc.NotNil)
	c.Check(aws.ToString(createdRoute.RouteTableId), gc.Equals, "rtb-new")
	c.Check(aws.ToString(createdRoute.DestinationCidrBlock), gc.Equals, "0.0.0.0/0")
	c.Check(aws.ToString(createdRoute.GatewayId), gc.Equals, "igw-new")

	// The resources created by the first run were not recreated.
	c.Check(vpcCreates, gc.Equals, 1)
}
