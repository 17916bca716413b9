package main

import (
	"errors"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const prefix = "hasura-aws"

type networkResources struct {
	vpc         *ec2.Vpc
	pubSubnets  []*ec2.Subnet
	privSubnets []*ec2.Subnet
}

// setupNetwork declares the VPC the deployment lands in: public subnets
// routed through an internet gateway for the load balancer, private
// subnets routed through a NAT gateway for the tasks and the database.
func setupNetwork(ctx *pulumi.Context, cfg networkData) (*networkResources, error) {
	if len(cfg.PublicSubnets) == 0 {
		return nil, errors.New("network config needs at least one public subnet")
	}

	resourceTags := make(map[string]string)
	resourceTags["CreatedBy"] = prefix

	resourceTags["Name"] = prefix + "-vpc"
	vpc, err := ec2.NewVpc(ctx, prefix+"-vpc", &ec2.VpcArgs{
		CidrBlock:          pulumi.String(cfg.Vpc),
		EnableDnsHostnames: pulumi.Bool(true),
		EnableDnsSupport:   pulumi.Bool(true),
		InstanceTenancy:    pulumi.String("default"),
		Tags:               pulumi.ToStringMap(resourceTags),
	})
	if err != nil {
		return nil, err
	}

	// Resource: Subnets
	// Purpose: A subnet is a range of IP addresses in your VPC.
	// Docs: https://docs.aws.amazon.com/vpc/latest/userguide/configure-subnets.html

	privSubnets := []*ec2.Subnet{}
	for i, sub := range cfg.PrivateSubnets {
		resourceTags["Name"] = fmt.Sprintf("%s-%s", prefix, sub.Name)
		subArgs := &ec2.SubnetArgs{
			VpcId:     vpc.ID(),
			CidrBlock: pulumi.String(sub.Cidr),
			Tags:      pulumi.ToStringMap(resourceTags),
		}
		if sub.Az != "" {
			subArgs.AvailabilityZone = pulumi.String(sub.Az)
		}
		subnet, err := ec2.NewSubnet(ctx, fmt.Sprintf("%s-priv-sub-%d", prefix, i+1), subArgs)
		if err != nil {
			return nil, err
		}
		privSubnets = append(privSubnets, subnet)
	}

	pubSubnets := []*ec2.Subnet{}
	for i, sub := range cfg.PublicSubnets {
		resourceTags["Name"] = fmt.Sprintf("%s-%s", prefix, sub.Name)
		subArgs := &ec2.SubnetArgs{
			VpcId:               vpc.ID(),
			CidrBlock:           pulumi.String(sub.Cidr),
			MapPublicIpOnLaunch: pulumi.Bool(true),
			Tags:                pulumi.ToStringMap(resourceTags),
		}
		if sub.Az != "" {
			subArgs.AvailabilityZone = pulumi.String(sub.Az)
		}
		subnet, err := ec2.NewSubnet(ctx, fmt.Sprintf("%s-pub-sub-%d", prefix, i+1), subArgs)
		if err != nil {
			return nil, err
		}
		pubSubnets = append(pubSubnets, subnet)
	}

	// Resource: Internet Gateway
	// Purpose: Allows communication between the VPC and the internet.
	// Docs: https://docs.aws.amazon.com/vpc/latest/userguide/VPC_Internet_Gateway.html

	resourceTags["Name"] = prefix + "-gw"
	igw, err := ec2.NewInternetGateway(ctx, prefix+"-gw", &ec2.InternetGatewayArgs{
		VpcId: vpc.ID(),
		Tags:  pulumi.ToStringMap(resourceTags),
	})
	if err != nil {
		return nil, err
	}

	resourceTags["Name"] = prefix + "-rtb-public-1"
	publicRouteTable, err := ec2.NewRouteTable(ctx, prefix+"-rtb-public-1", &ec2.RouteTableArgs{
		VpcId: vpc.ID(),
		Routes: ec2.RouteTableRouteArray{
			// To Internet via IGW
			&ec2.RouteTableRouteArgs{
				CidrBlock: pulumi.String("0.0.0.0/0"),
				GatewayId: igw.ID(),
			},
		},
		Tags: pulumi.ToStringMap(resourceTags),
	})
	if err != nil {
		return nil, err
	}

	for i, subnet := range pubSubnets {
		_, err = ec2.NewRouteTableAssociation(ctx, fmt.Sprintf("%s-rtb-pub-%d", prefix, i), &ec2.RouteTableAssociationArgs{
			SubnetId:     subnet.ID(),
			RouteTableId: publicRouteTable.ID(),
		})
		if err != nil {
			return nil, err
		}
	}

	if len(privSubnets) == 0 {
		return &networkResources{privSubnets: privSubnets, pubSubnets: pubSubnets, vpc: vpc}, nil
	}

	// Resource: NAT Gateway
	// Purpose: Gives the private subnets outbound internet access, for
	// example to pull the container image.
	// Docs: https://docs.aws.amazon.com/vpc/latest/userguide/vpc-nat-gateway.html

	eip, err := ec2.NewEip(ctx, prefix+"-eip1", &ec2.EipArgs{
		Vpc: pulumi.Bool(true),
	})
	if err != nil {
		return nil, err
	}

	// NAT must reside in a public subnet. A single gateway is the
	// cheaper solution, at the cost of one AZ.
	resourceTags["Name"] = prefix + "-nat-gw-1"
	natGw, err := ec2.NewNatGateway(ctx, prefix+"-nat-gw-1", &ec2.NatGatewayArgs{
		AllocationId: eip.ID(),
		SubnetId:     pubSubnets[0].ID(),
		Tags:         pulumi.ToStringMap(resourceTags),
	})
	if err != nil {
		return nil, err
	}

	resourceTags["Name"] = prefix + "-rtb-private-1"
	privateRouteTable, err := ec2.NewRouteTable(ctx, prefix+"-rtb-private-1", &ec2.RouteTableArgs{
		VpcId: vpc.ID(),
		Routes: ec2.RouteTableRouteArray{
			// To Internet via NAT
			&ec2.RouteTableRouteArgs{
				CidrBlock:    pulumi.String("0.0.0.0/0"),
				NatGatewayId: natGw.ID(),
			},
		},
		Tags: pulumi.ToStringMap(resourceTags),
	})
	if err != nil {
		return nil, err
	}

	for i, subnet := range privSubnets {
		_, err = ec2.NewRouteTableAssociation(ctx, fmt.Sprintf("%s-rtb-priv-%d", prefix, i), &ec2.RouteTableAssociationArgs{
			SubnetId:     subnet.ID(),
			RouteTableId: privateRouteTable.ID(),
		})
		if err != nil {
			return nil, err
		}
	}

	return &networkResources{privSubnets: privSubnets, pubSubnets: pubSubnets, vpc: vpc}, nil
}
