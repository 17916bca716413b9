// Package hasura composes a load-balanced Hasura GraphQL engine
// deployment on AWS: an RDS Postgres instance, the secrets the engine
// needs, an ECS cluster, and a Fargate service behind an application
// load balancer, linked together by a generated connection string and
// a security group grant.
//
// Everything is declared with opinionated defaults so that
//
//	h, err := hasura.NewHasura(ctx, "hasura", &hasura.HasuraArgs{Network: net})
//
// yields a working deployment, while each part stays overridable
// through HasuraArgs.
package hasura

import (
	"errors"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/cloudwatch"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ecs"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/lb"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/rds"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// NetworkArgs names the pre-existing network the deployment lands in.
// The load balancer goes into the public subnets, the database and the
// tasks into the private ones.
type NetworkArgs struct {
	VpcId            pulumi.StringInput
	PublicSubnetIds  pulumi.StringArrayInput
	PrivateSubnetIds pulumi.StringArrayInput
}

// HasuraArgs configures a deployment. Only Network is required.
type HasuraArgs struct {
	Network  NetworkArgs
	Database *DatabaseArgs
	Service  *ServiceArgs
	Options  *Options
}

// Hasura is a provisioned deployment.
type Hasura struct {
	Database              *rds.Instance
	DatabaseSubnetGroup   *rds.SubnetGroup
	DatabaseSecurityGroup *ec2.SecurityGroup
	DatabasePassword      ResolvedSecret
	AdminSecret           ResolvedSecret

	Cluster                   *ecs.Cluster
	TaskDefinition            *ecs.TaskDefinition
	Service                   *ecs.Service
	ServiceSecurityGroup      *ec2.SecurityGroup
	ExecutionRole             *iam.Role
	LogGroup                  *cloudwatch.LogGroup
	LoadBalancer              *lb.LoadBalancer
	LoadBalancerSecurityGroup *ec2.SecurityGroup
	TargetGroup               *lb.TargetGroup
	Listener                  *lb.Listener
	DatabaseAccess            *ec2.SecurityGroupRule

	// ConnectionString is the Postgres URI the engine connects with.
	// Treat it as sensitive, it embeds the master password.
	ConnectionString pulumi.StringOutput
	// URL is the HTTP endpoint serving the GraphQL API.
	URL pulumi.StringOutput
	// Environment and Secrets are the effective container environment
	// and secret references after merging overrides.
	Environment map[string]pulumi.StringInput
	Secrets     map[string]pulumi.StringInput
}

// NewHasura declares a complete deployment: database first, then the
// connection string, then the service, and finally the ingress grant
// from the service to the database.
func NewHasura(ctx *pulumi.Context, name string, args *HasuraArgs) (*Hasura, error) {
	if args == nil {
		return nil, errors.New("args is required")
	}
	if args.Network.VpcId == nil || args.Network.PublicSubnetIds == nil || args.Network.PrivateSubnetIds == nil {
		return nil, errors.New("network requires a vpc, public subnets and private subnets")
	}

	var suppliedPassword pulumi.StringInput
	if args.Database != nil {
		suppliedPassword = args.Database.Password
	}
	password, err := resolveSecretValue(ctx, name+"-db-password", suppliedPassword)
	if err != nil {
		return nil, fmt.Errorf("resolving database password: %w", err)
	}

	db, err := buildDatabase(ctx, name, args.Network, args.Database, password)
	if err != nil {
		return nil, fmt.Errorf("building database: %w", err)
	}

	connStr := connectionString(db.Username, password.Value, db)

	svc, err := buildService(ctx, name, args.Network, args.Service, args.Options, connStr)
	if err != nil {
		return nil, fmt.Errorf("building service: %w", err)
	}

	access, err := allowDatabaseAccess(ctx, name, db, svc)
	if err != nil {
		return nil, err
	}

	return &Hasura{
		Database:              db.Instance,
		DatabaseSubnetGroup:   db.SubnetGroup,
		DatabaseSecurityGroup: db.SecurityGroup,
		DatabasePassword:      password,
		AdminSecret:           svc.AdminSecret,

		Cluster:                   svc.Cluster,
		TaskDefinition:            svc.TaskDefinition,
		Service:                   svc.Service,
		ServiceSecurityGroup:      svc.SecurityGroup,
		ExecutionRole:             svc.ExecutionRole,
		LogGroup:                  svc.LogGroup,
		LoadBalancer:              svc.LoadBalancer,
		LoadBalancerSecurityGroup: svc.LoadBalancerSecurityGroup,
		TargetGroup:               svc.TargetGroup,
		Listener:                  svc.Listener,
		DatabaseAccess:            access,

		ConnectionString: connStr,
		URL:              pulumi.Sprintf("http://%s", svc.LoadBalancer.DnsName),
		Environment:      svc.Environment,
		Secrets:          svc.Secrets,
	}, nil
}
