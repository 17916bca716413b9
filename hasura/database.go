package hasura

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/rds"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// Defaults applied by buildDatabase when the corresponding override is
// unset. The instance class is the smallest burstable tier.
const (
	defaultDatabaseName  = "postgres"
	defaultDatabaseUser  = "hasura"
	defaultInstanceClass = "db.t3.micro"
	defaultStorageGiB    = 20
)

// DatabaseArgs overrides fields of the composed database instance.
// Every field is optional and defaulted independently; set fields are
// passed to the provider verbatim, without local validation. The engine
// is always Postgres and is deliberately absent from this surface.
type DatabaseArgs struct {
	// DatabaseName is the initial database, "postgres" when empty.
	DatabaseName string
	// Username is the master username, "hasura" when empty.
	Username string
	// Password is the master password. When nil a random one is
	// synthesized and registered in Secrets Manager.
	Password pulumi.StringInput
	// SubnetIds places the instance, the network's private subnets when
	// nil.
	SubnetIds pulumi.StringArrayInput
	// PubliclyAccessible defaults to false.
	PubliclyAccessible pulumi.BoolPtrInput
	// InstanceClass defaults to db.t3.micro.
	InstanceClass string
	// AllocatedStorage is in GiB, 20 when zero.
	AllocatedStorage int
	// SkipFinalSnapshot defaults to true.
	SkipFinalSnapshot pulumi.BoolPtrInput
	// EngineVersion pins the Postgres version. The provider picks its
	// default when empty.
	EngineVersion string
	// MultiAz enables a standby replica.
	MultiAz pulumi.BoolPtrInput
	// StorageType is passed through when set, for example "gp3".
	StorageType string
	// BackupRetentionPeriod is in days, provider default when zero.
	BackupRetentionPeriod int
	// DeletionProtection guards the instance against deletes.
	DeletionProtection pulumi.BoolPtrInput
}

// database holds the provisioned instance together with the resolved
// identifiers the connection string is assembled from.
type database struct {
	Instance      *rds.Instance
	SecurityGroup *ec2.SecurityGroup
	SubnetGroup   *rds.SubnetGroup
	Name          string
	Username      string
}

// buildDatabase declares the Postgres instance in its own security
// group. No ingress is granted here; the service is wired to the
// database afterwards.
func buildDatabase(ctx *pulumi.Context, name string, network NetworkArgs, args *DatabaseArgs, password ResolvedSecret) (*database, error) {
	if args == nil {
		args = &DatabaseArgs{}
	}

	dbName := args.DatabaseName
	if dbName == "" {
		dbName = defaultDatabaseName
	}
	username := args.Username
	if username == "" {
		username = defaultDatabaseUser
	}
	instanceClass := args.InstanceClass
	if instanceClass == "" {
		instanceClass = defaultInstanceClass
	}
	storage := args.AllocatedStorage
	if storage == 0 {
		storage = defaultStorageGiB
	}
	subnetIds := args.SubnetIds
	if subnetIds == nil {
		subnetIds = network.PrivateSubnetIds
	}
	publiclyAccessible := args.PubliclyAccessible
	if publiclyAccessible == nil {
		publiclyAccessible = pulumi.Bool(false)
	}
	skipFinalSnapshot := args.SkipFinalSnapshot
	if skipFinalSnapshot == nil {
		skipFinalSnapshot = pulumi.Bool(true)
	}

	subnetGroup, err := rds.NewSubnetGroup(ctx, name+"-db-subnets", &rds.SubnetGroupArgs{
		SubnetIds: subnetIds,
	})
	if err != nil {
		return nil, fmt.Errorf("creating subnet group: %w", err)
	}

	securityGroup, err := ec2.NewSecurityGroup(ctx, name+"-db-sg", &ec2.SecurityGroupArgs{
		VpcId:       network.VpcId.ToStringOutput(),
		Description: pulumi.String("Database access for " + name),
		Egress:      allowAllEgress(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating security group: %w", err)
	}

	instanceArgs := &rds.InstanceArgs{
		Engine:              pulumi.String("postgres"),
		InstanceClass:       pulumi.String(instanceClass),
		AllocatedStorage:    pulumi.Int(storage),
		DbName:              pulumi.String(dbName),
		Username:            pulumi.String(username),
		Password:            password.Value,
		DbSubnetGroupName:   subnetGroup.Name,
		VpcSecurityGroupIds: pulumi.StringArray{securityGroup.ID()},
		PubliclyAccessible:  publiclyAccessible,
		SkipFinalSnapshot:   skipFinalSnapshot,
	}
	if args.EngineVersion != "" {
		instanceArgs.EngineVersion = pulumi.String(args.EngineVersion)
	}
	if args.MultiAz != nil {
		instanceArgs.MultiAz = args.MultiAz
	}
	if args.StorageType != "" {
		instanceArgs.StorageType = pulumi.String(args.StorageType)
	}
	if args.BackupRetentionPeriod != 0 {
		instanceArgs.BackupRetentionPeriod = pulumi.Int(args.BackupRetentionPeriod)
	}
	if args.DeletionProtection != nil {
		instanceArgs.DeletionProtection = args.DeletionProtection
	}

	instance, err := rds.NewInstance(ctx, name+"-db", instanceArgs)
	if err != nil {
		return nil, fmt.Errorf("creating instance: %w", err)
	}

	return &database{
		Instance:      instance,
		SecurityGroup: securityGroup,
		SubnetGroup:   subnetGroup,
		Name:          dbName,
		Username:      username,
	}, nil
}
