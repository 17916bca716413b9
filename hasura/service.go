package hasura

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/cloudwatch"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ecs"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	containerName       = "hasura"
	containerPort       = 8080
	listenerPort        = 80
	healthCheckPath     = "/healthz"
	defaultImageName    = "hasura/graphql-engine"
	defaultImageVersion = "latest"
	defaultCpu          = "256"
	defaultMemory       = "512"
	defaultDesiredCount = 1
)

// Environment and secret names the GraphQL engine reads at startup.
const (
	envDatabaseURL     = "HASURA_GRAPHQL_DATABASE_URL"
	envEnableTelemetry = "HASURA_GRAPHQL_ENABLE_TELEMETRY"
	envEnableConsole   = "HASURA_GRAPHQL_ENABLE_CONSOLE"
	secretAdminKey     = "HASURA_GRAPHQL_ADMIN_SECRET"
	secretJwtKey       = "HASURA_GRAPHQL_JWT_SECRET"
)

// ServiceArgs overrides fields of the composed container service.
type ServiceArgs struct {
	// Cluster runs the service. A new cluster is declared when nil.
	Cluster *ecs.Cluster
	// DesiredCount is the number of tasks, 1 when zero.
	DesiredCount int
	// Cpu and Memory are Fargate task sizes, "256" and "512" when empty.
	Cpu    string
	Memory string
}

// Options tunes the GraphQL engine container.
type Options struct {
	// ImageName defaults to hasura/graphql-engine.
	ImageName string
	// ImageVersion defaults to latest.
	ImageVersion string
	// EnableTelemetry and EnableConsole toggle the engine's telemetry
	// and web console. Both default to off.
	EnableTelemetry bool
	EnableConsole   bool
	// AdminSecretArn references an existing Secrets Manager entry
	// holding the admin secret. When nil one is synthesized.
	AdminSecretArn pulumi.StringInput
	// JwtSecretArn references the JWT signing configuration. The engine
	// runs without JWT verification when nil.
	JwtSecretArn pulumi.StringInput
	// Environment entries are merged into the container environment.
	// Entries here win over composed ones.
	Environment map[string]pulumi.StringInput
	// Secrets entries are merged into the container secret references.
	// Values are Secrets Manager ARNs. Entries here win over composed
	// ones.
	Secrets map[string]pulumi.StringInput
}

// service holds the provisioned container service and everything
// declared around it.
type service struct {
	Cluster                   *ecs.Cluster
	TaskDefinition            *ecs.TaskDefinition
	Service                   *ecs.Service
	SecurityGroup             *ec2.SecurityGroup
	LoadBalancer              *lb.LoadBalancer
	LoadBalancerSecurityGroup *ec2.SecurityGroup
	TargetGroup               *lb.TargetGroup
	Listener                  *lb.Listener
	LogGroup                  *cloudwatch.LogGroup
	ExecutionRole             *iam.Role
	AdminSecret               ResolvedSecret
	Environment               map[string]pulumi.StringInput
	Secrets                   map[string]pulumi.StringInput
}

// buildService declares the Fargate service running the GraphQL engine
// behind an application load balancer. The load balancer accepts HTTP
// from anywhere; the task accepts traffic only from the load balancer.
func buildService(ctx *pulumi.Context, name string, network NetworkArgs, args *ServiceArgs, opts *Options, connStr pulumi.StringOutput) (*service, error) {
	if args == nil {
		args = &ServiceArgs{}
	}
	if opts == nil {
		opts = &Options{}
	}

	imageName := opts.ImageName
	if imageName == "" {
		imageName = defaultImageName
	}
	imageVersion := opts.ImageVersion
	if imageVersion == "" {
		imageVersion = defaultImageVersion
	}
	image := imageName + ":" + imageVersion

	cpu := args.Cpu
	if cpu == "" {
		cpu = defaultCpu
	}
	memory := args.Memory
	if memory == "" {
		memory = defaultMemory
	}
	desiredCount := args.DesiredCount
	if desiredCount == 0 {
		desiredCount = defaultDesiredCount
	}

	admin, err := resolveSecretRef(ctx, name+"-admin-secret", opts.AdminSecretArn)
	if err != nil {
		return nil, fmt.Errorf("resolving admin secret: %w", err)
	}

	environment := mergeStringInputs(map[string]pulumi.StringInput{
		envDatabaseURL:     connStr,
		envEnableTelemetry: pulumi.String(strconv.FormatBool(opts.EnableTelemetry)),
		envEnableConsole:   pulumi.String(strconv.FormatBool(opts.EnableConsole)),
	}, opts.Environment)

	composedSecrets := map[string]pulumi.StringInput{
		secretAdminKey: admin.Arn,
	}
	if opts.JwtSecretArn != nil {
		composedSecrets[secretJwtKey] = opts.JwtSecretArn
	}
	secrets := mergeStringInputs(composedSecrets, opts.Secrets)

	cluster := args.Cluster
	if cluster == nil {
		cluster, err = ecs.NewCluster(ctx, name+"-cluster", &ecs.ClusterArgs{})
		if err != nil {
			return nil, fmt.Errorf("creating cluster: %w", err)
		}
	}

	logGroup, err := cloudwatch.NewLogGroup(ctx, name+"-logs", &cloudwatch.LogGroupArgs{
		RetentionInDays: pulumi.Int(30),
	})
	if err != nil {
		return nil, fmt.Errorf("creating log group: %w", err)
	}

	region, err := aws.GetRegion(ctx, &aws.GetRegionArgs{})
	if err != nil {
		return nil, fmt.Errorf("looking up region: %w", err)
	}

	executionRole, err := newExecutionRole(ctx, name, secrets)
	if err != nil {
		return nil, err
	}

	envKeys := sortedKeys(environment)
	environmentJSON := make([]interface{}, 0, len(envKeys))
	for _, k := range envKeys {
		environmentJSON = append(environmentJSON, map[string]interface{}{
			"name":  k,
			"value": environment[k],
		})
	}
	secretKeys := sortedKeys(secrets)
	secretsJSON := make([]interface{}, 0, len(secretKeys))
	for _, k := range secretKeys {
		secretsJSON = append(secretsJSON, map[string]interface{}{
			"name":      k,
			"valueFrom": secrets[k],
		})
	}

	containerDefinitions := pulumi.JSONMarshal([]interface{}{
		map[string]interface{}{
			"name":      containerName,
			"image":     image,
			"essential": true,
			"portMappings": []interface{}{
				map[string]interface{}{
					"containerPort": containerPort,
					"protocol":      "tcp",
				},
			},
			"environment": environmentJSON,
			"secrets":     secretsJSON,
			"logConfiguration": map[string]interface{}{
				"logDriver": "awslogs",
				"options": map[string]interface{}{
					"awslogs-group":         logGroup.Name,
					"awslogs-region":        region.Name,
					"awslogs-stream-prefix": containerName,
				},
			},
		},
	})

	taskDefinition, err := ecs.NewTaskDefinition(ctx, name+"-task", &ecs.TaskDefinitionArgs{
		Family:                  pulumi.String(name),
		Cpu:                     pulumi.String(cpu),
		Memory:                  pulumi.String(memory),
		NetworkMode:             pulumi.String("awsvpc"),
		RequiresCompatibilities: pulumi.StringArray{pulumi.String("FARGATE")},
		ExecutionRoleArn:        executionRole.Arn,
		ContainerDefinitions:    containerDefinitions,
	})
	if err != nil {
		return nil, fmt.Errorf("creating task definition: %w", err)
	}

	albSecurityGroup, err := ec2.NewSecurityGroup(ctx, name+"-alb-sg", &ec2.SecurityGroupArgs{
		VpcId:       network.VpcId.ToStringOutput(),
		Description: pulumi.String("Load balancer ingress for " + name),
		Ingress: ec2.SecurityGroupIngressArray{
			&ec2.SecurityGroupIngressArgs{
				Protocol:   pulumi.String("tcp"),
				FromPort:   pulumi.Int(listenerPort),
				ToPort:     pulumi.Int(listenerPort),
				CidrBlocks: pulumi.StringArray{pulumi.String("0.0.0.0/0")},
			},
		},
		Egress: allowAllEgress(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating load balancer security group: %w", err)
	}

	serviceSecurityGroup, err := ec2.NewSecurityGroup(ctx, name+"-service-sg", &ec2.SecurityGroupArgs{
		VpcId:       network.VpcId.ToStringOutput(),
		Description: pulumi.String("Task ingress for " + name),
		Ingress: ec2.SecurityGroupIngressArray{
			&ec2.SecurityGroupIngressArgs{
				Protocol:       pulumi.String("tcp"),
				FromPort:       pulumi.Int(containerPort),
				ToPort:         pulumi.Int(containerPort),
				SecurityGroups: pulumi.StringArray{albSecurityGroup.ID()},
			},
		},
		Egress: allowAllEgress(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating service security group: %w", err)
	}

	loadBalancer, err := lb.NewLoadBalancer(ctx, name+"-alb", &lb.LoadBalancerArgs{
		LoadBalancerType: pulumi.String("application"),
		SecurityGroups:   pulumi.StringArray{albSecurityGroup.ID()},
		Subnets:          network.PublicSubnetIds,
	})
	if err != nil {
		return nil, fmt.Errorf("creating load balancer: %w", err)
	}

	targetGroup, err := lb.NewTargetGroup(ctx, name+"-tg", &lb.TargetGroupArgs{
		Port:       pulumi.Int(containerPort),
		Protocol:   pulumi.String("HTTP"),
		TargetType: pulumi.String("ip"),
		VpcId:      network.VpcId.ToStringOutput(),
		HealthCheck: &lb.TargetGroupHealthCheckArgs{
			Path:               pulumi.String(healthCheckPath),
			Matcher:            pulumi.String("200"),
			Interval:           pulumi.Int(30),
			Timeout:            pulumi.Int(5),
			HealthyThreshold:   pulumi.Int(2),
			UnhealthyThreshold: pulumi.Int(5),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating target group: %w", err)
	}

	listener, err := lb.NewListener(ctx, name+"-listener", &lb.ListenerArgs{
		LoadBalancerArn: loadBalancer.Arn,
		Port:            pulumi.Int(listenerPort),
		Protocol:        pulumi.String("HTTP"),
		DefaultActions: lb.ListenerDefaultActionArray{
			&lb.ListenerDefaultActionArgs{
				Type:           pulumi.String("forward"),
				TargetGroupArn: targetGroup.Arn,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating listener: %w", err)
	}

	svc, err := ecs.NewService(ctx, name+"-service", &ecs.ServiceArgs{
		Cluster:        cluster.Arn,
		TaskDefinition: taskDefinition.Arn,
		DesiredCount:   pulumi.Int(desiredCount),
		LaunchType:     pulumi.String("FARGATE"),
		NetworkConfiguration: &ecs.ServiceNetworkConfigurationArgs{
			AssignPublicIp: pulumi.Bool(false),
			Subnets:        network.PrivateSubnetIds,
			SecurityGroups: pulumi.StringArray{serviceSecurityGroup.ID()},
		},
		LoadBalancers: ecs.ServiceLoadBalancerArray{
			&ecs.ServiceLoadBalancerArgs{
				TargetGroupArn: targetGroup.Arn,
				ContainerName:  pulumi.String(containerName),
				ContainerPort:  pulumi.Int(containerPort),
			},
		},
		HealthCheckGracePeriodSeconds: pulumi.Int(60),
	}, pulumi.DependsOn([]pulumi.Resource{listener}))
	if err != nil {
		return nil, fmt.Errorf("creating service: %w", err)
	}

	return &service{
		Cluster:                   cluster,
		TaskDefinition:            taskDefinition,
		Service:                   svc,
		SecurityGroup:             serviceSecurityGroup,
		LoadBalancer:              loadBalancer,
		LoadBalancerSecurityGroup: albSecurityGroup,
		TargetGroup:               targetGroup,
		Listener:                  listener,
		LogGroup:                  logGroup,
		ExecutionRole:             executionRole,
		AdminSecret:               admin,
		Environment:               environment,
		Secrets:                   secrets,
	}, nil
}

// newExecutionRole declares the task execution role: the managed ECS
// execution policy plus read access to exactly the secrets the
// container references.
func newExecutionRole(ctx *pulumi.Context, name string, secrets map[string]pulumi.StringInput) (*iam.Role, error) {
	arnInputs := make([]interface{}, 0, len(secrets))
	for _, k := range sortedKeys(secrets) {
		arnInputs = append(arnInputs, secrets[k])
	}
	secretsPolicy := pulumi.All(arnInputs...).ApplyT(func(arns []interface{}) (string, error) {
		resources := make([]string, 0, len(arns))
		for _, arn := range arns {
			resources = append(resources, arn.(string))
		}
		policy, err := json.Marshal(map[string]interface{}{
			"Version": "2012-10-17",
			"Statement": []map[string]interface{}{{
				"Effect":   "Allow",
				"Action":   []string{"secretsmanager:GetSecretValue"},
				"Resource": resources,
			}},
		})
		if err != nil {
			return "", err
		}
		return string(policy), nil
	}).(pulumi.StringOutput)

	role, err := iam.NewRole(ctx, name+"-exec-role", &iam.RoleArgs{
		AssumeRolePolicy: pulumi.String(`{
    "Version": "2012-10-17",
    "Statement": [
        {
            "Effect": "Allow",
            "Principal": {
                "Service": "ecs-tasks.amazonaws.com"
            },
            "Action": "sts:AssumeRole"
        }
    ]
}`),
		InlinePolicies: iam.RoleInlinePolicyArray{
			&iam.RoleInlinePolicyArgs{
				Name:   pulumi.String("read-secrets"),
				Policy: secretsPolicy,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating execution role: %w", err)
	}

	_, err = iam.NewRolePolicyAttachment(ctx, name+"-exec-role-policy", &iam.RolePolicyAttachmentArgs{
		Role:      role.Name,
		PolicyArn: pulumi.String("arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy"),
	})
	if err != nil {
		return nil, fmt.Errorf("attaching execution role policy: %w", err)
	}

	return role, nil
}

// allowDatabaseAccess grants the service ingress to the database on its
// listener port.
func allowDatabaseAccess(ctx *pulumi.Context, name string, db *database, svc *service) (*ec2.SecurityGroupRule, error) {
	rule, err := ec2.NewSecurityGroupRule(ctx, name+"-db-access", &ec2.SecurityGroupRuleArgs{
		Type:                  pulumi.String("ingress"),
		Protocol:              pulumi.String("tcp"),
		FromPort:              db.Instance.Port,
		ToPort:                db.Instance.Port,
		SecurityGroupId:       db.SecurityGroup.ID(),
		SourceSecurityGroupId: svc.SecurityGroup.ID(),
		Description:           pulumi.String("GraphQL engine to Postgres"),
	})
	if err != nil {
		return nil, fmt.Errorf("granting database access: %w", err)
	}
	return rule, nil
}

func allowAllEgress() ec2.SecurityGroupEgressArray {
	return ec2.SecurityGroupEgressArray{
		&ec2.SecurityGroupEgressArgs{
			Protocol:   pulumi.String("-1"),
			FromPort:   pulumi.Int(0),
			ToPort:     pulumi.Int(0),
			CidrBlocks: pulumi.StringArray{pulumi.String("0.0.0.0/0")},
		},
	}
}

// mergeStringInputs lays overrides over base. Overrides win silently.
func mergeStringInputs(base, overrides map[string]pulumi.StringInput) map[string]pulumi.StringInput {
	merged := make(map[string]pulumi.StringInput, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// sortedKeys keeps generated documents deterministic across updates.
func sortedKeys(m map[string]pulumi.StringInput) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
