package main

import (
	"github.com/cheslip/hasura-aws/hasura"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

// subnetConfig describes one subnet of the deployment VPC.
type subnetConfig struct {
	Name string
	Cidr string
	Az   string
}

// networkData is the required network block of the stack config.
type networkData struct {
	Vpc            string
	PublicSubnets  []subnetConfig
	PrivateSubnets []subnetConfig
}

// hasuraData is the optional hasura block of the stack config. Empty
// fields fall back to the composition defaults.
type hasuraData struct {
	DatabaseName     string
	DatabaseUser     string
	InstanceClass    string
	AllocatedStorage int
	ImageName        string
	ImageVersion     string
	EnableTelemetry  bool
	EnableConsole    bool
	AdminSecretArn   string
	JwtSecretArn     string
	DesiredCount     int
	Cpu              string
	Memory           string
	Environment      map[string]string
}

func main() {
	pulumi.Run(func(ctx *pulumi.Context) error {
		var networkConfig networkData
		var hasuraConfig hasuraData

		conf := config.New(ctx, "")
		conf.RequireObject("network", &networkConfig)
		if err := conf.GetObject("hasura", &hasuraConfig); err != nil {
			return err
		}

		network, err := setupNetwork(ctx, networkConfig)
		if err != nil {
			return err
		}

		h, err := hasura.NewHasura(ctx, "hasura", &hasura.HasuraArgs{
			Network: hasura.NetworkArgs{
				VpcId:            network.vpc.ID(),
				PublicSubnetIds:  subnetIDs(network.pubSubnets),
				PrivateSubnetIds: subnetIDs(network.privSubnets),
			},
			Database: databaseArgs(conf, hasuraConfig),
			Service: &hasura.ServiceArgs{
				DesiredCount: hasuraConfig.DesiredCount,
				Cpu:          hasuraConfig.Cpu,
				Memory:       hasuraConfig.Memory,
			},
			Options: engineOptions(hasuraConfig),
		})
		if err != nil {
			return err
		}

		ctx.Export("url", h.URL)
		ctx.Export("connectionString", pulumi.ToSecret(h.ConnectionString))
		ctx.Export("databaseEndpoint", h.Database.Endpoint)
		ctx.Export("clusterName", h.Cluster.Name)
		ctx.Export("serviceName", h.Service.Name)
		ctx.Export("adminSecretArn", h.AdminSecret.Arn)
		if h.DatabasePassword.Secret != nil {
			ctx.Export("databasePasswordSecretArn", h.DatabasePassword.Secret.Arn)
		}
		return nil
	})
}

func databaseArgs(conf *config.Config, cfg hasuraData) *hasura.DatabaseArgs {
	args := &hasura.DatabaseArgs{
		DatabaseName:     cfg.DatabaseName,
		Username:         cfg.DatabaseUser,
		InstanceClass:    cfg.InstanceClass,
		AllocatedStorage: cfg.AllocatedStorage,
	}
	// The password never goes through the plain config object.
	if password, err := conf.TrySecret("databasePassword"); err == nil {
		args.Password = password
	}
	return args
}

func engineOptions(cfg hasuraData) *hasura.Options {
	options := &hasura.Options{
		ImageName:       cfg.ImageName,
		ImageVersion:    cfg.ImageVersion,
		EnableTelemetry: cfg.EnableTelemetry,
		EnableConsole:   cfg.EnableConsole,
	}
	if cfg.AdminSecretArn != "" {
		options.AdminSecretArn = pulumi.String(cfg.AdminSecretArn)
	}
	if cfg.JwtSecretArn != "" {
		options.JwtSecretArn = pulumi.String(cfg.JwtSecretArn)
	}
	if len(cfg.Environment) > 0 {
		env := make(map[string]pulumi.StringInput, len(cfg.Environment))
		for k, v := range cfg.Environment {
			env[k] = pulumi.String(v)
		}
		options.Environment = env
	}
	return options
}

func subnetIDs(subnets []*ec2.Subnet) pulumi.StringArray {
	ids := make(pulumi.StringArray, 0, len(subnets))
	for _, subnet := range subnets {
		ids = append(ids, subnet.ID())
	}
	return ids
}
