package main

import (
	"strings"
	"sync"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
)

func testNetworkConfig() networkData {
	return networkData{
		Vpc: "10.0.0.0/16",
		PublicSubnets: []subnetConfig{
			{Name: "pub-sub-1", Cidr: "10.0.4.0/24", Az: "eu-west-1a"},
			{Name: "pub-sub-2", Cidr: "10.0.5.0/24", Az: "eu-west-1b"},
		},
		PrivateSubnets: []subnetConfig{
			{Name: "priv-sub-1", Cidr: "10.0.1.0/24", Az: "eu-west-1a"},
			{Name: "priv-sub-2", Cidr: "10.0.2.0/24", Az: "eu-west-1b"},
		},
	}
}

// Tests
func TestSetupNetwork(t *testing.T) {
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		cfg := testNetworkConfig()
		network, err := setupNetwork(ctx, cfg)
		assert.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(3)

		network.vpc.Tags.ApplyT(func(tags map[string]string) error {
			defer wg.Done()
			if v, ok := tags["Name"]; ok {
				assert.True(t, strings.HasPrefix(v, prefix), "the Name should start with the prefix")
			} else {
				t.Log("the VPC doesn't have a Name tag")
				t.Fail()
			}
			return nil
		})

		assert.Equal(t, len(cfg.PublicSubnets), len(network.pubSubnets))
		network.pubSubnets[0].CidrBlock.ApplyT(func(cidrPtr *string) error {
			defer wg.Done()
			assert.Equal(t, cfg.PublicSubnets[0].Cidr, *cidrPtr, "the public subnet should carry its configured cidr block")
			return nil
		})

		assert.Equal(t, len(cfg.PrivateSubnets), len(network.privSubnets))
		network.privSubnets[0].CidrBlock.ApplyT(func(cidrPtr *string) error {
			defer wg.Done()
			assert.Equal(t, cfg.PrivateSubnets[0].Cidr, *cidrPtr, "the private subnet should carry its configured cidr block")
			return nil
		})

		wg.Wait()
		return nil
	}, pulumi.WithMocks("project", "stack", mocks(0)))
	assert.NoError(t, err)
}

func TestSetupNetworkRequiresPublicSubnets(t *testing.T) {
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		_, err := setupNetwork(ctx, networkData{Vpc: "10.0.0.0/16"})
		assert.Error(t, err)
		return nil
	}, pulumi.WithMocks("project", "stack", mocks(0)))
	assert.NoError(t, err)
}

func TestSetupNetworkWithoutPrivateSubnets(t *testing.T) {
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		cfg := testNetworkConfig()
		cfg.PrivateSubnets = nil

		network, err := setupNetwork(ctx, cfg)
		assert.NoError(t, err)
		assert.Len(t, network.privSubnets, 0)
		assert.Len(t, network.pubSubnets, 2)
		return nil
	}, pulumi.WithMocks("project", "stack", mocks(0)))
	assert.NoError(t, err)
}
