package hasura

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/secretsmanager"
	"github.com/pulumi/pulumi-random/sdk/v4/go/random"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// generatedSecretLength is the length of synthesized credentials.
const generatedSecretLength = 32

// ResolvedSecret normalizes a sensitive value to a single shape: either
// a caller-supplied value or reference, or a freshly synthesized secret
// backed by a Secrets Manager entry.
type ResolvedSecret struct {
	// Value is the secret material. It is unset when the caller supplied
	// only a reference to an existing secret, which is never read back.
	Value pulumi.StringOutput
	// Arn identifies the Secrets Manager entry backing the value. It is
	// unset when the caller supplied a raw value.
	Arn pulumi.StringOutput
	// Generated reports whether the value was synthesized rather than
	// supplied by the caller.
	Generated bool
	// Secret is the synthesized Secrets Manager entry, nil unless
	// Generated is true.
	Secret *secretsmanager.Secret
}

// resolveSecretValue wraps supplied verbatim, or synthesizes a random
// value when supplied is nil. A secret is generated if and only if the
// caller did not provide one.
func resolveSecretValue(ctx *pulumi.Context, name string, supplied pulumi.StringInput) (ResolvedSecret, error) {
	if supplied != nil {
		return ResolvedSecret{Value: supplied.ToStringOutput()}, nil
	}
	return generateSecret(ctx, name)
}

// resolveSecretRef wraps the ARN of an existing secret, or synthesizes a
// new secret when suppliedArn is nil.
func resolveSecretRef(ctx *pulumi.Context, name string, suppliedArn pulumi.StringInput) (ResolvedSecret, error) {
	if suppliedArn != nil {
		return ResolvedSecret{Arn: suppliedArn.ToStringOutput()}, nil
	}
	return generateSecret(ctx, name)
}

// generateSecret declares a random value and registers it in Secrets
// Manager. Punctuation is excluded: the value ends up unescaped inside
// the connection URI, and the GraphQL engine rejects credentials
// containing characters that would corrupt it.
func generateSecret(ctx *pulumi.Context, name string) (ResolvedSecret, error) {
	password, err := random.NewRandomPassword(ctx, name, &random.RandomPasswordArgs{
		Length:  pulumi.Int(generatedSecretLength),
		Special: pulumi.Bool(false),
	})
	if err != nil {
		return ResolvedSecret{}, fmt.Errorf("generating %s: %w", name, err)
	}

	secret, err := secretsmanager.NewSecret(ctx, name, &secretsmanager.SecretArgs{
		NamePrefix: pulumi.String(name + "-"),
	})
	if err != nil {
		return ResolvedSecret{}, fmt.Errorf("declaring secret %s: %w", name, err)
	}
	_, err = secretsmanager.NewSecretVersion(ctx, name, &secretsmanager.SecretVersionArgs{
		SecretId:     secret.ID(),
		SecretString: password.Result,
	})
	if err != nil {
		return ResolvedSecret{}, fmt.Errorf("storing secret %s: %w", name, err)
	}

	return ResolvedSecret{
		Value:     password.Result,
		Arn:       secret.Arn,
		Generated: true,
		Secret:    secret,
	}, nil
}
