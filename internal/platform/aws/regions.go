package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ec2RegionsParameterPath is the SSM public parameter tree enumerating every
// region EC2 is available in.
const ec2RegionsParameterPath = "/aws/service/global-infrastructure/services/ec2/regions"

// SSMAPI is the subset of the SSM client used for region enumeration.
// *ssm.Client satisfies it.
type SSMAPI interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// ResolveAllRegions enumerates every region EC2 is available in, following
// SSM pagination. The result is sorted for stable output.
func ResolveAllRegions(ctx context.Context, api SSMAPI) ([]string, error) {
	var regions []string
	var nextToken *string

	for {
		out, err := api.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
			Path:      aws.String(ec2RegionsParameterPath),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate EC2 regions: %w", err)
		}

		for _, param := range out.Parameters {
			if param.Value != nil && *param.Value != "" {
				regions = append(regions, *param.Value)
			}
		}

		nextToken = out.NextToken
		if nextToken == nil {
			break
		}
	}

	sort.Strings(regions)
	return regions, nil
}
