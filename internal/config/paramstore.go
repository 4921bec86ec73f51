package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by ParamStore.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParamStore reads deployment values such as the chat endpoint from SSM.
type ParamStore struct {
	api ssmAPI
}

func NewParamStore(api ssmAPI) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("config: ssm api must not be nil")
	}
	return &ParamStore{api: api}, nil
}

// Value returns the trimmed, decrypted value of the named parameter.
func (p *ParamStore) Value(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("config: parameter name is required")
	}

	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("config: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("config: parameter %q has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", fmt.Errorf("config: parameter %q is empty", name)
	}
	return v, nil
}

// ParamGetter is satisfied by *ParamStore.
type ParamGetter interface {
	Value(ctx context.Context, name string) (string, error)
}

// ResolveEndpoint replaces Endpoint with the SSM parameter named by
// EndpointParam, when set, and validates the result.
func (c *Config) ResolveEndpoint(ctx context.Context, params ParamGetter) error {
	if strings.TrimSpace(c.EndpointParam) != "" {
		if params == nil {
			return errors.New("config: CHAT_ENDPOINT_PARAM set but no parameter store available")
		}
		v, err := params.Value(ctx, c.EndpointParam)
		if err != nil {
			return err
		}
		c.Endpoint = v
	}
	return ValidateEndpoint(c.Endpoint)
}
