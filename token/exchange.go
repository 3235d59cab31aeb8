package token

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sts"
)

const (
	// GrantTypeIAM exchanges a presigned STS GetCallerIdentity request for an
	// access token.
	GrantTypeIAM = "urn:twisp:params:oauth:grant-type:iam"

	iamTokenPrefix  = "twisp-aws-v1."
	clusterIDHeader = "x-twisp-cluster-id"
	presignTTL      = 60 * time.Second
)

type iamOpt func(*iamGrant)

// OptAssumeRole signs with credentials for the given role instead of the
// ambient ones.
func OptAssumeRole(assumeRoleArn string) iamOpt {
	return func(g *iamGrant) {
		g.roleARN = assumeRoleArn
	}
}

func OptSession(sess *session.Session) iamOpt {
	return func(g *iamGrant) {
		g.sess = sess
	}
}

// OptAuthURL overrides the auth service base URL derived from the
// environment and region.
func OptAuthURL(authURL string) iamOpt {
	return func(g *iamGrant) {
		g.authURL = strings.TrimRight(authURL, "/") + "/"
	}
}

func OptRequestOptions(opts ...RequestOption) iamOpt {
	return func(g *iamGrant) {
		g.reqOpts = append(g.reqOpts, opts...)
	}
}

type iamGrant struct {
	authURL string
	roleARN string
	sess    *session.Session
	reqOpts []RequestOption

	presign func(ctx context.Context, clusterID string) (string, error)
}

var _ Builder = (*iamGrant)(nil)

// NewIAMGrant returns a Builder that exchanges the IAM credentials found in
// the environment for a token from the auth service of the given environment
// and region. Every Build signs a new STS request, so the builder is safe to
// reuse for refreshes.
func NewIAMGrant(environment, region string, opts ...iamOpt) (Builder, error) {
	g := &iamGrant{
		authURL: fmt.Sprintf("https://auth.%s.%s.twisp.com/", region, environment),
	}
	for _, op := range opts {
		op(g)
	}

	sess := g.sess
	if sess == nil {
		var err error
		sess, err = session.NewSessionWithOptions(session.Options{
			Config: aws.Config{
				Region:              aws.String(region),
				STSRegionalEndpoint: endpoints.RegionalSTSEndpoint,
			},
			SharedConfigState: session.SharedConfigEnable,
		})
		if err != nil {
			return nil, fmt.Errorf("token: creating aws session: %w", err)
		}
	}

	cfg := aws.NewConfig()
	if g.roleARN != "" {
		cfg = cfg.WithCredentials(stscreds.NewCredentials(sess, g.roleARN))
	}
	g.presign = stsPresigner(sts.New(sess, cfg))

	return g, nil
}

func (g *iamGrant) Build(ctx context.Context) (*Request, error) {
	signed, err := g.presign(ctx, g.authURL)
	if err != nil {
		return nil, fmt.Errorf("token: presigning sts request: %w", err)
	}

	params := url.Values{
		"grant_type": {GrantTypeIAM},
		"token":      {iamTokenPrefix + base64.RawURLEncoding.EncodeToString([]byte(signed))},
	}
	opts := append([]RequestOption{WithJSONBody(), WithJWTResponse()}, g.reqOpts...)

	return NewRequest(g.authURL+"token/iam", params, opts...), nil
}

func stsPresigner(svc *sts.STS) func(context.Context, string) (string, error) {
	return func(ctx context.Context, clusterID string) (string, error) {
		req, _ := svc.GetCallerIdentityRequest(&sts.GetCallerIdentityInput{})
		req.SetContext(ctx)
		req.HTTPRequest.Header.Add(clusterIDHeader, clusterID)
		return req.Presign(presignTTL)
	}
}
