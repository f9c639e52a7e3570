package accesscontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/stratumops/quotawarden/internal/config"
)

// iamAPI is the slice of the IAM client the controller calls.
type iamAPI interface {
	PutUserPolicy(ctx context.Context, params *iam.PutUserPolicyInput, optFns ...func(*iam.Options)) (*iam.PutUserPolicyOutput, error)
	DeleteUserPolicy(ctx context.Context, params *iam.DeleteUserPolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteUserPolicyOutput, error)
}

// IAMController enforces blocks by attaching an inline deny policy to the
// IAM user and lifting them by deleting it.
type IAMController struct {
	client       iamAPI
	policySuffix string
	denyActions  []string
	timeout      time.Duration
	logger       *slog.Logger
}

func NewIAMController(ctx context.Context, cfg config.AccessControlConfig, logger *slog.Logger) (*IAMController, error) {
	if logger == nil {
		logger = slog.Default()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(staticProvider))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.AssumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		awsCfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN))
	}

	return &IAMController{
		client:       iam.NewFromConfig(awsCfg),
		policySuffix: cfg.PolicySuffix,
		denyActions:  cfg.DenyActions,
		timeout:      cfg.Timeout,
		logger:       logger.With(slog.String("component", "accesscontrol")),
	}, nil
}

func (c *IAMController) Name() string { return "iam" }

// Block puts the inline deny policy on the IAM user. Re-blocking overwrites
// the existing policy, which is harmless.
func (c *IAMController) Block(ctx context.Context, userID string) error {
	doc, err := denyPolicyDocument(c.denyActions)
	if err != nil {
		return fmt.Errorf("build deny policy: %w", err)
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	_, err = c.client.PutUserPolicy(ctx, &iam.PutUserPolicyInput{
		UserName:       aws.String(userID),
		PolicyName:     aws.String(c.policyName(userID)),
		PolicyDocument: aws.String(doc),
	})
	if err != nil {
		return fmt.Errorf("put user policy: %w", err)
	}
	c.logger.Info("deny policy attached", slog.String("user_id", userID), slog.String("policy", c.policyName(userID)))
	return nil
}

// Restore deletes the inline deny policy. A missing policy means someone
// already cleaned up, which counts as success.
func (c *IAMController) Restore(ctx context.Context, userID string) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	_, err := c.client.DeleteUserPolicy(ctx, &iam.DeleteUserPolicyInput{
		UserName:   aws.String(userID),
		PolicyName: aws.String(c.policyName(userID)),
	})
	if err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("delete user policy: %w", err)
	}
	c.logger.Info("deny policy removed", slog.String("user_id", userID), slog.String("policy", c.policyName(userID)))
	return nil
}

func (c *IAMController) policyName(userID string) string {
	return userID + c.policySuffix
}

func (c *IAMController) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid      string   `json:"Sid"`
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource string   `json:"Resource"`
}

func denyPolicyDocument(actions []string) (string, error) {
	if len(actions) == 0 {
		return "", errors.New("no deny actions configured")
	}
	doc, err := json.Marshal(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:      "DailyLimitBlock",
			Effect:   "Deny",
			Action:   actions,
			Resource: "*",
		}},
	})
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

// NewController builds the configured controller, falling back to the log
// controller when the provider is not iam.
func NewController(ctx context.Context, cfg config.AccessControlConfig, logger *slog.Logger) (Controller, error) {
	if cfg.Provider == "iam" {
		return NewIAMController(ctx, cfg, logger)
	}
	return NewLogController(logger), nil
}
