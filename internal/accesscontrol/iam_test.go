package accesscontrol

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
)

type fakeIAM struct {
	putCalls    []*iam.PutUserPolicyInput
	deleteCalls []*iam.DeleteUserPolicyInput
	putErr      error
	deleteErr   error
}

func (f *fakeIAM) PutUserPolicy(_ context.Context, params *iam.PutUserPolicyInput, _ ...func(*iam.Options)) (*iam.PutUserPolicyOutput, error) {
	f.putCalls = append(f.putCalls, params)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &iam.PutUserPolicyOutput{}, nil
}

func (f *fakeIAM) DeleteUserPolicy(_ context.Context, params *iam.DeleteUserPolicyInput, _ ...func(*iam.Options)) (*iam.DeleteUserPolicyOutput, error) {
	f.deleteCalls = append(f.deleteCalls, params)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &iam.DeleteUserPolicyOutput{}, nil
}

func testController(api iamAPI) *IAMController {
	return &IAMController{
		client:       api,
		policySuffix: "_UsagePolicy",
		denyActions:  []string{"execute-api:Invoke"},
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestBlockPutsDenyPolicy(t *testing.T) {
	api := &fakeIAM{}
	c := testController(api)

	if err := c.Block(context.Background(), "alice"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if len(api.putCalls) != 1 {
		t.Fatalf("put calls = %d, want 1", len(api.putCalls))
	}
	call := api.putCalls[0]
	if *call.UserName != "alice" {
		t.Fatalf("user = %q", *call.UserName)
	}
	if *call.PolicyName != "alice_UsagePolicy" {
		t.Fatalf("policy name = %q", *call.PolicyName)
	}

	var doc policyDocument
	if err := json.Unmarshal([]byte(*call.PolicyDocument), &doc); err != nil {
		t.Fatalf("policy document: %v", err)
	}
	if len(doc.Statement) != 1 {
		t.Fatalf("statements = %d, want 1", len(doc.Statement))
	}
	st := doc.Statement[0]
	if st.Sid != "DailyLimitBlock" || st.Effect != "Deny" {
		t.Fatalf("statement = %+v", st)
	}
	if !strings.Contains(st.Action[0], "execute-api") {
		t.Fatalf("actions = %v", st.Action)
	}
}

func TestRestoreDeletesPolicy(t *testing.T) {
	api := &fakeIAM{}
	c := testController(api)

	if err := c.Restore(context.Background(), "alice"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(api.deleteCalls) != 1 {
		t.Fatalf("delete calls = %d, want 1", len(api.deleteCalls))
	}
	if *api.deleteCalls[0].PolicyName != "alice_UsagePolicy" {
		t.Fatalf("policy name = %q", *api.deleteCalls[0].PolicyName)
	}
}

func TestRestoreMissingPolicyIsSuccess(t *testing.T) {
	api := &fakeIAM{deleteErr: &iamtypes.NoSuchEntityException{}}
	c := testController(api)

	if err := c.Restore(context.Background(), "alice"); err != nil {
		t.Fatalf("restore on missing policy: %v", err)
	}
}

func TestRestoreOtherErrorPropagates(t *testing.T) {
	api := &fakeIAM{deleteErr: errors.New("throttled")}
	c := testController(api)

	if err := c.Restore(context.Background(), "alice"); err == nil {
		t.Fatal("expected error")
	}
}

func TestBlockWithoutDenyActions(t *testing.T) {
	c := testController(&fakeIAM{})
	c.denyActions = nil

	if err := c.Block(context.Background(), "alice"); err == nil {
		t.Fatal("expected error with no deny actions")
	}
}
