package calendly

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fuomag9/schedsync/internal/calendly/calendlytest"
)

func newAPIClient(t *testing.T) (*Client, *calendlytest.Server) {
	t.Helper()
	srv := calendlytest.NewServer(t)
	client, err := NewClient(srv.Config(), srv.Client(), zap.NewNop())
	require.NoError(t, err)
	return client, srv
}

func TestNewClient_RequiresSigningKey(t *testing.T) {
	srv := calendlytest.NewServer(t)
	cfg := srv.Config()
	cfg.SigningKey = ""

	_, err := NewClient(cfg, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestCurrentUser(t *testing.T) {
	client, srv := newAPIClient(t)
	access, _ := srv.IssueTokens(testUser)

	user, err := client.CurrentUser(context.Background(), access)
	require.NoError(t, err)
	assert.Equal(t, testUser.URI, user.URI)
	assert.Equal(t, testUser.SchedulingURL, user.SchedulingURL)
	assert.Equal(t, testUser.OrganizationURI, user.OrganizationURI)
}

func TestCurrentUser_Unauthorized(t *testing.T) {
	client, _ := newAPIClient(t)

	_, err := client.CurrentUser(context.Background(), "bogus")
	var idErr *IdentityError
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, 401, idErr.StatusCode)
}

func TestCreateSubscription(t *testing.T) {
	client, srv := newAPIClient(t)
	access, _ := srv.IssueTokens(testUser)

	uri, err := client.CreateSubscription(context.Background(), access,
		"https://app.test/api/webhooks/calendly", testUser.OrganizationURI, testUser.URI)
	require.NoError(t, err)

	subs := srv.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, uri, subs[0].URI)
	assert.Equal(t, []string{EventInviteeCreated, EventInviteeCanceled}, subs[0].Events)
	assert.Equal(t, "user", subs[0].Scope)
	assert.Equal(t, testUser.URI, subs[0].User)
	assert.Equal(t, testUser.OrganizationURI, subs[0].Organization)
	assert.Equal(t, calendlytest.SigningKey, subs[0].SigningKey)
}

func TestCreateSubscription_Rejected(t *testing.T) {
	client, srv := newAPIClient(t)
	access, _ := srv.IssueTokens(testUser)
	srv.SetFailing(calendlytest.OpSubscribe, true)

	_, err := client.CreateSubscription(context.Background(), access, "https://app.test/hook", "org", "user")
	var subErr *SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "create", subErr.Op)
	assert.Equal(t, 400, subErr.StatusCode)
}

func TestCreateSubscription_DuplicateConflicts(t *testing.T) {
	client, srv := newAPIClient(t)
	access, _ := srv.IssueTokens(testUser)

	_, err := client.CreateSubscription(context.Background(), access, "https://app.test/hook", "org", testUser.URI)
	require.NoError(t, err)

	_, err = client.CreateSubscription(context.Background(), access, "https://app.test/hook", "org", testUser.URI)
	var subErr *SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, 409, subErr.StatusCode)
	assert.Len(t, srv.Subscriptions(), 1)
}

func TestDeleteSubscription_Idempotent(t *testing.T) {
	client, srv := newAPIClient(t)
	access, _ := srv.IssueTokens(testUser)

	uri, err := client.CreateSubscription(context.Background(), access, "https://app.test/hook", "org", "user")
	require.NoError(t, err)

	require.NoError(t, client.DeleteSubscription(context.Background(), uri, access))
	assert.Empty(t, srv.Subscriptions())

	// already gone provider-side
	assert.NoError(t, client.DeleteSubscription(context.Background(), uri, access))
}

func TestDeleteSubscription_Failures(t *testing.T) {
	client, srv := newAPIClient(t)
	access, _ := srv.IssueTokens(testUser)

	err := client.DeleteSubscription(context.Background(), "https://evil.example/webhook_subscriptions/x", access)
	var subErr *SubscriptionError
	assert.ErrorAs(t, err, &subErr)

	srv.SetFailing(calendlytest.OpUnsubscribe, true)
	err = client.DeleteSubscription(context.Background(), srv.URL+"/webhook_subscriptions/x", access)
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, 500, subErr.StatusCode)
}
