package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/storage"
	"github.com/arbiterhq/arbiter/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// newClient inserts a fresh client for a test.
func newClient(t *testing.T) model.Client {
	t.Helper()
	c, err := testDB.CreateClient(context.Background(), model.Client{
		Name:   "Test Client",
		Slug:   "client-" + uuid.New().String()[:8],
		Plan:   "free",
		Active: true,
	})
	require.NoError(t, err)
	return c
}

// newUser inserts a fresh user for a test.
func newUser(t *testing.T) model.User {
	t.Helper()
	u, err := testDB.CreateUser(context.Background(), model.User{
		Email: "user-" + uuid.New().String()[:8] + "@example.com",
		Name:  "Test User",
	}, "salt$hash")
	require.NoError(t, err)
	return u
}

// newEntity resolves a subject entity under the client.
func newEntity(t *testing.T, clientID uuid.UUID, externalID string) model.SubjectEntity {
	t.Helper()
	e, err := testDB.UpsertSubjectEntity(context.Background(), model.SubjectEntity{
		ClientID:   clientID,
		ExternalID: externalID,
		Name:       "Acme Corp",
	})
	require.NoError(t, err)
	return e
}

// newDecision records a decision with its snapshot under the client.
func newDecision(t *testing.T, clientID, entityID uuid.UUID) model.Decision {
	t.Helper()
	action := model.ActionApprove
	conf := model.ConfidenceHigh
	d, err := testDB.CreateDecisionTx(context.Background(), model.Decision{
		ClientID:        clientID,
		SubjectEntityID: entityID,
		Kind:            model.KindDiscount,
		Status:          model.StatusProposed,
		Urgency:         model.UrgencyNormal,
		RecommendedAct:  &action,
		RecommendedConf: &conf,
	}, model.ContextSnapshot{
		Signals:   map[string]any{"website": map[string]any{"reachable": true}},
		Rationale: "Healthy signals.",
		ModelID:   "test-model",
		LatencyMs: 12,
	})
	require.NoError(t, err)
	return d
}

func TestCreateClientSlugConflict(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	_, err := testDB.CreateClient(ctx, model.Client{
		Name: "Other", Slug: c.Slug, Plan: "free", Active: true,
	})
	require.ErrorIs(t, err, storage.ErrConflict)

	got, err := testDB.GetClientBySlug(ctx, c.Slug)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestUpsertSubjectEntityIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	domain := "acme.example"
	first, err := testDB.UpsertSubjectEntity(ctx, model.SubjectEntity{
		ClientID:   c.ID,
		ExternalID: "acme-1",
		Name:       "Acme Corp",
		Domain:     &domain,
		Metadata:   map[string]any{"tier": "gold"},
	})
	require.NoError(t, err)

	// Same external id resolves to the same entity row.
	second, err := testDB.UpsertSubjectEntity(ctx, model.SubjectEntity{
		ClientID:   c.ID,
		ExternalID: "acme-1",
		Name:       "Acme Corporation",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Acme Corporation", second.Name)
	// Blank/absent fields never erase stored data.
	require.NotNil(t, second.Domain)
	assert.Equal(t, domain, *second.Domain)
	assert.Equal(t, "gold", second.Metadata["tier"])
}

func TestUpsertSubjectEntityBlankNameKept(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	newEntity(t, c.ID, "blank-name")

	got, err := testDB.UpsertSubjectEntity(ctx, model.SubjectEntity{
		ClientID:   c.ID,
		ExternalID: "blank-name",
		Name:       "",
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)
}

func TestUpsertSubjectEntityBlankAttributesKept(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	domain := "acme.example"
	industry := "manufacturing"
	country := "DE"
	_, err := testDB.UpsertSubjectEntity(ctx, model.SubjectEntity{
		ClientID:   c.ID,
		ExternalID: "blank-attrs",
		Name:       "Acme Corp",
		Domain:     &domain,
		Industry:   &industry,
		Country:    &country,
	})
	require.NoError(t, err)

	// Empty strings must not clobber stored attributes.
	blank := ""
	got, err := testDB.UpsertSubjectEntity(ctx, model.SubjectEntity{
		ClientID:   c.ID,
		ExternalID: "blank-attrs",
		Name:       "Acme Corp",
		Domain:     &blank,
		Industry:   &blank,
		Country:    &blank,
	})
	require.NoError(t, err)
	require.NotNil(t, got.Domain)
	assert.Equal(t, "acme.example", *got.Domain)
	require.NotNil(t, got.Industry)
	assert.Equal(t, "manufacturing", *got.Industry)
	require.NotNil(t, got.Country)
	assert.Equal(t, "DE", *got.Country)
}

func TestUpsertSubjectEntityScopedByClient(t *testing.T) {
	c1 := newClient(t)
	c2 := newClient(t)

	e1 := newEntity(t, c1.ID, "shared-id")
	e2 := newEntity(t, c2.ID, "shared-id")

	// Same external id under different clients is two distinct entities.
	assert.NotEqual(t, e1.ID, e2.ID)
}

func TestCreateDecisionWithSnapshot(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	e := newEntity(t, c.ID, "decide-1")

	d := newDecision(t, c.ID, e.ID)
	require.NotNil(t, d.Snapshot)
	assert.Equal(t, d.ID, d.Snapshot.DecisionID)

	got, err := testDB.GetDecision(ctx, d.ID, &c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProposed, got.Status)
	require.NotNil(t, got.Snapshot)
	assert.Equal(t, "Healthy signals.", got.Snapshot.Rationale)
	assert.Equal(t, "test-model", got.Snapshot.ModelID)
	require.NotNil(t, got.Subject)
	assert.Equal(t, e.ID, got.Subject.ID)
}

func TestSnapshotUniquePerDecision(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	e := newEntity(t, c.ID, "snap-unique")
	d := newDecision(t, c.ID, e.ID)

	// A second snapshot for the same decision violates the unique constraint.
	_, err := testDB.Pool().Exec(ctx,
		`INSERT INTO context_snapshots (id, decision_id, signals, rationale, model_id, latency_ms, created_at)
		 VALUES ($1, $2, '{}'::jsonb, '', 'x', 0, now())`,
		uuid.New(), d.ID,
	)
	require.Error(t, err)
}

func TestApplyReviewTxOverrideAtomic(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	e := newEntity(t, c.ID, "review-1")
	d := newDecision(t, c.ID, e.ID)
	u := newUser(t)

	reason := "pricing exception approved by VP"
	got, err := testDB.ApplyReviewTx(ctx, d.ID, &c.ID, storage.ReviewUpdate{
		Status:      model.StatusOverridden,
		FinalAction: "approve_with_conditions",
		DecidedBy:   u.ID,
		Override: &model.HumanOverride{
			UserID: u.ID,
			Action: "approve_with_conditions",
			Reason: &reason,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusOverridden, got.Status)
	require.NotNil(t, got.FinalAction)
	assert.Equal(t, "approve_with_conditions", *got.FinalAction)
	require.NotNil(t, got.DecidedBy)
	assert.Equal(t, u.ID, *got.DecidedBy)
	require.NotNil(t, got.DecidedAt)
	require.Len(t, got.Overrides, 1)
	assert.Equal(t, u.ID, got.Overrides[0].UserID)
	require.NotNil(t, got.Overrides[0].Reason)
	assert.Equal(t, reason, *got.Overrides[0].Reason)
}

func TestApplyReviewTxCrossTenantNotFound(t *testing.T) {
	ctx := context.Background()
	c1 := newClient(t)
	c2 := newClient(t)
	e := newEntity(t, c1.ID, "cross-review")
	d := newDecision(t, c1.ID, e.ID)
	u := newUser(t)

	_, err := testDB.ApplyReviewTx(ctx, d.ID, &c2.ID, storage.ReviewUpdate{
		Status:      model.StatusApproved,
		FinalAction: "approved",
		DecidedBy:   u.ID,
	})
	require.ErrorIs(t, err, storage.ErrNotFound)

	// The decision is untouched.
	got, err := testDB.GetDecision(ctx, d.ID, &c1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProposed, got.Status)
}

func TestGetDecisionCrossTenantNotFound(t *testing.T) {
	ctx := context.Background()
	c1 := newClient(t)
	c2 := newClient(t)
	e := newEntity(t, c1.ID, "cross-get")
	d := newDecision(t, c1.ID, e.ID)

	_, err := testDB.GetDecision(ctx, d.ID, &c2.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Admin scope (nil client filter) still resolves it.
	got, err := testDB.GetDecision(ctx, d.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
}

func TestInsertLinkIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	e := newEntity(t, c.ID, "link-src")
	from := newDecision(t, c.ID, e.ID)
	to := newDecision(t, c.ID, e.ID)

	l1, created, err := testDB.InsertLink(ctx, model.DecisionLink{
		FromDecisionID: from.ID,
		ToDecisionID:   to.ID,
		LinkType:       model.LinkPrecedent,
	})
	require.NoError(t, err)
	assert.True(t, created)

	l2, created, err := testDB.InsertLink(ctx, model.DecisionLink{
		FromDecisionID: from.ID,
		ToDecisionID:   to.ID,
		LinkType:       model.LinkPrecedent,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, l1.ID, l2.ID)

	// A different link type is a distinct relationship.
	_, created, err = testDB.InsertLink(ctx, model.DecisionLink{
		FromDecisionID: from.ID,
		ToDecisionID:   to.ID,
		LinkType:       model.LinkSupersedes,
	})
	require.NoError(t, err)
	assert.True(t, created)

	links, err := testDB.GetLinksFrom(ctx, from.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestFindDealByExternalID(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	e := newEntity(t, c.ID, "deal-entity")

	amount := 48000.0
	extID := "deal-77"
	deal, err := testDB.CreateDeal(ctx, model.Deal{
		SubjectEntity:  e.ID,
		ExternalDealID: &extID,
		Amount:         &amount,
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", deal.Currency)

	found, err := testDB.FindDealByExternalID(ctx, e.ID, "deal-77")
	require.NoError(t, err)
	assert.Equal(t, deal.ID, found.ID)

	_, err = testDB.FindDealByExternalID(ctx, e.ID, "deal-missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListDecisionsFilters(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	e := newEntity(t, c.ID, "list-entity")

	for i := 0; i < 3; i++ {
		newDecision(t, c.ID, e.ID)
	}

	all, total, err := testDB.ListDecisions(ctx, c.ID, model.DecisionFilters{}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	kind := model.KindRenewal
	none, total, err := testDB.ListDecisions(ctx, c.ID, model.DecisionFilters{Kind: &kind}, 50, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)

	// Pagination.
	page, total, err := testDB.ListDecisions(ctx, c.ID, model.DecisionFilters{}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	// Another client sees nothing.
	other := newClient(t)
	empty, total, err := testDB.ListDecisions(ctx, other.ID, model.DecisionFilters{}, 50, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, empty)
}

func TestMembershipsAndAPIKeys(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	u := newUser(t)

	_, err := testDB.CreateMembership(ctx, model.Membership{
		UserID:   u.ID,
		ClientID: c.ID,
		Role:     model.RoleReviewer,
		Status:   model.MembershipActive,
	})
	require.NoError(t, err)

	// Duplicate membership conflicts.
	_, err = testDB.CreateMembership(ctx, model.Membership{
		UserID:   u.ID,
		ClientID: c.ID,
		Role:     model.RoleViewer,
		Status:   model.MembershipActive,
	})
	require.ErrorIs(t, err, storage.ErrConflict)

	memberships, err := testDB.ActiveMemberships(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, c.ID, memberships[0].ClientID)

	_, prefix, err := model.GenerateRawKey()
	require.NoError(t, err)
	key, err := testDB.CreateAPIKey(ctx, model.APIKey{
		ClientID: &c.ID,
		Name:     "ci-key",
		Prefix:   prefix,
		KeyHash:  "salt$hash",
		Active:   true,
	})
	require.NoError(t, err)

	// Authentication-path lookup fetches exactly this key by prefix.
	got, err := testDB.GetAPIKeyByPrefix(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, "salt$hash", got.KeyHash)

	_, err = testDB.GetAPIKeyByPrefix(ctx, "00000000")
	require.ErrorIs(t, err, storage.ErrNotFound)

	keys, err := testDB.ActiveAPIKeys(ctx)
	require.NoError(t, err)
	var found bool
	for _, k := range keys {
		if k.ID == key.ID {
			found = true
			assert.Equal(t, prefix, k.Prefix)
		}
	}
	assert.True(t, found)
}
